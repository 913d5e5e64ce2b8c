package domain

// EventKind is the notification kind pushed to connected browsers.
type EventKind string

const (
	// EventIssue announces a new issue (or a resend of one without edits)
	EventIssue EventKind = "issue"
	// EventUpdated announces an edit made by someone
	EventUpdated EventKind = "updated"
	// EventClosed announces an open -> closed transition
	EventClosed EventKind = "closed"
	// EventReopen announces a closed -> open transition
	EventReopen EventKind = "reopen"
)

// EventPayload is the issue snapshot carried by a notification.
type EventPayload struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	State       string `json:"state"`
	Done        bool   `json:"done"`
}

// Event is an ephemeral notification. It is built per change, broadcast
// once and discarded.
type Event struct {
	Kind EventKind    `json:"event"`
	Data EventPayload `json:"data"`
}

// NewEvent builds an event of the given kind from an issue snapshot.
func NewEvent(kind EventKind, issue *Issue) Event {
	return Event{
		Kind: kind,
		Data: EventPayload{
			ID:          issue.ID,
			Title:       issue.Title,
			Description: issue.Description,
			State:       issue.State,
			Done:        issue.Done,
		},
	}
}
