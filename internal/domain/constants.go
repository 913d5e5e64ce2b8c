package domain

// Issue states as reported by GitLab.
const (
	// StateOpened is an issue that is still being worked on
	StateOpened = "opened"
	// StateClosed is an issue that has been closed
	StateClosed = "closed"
	// stateReopened is sent by some GitLab webhook versions after a reopen
	stateReopened = "reopened"
)

// Source identifiers for where an issue change came from.
const (
	SourceLocal   = "local"
	SourceWebhook = "webhook"
	SourceSync    = "sync"
)
