package domain

import (
	"fmt"
	"strings"
	"time"
)

// Issue is a tracked issue, either mirrored from GitLab (IID > 0) or
// created locally through the web UI (IID == 0).
type Issue struct {
	ID          string     `json:"id" bson:"_id"`
	IID         int        `json:"iid,omitempty" bson:"iid,omitempty"`
	ProjectID   string     `json:"project_id,omitempty" bson:"project_id,omitempty"`
	Title       string     `json:"title" bson:"title"`
	Description string     `json:"description,omitempty" bson:"description,omitempty"`
	Value       string     `json:"value,omitempty" bson:"value,omitempty"`
	State       string     `json:"state" bson:"state"`
	Done        bool       `json:"done" bson:"done"`
	Owner       string     `json:"owner,omitempty" bson:"owner,omitempty"`
	UpdatedBy   string     `json:"updated_by,omitempty" bson:"updated_by,omitempty"`
	WebURL      string     `json:"web_url,omitempty" bson:"web_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty" bson:"closed_at,omitempty"`
}

// IsMirrored reports whether the issue is owned by GitLab.
func (i *Issue) IsMirrored() bool {
	return i.IID > 0
}

// MirroredIssueID returns the store ID used for a GitLab issue so that
// webhook deliveries and sync runs upsert the same record.
func MirroredIssueID(projectID string, iid int) string {
	return fmt.Sprintf("gl-%s-%d", projectID, iid)
}

// NormalizeState maps a raw GitLab state onto StateOpened or StateClosed.
// Unknown values are treated as opened.
func NormalizeState(state string) string {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case StateClosed:
		return StateClosed
	case StateOpened, stateReopened, "open":
		return StateOpened
	default:
		return StateOpened
	}
}

// RemoteIssue is the flat representation of a GitLab issue, built either
// from a webhook payload or from an API listing.
type RemoteIssue struct {
	IID         int
	ProjectID   string
	Title       string
	Description string
	State       string
	Author      string
	UpdatedBy   string
	WebURL      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
}

// StoreID returns the mirrored store ID for the remote issue.
func (r RemoteIssue) StoreID() string {
	return MirroredIssueID(r.ProjectID, r.IID)
}
