// Package statesync reconciles GitLab issue state into the local done flag
// and decides which notification a change produces.
package statesync

import (
	"strings"

	"github.com/vilaca/issuehub/internal/domain"
)

// Change is a raw state report for one issue.
type Change struct {
	State     string
	UpdatedBy string
}

// Done reports whether a raw state means the issue is finished.
func Done(state string) bool {
	return domain.NormalizeState(state) == domain.StateClosed
}

// Normalize rewrites issue.State to its canonical form and derives Done from it.
// Every write path calls this before persisting.
func Normalize(issue *domain.Issue) {
	issue.State = domain.NormalizeState(issue.State)
	issue.Done = issue.State == domain.StateClosed
}

// Classify picks exactly one event kind for a change.
//
// State transitions win over content edits: a close that also carries an
// updated_by is reported as closed. A nil previous record counts as not done.
func Classify(previous *domain.Issue, change Change) domain.EventKind {
	done := Done(change.State)
	wasDone := previous != nil && previous.Done

	switch {
	case done && !wasDone:
		return domain.EventClosed
	case !done && wasDone:
		return domain.EventReopen
	case strings.TrimSpace(change.UpdatedBy) != "":
		return domain.EventUpdated
	default:
		return domain.EventIssue
	}
}

// Apply normalizes next, classifies it against previous and returns the
// event to broadcast.
func Apply(previous, next *domain.Issue) domain.Event {
	kind := Classify(previous, Change{State: next.State, UpdatedBy: next.UpdatedBy})
	Normalize(next)
	return domain.NewEvent(kind, next)
}

// Changed reports whether next differs from previous in any field a viewer
// can see. Sync runs use it to skip broadcasting unchanged records.
func Changed(previous, next *domain.Issue) bool {
	if previous == nil {
		return true
	}
	return previous.State != domain.NormalizeState(next.State) ||
		previous.Title != next.Title ||
		previous.Description != next.Description
}
