package api

import (
	"context"
	"fmt"

	"github.com/vilaca/issuehub/internal/domain"
)

// IssueClient is the subset of the GitLab issues API the application uses.
type IssueClient interface {
	// ListIssues returns every issue of a project, open and closed.
	ListIssues(ctx context.Context, projectID string) ([]domain.RemoteIssue, error)

	// CloseIssue closes an issue and returns GitLab's view of it afterwards.
	CloseIssue(ctx context.Context, projectID string, iid int) (*domain.RemoteIssue, error)

	// ReopenIssue reopens an issue and returns GitLab's view of it afterwards.
	ReopenIssue(ctx context.Context, projectID string, iid int) (*domain.RemoteIssue, error)
}

// ClientConfig holds common configuration for API clients.
type ClientConfig struct {
	BaseURL string
	Token   string
}

// StatusError is returned when the API answers with an unexpected status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Body)
}
