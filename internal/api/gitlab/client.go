package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vilaca/issuehub/internal/api"
	"github.com/vilaca/issuehub/internal/domain"
)

// Client implements api.IssueClient for GitLab REST v4.
type Client struct {
	base    *api.BaseClient
	timeout time.Duration
}

var _ api.IssueClient = (*Client)(nil)

// NewClient creates a new GitLab client. timeout bounds every API call;
// zero means calls are bounded only by the caller's context.
func NewClient(config api.ClientConfig, httpClient api.HTTPClient, timeout time.Duration) *Client {
	return &Client{
		base:    api.NewBaseClient(config, httpClient),
		timeout: timeout,
	}
}

// ListIssues retrieves all issues of a project, following pagination.
func (c *Client) ListIssues(ctx context.Context, projectID string) ([]domain.RemoteIssue, error) {
	var issues []domain.RemoteIssue

	page := 1
	for n := 0; n < api.MaxPages && page > 0; n++ {
		endpoint := fmt.Sprintf("%s/api/v4/projects/%s/issues?scope=all&per_page=%d&page=%d",
			c.base.BaseURL, url.PathEscape(projectID), api.DefaultPageSize, page)

		var glIssues []gitlabIssue
		header, err := c.doRequest(ctx, http.MethodGet, endpoint, &glIssues)
		if err != nil {
			return nil, fmt.Errorf("failed to list issues: %w", err)
		}

		for _, gi := range glIssues {
			issues = append(issues, convertIssue(gi, projectID))
		}

		page = nextPage(header)
	}

	return issues, nil
}

// CloseIssue closes an issue.
func (c *Client) CloseIssue(ctx context.Context, projectID string, iid int) (*domain.RemoteIssue, error) {
	issue, err := c.setState(ctx, projectID, iid, "close")
	if err != nil {
		return nil, fmt.Errorf("failed to close issue %d: %w", iid, err)
	}
	return issue, nil
}

// ReopenIssue reopens a closed issue.
func (c *Client) ReopenIssue(ctx context.Context, projectID string, iid int) (*domain.RemoteIssue, error) {
	issue, err := c.setState(ctx, projectID, iid, "reopen")
	if err != nil {
		return nil, fmt.Errorf("failed to reopen issue %d: %w", iid, err)
	}
	return issue, nil
}

func (c *Client) setState(ctx context.Context, projectID string, iid int, stateEvent string) (*domain.RemoteIssue, error) {
	endpoint := fmt.Sprintf("%s/api/v4/projects/%s/issues/%d?state_event=%s",
		c.base.BaseURL, url.PathEscape(projectID), iid, stateEvent)

	var gi gitlabIssue
	if _, err := c.doRequest(ctx, http.MethodPut, endpoint, &gi); err != nil {
		return nil, err
	}

	issue := convertIssue(gi, projectID)
	return &issue, nil
}

// doRequest performs an HTTP request to GitLab API and decodes the JSON body.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, result interface{}) (http.Header, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("PRIVATE-TOKEN", c.base.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &api.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return resp.Header, nil
}

func nextPage(header http.Header) int {
	if header == nil {
		return 0
	}
	n, err := strconv.Atoi(header.Get("X-Next-Page"))
	if err != nil {
		return 0
	}
	return n
}

// convertIssue converts a GitLab issue to the flat remote representation.
func convertIssue(gi gitlabIssue, projectID string) domain.RemoteIssue {
	if gi.ProjectID != 0 {
		projectID = strconv.Itoa(gi.ProjectID)
	}
	issue := domain.RemoteIssue{
		IID:         gi.IID,
		ProjectID:   projectID,
		Title:       gi.Title,
		Description: gi.Description,
		State:       domain.NormalizeState(gi.State),
		WebURL:      gi.WebURL,
		CreatedAt:   gi.CreatedAt,
		UpdatedAt:   gi.UpdatedAt,
		ClosedAt:    gi.ClosedAt,
	}
	if gi.Author != nil {
		issue.Author = gi.Author.Username
	}
	return issue
}

// GitLab API response types
type gitlabUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

type gitlabIssue struct {
	ID          int         `json:"id"`
	IID         int         `json:"iid"`
	ProjectID   int         `json:"project_id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	State       string      `json:"state"`
	WebURL      string      `json:"web_url"`
	Author      *gitlabUser `json:"author"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	ClosedAt    *time.Time  `json:"closed_at"`
}
