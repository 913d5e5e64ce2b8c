package webhook

import (
	"strconv"
	"strings"
	"time"

	"github.com/vilaca/issuehub/internal/domain"
)

// issuePayload is the part of a GitLab issue hook body we read.
type issuePayload struct {
	ObjectKind       string            `json:"object_kind"`
	ObjectAttributes *objectAttributes `json:"object_attributes"`
}

type objectAttributes struct {
	IID         int    `json:"iid"`
	ProjectID   int    `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	State       string `json:"state"`
	UpdatedByID *int   `json:"updated_by_id"`
	AuthorID    int    `json:"author_id"`
	URL         string `json:"url"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	ClosedAt    string `json:"closed_at"`
}

// gitlabTimeLayouts covers the formats GitLab has used in hook bodies.
var gitlabTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02T15:04:05.000-07:00",
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range gitlabTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// toRemote flattens the hook body into the issue representation.
func (p *issuePayload) toRemote() domain.RemoteIssue {
	a := p.ObjectAttributes
	remote := domain.RemoteIssue{
		IID:         a.IID,
		ProjectID:   strconv.Itoa(a.ProjectID),
		Title:       a.Title,
		Description: a.Description,
		State:       a.State,
		WebURL:      a.URL,
		CreatedAt:   parseTime(a.CreatedAt),
		UpdatedAt:   parseTime(a.UpdatedAt),
	}
	if a.UpdatedByID != nil && *a.UpdatedByID > 0 {
		remote.UpdatedBy = strconv.Itoa(*a.UpdatedByID)
	}
	if a.AuthorID > 0 {
		remote.Author = strconv.Itoa(a.AuthorID)
	}
	if closedAt := parseTime(a.ClosedAt); !closedAt.IsZero() {
		remote.ClosedAt = &closedAt
	}
	return remote
}
