package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vilaca/issuehub/internal/api"
	"github.com/vilaca/issuehub/internal/apperrors"
	"github.com/vilaca/issuehub/internal/domain"
	"github.com/vilaca/issuehub/internal/live"
	"github.com/vilaca/issuehub/internal/statesync"
	"github.com/vilaca/issuehub/internal/storage"
)

// Logger interface for logging operations.
type Logger interface {
	Printf(format string, v ...interface{})
}

// invalidator is implemented by api.CachingClient.
type invalidator interface {
	Invalidate(ctx context.Context, projectID string)
}

// IssueInput holds the user-editable fields of an issue.
type IssueInput struct {
	Title       string
	Description string
	Value       string
}

// SyncResult summarizes one pull from GitLab.
type SyncResult struct {
	Fetched int
	Changed int
}

// IssueService applies every issue change, whatever its origin, and
// announces it to viewers.
//
// GitLab owns the state of mirrored issues: closing or reopening one calls
// GitLab first and the local record follows GitLab's answer. Local-only
// issues are owned by the store.
type IssueService struct {
	issues    storage.IssueStore
	gitlab    api.IssueClient
	projectID string
	publisher live.Publisher
	logger    Logger

	// writeMu serializes read-classify-write so two changes to one issue
	// in this process see each other.
	writeMu sync.Mutex
	now     func() time.Time
}

// IssueServiceConfig holds the dependencies of an IssueService.
type IssueServiceConfig struct {
	Issues    storage.IssueStore
	GitLab    api.IssueClient // nil when GitLab is not configured
	ProjectID string
	Publisher live.Publisher
	Logger    Logger
}

// NewIssueService creates an IssueService.
func NewIssueService(cfg IssueServiceConfig) *IssueService {
	return &IssueService{
		issues:    cfg.Issues,
		gitlab:    cfg.GitLab,
		projectID: cfg.ProjectID,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// HasGitLab reports whether GitLab sync is available.
func (s *IssueService) HasGitLab() bool {
	return s.gitlab != nil && s.projectID != ""
}

// List returns all issues, mirrored and local.
func (s *IssueService) List(ctx context.Context) ([]domain.Issue, error) {
	return s.issues.List(ctx)
}

// Get returns one issue.
func (s *IssueService) Get(ctx context.Context, id string) (*domain.Issue, error) {
	return s.issues.Get(ctx, id)
}

// Create stores a new local issue owned by username.
func (s *IssueService) Create(ctx context.Context, in IssueInput, username string) (*domain.Issue, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	now := s.now()
	issue := &domain.Issue{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Value:       in.Value,
		State:       domain.StateOpened,
		Owner:       username,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.writeMu.Lock()
	event := statesync.Apply(nil, issue)
	err := s.issues.Create(ctx, issue)
	s.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	s.publish(ctx, event, domain.SourceLocal)
	return issue, nil
}

// Update edits the fields of an issue on behalf of username.
func (s *IssueService) Update(ctx context.Context, id string, in IssueInput, username string) (*domain.Issue, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	previous, err := s.issues.Get(ctx, id)
	if err != nil {
		s.writeMu.Unlock()
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if previous.IsMirrored() && (title != previous.Title || in.Description != previous.Description) {
		s.writeMu.Unlock()
		return nil, apperrors.Newf(apperrors.CodeInvalidInput,
			"The title and description of GitLab issue #%d can only be changed in GitLab.", previous.IID)
	}

	next := *previous
	next.Title = title
	next.Description = in.Description
	next.Value = in.Value
	next.UpdatedBy = username
	next.UpdatedAt = s.now()

	event := statesync.Apply(previous, &next)
	err = s.issues.Update(ctx, &next)
	s.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	s.publish(ctx, event, domain.SourceLocal)
	return &next, nil
}

// Delete removes an issue. Viewers are not notified.
func (s *IssueService) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.issues.Delete(ctx, id)
}

// Close marks an issue closed.
func (s *IssueService) Close(ctx context.Context, id, username string) (*domain.Issue, error) {
	return s.setState(ctx, id, username, domain.StateClosed)
}

// Reopen marks an issue opened again.
func (s *IssueService) Reopen(ctx context.Context, id, username string) (*domain.Issue, error) {
	return s.setState(ctx, id, username, domain.StateOpened)
}

func (s *IssueService) setState(ctx context.Context, id, username, state string) (*domain.Issue, error) {
	current, err := s.issues.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var remote *domain.RemoteIssue
	if current.IsMirrored() {
		remote, err = s.changeRemoteState(ctx, current, state)
		if err != nil {
			return nil, err
		}
	}

	s.writeMu.Lock()
	previous, err := s.issues.Get(ctx, id)
	if err != nil {
		s.writeMu.Unlock()
		return nil, err
	}

	var next domain.Issue
	if remote != nil {
		next = mergeRemote(previous, *remote, s.now())
	} else {
		next = *previous
		next.State = state
		next.UpdatedAt = s.now()
		next.ClosedAt = nil
		if state == domain.StateClosed {
			closedAt := next.UpdatedAt
			next.ClosedAt = &closedAt
		}
	}
	next.UpdatedBy = username

	event := statesync.Apply(previous, &next)
	err = s.issues.Update(ctx, &next)
	s.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	s.publish(ctx, event, domain.SourceLocal)
	return &next, nil
}

func (s *IssueService) changeRemoteState(ctx context.Context, issue *domain.Issue, state string) (*domain.RemoteIssue, error) {
	if s.gitlab == nil {
		return nil, apperrors.Newf(apperrors.CodeUpstream, "GitLab is not configured, issue #%d cannot be changed.", issue.IID)
	}

	var (
		remote *domain.RemoteIssue
		err    error
	)
	if state == domain.StateClosed {
		remote, err = s.gitlab.CloseIssue(ctx, issue.ProjectID, issue.IID)
	} else {
		remote, err = s.gitlab.ReopenIssue(ctx, issue.ProjectID, issue.IID)
	}
	if err != nil {
		s.logger.Printf("[IssueService] GitLab rejected state change of %s: %v", issue.ID, err)
		return nil, apperrors.Wrap(apperrors.CodeUpstream, err)
	}
	s.invalidate(ctx, issue.ProjectID)
	return remote, nil
}

// ApplyRemote mirrors a GitLab issue reported by a webhook and returns the
// event that was broadcast.
func (s *IssueService) ApplyRemote(ctx context.Context, remote domain.RemoteIssue) (domain.Event, error) {
	event, _, err := s.upsertRemote(ctx, remote, true)
	if err != nil {
		return domain.Event{}, err
	}
	s.invalidate(ctx, remote.ProjectID)
	s.publish(ctx, event, domain.SourceWebhook)
	return event, nil
}

// invalidate drops cached listings after GitLab changed. Listings are
// cached under the configured project, which may be a path while issues
// carry GitLab's numeric project ID, so both keys are dropped.
func (s *IssueService) invalidate(ctx context.Context, projectID string) {
	inv, ok := s.gitlab.(invalidator)
	if !ok {
		return
	}
	if s.projectID != "" {
		inv.Invalidate(ctx, s.projectID)
	}
	if projectID != "" && projectID != s.projectID {
		inv.Invalidate(ctx, projectID)
	}
}

// SyncFromGitLab pulls every issue of the configured project and mirrors
// it locally. Only records that changed are broadcast.
func (s *IssueService) SyncFromGitLab(ctx context.Context) (SyncResult, error) {
	if !s.HasGitLab() {
		return SyncResult{}, apperrors.Newf(apperrors.CodeUpstream, "GitLab is not configured.")
	}

	remotes, err := s.gitlab.ListIssues(ctx, s.projectID)
	if err != nil {
		return SyncResult{}, apperrors.Wrap(apperrors.CodeUpstream, err)
	}

	result := SyncResult{Fetched: len(remotes)}
	for _, remote := range remotes {
		event, changed, err := s.upsertRemote(ctx, remote, false)
		if err != nil {
			return result, err
		}
		if changed {
			result.Changed++
			s.publish(ctx, event, domain.SourceSync)
		}
	}
	return result, nil
}

// upsertRemote stores remote. When force is false an unchanged record is
// left alone and reported as not changed.
func (s *IssueService) upsertRemote(ctx context.Context, remote domain.RemoteIssue, force bool) (domain.Event, bool, error) {
	if remote.IID <= 0 || remote.ProjectID == "" {
		return domain.Event{}, false, apperrors.Newf(apperrors.CodeInvalidInput, "issue payload is missing iid or project_id")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	previous, err := s.issues.Get(ctx, remote.StoreID())
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return domain.Event{}, false, err
	}

	next := mergeRemote(previous, remote, s.now())
	if !force && !statesync.Changed(previous, &next) {
		return domain.Event{}, false, nil
	}

	event := statesync.Apply(previous, &next)
	// Listings carry no updated_by, so an edit seen by a sync run would
	// otherwise look like a new issue.
	if !force && previous != nil && event.Kind == domain.EventIssue {
		event.Kind = domain.EventUpdated
	}
	if err := s.issues.Upsert(ctx, &next); err != nil {
		return domain.Event{}, false, err
	}
	return event, true, nil
}

// mergeRemote overlays GitLab's fields on the local record, keeping the
// local-only Value and Owner.
func mergeRemote(previous *domain.Issue, remote domain.RemoteIssue, now time.Time) domain.Issue {
	var next domain.Issue
	if previous != nil {
		next = *previous
	}

	next.ID = remote.StoreID()
	next.IID = remote.IID
	next.ProjectID = remote.ProjectID
	next.Title = remote.Title
	next.Description = remote.Description
	next.State = remote.State
	next.UpdatedBy = remote.UpdatedBy
	next.ClosedAt = remote.ClosedAt
	if remote.WebURL != "" {
		next.WebURL = remote.WebURL
	}
	if next.Owner == "" {
		next.Owner = remote.Author
	}

	if next.CreatedAt.IsZero() {
		next.CreatedAt = remote.CreatedAt
		if next.CreatedAt.IsZero() {
			next.CreatedAt = now
		}
	}
	next.UpdatedAt = remote.UpdatedAt
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = now
	}
	return next
}

func (s *IssueService) publish(ctx context.Context, event domain.Event, source string) {
	if s.publisher == nil {
		return
	}
	s.logger.Printf("[IssueService] %s event for %s (%s)", event.Kind, event.Data.ID, source)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Printf("[IssueService] failed to publish %s event for %s: %v", event.Kind, event.Data.ID, err)
	}
}

func validate(in IssueInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return apperrors.Newf(apperrors.CodeInvalidInput, "The title is required.")
	}
	return nil
}
