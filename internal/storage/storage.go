// Package storage declares the persistence contracts for issues and users.
package storage

import (
	"context"

	"github.com/vilaca/issuehub/internal/domain"
)

// IssueStore persists issues. Implementations return apperrors.ErrNotFound
// (possibly wrapped) when an ID does not exist.
type IssueStore interface {
	List(ctx context.Context) ([]domain.Issue, error)
	Get(ctx context.Context, id string) (*domain.Issue, error)
	Create(ctx context.Context, issue *domain.Issue) error
	// Update replaces an existing issue. It fails with ErrNotFound if the
	// issue was removed after the caller read it.
	Update(ctx context.Context, issue *domain.Issue) error
	// Upsert inserts or replaces an issue by ID.
	Upsert(ctx context.Context, issue *domain.Issue) error
	Delete(ctx context.Context, id string) error
}

// UserStore persists user accounts. Create returns
// apperrors.ErrDuplicateUsername when the username is taken.
type UserStore interface {
	Create(ctx context.Context, user *domain.User) error
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

// Store bundles both stores and owns their lifetime.
type Store interface {
	Issues() IssueStore
	Users() UserStore
	Close(ctx context.Context) error
}
