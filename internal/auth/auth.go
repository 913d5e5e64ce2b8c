// Package auth registers and authenticates users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vilaca/issuehub/internal/apperrors"
	"github.com/vilaca/issuehub/internal/domain"
	"github.com/vilaca/issuehub/internal/storage"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 10

// Service handles registration and login.
type Service struct {
	users storage.UserStore
	cost  int
	// dummyHash is compared against when the user does not exist so that
	// both failure paths do the same bcrypt work.
	dummyHash []byte
}

// NewService creates a Service. cost <= 0 selects bcrypt.DefaultCost.
func NewService(users storage.UserStore, cost int) *Service {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("issuehub-dummy-password"), cost)
	return &Service{users: users, cost: cost, dummyHash: dummy}
}

// Register creates a user with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "The username is required.")
	}
	if len(password) < MinPasswordLength {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput,
			"The password must be of minimum length %d characters.", MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate returns the user when username and password match.
// Unknown users and wrong passwords both yield apperrors.ErrInvalidLogin.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, apperrors.ErrInvalidLogin
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperrors.ErrInvalidLogin
	}
	return user, nil
}
