// Package memory implements storage in process memory, optionally
// persisted to a JSON snapshot file.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/vilaca/issuehub/internal/apperrors"
	"github.com/vilaca/issuehub/internal/domain"
	"github.com/vilaca/issuehub/internal/storage"
)

// Logger is the logging dependency of the store.
type Logger interface {
	Printf(format string, v ...interface{})
}

// snapshot is the on-disk layout of the data file.
type snapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	Issues    []domain.Issue `json:"issues"`
	Users     []domain.User  `json:"users"`
}

// Store keeps issues and users in maps guarded by one mutex. When filePath
// is set every write is flushed to disk.
type Store struct {
	mu       sync.RWMutex
	issues   map[string]domain.Issue
	users    map[string]domain.User // keyed by username
	filePath string
	logger   Logger
}

var _ storage.Store = (*Store)(nil)

// New creates an empty, non-persistent store.
func New() *Store {
	return &Store{
		issues: make(map[string]domain.Issue),
		users:  make(map[string]domain.User),
	}
}

// Open creates a store backed by filePath, loading any existing snapshot.
func Open(filePath string, logger Logger) (*Store, error) {
	s := New()
	s.filePath = filePath
	s.logger = logger

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Issues() storage.IssueStore { return (*issueStore)(s) }
func (s *Store) Users() storage.UserStore   { return (*userStore)(s) }

// Close flushes the snapshot one last time.
func (s *Store) Close(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persistLocked()
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.logf("Memory store: no data file at %s, starting empty", s.filePath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read data file: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse data file %s: %w", s.filePath, err)
	}

	for _, issue := range snap.Issues {
		s.issues[issue.ID] = issue
	}
	for _, user := range snap.Users {
		s.users[user.Username] = user
	}

	s.logf("Memory store: loaded %s (age: %v, issues: %d, users: %d)",
		s.filePath, time.Since(snap.Timestamp).Round(time.Second), len(snap.Issues), len(snap.Users))
	return nil
}

// persistLocked writes the snapshot. Callers hold s.mu.
func (s *Store) persistLocked() error {
	if s.filePath == "" {
		return nil
	}

	snap := snapshot{
		Timestamp: time.Now(),
		Issues:    sortedIssues(s.issues),
		Users:     make([]domain.User, 0, len(s.users)),
	}
	for _, u := range s.users {
		snap.Users = append(snap.Users, u)
	}
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].Username < snap.Users[j].Username })

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := atomic.WriteFile(s.filePath, bytes.NewReader(data)); err != nil {
		s.logf("Memory store: failed to write %s: %v", s.filePath, err)
		return fmt.Errorf("failed to write data file: %w", err)
	}
	return nil
}

func (s *Store) logf(format string, v ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, v...)
	}
}

func sortedIssues(m map[string]domain.Issue) []domain.Issue {
	issues := make([]domain.Issue, 0, len(m))
	for _, issue := range m {
		issues = append(issues, issue)
	}
	sort.Slice(issues, func(i, j int) bool {
		if !issues[i].CreatedAt.Equal(issues[j].CreatedAt) {
			return issues[i].CreatedAt.Before(issues[j].CreatedAt)
		}
		return issues[i].ID < issues[j].ID
	})
	return issues
}

type issueStore Store

func (s *issueStore) List(ctx context.Context) ([]domain.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedIssues(s.issues), nil
}

func (s *issueStore) Get(ctx context.Context, id string) (*domain.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	issue, ok := s.issues[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &issue, nil
}

func (s *issueStore) Create(ctx context.Context, issue *domain.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.issues[issue.ID]; exists {
		return apperrors.Newf(apperrors.CodeInvalidInput, "issue %s already exists", issue.ID)
	}
	return s.putLocked(*issue)
}

func (s *issueStore) Update(ctx context.Context, issue *domain.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.issues[issue.ID]; !exists {
		return apperrors.ErrNotFound
	}
	return s.putLocked(*issue)
}

func (s *issueStore) Upsert(ctx context.Context, issue *domain.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.putLocked(*issue)
}

func (s *issueStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.issues[id]
	if !exists {
		return apperrors.ErrNotFound
	}
	delete(s.issues, id)
	if err := (*Store)(s).persistLocked(); err != nil {
		s.issues[id] = old
		return err
	}
	return nil
}

// putLocked stores issue and puts the previous entry back if the snapshot
// cannot be written, so memory never runs ahead of disk.
func (s *issueStore) putLocked(issue domain.Issue) error {
	old, existed := s.issues[issue.ID]
	s.issues[issue.ID] = issue
	if err := (*Store)(s).persistLocked(); err != nil {
		if existed {
			s.issues[issue.ID] = old
		} else {
			delete(s.issues, issue.ID)
		}
		return err
	}
	return nil
}

type userStore Store

func (s *userStore) Create(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return apperrors.ErrDuplicateUsername
	}
	s.users[user.Username] = *user
	if err := (*Store)(s).persistLocked(); err != nil {
		delete(s.users, user.Username)
		return err
	}
	return nil
}

func (s *userStore) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[strings.TrimSpace(username)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &user, nil
}
