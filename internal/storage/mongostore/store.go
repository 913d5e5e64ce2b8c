// Package mongostore implements storage on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vilaca/issuehub/internal/apperrors"
	"github.com/vilaca/issuehub/internal/domain"
	"github.com/vilaca/issuehub/internal/storage"
)

const (
	issuesCollection = "issues"
	usersCollection  = "users"
	connectTimeout   = 10 * time.Second
)

// Store is a MongoDB-backed storage.Store.
type Store struct {
	client *mongo.Client
	issues *IssueRepo
	users  *UserRepo
}

var _ storage.Store = (*Store)(nil)

// Connect dials uri, verifies the connection and prepares indexes.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client: client,
		issues: NewIssueRepo(db),
		users:  NewUserRepo(db),
	}

	if err := s.users.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) Issues() storage.IssueStore { return s.issues }
func (s *Store) Users() storage.UserStore   { return s.users }

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// IssueRepo stores issues in the issues collection keyed by _id.
type IssueRepo struct {
	collection *mongo.Collection
}

// NewIssueRepo creates an issue repository on db.
func NewIssueRepo(db *mongo.Database) *IssueRepo {
	return &IssueRepo{collection: db.Collection(issuesCollection)}
}

func (r *IssueRepo) List(ctx context.Context) ([]domain.Issue, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer cur.Close(ctx)

	issues := []domain.Issue{}
	if err := cur.All(ctx, &issues); err != nil {
		return nil, fmt.Errorf("failed to decode issues: %w", err)
	}
	return issues, nil
}

func (r *IssueRepo) Get(ctx context.Context, id string) (*domain.Issue, error) {
	var issue domain.Issue
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&issue)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue %s: %w", id, err)
	}
	return &issue, nil
}

func (r *IssueRepo) Create(ctx context.Context, issue *domain.Issue) error {
	if _, err := r.collection.InsertOne(ctx, issue); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.Newf(apperrors.CodeInvalidInput, "issue %s already exists", issue.ID)
		}
		return fmt.Errorf("failed to create issue: %w", err)
	}
	return nil
}

func (r *IssueRepo) Update(ctx context.Context, issue *domain.Issue) error {
	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": issue.ID}, issue)
	if err != nil {
		return fmt.Errorf("failed to update issue %s: %w", issue.ID, err)
	}
	if res.MatchedCount == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *IssueRepo) Upsert(ctx context.Context, issue *domain.Issue) error {
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": issue.ID}, issue, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert issue %s: %w", issue.ID, err)
	}
	return nil
}

func (r *IssueRepo) Delete(ctx context.Context, id string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete issue %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// UserRepo stores users in the users collection.
type UserRepo struct {
	collection *mongo.Collection
}

// NewUserRepo creates a user repository on db.
func NewUserRepo(db *mongo.Database) *UserRepo {
	return &UserRepo{collection: db.Collection(usersCollection)}
}

// EnsureIndexes creates the unique username index.
func (r *UserRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("username_unique"),
	})
	if err != nil {
		return fmt.Errorf("failed to create username index: %w", err)
	}
	return nil
}

func (r *UserRepo) Create(ctx context.Context, user *domain.User) error {
	if _, err := r.collection.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.ErrDuplicateUsername
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	err := r.collection.FindOne(ctx, bson.M{"username": username}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
