package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/vilaca/issuehub/internal/domain"
)

// CachingClient wraps an IssueClient and caches issue listings.
// Close and reopen calls pass through and drop the cached listing.
type CachingClient struct {
	client IssueClient
	cache  Cache
	ttl    time.Duration
}

var _ IssueClient = (*CachingClient)(nil)

// NewCachingClient creates a new caching client wrapper.
func NewCachingClient(client IssueClient, cache Cache, ttl time.Duration) *CachingClient {
	return &CachingClient{
		client: client,
		cache:  cache,
		ttl:    ttl,
	}
}

// ListIssues retrieves issues with caching.
func (c *CachingClient) ListIssues(ctx context.Context, projectID string) ([]domain.RemoteIssue, error) {
	key := listKey(projectID)

	if data, found, err := c.cache.Get(ctx, key); err != nil {
		log.Printf("Cache error: %s: %v", key, err)
	} else if found {
		var issues []domain.RemoteIssue
		if err := json.Unmarshal(data, &issues); err == nil {
			log.Printf("Cache hit: %s (%d issues)", key, len(issues))
			return issues, nil
		}
	}

	log.Printf("Cache miss: %s - fetching from API", key)
	issues, err := c.client.ListIssues(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(issues); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			log.Printf("Cache error: %s: %v", key, err)
		}
	}

	return issues, nil
}

// CloseIssue closes the issue and invalidates the project listing.
func (c *CachingClient) CloseIssue(ctx context.Context, projectID string, iid int) (*domain.RemoteIssue, error) {
	issue, err := c.client.CloseIssue(ctx, projectID, iid)
	if err != nil {
		return nil, err
	}
	c.Invalidate(ctx, projectID)
	return issue, nil
}

// ReopenIssue reopens the issue and invalidates the project listing.
func (c *CachingClient) ReopenIssue(ctx context.Context, projectID string, iid int) (*domain.RemoteIssue, error) {
	issue, err := c.client.ReopenIssue(ctx, projectID, iid)
	if err != nil {
		return nil, err
	}
	c.Invalidate(ctx, projectID)
	return issue, nil
}

// Invalidate drops the cached listing of a project, e.g. after a webhook.
func (c *CachingClient) Invalidate(ctx context.Context, projectID string) {
	if err := c.cache.Delete(ctx, listKey(projectID)); err != nil {
		log.Printf("Cache error: invalidate %s: %v", projectID, err)
	}
}

func listKey(projectID string) string {
	return fmt.Sprintf("ListIssues:%s", projectID)
}
