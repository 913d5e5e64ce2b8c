package api

import (
	"context"
	"net/http"
)

const (
	// MaxConcurrentRequests limits concurrent API requests to avoid overwhelming the API
	MaxConcurrentRequests = 5
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = 100
	// MaxPages bounds pagination when listing issues
	MaxPages = 20
)

// HTTPClient interface for HTTP operations (allows mocking in tests).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// BaseClient contains common fields and functionality for all API clients.
type BaseClient struct {
	BaseURL    string
	Token      string
	HTTPClient HTTPClient
	Semaphore  chan struct{} // Limits concurrent requests
}

// NewBaseClient creates a new base client with a concurrency limit.
func NewBaseClient(config ClientConfig, httpClient HTTPClient) *BaseClient {
	return &BaseClient{
		BaseURL:    config.BaseURL,
		Token:      config.Token,
		HTTPClient: httpClient,
		Semaphore:  make(chan struct{}, MaxConcurrentRequests),
	}
}

// Do sends req once a semaphore slot is free. It gives up when ctx is done
// while waiting for a slot.
func (c *BaseClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	select {
	case c.Semaphore <- struct{}{}:
		defer func() { <-c.Semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return c.HTTPClient.Do(req)
}
