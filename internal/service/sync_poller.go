package service

import (
	"context"
	"sync"
	"time"
)

// Syncer pulls remote issues into the store.
type Syncer interface {
	SyncFromGitLab(ctx context.Context) (SyncResult, error)
}

// SyncPoller periodically mirrors GitLab issues so that changes missed by
// webhooks still reach the store and viewers.
type SyncPoller struct {
	syncer       Syncer
	pollInterval time.Duration
	timeout      time.Duration
	logger       Logger
	stopChan     chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	running      bool
}

// NewSyncPoller creates a new sync poller. Each run is bounded by timeout.
func NewSyncPoller(syncer Syncer, pollInterval, timeout time.Duration, logger Logger) *SyncPoller {
	return &SyncPoller{
		syncer:       syncer,
		pollInterval: pollInterval,
		timeout:      timeout,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}
}

// Start begins periodic syncing. It is a no-op if already running or if
// the interval is not positive.
func (p *SyncPoller) Start() {
	if p.pollInterval <= 0 {
		return
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	p.logger.Printf("[SyncPoller] Starting with %v poll interval", p.pollInterval)

	p.wg.Add(1)
	go p.pollLoop()
}

// Stop gracefully stops the poller and waits for a running sync to finish.
func (p *SyncPoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Printf("[SyncPoller] Stopping...")
	close(p.stopChan)
	p.wg.Wait()
	p.logger.Printf("[SyncPoller] Stopped")
}

func (p *SyncPoller) pollLoop() {
	defer p.wg.Done()

	p.poll()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.poll()
		case <-p.stopChan:
			return
		}
	}
}

func (p *SyncPoller) poll() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), p.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	// Abort an in-flight sync on Stop.
	go func() {
		select {
		case <-p.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	result, err := p.syncer.SyncFromGitLab(ctx)
	if err != nil {
		p.logger.Printf("[SyncPoller] Sync failed: %v", err)
		return
	}
	p.logger.Printf("[SyncPoller] Synced %d issues (%d changed) in %v",
		result.Fetched, result.Changed, time.Since(start).Round(time.Millisecond))
}
