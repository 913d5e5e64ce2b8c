package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vilaca/issuehub/internal/api"
	"github.com/vilaca/issuehub/internal/api/gitlab"
	"github.com/vilaca/issuehub/internal/auth"
	"github.com/vilaca/issuehub/internal/config"
	"github.com/vilaca/issuehub/internal/dashboard"
	"github.com/vilaca/issuehub/internal/live"
	"github.com/vilaca/issuehub/internal/service"
	"github.com/vilaca/issuehub/internal/session"
	"github.com/vilaca/issuehub/internal/storage"
	"github.com/vilaca/issuehub/internal/storage/memory"
	"github.com/vilaca/issuehub/internal/storage/mongostore"
	"github.com/vilaca/issuehub/internal/webhook"
)

// app holds every long-lived component so they can be shut down in order.
type app struct {
	cfg     *config.Config
	logger  *dashboard.StdLogger
	store   storage.Store
	hub     *live.Hub
	relay   *live.Relay
	closers []func()
	issues  *service.IssueService
	auth    *auth.Service
	poller  *service.SyncPoller
}

// newApp wires storage, GitLab, live updates and the services.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: dashboard.NewStdLogger()}

	store, err := openStore(ctx, cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.store = store

	a.hub = live.NewHub(a.logger, live.DefaultQueueSize)
	var publisher live.Publisher = a.hub
	if cfg.NATSURL != "" {
		relay, err := live.NewRelay(cfg.NATSURL, cfg.NATSSubject, a.hub, a.logger)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.relay = relay
		publisher = relay
		a.logger.Printf("Live events relayed through NATS subject %s", cfg.NATSSubject)
	}

	var client api.IssueClient
	if cfg.HasGitLabConfig() {
		cache, err := a.openCache(ctx)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		httpClient := &http.Client{Timeout: 30 * time.Second}
		gitlabClient := gitlab.NewClient(api.ClientConfig{
			BaseURL: cfg.GitLabURL,
			Token:   cfg.GitLabToken,
		}, httpClient, cfg.GitLabTimeout)
		client = api.NewCachingClient(gitlabClient, cache, cfg.GitLabCacheTTL)
		a.logger.Printf("GitLab integration enabled for project %s (cache: %v)", cfg.GitLabProjectID, cfg.GitLabCacheTTL)
	} else {
		a.logger.Printf("WARNING: GitLab not configured. Set GITLAB_TOKEN and GITLAB_PROJECT_ID to mirror issues")
	}

	a.issues = service.NewIssueService(service.IssueServiceConfig{
		Issues:    store.Issues(),
		GitLab:    client,
		ProjectID: cfg.GitLabProjectID,
		Publisher: publisher,
		Logger:    a.logger,
	})
	a.auth = auth.NewService(store.Users(), 0)
	a.poller = service.NewSyncPoller(a.issues, cfg.GitLabSyncInterval, cfg.GitLabTimeout*2, a.logger)

	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *dashboard.StdLogger) (storage.Store, error) {
	if cfg.UseMongo() {
		store, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		logger.Printf("Using MongoDB database %s", cfg.MongoDatabase)
		return store, nil
	}

	store, err := memory.Open(cfg.DataFile, logger)
	if err != nil {
		return nil, err
	}
	logger.Printf("Using in-memory store persisted to %s", cfg.DataFile)
	return store, nil
}

func (a *app) openCache(ctx context.Context) (api.Cache, error) {
	if a.cfg.RedisAddr != "" {
		cache, err := api.NewRedisCache(ctx, api.RedisOptions{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = cache.Close() })
		return cache, nil
	}

	cache := api.NewMemoryCache(time.Minute)
	a.closers = append(a.closers, cache.Close)
	return cache, nil
}

// handler builds the full HTTP handler, mounted under the base URL.
func (a *app) handler() (http.Handler, error) {
	renderer, err := dashboard.NewHTMLRenderer(a.cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewManager(session.Config{
		Name:   a.cfg.SessionName,
		Secret: a.cfg.SessionSecret,
		MaxAge: a.cfg.SessionMaxAge,
		Secure: !a.cfg.IsDevelopment(),
	})
	if err != nil {
		return nil, err
	}

	if !a.cfg.HasWebhookSecret() {
		a.logger.Printf("WARNING: HOOK_SECRET not set, webhook deliveries will be rejected")
	}

	h := dashboard.NewHandler(dashboard.HandlerConfig{
		Renderer:     renderer,
		Logger:       a.logger,
		IssueService: a.issues,
		AuthService:  a.auth,
		Sessions:     sessions,
		LoginLimiter: auth.NewLoginLimiter(a.cfg.LoginRatePerMinute),
		Webhook:      webhook.NewHandler(a.cfg.HookSecret, a.issues, a.logger),
		Live:         a.hub,
		BaseURL:      a.cfg.BaseURL,
		Development:  a.cfg.IsDevelopment(),
	})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	var root http.Handler = h.Wrap(mux)
	if prefix := strings.TrimRight(a.cfg.BaseURL, "/"); prefix != "" {
		outer := http.NewServeMux()
		outer.Handle(prefix+"/", http.StripPrefix(prefix, root))
		outer.Handle(prefix, http.RedirectHandler(prefix+"/", http.StatusMovedPermanently))
		root = outer
	}
	return root, nil
}

// close releases everything newApp opened, in reverse order.
func (a *app) close(ctx context.Context) {
	if a.poller != nil {
		a.poller.Stop()
	}
	if a.relay != nil {
		if err := a.relay.Close(); err != nil {
			a.logger.Printf("failed to close relay: %v", err)
		}
	}
	if a.hub != nil {
		a.hub.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.logger.Printf("failed to close store: %v", err)
		}
	}
}

func listenAddr(cfg *config.Config) string {
	return fmt.Sprintf(":%d", cfg.Port)
}
