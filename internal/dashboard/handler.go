package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"

	"github.com/vilaca/issuehub/internal/apperrors"
	"github.com/vilaca/issuehub/internal/domain"
	"github.com/vilaca/issuehub/internal/service"
	"github.com/vilaca/issuehub/internal/session"
)

// Flash texts shown after form submissions.
const (
	msgCreated        = "The issue was created successfully."
	msgUpdated        = "The issue was updated successfully."
	msgDeleted        = "The issue was deleted successfully."
	msgClosed         = "The issue was closed."
	msgReopened       = "The issue was reopened."
	msgRemovedByOther = "The issue you attempted to update was removed by another user after you got the original values."
	msgLoginNeeded    = "You need to log in to do that."
)

// Logger interface for logging operations.
type Logger interface {
	Printf(format string, v ...interface{})
}

// IssueService is the issue operations used by the web UI.
type IssueService interface {
	List(ctx context.Context) ([]domain.Issue, error)
	Get(ctx context.Context, id string) (*domain.Issue, error)
	Create(ctx context.Context, in service.IssueInput, username string) (*domain.Issue, error)
	Update(ctx context.Context, id string, in service.IssueInput, username string) (*domain.Issue, error)
	Delete(ctx context.Context, id string) error
	Close(ctx context.Context, id, username string) (*domain.Issue, error)
	Reopen(ctx context.Context, id, username string) (*domain.Issue, error)
	SyncFromGitLab(ctx context.Context) (service.SyncResult, error)
	HasGitLab() bool
}

// AuthService registers and authenticates users.
type AuthService interface {
	Register(ctx context.Context, username, password string) (*domain.User, error)
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
}

// SessionStore reads and writes the session cookie.
type SessionStore interface {
	Load(r *http.Request) *session.Session
	Save(w http.ResponseWriter, s *session.Session) error
	Clear(w http.ResponseWriter)
}

// RateLimiter throttles login attempts per client.
type RateLimiter interface {
	Allow(key string) bool
}

// Handler handles HTTP requests for the web UI.
type Handler struct {
	renderer    Renderer
	logger      Logger
	issues      IssueService
	auth        AuthService
	sessions    SessionStore
	limiter     RateLimiter
	webhook     http.Handler
	live        http.Handler
	baseURL     string
	development bool
}

// HandlerConfig holds configuration for creating a new Handler
type HandlerConfig struct {
	Renderer     Renderer
	Logger       Logger
	IssueService IssueService
	AuthService  AuthService
	Sessions     SessionStore
	LoginLimiter RateLimiter
	// Webhook serves POST /webhook/issue
	Webhook http.Handler
	// Live serves the websocket endpoint
	Live        http.Handler
	BaseURL     string
	Development bool
}

// NewHandler creates a new Handler with injected dependencies.
func NewHandler(cfg HandlerConfig) *Handler {
	base := cfg.BaseURL
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return &Handler{
		renderer:    cfg.Renderer,
		logger:      cfg.Logger,
		issues:      cfg.IssueService,
		auth:        cfg.AuthService,
		sessions:    cfg.Sessions,
		limiter:     cfg.LoginLimiter,
		webhook:     cfg.Webhook,
		live:        cfg.Live,
		baseURL:     base,
		development: cfg.Development,
	}
}

// RegisterRoutes registers all HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(StaticFS()))))

	mux.HandleFunc("GET /issues/new", h.requireUser(h.handleNew))
	mux.HandleFunc("POST /issues/create", h.requireUser(h.handleCreate))
	mux.HandleFunc("GET /issues/{id}/edit", h.requireUser(h.handleEdit))
	mux.HandleFunc("POST /issues/{id}/update", h.requireUser(h.handleUpdate))
	mux.HandleFunc("GET /issues/{id}/remove", h.requireUser(h.handleRemove))
	mux.HandleFunc("POST /issues/{id}/delete", h.requireUser(h.handleDelete))
	mux.HandleFunc("POST /issues/{id}/close", h.requireUser(h.handleClose))
	mux.HandleFunc("POST /issues/{id}/reopen", h.requireUser(h.handleReopen))
	mux.HandleFunc("POST /issues/sync", h.requireUser(h.handleSync))

	mux.HandleFunc("GET /register", h.handleRegisterForm)
	mux.HandleFunc("POST /register", h.handleRegister)
	mux.HandleFunc("GET /login", h.handleLoginForm)
	mux.HandleFunc("POST /login", h.handleLogin)
	mux.HandleFunc("POST /logout", h.handleLogout)

	if h.webhook != nil {
		mux.Handle("/webhook/issue", h.webhook)
	}
	if h.live != nil {
		mux.Handle("GET /ws", h.live)
	}

	mux.HandleFunc("/", h.handleNotFound)
}

// handleHealth serves the health check endpoint.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := h.renderer.RenderHealth(w); err != nil {
		h.logger.Printf("failed to render health: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
}

// handleIndex lists every issue.
func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	issues, err := h.issues.List(r.Context())
	if err != nil {
		h.logger.Printf("failed to list issues: %v", err)
		h.renderError(w, r, http.StatusInternalServerError, err)
		return
	}

	page := h.page(w, r, "Issues")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.renderer.RenderIssues(w, page, issues); err != nil {
		h.logger.Printf("failed to render issues: %v", err)
	}
}

func (h *Handler) handleNew(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, http.StatusOK, IssueForm{})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	in := issueInput(r)

	if _, err := h.issues.Create(r.Context(), in, h.username(r)); err != nil {
		if apperrors.Status(err) == http.StatusBadRequest {
			h.renderForm(w, r, http.StatusBadRequest, IssueForm{
				Title: in.Title, Description: in.Description, Value: in.Value, Error: apperrors.Message(err),
			})
			return
		}
		h.logger.Printf("failed to create issue: %v", err)
		h.redirectWithFlash(w, r, "/", session.FlashDanger, apperrors.Message(err))
		return
	}

	h.redirectWithFlash(w, r, "/", session.FlashSuccess, msgCreated)
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	issue, err := h.issues.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.failAndRedirect(w, r, "failed to load issue", err)
		return
	}

	h.renderForm(w, r, http.StatusOK, IssueForm{
		ID: issue.ID, Title: issue.Title, Description: issue.Description, Value: issue.Value,
		Mirrored: issue.IsMirrored(),
	})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	in := issueInput(r)

	if _, err := h.issues.Update(r.Context(), id, in, h.username(r)); err != nil {
		if apperrors.Status(err) == http.StatusBadRequest {
			form := IssueForm{
				ID: id, Title: in.Title, Description: in.Description, Value: in.Value, Error: apperrors.Message(err),
			}
			if current, getErr := h.issues.Get(r.Context(), id); getErr == nil && current.IsMirrored() {
				form.Mirrored = true
				form.Title, form.Description = current.Title, current.Description
			}
			h.renderForm(w, r, http.StatusBadRequest, form)
			return
		}
		h.failAndRedirect(w, r, "failed to update issue", err)
		return
	}

	h.redirectWithFlash(w, r, "/", session.FlashSuccess, msgUpdated)
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	issue, err := h.issues.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.failAndRedirect(w, r, "failed to load issue", err)
		return
	}

	page := h.page(w, r, "Remove issue")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.renderer.RenderRemove(w, page, issue); err != nil {
		h.logger.Printf("failed to render remove page: %v", err)
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.issues.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.failAndRedirect(w, r, "failed to delete issue", err)
		return
	}
	h.redirectWithFlash(w, r, "/", session.FlashSuccess, msgDeleted)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	if _, err := h.issues.Close(r.Context(), r.PathValue("id"), h.username(r)); err != nil {
		h.failAndRedirect(w, r, "failed to close issue", err)
		return
	}
	h.redirectWithFlash(w, r, "/", session.FlashSuccess, msgClosed)
}

func (h *Handler) handleReopen(w http.ResponseWriter, r *http.Request) {
	if _, err := h.issues.Reopen(r.Context(), r.PathValue("id"), h.username(r)); err != nil {
		h.failAndRedirect(w, r, "failed to reopen issue", err)
		return
	}
	h.redirectWithFlash(w, r, "/", session.FlashSuccess, msgReopened)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.issues.SyncFromGitLab(r.Context())
	if err != nil {
		h.failAndRedirect(w, r, "failed to sync issues", err)
		return
	}
	h.redirectWithFlash(w, r, "/", session.FlashInfo,
		fmt.Sprintf("Synced %d issues from GitLab (%d changed).", result.Fetched, result.Changed))
}

func (h *Handler) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	h.renderAuth(w, r, http.StatusOK, "Register", AuthForm{}, h.renderer.RenderRegister)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")

	user, err := h.auth.Register(r.Context(), username, r.PostFormValue("password"))
	if err != nil {
		status := apperrors.Status(err)
		if status == http.StatusInternalServerError {
			h.logger.Printf("failed to register user: %v", err)
		}
		h.renderAuth(w, r, status, "Register", AuthForm{Username: username, Error: apperrors.Message(err)}, h.renderer.RenderRegister)
		return
	}

	h.logger.Printf("registered user %s", user.Username)
	h.startSession(w, r, user.Username, "Welcome, "+user.Username+"!")
}

func (h *Handler) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	h.renderAuth(w, r, http.StatusOK, "Log in", AuthForm{}, h.renderer.RenderLogin)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")

	if h.limiter != nil && !h.limiter.Allow(clientIP(r)) {
		h.renderAuth(w, r, http.StatusTooManyRequests, "Log in",
			AuthForm{Username: username, Error: apperrors.ErrTooManyRequests.Message}, h.renderer.RenderLogin)
		return
	}

	user, err := h.auth.Authenticate(r.Context(), username, r.PostFormValue("password"))
	if err != nil {
		status := apperrors.Status(err)
		if status == http.StatusInternalServerError {
			h.logger.Printf("failed to authenticate: %v", err)
		}
		h.renderAuth(w, r, status, "Log in", AuthForm{Username: username, Error: apperrors.Message(err)}, h.renderer.RenderLogin)
		return
	}

	h.startSession(w, r, user.Username, "Welcome back, "+user.Username+"!")
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	http.Redirect(w, r, h.url("/"), http.StatusSeeOther)
}

func (h *Handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	h.renderError(w, r, http.StatusNotFound, apperrors.ErrNotFound)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, username, greeting string) {
	sess := &session.Session{Username: username, Flash: &session.Flash{Type: session.FlashSuccess, Text: greeting}}
	if err := h.sessions.Save(w, sess); err != nil {
		h.logger.Printf("failed to save session: %v", err)
		h.renderError(w, r, http.StatusInternalServerError, err)
		return
	}
	http.Redirect(w, r, h.url("/"), http.StatusSeeOther)
}

// failAndRedirect turns a failed operation into a flash on the issue list.
func (h *Handler) failAndRedirect(w http.ResponseWriter, r *http.Request, what string, err error) {
	msg := apperrors.Message(err)
	if errors.Is(err, apperrors.ErrNotFound) {
		msg = msgRemovedByOther
	} else {
		h.logger.Printf("%s: %v", what, err)
	}
	h.redirectWithFlash(w, r, "/", session.FlashDanger, msg)
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, path, kind, text string) {
	sess := sessionFrom(r)
	next := &session.Session{Username: sess.Username, Flash: &session.Flash{Type: kind, Text: text}}
	if err := h.sessions.Save(w, next); err != nil {
		h.logger.Printf("failed to save flash: %v", err)
	}
	http.Redirect(w, r, h.url(path), http.StatusSeeOther)
}

// page builds the layout data and consumes the pending flash.
func (h *Handler) page(w http.ResponseWriter, r *http.Request, title string) Page {
	sess := sessionFrom(r)
	p := Page{Title: title, Username: sess.Username, Flash: sess.Flash, GitLab: h.issues != nil && h.issues.HasGitLab()}

	if sess.Flash != nil {
		if err := h.sessions.Save(w, &session.Session{Username: sess.Username}); err != nil {
			h.logger.Printf("failed to clear flash: %v", err)
		}
	}
	return p
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, status int, form IssueForm) {
	title := "New issue"
	if form.ID != "" {
		title = "Edit issue"
	}
	page := h.page(w, r, title)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.renderer.RenderIssueForm(w, page, form); err != nil {
		h.logger.Printf("failed to render form: %v", err)
	}
}

func (h *Handler) renderAuth(w http.ResponseWriter, r *http.Request, status int, title string, form AuthForm,
	render func(w io.Writer, page Page, form AuthForm) error) {
	page := h.page(w, r, title)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := render(w, page, form); err != nil {
		h.logger.Printf("failed to render %s: %v", title, err)
	}
}

// renderError shows an error page. Details are only shown in development.
func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, status int, err error) {
	v := ErrorView{Status: status, Message: http.StatusText(status)}
	if appErr, ok := apperrors.As(err); ok && appErr.HTTPStatus() == status {
		v.Message = appErr.Message
	}
	if h.development && err != nil {
		v.Detail = err.Error()
	}

	page := h.page(w, r, http.StatusText(status))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if rerr := h.renderer.RenderError(w, page, v); rerr != nil {
		h.logger.Printf("failed to render error page: %v", rerr)
	}
}

func (h *Handler) username(r *http.Request) string {
	return sessionFrom(r).Username
}

func (h *Handler) url(path string) string {
	return h.baseURL + path
}

func issueInput(r *http.Request) service.IssueInput {
	return service.IssueInput{
		Title:       r.PostFormValue("title"),
		Description: r.PostFormValue("description"),
		Value:       r.PostFormValue("value"),
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// StdLogger wraps the standard log package to implement Logger interface.
type StdLogger struct{}

func NewStdLogger() *StdLogger {
	return &StdLogger{}
}

func (l *StdLogger) Printf(format string, v ...interface{}) {
	log.Printf(format, v...)
}
