package dashboard

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/vilaca/issuehub/internal/apperrors"
	"github.com/vilaca/issuehub/internal/domain"
	"github.com/vilaca/issuehub/internal/service"
	"github.com/vilaca/issuehub/internal/session"
)

// mockRenderer is a test double for Renderer.
type mockRenderer struct {
	healthErr error
}

func (m *mockRenderer) RenderIssues(w io.Writer, page Page, issues []domain.Issue) error {
	_, err := w.Write([]byte("mock issues"))
	return err
}

func (m *mockRenderer) RenderIssueForm(w io.Writer, page Page, form IssueForm) error {
	_, err := w.Write([]byte("mock form"))
	return err
}

func (m *mockRenderer) RenderRemove(w io.Writer, page Page, issue *domain.Issue) error {
	_, err := w.Write([]byte("mock remove"))
	return err
}

func (m *mockRenderer) RenderLogin(w io.Writer, page Page, form AuthForm) error {
	_, err := w.Write([]byte("mock login"))
	return err
}

func (m *mockRenderer) RenderRegister(w io.Writer, page Page, form AuthForm) error {
	_, err := w.Write([]byte("mock register"))
	return err
}

func (m *mockRenderer) RenderError(w io.Writer, page Page, v ErrorView) error {
	_, err := w.Write([]byte("mock error"))
	return err
}

func (m *mockRenderer) RenderHealth(w io.Writer) error {
	if m.healthErr != nil {
		return m.healthErr
	}
	_, err := w.Write([]byte(`{"status":"ok"}`))
	return err
}

// mockLogger is a test double for Logger.
type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockLogger) Printf(format string, v ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, format)
}

// mockIssueService is a test double for IssueService.
type mockIssueService struct {
	listFunc   func(ctx context.Context) ([]domain.Issue, error)
	getFunc    func(ctx context.Context, id string) (*domain.Issue, error)
	createFunc func(ctx context.Context, in service.IssueInput, username string) (*domain.Issue, error)
	updateFunc func(ctx context.Context, id string, in service.IssueInput, username string) (*domain.Issue, error)
	closeFunc  func(ctx context.Context, id, username string) (*domain.Issue, error)
	syncFunc   func(ctx context.Context) (service.SyncResult, error)
	calls      []string
}

func (m *mockIssueService) List(ctx context.Context) ([]domain.Issue, error) {
	m.calls = append(m.calls, "list")
	if m.listFunc != nil {
		return m.listFunc(ctx)
	}
	return []domain.Issue{}, nil
}

func (m *mockIssueService) Get(ctx context.Context, id string) (*domain.Issue, error) {
	m.calls = append(m.calls, "get")
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return &domain.Issue{ID: id, Title: "existing", State: domain.StateOpened}, nil
}

func (m *mockIssueService) Create(ctx context.Context, in service.IssueInput, username string) (*domain.Issue, error) {
	m.calls = append(m.calls, "create:"+username)
	if m.createFunc != nil {
		return m.createFunc(ctx, in, username)
	}
	return &domain.Issue{ID: "new", Title: in.Title}, nil
}

func (m *mockIssueService) Update(ctx context.Context, id string, in service.IssueInput, username string) (*domain.Issue, error) {
	m.calls = append(m.calls, "update:"+id)
	if m.updateFunc != nil {
		return m.updateFunc(ctx, id, in, username)
	}
	return &domain.Issue{ID: id, Title: in.Title}, nil
}

func (m *mockIssueService) Delete(ctx context.Context, id string) error {
	m.calls = append(m.calls, "delete:"+id)
	return nil
}

func (m *mockIssueService) Close(ctx context.Context, id, username string) (*domain.Issue, error) {
	m.calls = append(m.calls, "close:"+id)
	if m.closeFunc != nil {
		return m.closeFunc(ctx, id, username)
	}
	return &domain.Issue{ID: id, State: domain.StateClosed, Done: true}, nil
}

func (m *mockIssueService) Reopen(ctx context.Context, id, username string) (*domain.Issue, error) {
	m.calls = append(m.calls, "reopen:"+id)
	return &domain.Issue{ID: id, State: domain.StateOpened}, nil
}

func (m *mockIssueService) SyncFromGitLab(ctx context.Context) (service.SyncResult, error) {
	m.calls = append(m.calls, "sync")
	if m.syncFunc != nil {
		return m.syncFunc(ctx)
	}
	return service.SyncResult{Fetched: 3, Changed: 1}, nil
}

func (m *mockIssueService) HasGitLab() bool { return true }

// mockAuth is a test double for AuthService.
type mockAuth struct {
	authenticateErr error
	registerErr     error
}

func (m *mockAuth) Register(ctx context.Context, username, password string) (*domain.User, error) {
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	return &domain.User{Username: username}, nil
}

func (m *mockAuth) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	if m.authenticateErr != nil {
		return nil, m.authenticateErr
	}
	return &domain.User{Username: username}, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(string) bool { return false }

type testServer struct {
	handler  http.Handler
	sessions *session.Manager
	logger   *mockLogger
}

func newTestServer(t *testing.T, cfg HandlerConfig) *testServer {
	t.Helper()
	sessions, err := session.NewManager(session.Config{Name: "sid", Secret: "test-secret"})
	if err != nil {
		t.Fatalf("failed to create session manager: %v", err)
	}
	logger := &mockLogger{}

	if cfg.Renderer == nil {
		renderer, err := NewHTMLRenderer(cfg.BaseURL)
		if err != nil {
			t.Fatalf("failed to create renderer: %v", err)
		}
		cfg.Renderer = renderer
	}
	if cfg.IssueService == nil {
		cfg.IssueService = &mockIssueService{}
	}
	if cfg.AuthService == nil {
		cfg.AuthService = &mockAuth{}
	}
	cfg.Logger = logger
	cfg.Sessions = sessions

	h := NewHandler(cfg)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &testServer{handler: h.Wrap(mux), sessions: sessions, logger: logger}
}

// loginCookie returns a session cookie for username.
func (s *testServer) loginCookie(t *testing.T, username string) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := s.sessions.Save(rec, &session.Session{Username: username}); err != nil {
		t.Fatalf("failed to save session: %v", err)
	}
	return rec.Result().Cookies()[0]
}

func (s *testServer) do(method, target string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sid" {
			return c
		}
	}
	t.Fatal("expected session cookie in response")
	return nil
}

// TestHandleHealth tests the health check endpoint.
func TestHandleHealth(t *testing.T) {
	// Arrange
	srv := newTestServer(t, HandlerConfig{})

	// Act
	rec := srv.do(http.MethodGet, "/api/health", nil)

	// Assert
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != `{"status":"ok"}` {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected request ID header")
	}
}

// TestHandleHealth_RenderError tests health check when rendering fails.
func TestHandleHealth_RenderError(t *testing.T) {
	// Arrange
	srv := newTestServer(t, HandlerConfig{Renderer: &mockRenderer{healthErr: errors.New("render failed")}})

	// Act
	rec := srv.do(http.MethodGet, "/api/health", nil)

	// Assert
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rec.Code)
	}
}

// TestHandleIndex tests that the issue list is rendered.
func TestHandleIndex(t *testing.T) {
	// Arrange
	svc := &mockIssueService{
		listFunc: func(ctx context.Context) ([]domain.Issue, error) {
			return []domain.Issue{
				{ID: "gl-1-4", IID: 4, Title: "Mirrored <script>", State: domain.StateClosed, Done: true},
				{ID: "local-1", Title: "Local one", State: domain.StateOpened},
			}, nil
		},
	}
	srv := newTestServer(t, HandlerConfig{IssueService: svc})

	// Act
	rec := srv.do(http.MethodGet, "/", nil)

	// Assert
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Mirrored &lt;script&gt;", "Local one", `data-id="gl-1-4"`, `class="done"`, "issue-template"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected body to contain %q", want)
		}
	}
}

// TestHandleIndex_ServiceError tests error page when the store fails.
func TestHandleIndex_ServiceError(t *testing.T) {
	// Arrange
	svc := &mockIssueService{
		listFunc: func(ctx context.Context) ([]domain.Issue, error) {
			return nil, errors.New("connection reset")
		},
	}
	srv := newTestServer(t, HandlerConfig{IssueService: svc})

	// Act
	rec := srv.do(http.MethodGet, "/", nil)

	// Assert
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection reset") {
		t.Error("expected error detail to be hidden outside development")
	}
}

// TestGatedRoutes_ForbiddenWithoutSession tests that mutations need a login.
func TestGatedRoutes_ForbiddenWithoutSession(t *testing.T) {
	// Arrange
	svc := &mockIssueService{}
	srv := newTestServer(t, HandlerConfig{IssueService: svc})

	routes := []struct{ method, path string }{
		{http.MethodGet, "/issues/new"},
		{http.MethodPost, "/issues/create"},
		{http.MethodPost, "/issues/abc/update"},
		{http.MethodPost, "/issues/abc/delete"},
		{http.MethodPost, "/issues/abc/close"},
		{http.MethodPost, "/issues/abc/reopen"},
		{http.MethodPost, "/issues/sync"},
	}

	for _, route := range routes {
		// Act
		rec := srv.do(route.method, route.path, url.Values{"title": {"x"}})

		// Assert
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s %s: expected 403, got %d", route.method, route.path, rec.Code)
		}
	}
	if len(svc.calls) != 0 {
		t.Errorf("expected no service calls, got %v", svc.calls)
	}
}

// TestCreate_FlashSurvivesOneRoundTrip tests the create redirect and flash lifecycle.
func TestCreate_FlashSurvivesOneRoundTrip(t *testing.T) {
	// Arrange
	svc := &mockIssueService{}
	srv := newTestServer(t, HandlerConfig{IssueService: svc})
	login := srv.loginCookie(t, "alice")

	// Act
	created := srv.do(http.MethodPost, "/issues/create", url.Values{"title": {"New bug"}}, login)
	withFlash := sessionCookie(t, created)
	first := srv.do(http.MethodGet, "/", nil, withFlash)
	cleared := sessionCookie(t, first)
	second := srv.do(http.MethodGet, "/", nil, cleared)

	// Assert
	if created.Code != http.StatusSeeOther || created.Header().Get("Location") != "/" {
		t.Errorf("expected redirect to /, got %d %s", created.Code, created.Header().Get("Location"))
	}
	if svc.calls[0] != "create:alice" {
		t.Errorf("expected create by alice, got %v", svc.calls)
	}
	if !strings.Contains(first.Body.String(), msgCreated) {
		t.Error("expected flash on first view")
	}
	if strings.Contains(second.Body.String(), msgCreated) {
		t.Error("expected flash to be gone on second view")
	}
	if !strings.Contains(second.Body.String(), "alice") {
		t.Error("expected user to stay logged in after flash is consumed")
	}
}

// TestCreate_ValidationError tests that invalid input re-renders the form.
func TestCreate_ValidationError(t *testing.T) {
	// Arrange
	svc := &mockIssueService{
		createFunc: func(ctx context.Context, in service.IssueInput, username string) (*domain.Issue, error) {
			return nil, apperrors.Newf(apperrors.CodeInvalidInput, "The title is required.")
		},
	}
	srv := newTestServer(t, HandlerConfig{IssueService: svc})

	// Act
	rec := srv.do(http.MethodPost, "/issues/create", url.Values{"title": {""}, "value": {"kept"}}, srv.loginCookie(t, "alice"))

	// Assert
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "The title is required.") || !strings.Contains(body, `value="kept"`) {
		t.Error("expected form with error and preserved input")
	}
}

// TestUpdate_RemovedByAnotherUser tests the stale edit flash.
func TestUpdate_RemovedByAnotherUser(t *testing.T) {
	// Arrange
	svc := &mockIssueService{
		updateFunc: func(ctx context.Context, id string, in service.IssueInput, username string) (*domain.Issue, error) {
			return nil, apperrors.ErrNotFound
		},
	}
	srv := newTestServer(t, HandlerConfig{IssueService: svc})

	// Act
	rec := srv.do(http.MethodPost, "/issues/gone/update", url.Values{"title": {"x"}}, srv.loginCookie(t, "alice"))
	page := srv.do(http.MethodGet, "/", nil, sessionCookie(t, rec))

	// Assert
	if rec.Code != http.StatusSeeOther {
		t.Errorf("expected redirect, got %d", rec.Code)
	}
	if !strings.Contains(page.Body.String(), "removed by another user") {
		t.Error("expected removed-by-another-user flash")
	}
}

// TestClose_UpstreamError tests that GitLab failures become a flash.
func TestClose_UpstreamError(t *testing.T) {
	// Arrange
	svc := &mockIssueService{
		closeFunc: func(ctx context.Context, id, username string) (*domain.Issue, error) {
			return nil, apperrors.Wrap(apperrors.CodeUpstream, errors.New("status 502"))
		},
	}
	srv := newTestServer(t, HandlerConfig{IssueService: svc})

	// Act
	rec := srv.do(http.MethodPost, "/issues/gl-1-1/close", nil, srv.loginCookie(t, "alice"))
	page := srv.do(http.MethodGet, "/", nil, sessionCookie(t, rec))

	// Assert
	if rec.Code != http.StatusSeeOther {
		t.Errorf("expected redirect, got %d", rec.Code)
	}
	if !strings.Contains(page.Body.String(), "GitLab could not be reached") {
		t.Error("expected upstream flash")
	}
}

// TestSync tests the manual sync action.
func TestSync(t *testing.T) {
	// Arrange
	svc := &mockIssueService{}
	srv := newTestServer(t, HandlerConfig{IssueService: svc})

	// Act
	rec := srv.do(http.MethodPost, "/issues/sync", nil, srv.loginCookie(t, "alice"))
	page := srv.do(http.MethodGet, "/", nil, sessionCookie(t, rec))

	// Assert
	if !strings.Contains(page.Body.String(), "Synced 3 issues from GitLab (1 changed).") {
		t.Error("expected sync summary flash")
	}
}

// TestLogin tests successful and failed logins.
func TestLogin(t *testing.T) {
	// Arrange
	ok := newTestServer(t, HandlerConfig{})
	bad := newTestServer(t, HandlerConfig{AuthService: &mockAuth{authenticateErr: apperrors.ErrInvalidLogin}})
	form := url.Values{"username": {"alice"}, "password": {"whatever-password"}}

	// Act
	success := ok.do(http.MethodPost, "/login", form)
	failure := bad.do(http.MethodPost, "/login", form)

	// Assert
	if success.Code != http.StatusSeeOther {
		t.Errorf("expected redirect after login, got %d", success.Code)
	}
	if !ok.sessions.Load(requestWith(sessionCookie(t, success))).LoggedIn() {
		t.Error("expected logged-in session cookie")
	}
	if failure.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", failure.Code)
	}
	if !strings.Contains(failure.Body.String(), "Invalid login attempt.") {
		t.Error("expected generic login error")
	}
}

// TestLogin_Throttled tests the login rate limit.
func TestLogin_Throttled(t *testing.T) {
	srv := newTestServer(t, HandlerConfig{LoginLimiter: denyLimiter{}})

	rec := srv.do(http.MethodPost, "/login", url.Values{"username": {"a"}, "password": {"b"}})

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
}

// TestRegister_Duplicate tests the duplicate username error.
func TestRegister_Duplicate(t *testing.T) {
	srv := newTestServer(t, HandlerConfig{AuthService: &mockAuth{registerErr: apperrors.ErrDuplicateUsername}})

	rec := srv.do(http.MethodPost, "/register", url.Values{"username": {"alice"}, "password": {"long-enough-pw"}})

	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

// TestLogout tests that logout clears the cookie.
func TestLogout(t *testing.T) {
	srv := newTestServer(t, HandlerConfig{})

	rec := srv.do(http.MethodPost, "/logout", nil, srv.loginCookie(t, "alice"))

	if rec.Code != http.StatusSeeOther {
		t.Errorf("expected redirect, got %d", rec.Code)
	}
	if c := sessionCookie(t, rec); c.MaxAge >= 0 {
		t.Errorf("expected expired cookie, got max age %d", c.MaxAge)
	}
}

// TestNotFound tests the fallback route.
func TestNotFound(t *testing.T) {
	srv := newTestServer(t, HandlerConfig{})

	rec := srv.do(http.MethodGet, "/does/not/exist", nil)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

// TestRecoverer tests that panics become a 500 page with details only in development.
func TestRecoverer(t *testing.T) {
	panicking := &mockIssueService{
		listFunc: func(ctx context.Context) ([]domain.Issue, error) {
			panic("nil map write")
		},
	}

	for _, development := range []bool{false, true} {
		// Arrange
		srv := newTestServer(t, HandlerConfig{IssueService: panicking, Development: development})

		// Act
		rec := srv.do(http.MethodGet, "/", nil)

		// Assert
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		if got := strings.Contains(rec.Body.String(), "nil map write"); got != development {
			t.Errorf("development=%v: detail shown=%v", development, got)
		}
	}
}

// TestBaseURL tests that redirects honor the configured base URL.
func TestBaseURL(t *testing.T) {
	srv := newTestServer(t, HandlerConfig{BaseURL: "/tracker/"})

	rec := srv.do(http.MethodPost, "/issues/x/reopen", nil, srv.loginCookie(t, "alice"))

	if loc := rec.Header().Get("Location"); loc != "/tracker/" {
		t.Errorf("expected redirect to /tracker/, got %q", loc)
	}
}

// TestMountedHandlers tests that webhook and websocket handlers are routed.
func TestMountedHandlers(t *testing.T) {
	var hits []string
	mark := func(name string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits = append(hits, name) })
	}
	srv := newTestServer(t, HandlerConfig{Webhook: mark("webhook"), Live: mark("live")})

	srv.do(http.MethodPost, "/webhook/issue", nil)
	srv.do(http.MethodGet, "/ws", nil)

	if strings.Join(hits, ",") != "webhook,live" {
		t.Errorf("unexpected routing %v", hits)
	}
}

func requestWith(c *http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	return req
}

// TestEdit_MirroredIssueLocksGitLabFields tests the edit form of a GitLab issue.
func TestEdit_MirroredIssueLocksGitLabFields(t *testing.T) {
	// Arrange
	svc := &mockIssueService{
		getFunc: func(ctx context.Context, id string) (*domain.Issue, error) {
			return &domain.Issue{ID: id, IID: 1, ProjectID: "42", Title: "from GitLab", State: domain.StateOpened}, nil
		},
		updateFunc: func(ctx context.Context, id string, in service.IssueInput, username string) (*domain.Issue, error) {
			return nil, apperrors.Newf(apperrors.CodeInvalidInput, "managed in GitLab")
		},
	}
	srv := newTestServer(t, HandlerConfig{IssueService: svc})
	login := srv.loginCookie(t, "alice")

	// Act
	edit := srv.do(http.MethodGet, "/issues/gl-42-1/edit", nil, login)
	rejected := srv.do(http.MethodPost, "/issues/gl-42-1/update", url.Values{"title": {"changed"}}, login)

	// Assert
	if !strings.Contains(edit.Body.String(), "readonly") {
		t.Error("expected read-only fields on edit form")
	}
	if rejected.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rejected.Code)
	}
	body := rejected.Body.String()
	if !strings.Contains(body, `value="from GitLab"`) || strings.Contains(body, `value="changed"`) {
		t.Error("expected re-rendered form to show the GitLab title")
	}
}
