package dashboard

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/vilaca/issuehub/internal/domain"
	"github.com/vilaca/issuehub/internal/session"
)

//go:embed templates/*.tmpl
var templateFiles embed.FS

//go:embed static
var staticFiles embed.FS

// StaticFS returns the embedded static assets rooted at static/.
func StaticFS() fs.FS {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// Page holds what every page needs for the layout.
type Page struct {
	Title    string
	Username string
	Flash    *session.Flash
	GitLab   bool
}

// IssueForm is the state of the new/edit form.
type IssueForm struct {
	ID          string
	Title       string
	Description string
	Value       string
	// Mirrored locks the fields GitLab owns.
	Mirrored    bool
	Error       string
}

// AuthForm is the state of the login/register forms.
type AuthForm struct {
	Username string
	Error    string
}

// ErrorView describes an error page.
type ErrorView struct {
	Status  int
	Message string
	Detail  string
}

// Renderer handles rendering responses to HTTP clients.
type Renderer interface {
	RenderIssues(w io.Writer, page Page, issues []domain.Issue) error
	RenderIssueForm(w io.Writer, page Page, form IssueForm) error
	RenderRemove(w io.Writer, page Page, issue *domain.Issue) error
	RenderLogin(w io.Writer, page Page, form AuthForm) error
	RenderRegister(w io.Writer, page Page, form AuthForm) error
	RenderError(w io.Writer, page Page, view ErrorView) error
	RenderHealth(w io.Writer) error
}

// view is the data passed to every template.
type view struct {
	Page   Page
	Issues []domain.Issue
	Issue  *domain.Issue
	Form   IssueForm
	Auth   AuthForm
	Error  ErrorView
}

// HTMLRenderer implements Renderer with embedded html/template files.
type HTMLRenderer struct {
	pages map[string]*template.Template
}

var pageNames = []string{"issues", "form", "remove", "login", "register", "error"}

// NewHTMLRenderer parses every page template. baseURL prefixes generated links.
func NewHTMLRenderer(baseURL string) (*HTMLRenderer, error) {
	base := strings.TrimRight(baseURL, "/")
	funcs := template.FuncMap{
		"url":  func(path string) string { return base + path },
		"base": func() string { return base },
		"ago":  formatTimeAgo,
	}

	r := &HTMLRenderer{pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		tmpl, err := template.New("layout.tmpl").Funcs(funcs).
			ParseFS(templateFiles, "templates/layout.tmpl", "templates/row.tmpl", "templates/"+name+".tmpl")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.pages[name] = tmpl
	}
	return r, nil
}

func (r *HTMLRenderer) render(w io.Writer, name string, v view) error {
	tmpl, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %s", name)
	}
	return tmpl.ExecuteTemplate(w, "layout", v)
}

func (r *HTMLRenderer) RenderIssues(w io.Writer, page Page, issues []domain.Issue) error {
	return r.render(w, "issues", view{Page: page, Issues: issues})
}

func (r *HTMLRenderer) RenderIssueForm(w io.Writer, page Page, form IssueForm) error {
	return r.render(w, "form", view{Page: page, Form: form})
}

func (r *HTMLRenderer) RenderRemove(w io.Writer, page Page, issue *domain.Issue) error {
	return r.render(w, "remove", view{Page: page, Issue: issue})
}

func (r *HTMLRenderer) RenderLogin(w io.Writer, page Page, form AuthForm) error {
	return r.render(w, "login", view{Page: page, Auth: form})
}

func (r *HTMLRenderer) RenderRegister(w io.Writer, page Page, form AuthForm) error {
	return r.render(w, "register", view{Page: page, Auth: form})
}

func (r *HTMLRenderer) RenderError(w io.Writer, page Page, v ErrorView) error {
	return r.render(w, "error", view{Page: page, Error: v})
}

func (r *HTMLRenderer) RenderHealth(w io.Writer) error {
	_, err := w.Write([]byte(`{"status":"ok"}`))
	return err
}

func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
