package dashboard

import (
	"bytes"
	"strings"
	"testing"

	"github.com/vilaca/issuehub/internal/domain"
	"github.com/vilaca/issuehub/internal/session"
)

func newRenderer(t *testing.T, baseURL string) *HTMLRenderer {
	t.Helper()
	r, err := NewHTMLRenderer(baseURL)
	if err != nil {
		t.Fatalf("expected templates to parse, got %v", err)
	}
	return r
}

// TestHTMLRenderer_RenderIssues tests the issue list page.
func TestHTMLRenderer_RenderIssues(t *testing.T) {
	// Arrange
	renderer := newRenderer(t, "/")
	buf := &bytes.Buffer{}
	page := Page{Title: "Issues", Username: "alice", Flash: &session.Flash{Type: session.FlashSuccess, Text: "Saved"}}

	// Act
	err := renderer.RenderIssues(buf, page, []domain.Issue{{ID: "a1", Title: "First", State: domain.StateOpened}})

	// Assert
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	output := buf.String()
	for _, want := range []string{"<!DOCTYPE html>", "Issues - IssueHub", "First", "flash-success", "/issues/a1/close", "/static/app.js"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %q", want)
		}
	}
}

// TestHTMLRenderer_BaseURL tests that links use the base URL.
func TestHTMLRenderer_BaseURL(t *testing.T) {
	// Arrange
	renderer := newRenderer(t, "/tracker")
	buf := &bytes.Buffer{}

	// Act
	err := renderer.RenderIssueForm(buf, Page{Title: "Edit issue"}, IssueForm{ID: "x9", Title: "t"})

	// Assert
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(buf.String(), `action="/tracker/issues/x9/update"`) {
		t.Errorf("expected prefixed form action, got %q", buf.String())
	}
}

// TestHTMLRenderer_RenderError tests the error page.
func TestHTMLRenderer_RenderError(t *testing.T) {
	renderer := newRenderer(t, "/")
	buf := &bytes.Buffer{}

	err := renderer.RenderError(buf, Page{Title: "Not Found"}, ErrorView{Status: 404, Message: "resource not found"})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(buf.String(), "404") || !strings.Contains(buf.String(), "resource not found") {
		t.Errorf("unexpected error page %q", buf.String())
	}
}

// TestHTMLRenderer_RenderHealth tests the health check rendering.
func TestHTMLRenderer_RenderHealth(t *testing.T) {
	// Arrange
	renderer := newRenderer(t, "/")
	buf := &bytes.Buffer{}

	// Act
	err := renderer.RenderHealth(buf)

	// Assert
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	expected := `{"status":"ok"}`
	if buf.String() != expected {
		t.Errorf("expected %q, got %q", expected, buf.String())
	}
}

func TestStaticFS(t *testing.T) {
	for _, name := range []string{"app.js", "style.css"} {
		f, err := StaticFS().Open(name)
		if err != nil {
			t.Errorf("expected %s to be embedded: %v", name, err)
			continue
		}
		f.Close()
	}
}

// TestHTMLRenderer_MirroredFormIsReadOnly tests that GitLab-owned fields are locked.
func TestHTMLRenderer_MirroredFormIsReadOnly(t *testing.T) {
	// Arrange
	renderer := newRenderer(t, "/")
	mirrored := &bytes.Buffer{}
	local := &bytes.Buffer{}

	// Act
	err1 := renderer.RenderIssueForm(mirrored, Page{}, IssueForm{ID: "gl-42-1", Title: "t", Mirrored: true})
	err2 := renderer.RenderIssueForm(local, Page{}, IssueForm{ID: "x", Title: "t"})

	// Assert
	if err1 != nil || err2 != nil {
		t.Fatalf("expected no errors, got %v / %v", err1, err2)
	}
	if strings.Count(mirrored.String(), "readonly") != 2 {
		t.Errorf("expected title and description to be read-only, got %q", mirrored.String())
	}
	if strings.Contains(local.String(), "readonly") {
		t.Error("expected local issue form to be editable")
	}
}
