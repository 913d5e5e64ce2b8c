// Package webhook receives GitLab issue hooks.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vilaca/issuehub/internal/apperrors"
	"github.com/vilaca/issuehub/internal/domain"
)

// TokenHeader carries the shared secret configured on the GitLab hook.
const TokenHeader = "X-Gitlab-Token"

const maxBodySize = 1 << 20

// Applier mirrors a remote issue and returns the broadcast event.
type Applier interface {
	ApplyRemote(ctx context.Context, remote domain.RemoteIssue) (domain.Event, error)
}

// Logger is the logging dependency of the handler.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Handler serves POST /webhook/issue.
type Handler struct {
	secret  []byte
	applier Applier
	logger  Logger
}

// NewHandler creates a webhook handler. An empty secret rejects every call.
func NewHandler(secret string, applier Applier, logger Logger) *Handler {
	return &Handler{secret: []byte(secret), applier: applier, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed: use POST")
		return
	}

	if !h.authorized(r) {
		h.logger.Printf("[Webhook] rejected delivery from %s: bad token", r.RemoteAddr)
		h.writeError(w, http.StatusForbidden, apperrors.ErrForbidden.Message)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer func() { _ = r.Body.Close() }()

	var payload issuePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if payload.ObjectKind != "" && payload.ObjectKind != "issue" {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"ignored": payload.ObjectKind})
		return
	}
	if payload.ObjectAttributes == nil {
		h.writeError(w, http.StatusBadRequest, "missing object_attributes")
		return
	}
	if a := payload.ObjectAttributes; a.IID <= 0 || a.ProjectID <= 0 {
		h.writeError(w, http.StatusBadRequest, "object_attributes must carry iid and project_id")
		return
	}

	event, err := h.applier.ApplyRemote(r.Context(), payload.toRemote())
	if err != nil {
		status := apperrors.Status(err)
		h.logger.Printf("[Webhook] failed to apply issue %d: %v", payload.ObjectAttributes.IID, err)
		h.writeError(w, status, apperrors.Message(err))
		return
	}

	h.logger.Printf("[Webhook] issue %s -> %s", event.Data.ID, event.Kind)
	_ = json.NewEncoder(w).Encode(map[string]string{"event": string(event.Kind)})
}

func (h *Handler) authorized(r *http.Request) bool {
	if len(h.secret) == 0 {
		return false
	}
	token := []byte(r.Header.Get(TokenHeader))
	return subtle.ConstantTimeCompare(token, h.secret) == 1
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
