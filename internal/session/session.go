// Package session keeps login state and one-shot flash messages in a signed
// cookie.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Flash types rendered by the templates.
const (
	FlashSuccess = "success"
	FlashDanger  = "danger"
	FlashInfo    = "info"
)

// Flash is a message shown on the next page view only.
type Flash struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Session is the decoded cookie content.
type Session struct {
	Username string
	Flash    *Flash
}

// LoggedIn reports whether the session belongs to a user.
func (s *Session) LoggedIn() bool {
	return s != nil && s.Username != ""
}

type claims struct {
	Username string `json:"usr,omitempty"`
	Flash    *Flash `json:"flash,omitempty"`
	jwt.RegisteredClaims
}

// Manager reads and writes session cookies.
type Manager struct {
	name   string
	secret []byte
	maxAge time.Duration
	secure bool
}

// Config configures a Manager.
type Config struct {
	Name   string
	Secret string
	MaxAge time.Duration
	// Secure marks the cookie HTTPS-only; enabled in production.
	Secure bool
}

// NewManager creates a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Secret == "" {
		return nil, errors.New("session secret is required")
	}
	if cfg.Name == "" {
		cfg.Name = "issuehub_session"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	return &Manager{name: cfg.Name, secret: []byte(cfg.Secret), maxAge: cfg.MaxAge, secure: cfg.Secure}, nil
}

// Load decodes the session cookie. A missing, expired or tampered cookie
// yields an empty session.
func (m *Manager) Load(r *http.Request) *Session {
	cookie, err := r.Cookie(m.name)
	if err != nil || cookie.Value == "" {
		return &Session{}
	}

	var c claims
	_, err = jwt.ParseWithClaims(cookie.Value, &c, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return &Session{}
	}

	return &Session{Username: c.Username, Flash: c.Flash}
}

// Save signs s into the session cookie.
func (m *Manager) Save(w http.ResponseWriter, s *Session) error {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Username: s.Username,
		Flash:    s.Flash,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.maxAge)),
		},
	})

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return fmt.Errorf("failed to sign session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(m.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear removes the session cookie.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
