// Package auth manages the console administrator's login sessions.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	ragadmin "github.com/tedhappy/ragflow-admin"
)

// DefaultTTL is how long a session token stays valid.
const DefaultTTL = 24 * time.Hour

// Session is an authenticated administrator session.
type Session struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExpiresIn is the remaining lifetime in whole seconds as of now.
func (s Session) ExpiresIn(now time.Time) int {
	return int(s.ExpiresAt.Sub(now).Seconds())
}

// Sessions is an in-memory token store. Tokens do not survive a restart.
type Sessions struct {
	mu     sync.Mutex
	tokens map[string]Session

	username string
	password string
	ttl      time.Duration
	now      func() time.Time
}

// Option configures Sessions.
type Option func(*Sessions)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Sessions) { s.ttl = ttl }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sessions) { s.now = now }
}

// NewSessions creates a store that accepts the given admin credentials.
func NewSessions(admin ragadmin.AdminConfig, opts ...Option) *Sessions {
	s := &Sessions{
		tokens:   make(map[string]Session),
		username: admin.Username,
		password: admin.Password,
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Login checks the credentials and opens a session.
func (s *Sessions) Login(username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Session{}, ragadmin.ValidationError("username is required")
	}
	if password == "" {
		return Session{}, ragadmin.ValidationError("password is required")
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
	if !userOK || !passOK {
		return Session{}, ragadmin.ErrUnauthorized
	}
	return s.create(username)
}

// Validate returns the session for token. Expired tokens are dropped.
func (s *Sessions) Validate(token string) (Session, error) {
	if token == "" {
		return Session{}, ragadmin.ErrUnauthorized
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.tokens[token]
	if !ok {
		return Session{}, ragadmin.ErrUnauthorized
	}
	if s.now().After(sess.ExpiresAt) {
		delete(s.tokens, token)
		return Session{}, ragadmin.ErrUnauthorized
	}
	return sess, nil
}

// Refresh replaces a valid token with a new one.
func (s *Sessions) Refresh(token string) (Session, error) {
	sess, err := s.Validate(token)
	if err != nil {
		return Session{}, err
	}
	s.Logout(token)
	return s.create(sess.Username)
}

// Logout revokes token. It reports whether the token existed.
func (s *Sessions) Logout(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[token]; !ok {
		return false
	}
	delete(s.tokens, token)
	return true
}

// Sweep removes every expired session and returns how many were removed.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for token, sess := range s.tokens {
		if now.After(sess.ExpiresAt) {
			delete(s.tokens, token)
			n++
		}
	}
	return n
}

// Len returns the number of stored sessions, expired or not.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Now returns the store's current time.
func (s *Sessions) Now() time.Time { return s.now() }

func (s *Sessions) create(username string) (Session, error) {
	token, err := newToken()
	if err != nil {
		return Session{}, err
	}
	now := s.now()
	sess := Session{Token: token, Username: username, CreatedAt: now, ExpiresAt: now.Add(s.ttl)}

	s.mu.Lock()
	s.tokens[token] = sess
	s.mu.Unlock()
	return sess, nil
}

// newToken returns 32 random bytes, URL-safe base64 without padding.
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
