// Package sessions issues and checks bearer tokens.
//
// Two kinds exist: full sessions, minted by logging in with an authorized
// username/password pair and valid until revoked, and download tokens, minted
// by any authorized caller and valid for six hours. Download tokens exist so
// links (image src, video href) can carry a credential in the query string.
package sessions

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// FullTokenBytes yields a 140-character token.
	FullTokenBytes = 105
	// DownloadTokenBytes yields a 32-character token.
	DownloadTokenBytes = 24
	// DownloadTTL is how long a download token stays valid.
	DownloadTTL = 6 * time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
)

// Kind distinguishes full sessions from download tokens.
type Kind int

const (
	KindFull Kind = iota + 1
	KindDownload
)

func (k Kind) String() string {
	switch k {
	case KindFull:
		return "full"
	case KindDownload:
		return "download"
	default:
		return "unknown"
	}
}

// Session is one issued token. ExpiresAt is zero for full sessions.
type Session struct {
	Token     string
	Kind      Kind
	ExpiresAt time.Time
}

func (s Session) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Store holds the authorized credential mapping and all live tokens.
type Store struct {
	mu       sync.Mutex
	users    map[string]string
	sessions map[string]Session
	now      func() time.Time
}

// NewStore creates a store for the given username → password mapping.
func NewStore(users map[string]string) *Store {
	s := &Store{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
	s.SetCredentials(users)
	return s
}

// SetClock overrides the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// SetCredentials replaces the authorized mapping. Live sessions are kept.
func (s *Store) SetCredentials(users map[string]string) {
	cp := make(map[string]string, len(users))
	for u, p := range users {
		cp[u] = p
	}
	s.mu.Lock()
	s.users = cp
	s.mu.Unlock()
}

// IssueFull mints a full session for an authorized pair.
func (s *Store) IssueFull(username, password string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.checkCredentials(username, password) {
		slog.Warn("security.login_failed", "username", username)
		return "", ErrInvalidCredentials
	}

	token, err := s.newTokenLocked(FullTokenBytes)
	if err != nil {
		return "", err
	}
	s.sessions[token] = Session{Token: token, Kind: KindFull}
	slog.Info("session issued", "username", username)
	return token, nil
}

// IssueDownload mints a download token that expires after DownloadTTL.
func (s *Store) IssueDownload() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.newTokenLocked(DownloadTokenBytes)
	if err != nil {
		return "", err
	}
	s.sessions[token] = Session{
		Token:     token,
		Kind:      KindDownload,
		ExpiresAt: s.now().Add(DownloadTTL),
	}
	return token, nil
}

// Revoke removes token. Unknown tokens are ignored.
func (s *Store) Revoke(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Authorize reports the kind of a live token.
func (s *Store) Authorize(token string) (Kind, error) {
	if token == "" {
		return 0, ErrUnauthorized
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return 0, ErrUnauthorized
	}
	if sess.expired(s.now()) {
		delete(s.sessions, token)
		return 0, ErrUnauthorized
	}
	return sess.Kind, nil
}

// Len returns the number of stored tokens, including expired ones not yet
// swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops expired tokens and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for token, sess := range s.sessions {
		if sess.expired(now) {
			delete(s.sessions, token)
			n++
		}
	}
	return n
}

// StartSweeper prunes expired tokens every interval until ctx is done.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					slog.Debug("expired sessions swept", "count", n)
				}
			}
		}
	}()
}

// checkCredentials walks every entry so timing does not reveal which
// usernames exist. Caller holds mu.
func (s *Store) checkCredentials(username, password string) bool {
	if username == "" {
		return false
	}
	match := 0
	for u, p := range s.users {
		userEq := subtle.ConstantTimeCompare([]byte(u), []byte(username))
		passEq := subtle.ConstantTimeCompare([]byte(p), []byte(password))
		match |= userEq & passEq
	}
	return match == 1
}

func (s *Store) newTokenLocked(n int) (string, error) {
	for {
		token, err := randomToken(n)
		if err != nil {
			return "", err
		}
		if _, dup := s.sessions[token]; !dup {
			return token, nil
		}
	}
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
