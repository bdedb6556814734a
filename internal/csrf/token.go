// Package csrf issues and validates the per-session anti-forgery token that
// state-changing calls attach as the X-CSRF-Token header.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Wikid82/gearshare/backend/internal/logger"
	"github.com/Wikid82/gearshare/backend/internal/metrics"
	"github.com/Wikid82/gearshare/backend/internal/storage"
)

// HeaderName is the request header carrying the token.
const HeaderName = "X-CSRF-Token"

const (
	DefaultTTL     = 30 * time.Minute
	DefaultRefresh = 25 * time.Minute
	tokenBytes     = 32
)

// ErrTokenUnavailable means no token could be produced; the action must not proceed.
var ErrTokenUnavailable = errors.New("security token unavailable, refresh the page")

// Token is a single CSRF token. Tokens are replaced, never mutated.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// persisted is the storage layout of csrf_token.
type persisted struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
	IssuedAt  int64  `json:"issuedAt,omitempty"`
}

// Store holds the single live token of a session.
type Store struct {
	mu      sync.Mutex
	store   storage.Store
	ttl     time.Duration
	now     func() time.Time
	entropy io.Reader
	current *Token
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) Option { return func(s *Store) { s.ttl = ttl } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithEntropy overrides the random source used for new tokens.
func WithEntropy(r io.Reader) Option { return func(s *Store) { s.entropy = r } }

// NewStore returns a token store persisting into st.
func NewStore(st storage.Store, opts ...Option) *Store {
	s := &Store{store: st, ttl: DefaultTTL, now: time.Now, entropy: rand.Reader}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Token returns the live token, generating a new one when none is stored or
// the stored one has expired.
func (s *Store) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.current == nil {
		s.current = s.load()
	}
	if s.current != nil && s.current.ExpiresAt.After(now) {
		return s.current.Value, nil
	}
	t, err := s.generateLocked(now)
	if err != nil {
		return "", err
	}
	return t.Value, nil
}

// Current returns a copy of the live token without generating one.
func (s *Store) Current() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		s.current = s.load()
	}
	if s.current == nil || !s.current.ExpiresAt.After(s.now()) {
		return Token{}, false
	}
	return *s.current, true
}

// Regenerate replaces the token regardless of its remaining lifetime.
func (s *Store) Regenerate() (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generateLocked(s.now())
}

// Validate reports whether candidate equals the live token and the token has
// not expired. An expired token never validates, even if byte-equal.
func (s *Store) Validate(candidate string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		s.current = s.load()
	}
	ok := candidate != "" &&
		s.current != nil &&
		s.current.ExpiresAt.After(s.now()) &&
		subtle.ConstantTimeCompare([]byte(candidate), []byte(s.current.Value)) == 1
	metrics.IncGuardDecision("csrf", ok)
	return ok
}

// Headers returns a copy of existing with the token header set. When no token
// can be produced the header is left out; callers check for it with Require
// or by reading HeaderName.
func (s *Store) Headers(existing http.Header) http.Header {
	h := existing.Clone()
	if h == nil {
		h = http.Header{}
	}
	token, err := s.Token()
	if err != nil {
		logger.Guard("csrf").WithError(err).Warn("csrf token unavailable")
		h.Del(HeaderName)
		return h
	}
	h.Set(HeaderName, token)
	return h
}

// Require returns the live token or ErrTokenUnavailable.
func (s *Store) Require() (string, error) {
	token, err := s.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	return token, nil
}

// Clear forgets the token (sign-out).
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	return s.store.Delete(storage.KeyCSRFToken)
}

func (s *Store) generateLocked(now time.Time) (Token, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(s.entropy, buf); err != nil {
		return Token{}, fmt.Errorf("generate csrf token: %w", err)
	}
	t := Token{Value: hex.EncodeToString(buf), IssuedAt: now, ExpiresAt: now.Add(s.ttl)}
	s.current = &t

	raw, err := json.Marshal(persisted{Token: t.Value, ExpiresAt: t.ExpiresAt.UnixMilli(), IssuedAt: now.UnixMilli()})
	if err == nil {
		err = s.store.Set(storage.KeyCSRFToken, string(raw))
	}
	if err != nil {
		// the in-memory token stays usable for this process
		logger.Guard("csrf").WithError(err).Warn("failed to persist csrf token")
	}
	return t, nil
}

func (s *Store) load() *Token {
	raw, ok, err := s.store.Get(storage.KeyCSRFToken)
	if err != nil || !ok {
		return nil
	}
	var p persisted
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.Token == "" {
		return nil
	}
	return &Token{
		Value:     p.Token,
		IssuedAt:  time.UnixMilli(p.IssuedAt),
		ExpiresAt: time.UnixMilli(p.ExpiresAt),
	}
}

// WellFormed reports whether s has the shape of a token: 64 hex characters.
func WellFormed(s string) bool {
	if len(s) != hex.EncodedLen(tokenBytes) {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
