// Package session issues and verifies stateless admin session tokens.
//
// A token is "data.signature": data is the base64url (unpadded) JSON
// payload and signature is the base64url HMAC-SHA256 of data under a
// server-held secret. Nothing is stored server side, so a token stays
// valid until its embedded expiry; rotating the secret revokes all
// outstanding tokens at once.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// DefaultTTL is the validity window of a freshly issued token.
const DefaultTTL = 24 * time.Hour

// ErrNoSecret is returned by Issue when the secret source is empty.
var ErrNoSecret = errors.New("session secret is not configured")

// Payload is the signed content of a session token.
type Payload struct {
	AdminUserID string `json:"adminUserId"`
	Username    string `json:"username"`
	Exp         int64  `json:"exp"`
}

// Signer issues and verifies session tokens.
type Signer interface {
	// Issue signs the payload. A zero Exp is filled from the signer's TTL.
	Issue(p Payload) (string, error)
	// Verify returns the payload of a valid, unexpired token. Any
	// malformed, tampered or expired token yields (nil, false).
	Verify(token string) (*Payload, bool)
	// TTL is the validity window applied by Issue.
	TTL() time.Duration
}

// SecretSource supplies the HMAC key. It is consulted on every call so
// the key can be rotated without rebuilding the signer.
type SecretSource interface {
	Secret() []byte
}

// StaticSecret is a fixed key.
type StaticSecret string

// Secret implements SecretSource.
func (s StaticSecret) Secret() []byte { return []byte(s) }

// EnvSecret reads the key from the named environment variable.
type EnvSecret string

// Secret implements SecretSource.
func (e EnvSecret) Secret() []byte { return []byte(os.Getenv(string(e))) }

// Option configures an HMACSigner.
type Option func(*HMACSigner)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *HMACSigner) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *HMACSigner) {
		s.now = now
	}
}

// Compile-time interface check.
var _ Signer = (*HMACSigner)(nil)

// HMACSigner implements Signer with HMAC-SHA256.
type HMACSigner struct {
	secret SecretSource
	ttl    time.Duration
	now    func() time.Time
}

// NewHMACSigner creates a signer keyed by secret.
func NewHMACSigner(secret SecretSource, opts ...Option) *HMACSigner {
	s := &HMACSigner{
		secret: secret,
		ttl:    DefaultTTL,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// TTL implements Signer.
func (s *HMACSigner) TTL() time.Duration {
	return s.ttl
}

// Issue implements Signer.
func (s *HMACSigner) Issue(p Payload) (string, error) {
	key := s.secret.Secret()
	if len(key) == 0 {
		return "", ErrNoSecret
	}

	if p.Exp == 0 {
		p.Exp = s.now().Add(s.ttl).Unix()
	}

	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}

	data := base64.RawURLEncoding.EncodeToString(body)

	return data + "." + sign(key, data), nil
}

// Verify implements Signer.
func (s *HMACSigner) Verify(token string) (*Payload, bool) {
	key := s.secret.Secret()
	if len(key) == 0 {
		return nil, false
	}

	data, sig, ok := strings.Cut(token, ".")
	if !ok || data == "" || sig == "" {
		return nil, false
	}

	// hmac.Equal is constant time and false on length mismatch.
	if !hmac.Equal([]byte(sig), []byte(sign(key, data))) {
		return nil, false
	}

	body, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, false
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, false
	}

	if p.AdminUserID == "" || p.Username == "" || p.Exp == 0 {
		return nil, false
	}

	if p.Exp < s.now().Unix() {
		return nil, false
	}

	return &p, true
}

func sign(key []byte, data string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))

	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
