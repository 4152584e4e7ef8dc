package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// URLSigner issues and checks the tokens embedded in locally served URLs.
// A token authorizes every key below one container/prefix scope so that
// relative asset references inside index.html resolve under the same token.
type URLSigner interface {
	Sign(scope Scope) (string, error)
	Verify(token string) (Scope, error)
}

// Scope is the part of the local store a token grants read access to
type Scope struct {
	Container string
	Prefix    string
}

// Allows reports whether key falls inside the scope
func (s Scope) Allows(container, key string) bool {
	if container != s.Container {
		return false
	}
	if s.Prefix == "" {
		return true
	}
	return len(key) > len(s.Prefix) && key[:len(s.Prefix)+1] == s.Prefix+"/"
}

type scopeClaims struct {
	Container string `json:"ctr"`
	Prefix    string `json:"pfx"`
	jwt.RegisteredClaims
}

// TokenSigner signs scopes as HS256 JWTs
type TokenSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokenSigner creates a signer. A zero ttl issues tokens that never
// expire, which keeps persisted index URLs valid.
func NewTokenSigner(key string, ttl time.Duration) (*TokenSigner, error) {
	if key == "" {
		return nil, errors.New("signing key is required")
	}
	return &TokenSigner{key: []byte(key), ttl: ttl, now: time.Now}, nil
}

// Sign returns a token for scope. Without a ttl the token is deterministic.
func (s *TokenSigner) Sign(scope Scope) (string, error) {
	claims := scopeClaims{Container: scope.Container, Prefix: scope.Prefix}
	if s.ttl > 0 {
		now := s.now()
		claims.IssuedAt = jwt.NewNumericDate(now)
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

// Verify checks the signature and expiry of token and returns its scope
func (s *TokenSigner) Verify(token string) (Scope, error) {
	claims := &scopeClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return Scope{}, fmt.Errorf("invalid url token: %w", err)
	}
	if !parsed.Valid || claims.Container == "" {
		return Scope{}, errors.New("invalid url token")
	}
	return Scope{Container: claims.Container, Prefix: claims.Prefix}, nil
}
