// Package adminauth guards the admin HTTP API with HS256 bearer tokens signed
// by a key file kept next to the server's data.
package adminauth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	Issuer     = "goldprime"
	keyLen     = 32
	DefaultTTL = 24 * time.Hour
)

var (
	ErrMissingToken = errors.New("adminauth: missing token")
	ErrInvalidToken = errors.New("adminauth: invalid token")
)

type Auth struct {
	key []byte
}

// LoadOrCreateKey reads the signing key at path, creating it on first use.
func LoadOrCreateKey(path string) (*Auth, error) {
	key, err := os.ReadFile(path)
	if err == nil && len(key) >= keyLen {
		return &Auth{key: key}, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read jwt key: %w", err)
	}
	key = make([]byte, keyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write jwt key: %w", err)
	}
	return &Auth{key: key}, nil
}

// LoadKey reads an existing key without creating one.
func LoadKey(path string) (*Auth, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(key) < keyLen {
		return nil, fmt.Errorf("jwt key %s is too short", path)
	}
	return &Auth{key: key}, nil
}

func NewWithKey(key []byte) *Auth { return &Auth{key: key} }

// Mint signs a token for subject valid for ttl.
func (a *Auth) Mint(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
}

// Parse returns the token's subject.
func (a *Auth) Parse(tok string) (string, error) {
	if tok == "" {
		return "", ErrMissingToken
	}
	var claims jwt.RegisteredClaims
	t, err := jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !t.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// RequireAuth accepts "Authorization: Bearer <token>" or ?token=.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var tok string
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			tok = strings.TrimPrefix(h, "Bearer ")
		} else {
			tok = r.URL.Query().Get("token")
		}
		if _, err := a.Parse(tok); err != nil {
			http.Error(rw, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(rw, r)
	})
}
