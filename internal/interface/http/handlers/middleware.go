package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN KEY AUTHENTICATION
// The admin key is never stored: config carries a bcrypt hash of it and every
// request's X-Admin-Key is compared against that hash.
// ══════════════════════════════════════════════════════════════════════════════

// AdminKeyHeader carries the operator key.
const AdminKeyHeader = "X-Admin-Key"

var (
	// ErrAdminDisabled means no admin key hash is configured.
	ErrAdminDisabled = errors.New("admin endpoints are disabled")

	// ErrAdminKeyMissing means the request carried no key.
	ErrAdminKeyMissing = errors.New("admin key is required")

	// ErrAdminKeyInvalid means the key did not match the configured hash.
	ErrAdminKeyInvalid = errors.New("admin key is invalid")
)

// AdminKeyAuth verifies operator keys against a bcrypt hash. Successful
// comparisons are remembered by key digest since bcrypt is slow on purpose.
type AdminKeyAuth struct {
	hash []byte

	mu       sync.RWMutex
	verified map[string]bool
}

// NewAdminKeyAuth creates the authenticator. An empty hash disables admin
// access entirely.
func NewAdminKeyAuth(bcryptHash string) *AdminKeyAuth {
	return &AdminKeyAuth{
		hash:     []byte(strings.TrimSpace(bcryptHash)),
		verified: make(map[string]bool),
	}
}

// HashAdminKey returns the bcrypt hash to put in HTTP_ADMIN_KEY_HASH.
func HashAdminKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Enabled reports whether a hash is configured.
func (a *AdminKeyAuth) Enabled() bool {
	return len(a.hash) > 0
}

// Verify checks a presented key.
func (a *AdminKeyAuth) Verify(key string) error {
	if !a.Enabled() {
		return ErrAdminDisabled
	}
	if key == "" {
		return ErrAdminKeyMissing
	}

	sum := sha256.Sum256([]byte(key))
	digest := hex.EncodeToString(sum[:])

	a.mu.RLock()
	ok := a.verified[digest]
	a.mu.RUnlock()
	if ok {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(key)); err != nil {
		return ErrAdminKeyInvalid
	}

	a.mu.Lock()
	a.verified[digest] = true
	a.mu.Unlock()
	return nil
}

type actorKey struct{}

// Actor returns the operator identity attached by Middleware.
func Actor(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok {
		return v
	}
	return ""
}

// Middleware guards admin routes. onError writes the rejection so the
// caller keeps one response format. The optional X-Admin-Actor header names
// the operator in audit logs.
func (a *AdminKeyAuth) Middleware(onError func(w http.ResponseWriter, r *http.Request, status int, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := a.Verify(r.Header.Get(AdminKeyHeader))
			switch {
			case errors.Is(err, ErrAdminDisabled):
				onError(w, r, http.StatusNotFound, err)
				return
			case err != nil:
				onError(w, r, http.StatusUnauthorized, err)
				return
			}

			actor := strings.TrimSpace(r.Header.Get("X-Admin-Actor"))
			if actor == "" {
				actor = "admin"
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
		})
	}
}
