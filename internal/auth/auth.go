// Package auth extracts and verifies the bearer credential presented on a
// WebSocket handshake.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/projectpulse/internal/store"
)

var (
	// ErrUnauthenticated is the single observable outcome of every
	// verification failure.
	ErrUnauthenticated = errors.New("authentication failed")
)

// Identity is an authenticated principal.
type Identity struct {
	PrincipalID string
	Username    string
	Role        string
}

// IsAdmin reports whether the identity holds the administrator role.
func (id Identity) IsAdmin() bool {
	return id.Role == store.RoleAdmin
}

// Verifier turns a raw token into an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// BearerToken returns the credential from the "token" query parameter, or
// failing that from an "Authorization: Bearer" header. It returns "" when
// neither carries a non-blank value.
func BearerToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}

	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Authenticator authenticates handshake requests. It never registers groups.
type Authenticator struct {
	verifier Verifier
	logger   *zap.Logger
}

// NewAuthenticator creates an Authenticator backed by v.
func NewAuthenticator(v Verifier, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{verifier: v, logger: logger}
}

// Authenticate returns the caller's identity and whether verification
// succeeded.
func (a *Authenticator) Authenticate(r *http.Request) (Identity, bool) {
	token := BearerToken(r)
	if token == "" {
		a.logger.Debug("handshake without credential", zap.String("remote", r.RemoteAddr))
		return Identity{}, false
	}

	id, err := a.verifier.Verify(r.Context(), token)
	if err != nil {
		a.logger.Info("credential rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return Identity{}, false
	}
	return id, true
}
