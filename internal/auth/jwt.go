package auth

import (
	"context"
	"strings"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"

	"github.com/Tyrowin/projectpulse/internal/store"
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
}

// JWTVerifier verifies HS256 tokens and checks the subject still exists in
// the directory.
type JWTVerifier struct {
	secret    []byte
	directory store.Directory
}

var _ Verifier = (*JWTVerifier)(nil)

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret []byte, directory store.Directory) *JWTVerifier {
	return &JWTVerifier{secret: secret, directory: directory}
}

func (v *JWTVerifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if token.Method != jwt.SigningMethodHS256 {
		return nil, errors.Errorf("unexpected signing method %v", token.Header["alg"])
	}
	return v.secret, nil
}

// Verify implements Verifier. Every failure wraps ErrUnauthenticated.
func (v *JWTVerifier) Verify(ctx context.Context, raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, errors.Wrap(ErrUnauthenticated, "empty token")
	}

	claims := new(Claims)
	token, err := jwt.ParseWithClaims(raw, claims, v.keyFunc)
	if err != nil {
		return Identity{}, errors.Wrap(ErrUnauthenticated, err.Error())
	}
	if !token.Valid || claims.Subject == "" {
		return Identity{}, errors.Wrap(ErrUnauthenticated, "invalid claims")
	}

	principal, err := v.directory.LookupPrincipal(ctx, claims.Subject)
	if err != nil {
		return Identity{}, errors.Wrapf(ErrUnauthenticated, "principal %s: %v", claims.Subject, err)
	}
	if !principal.Active {
		return Identity{}, errors.Wrapf(ErrUnauthenticated, "principal %s deactivated", claims.Subject)
	}

	// the directory is authoritative for the role; the claim may be stale
	role := principal.Role
	if role == "" {
		role = claims.Role
	}
	username := principal.Username
	if username == "" {
		username = claims.Username
	}
	return Identity{PrincipalID: principal.ID, Username: username, Role: role}, nil
}
