// Copyright Contributors to the env360 project

// Package authn resolves an already-minted bearer JWT into a
// domain.Caller. Everything about *minting* a token -- the OIDC
// exchange, session cookies, the GraphQL/HTTP surface itself -- is out
// of scope; this package owns exactly one thing: verifying the token
// and re-deriving identity/role state fresh from the Store, never
// trusting it from the token's own claims.
package authn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/env360/env360/internal/apperr"
	"github.com/env360/env360/internal/config"
	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/store"
)

// Claims is the minimal set of custom claims env360 places in a bearer
// token: subject (user id) and registered expiry/issued-at. Email,
// is_active and is_admin are never trusted from the token -- they are
// re-read from the Store on every request, so a revoked or demoted user
// is denied immediately rather than only once their token expires.
type Claims struct {
	jwt.RegisteredClaims
}

// Resolver turns a bearer token into a domain.Caller.
type Resolver struct {
	Store store.Store
	Settings *config.Settings
	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

// New returns a Resolver backed by st. Tokens are signed and verified
// with HMAC using the raw bytes of settings.SecretsEncryptionKey, the
// same setting internal/crypt derives its AEAD key from; no separate
// signing key is derived. When that setting is empty, a built-in
// development key is used instead.
func New(st store.Store, settings *config.Settings) *Resolver {
	return &Resolver{Store: st, Settings: settings, Now: time.Now}
}

// Sign mints a bearer token for userID, used by the (out-of-scope) login
// flow once it has already authenticated the user via OIDC; provided so
// internal/httpapi and tests have a concrete way to produce a token this
// Resolver accepts.
func (r *Resolver) Sign(userID string, ttl time.Duration) (string, error) {
	now := r.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: userID,
			IssuedAt: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(r.signingKey())
	if err != nil {
		return "", apperr.Wrap(apperr.KindFatal, "authn: signing token", err)
	}
	return signed, nil
}

// Resolve parses and verifies a raw "Bearer <token>" (or bare token)
// string, loads the referenced User from the Store, and builds the
// Caller the rest of the core operates on. IsSuperAdmin is
// derived from Settings at resolve time, never from the token.
func (r *Resolver) Resolve(ctx context.Context, authorizationHeader string) (domain.Caller, error) {
	raw := strings.TrimSpace(authorizationHeader)
	if raw == "" {
		return domain.Caller{}, apperr.New(apperr.KindPermissionDenied, "authn: missing bearer token")
	}
	if parts := strings.SplitN(raw, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		raw = parts[1]
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("authn: unexpected signing method %v", t.Header["alg"])
		}
		return r.signingKey(), nil
	}, jwt.WithTimeFunc(r.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Caller{}, apperr.Wrap(apperr.KindPermissionDenied, "authn: token expired", err)
		}
		return domain.Caller{}, apperr.Wrap(apperr.KindPermissionDenied, "authn: invalid token", err)
	}

	userID := claims.Subject
	if userID == "" {
		return domain.Caller{}, apperr.New(apperr.KindPermissionDenied, "authn: token has no subject")
	}

	user, err := r.Store.ResolveUser(ctx, userID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return domain.Caller{}, apperr.Wrap(apperr.KindPermissionDenied, "authn: unknown subject", err)
		}
		return domain.Caller{}, err
	}
	if !user.IsActive {
		return domain.Caller{}, apperr.New(apperr.KindPermissionDenied, "authn: user is deactivated")
	}

	return domain.Caller{
		ID: user.ID,
		Email: user.Email,
		IsActive: user.IsActive,
		IsAdmin: user.IsAdmin,
		IsSuperAdmin: r.Settings.IsSuperAdmin(user.Email),
	}, nil
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Resolver) signingKey() []byte {
	if r.Settings != nil && r.Settings.SecretsEncryptionKey != "" {
		return []byte(r.Settings.SecretsEncryptionKey)
	}
	return []byte("env360-dev-insecure-signing-key")
}
