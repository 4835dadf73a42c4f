package authn

import (
	"context"
	"testing"
	"time"

	"github.com/env360/env360/internal/config"
	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/store/memstore"
)

func newResolver(t *testing.T) (*Resolver, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	settings := &config.Settings{SecretsEncryptionKey: "test-signing-key", SuperAdminEmails: map[string]struct{}{"root@example.com": {}}}
	return New(st, settings), st
}

func TestResolveRoundTrip(t *testing.T) {
	r, st := newResolver(t)
	ctx := context.Background()

	user, err := st.CreateUser(ctx, domain.User{Email: "dev@example.com", IsActive: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	token, err := r.Sign(user.ID, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	caller, err := r.Resolve(ctx, "Bearer "+token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if caller.ID != user.ID || caller.Email != user.Email {
		t.Fatalf("caller mismatch: %+v", caller)
	}
	if caller.IsSuperAdmin {
		t.Fatalf("dev@example.com must not resolve as super-admin")
	}
}

func TestResolveDerivesSuperAdminFromSettingsNotToken(t *testing.T) {
	r, st := newResolver(t)
	ctx := context.Background()

	user, err := st.CreateUser(ctx, domain.User{Email: "root@example.com", IsActive: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	token, err := r.Sign(user.ID, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	caller, err := r.Resolve(ctx, "Bearer "+token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !caller.IsSuperAdmin {
		t.Fatalf("expected root@example.com to resolve as super-admin via Settings")
	}
}

func TestResolveRejectsDeactivatedUser(t *testing.T) {
	r, st := newResolver(t)
	ctx := context.Background()

	user, err := st.CreateUser(ctx, domain.User{Email: "gone@example.com", IsActive: false})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	token, err := r.Sign(user.ID, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, err := r.Resolve(ctx, "Bearer "+token); err == nil {
		t.Fatalf("expected deactivated user to be denied")
	}
}

func TestResolveRejectsExpiredToken(t *testing.T) {
	r, st := newResolver(t)
	ctx := context.Background()

	user, err := st.CreateUser(ctx, domain.User{Email: "dev@example.com", IsActive: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	r.Now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := r.Sign(user.ID, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	r.Now = time.Now

	if _, err := r.Resolve(ctx, "Bearer "+token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestResolveRejectsMissingHeader(t *testing.T) {
	r, _ := newResolver(t)
	if _, err := r.Resolve(context.Background(), ""); err == nil {
		t.Fatalf("expected missing bearer token to be rejected")
	}
}
