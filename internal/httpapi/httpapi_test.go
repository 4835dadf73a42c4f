package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/env360/env360/internal/authn"
	"github.com/env360/env360/internal/config"
	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/permission"
	"github.com/env360/env360/internal/store/memstore"
)

func newTestServer(t *testing.T) (*Server, *memstore.Store, *authn.Resolver) {
	t.Helper()
	st := memstore.New()
	settings := &config.Settings{SecretsEncryptionKey: "test-signing-key"}
	resolver := authn.New(st, settings)
	eval := permission.New(st, settings)
	return New(st, eval, resolver, nil), st, resolver
}

func TestHealthzAndReadyz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: got status %d", path, rec.Code)
		}
	}
}

func TestReadyzReportsFailure(t *testing.T) {
	st := memstore.New()
	settings := &config.Settings{SecretsEncryptionKey: "test-signing-key"}
	resolver := authn.New(st, settings)
	eval := permission.New(st, settings)
	srv := New(st, eval, resolver, func() error { return context.DeadlineExceeded })

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got status %d, want 503", rec.Code)
	}
}

func TestGetDeploymentRequiresAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/deployments/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401 for missing bearer token", rec.Code)
	}
}

func TestGetDeploymentDeniesNonOwner(t *testing.T) {
	srv, st, resolver := newTestServer(t)
	ctx := context.Background()

	owner, _ := st.CreateUser(ctx, domain.User{Email: "owner@example.com", IsActive: true})
	outsider, _ := st.CreateUser(ctx, domain.User{Email: "outsider@example.com", IsActive: true})
	proj, _ := st.CreateProject(ctx, domain.Project{Name: "acme", OwnerID: owner.ID})
	svc, _ := st.CreateService(ctx, domain.Service{Name: "api", ProjectID: proj.ID, Type: domain.ServiceTypeMicroservice})
	version, _ := st.CreateServiceVersion(ctx, svc.ID, "v1", "hash1", map[string]any{})
	deployment, _ := st.CreateDeployment(ctx, domain.Deployment{ServiceID: svc.ID, VersionID: version.ID, Status: domain.DeploymentPending})

	token, err := resolver.Sign(outsider.ID, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/deployments/"+deployment.ID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401 for non-owner caller", rec.Code)
	}
}

func TestGetDeploymentAllowsOwner(t *testing.T) {
	srv, st, resolver := newTestServer(t)
	ctx := context.Background()

	owner, _ := st.CreateUser(ctx, domain.User{Email: "owner@example.com", IsActive: true})
	proj, _ := st.CreateProject(ctx, domain.Project{Name: "acme", OwnerID: owner.ID})
	svc, _ := st.CreateService(ctx, domain.Service{Name: "api", ProjectID: proj.ID, Type: domain.ServiceTypeMicroservice})
	version, _ := st.CreateServiceVersion(ctx, svc.ID, "v1", "hash1", map[string]any{})
	deployment, _ := st.CreateDeployment(ctx, domain.Deployment{ServiceID: svc.ID, VersionID: version.ID, Status: domain.DeploymentPending})

	token, err := resolver.Sign(owner.ID, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/deployments/"+deployment.ID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200 for owning caller", rec.Code)
	}
}
