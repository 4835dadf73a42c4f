// Copyright Contributors to the env360 project

// Package httpapi is a minimal, illustrative external surface: health and
// readiness probes plus a single read-only deployment-status endpoint,
// enough to exercise internal/authn and internal/permission end to end.
// The full GraphQL/HTTP surface this system exposes in production is
// out of scope and not reproduced here.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/env360/env360/internal/apperr"
	"github.com/env360/env360/internal/authn"
	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/permission"
	"github.com/env360/env360/internal/store"
)

// callerContextKey is the context key the Auth middleware stores the
// resolved domain.Caller under.
type callerContextKey struct{}

// Server wires a chi.Mux over a Store, Permission Evaluator and Authn
// Resolver. It owns no workflow logic -- deploys are started through
// internal/scheduler, not through this package.
type Server struct {
	Store store.Store
	Evaluator *permission.Evaluator
	Resolver *authn.Resolver
	ReadyCheck func() error
}

// New builds a Server. readyCheck, if non-nil, backs GET /readyz (e.g. a
// Store ping); a nil readyCheck always reports ready.
func New(st store.Store, eval *permission.Evaluator, resolver *authn.Resolver, readyCheck func() error) *Server {
	return &Server{Store: st, Evaluator: eval, Resolver: resolver, ReadyCheck: readyCheck}
}

// Router builds the chi.Mux: unauthenticated health endpoints, then an
// authenticated /v1 tree guarded by Auth + the Permission Evaluator.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/deployments/{id}", s.getDeployment)
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.ReadyCheck != nil {
		if err := s.ReadyCheck(); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// auth resolves the Authorization header into a domain.Caller and
// stores it in the request context, mapping any resolution failure to
// 401.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.Resolver.Resolve(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), callerContextKey{}, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFrom(ctx context.Context) (domain.Caller, bool) {
	caller, ok := ctx.Value(callerContextKey{}).(domain.Caller)
	return caller, ok
}

func (s *Server) getDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deployment, err := s.Store.ResolveDeployment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.KindPermissionDenied, "httpapi: missing caller"))
		return
	}
	user := domain.User{ID: caller.ID, Email: caller.Email, IsActive: caller.IsActive, IsAdmin: caller.IsAdmin}
	allowed, err := s.Evaluator.May(r.Context(), user, domain.ActionRead, domain.ScopeService, deployment.ServiceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !allowed {
		writeError(w, apperr.PermissionDenied("httpapi: caller may not read deployment %s", id))
		return
	}

	writeJSON(w, http.StatusOK, deployment)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the apperr taxonomy onto HTTP status codes;
// the real GraphQL/HTTP surface's own error-shape mapping is out of
// scope, but every ambient endpoint this package exposes still needs one.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindAlreadyExists, apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindPermissionDenied:
		status = http.StatusUnauthorized
	case apperr.KindInvalid:
		status = http.StatusBadRequest
	case apperr.KindUnavailable:
		status = http.StatusServiceUnavailable
	case apperr.KindCancelled:
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}
