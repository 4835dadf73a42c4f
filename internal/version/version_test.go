package version

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/store/memstore"
)

func seedService(t *testing.T, st *memstore.Store) domain.Service {
	t.Helper()
	ctx := context.Background()

	owner, err := st.CreateUser(ctx, domain.User{Email: "owner@example.com", IsActive: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	proj, err := st.CreateProject(ctx, domain.Project{Name: "acme", OwnerID: owner.ID})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	svc, err := st.CreateService(ctx, domain.Service{Name: "api", ProjectID: proj.ID, Type: domain.ServiceTypeMicroservice})
	if err != nil {
		t.Fatalf("CreateService: %v", err)
	}

	image := "nginx:1.25"
	ports := `[{"containerPort":80}]`
	if _, err := st.UpsertConfig(ctx, domain.Config{Scope: domain.ConfigScopeService, ParentID: svc.ID, Key: "docker_image", Value: &image}); err != nil {
		t.Fatalf("UpsertConfig docker_image: %v", err)
	}
	if _, err := st.UpsertConfig(ctx, domain.Config{Scope: domain.ConfigScopeService, ParentID: svc.ID, Key: "ports", Value: &ports}); err != nil {
		t.Fatalf("UpsertConfig ports: %v", err)
	}
	if _, err := st.UpsertVariable(ctx, domain.Variable{Scope: domain.VarScopeService, ResourceID: svc.ID, Key: "LOG", Value: "info"}); err != nil {
		t.Fatalf("UpsertVariable: %v", err)
	}
	if _, err := st.UpsertVariable(ctx, domain.Variable{Scope: domain.VarScopeService, ResourceID: svc.ID, Key: "API", Value: "abc", Secret: true}); err != nil {
		t.Fatalf("UpsertVariable secret: %v", err)
	}
	return svc
}

func TestPublishFirstVersionIsV1(t *testing.T) {
	st := memstore.New()
	svc := seedService(t, st)
	eng := New(st)

	result, err := eng.Publish(context.Background(), svc.ID)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if result.VersionLabel != "v1" {
		t.Fatalf("expected v1, got %s", result.VersionLabel)
	}
}

func TestPublishAgainUnchangedReturnsNoChange(t *testing.T) {
	st := memstore.New()
	svc := seedService(t, st)
	eng := New(st)
	ctx := context.Background()

	if _, err := eng.Publish(ctx, svc.ID); err != nil {
		t.Fatalf("first Publish: %v", err)
	}

	_, err := eng.Publish(ctx, svc.ID)
	var noChange *NoChangeError
	if err == nil {
		t.Fatalf("expected NoChangeError, got nil")
	}
	if !asNoChange(err, &noChange) {
		t.Fatalf("expected NoChangeError, got %T: %v", err, err)
	}
	if noChange.MatchingLabel != "v1" {
		t.Fatalf("expected matching label v1, got %s", noChange.MatchingLabel)
	}
}

func asNoChange(err error, target **NoChangeError) bool {
	if nc, ok := err.(*NoChangeError); ok {
		*target = nc
		return true
	}
	return false
}

func TestPublishV2AfterImageBumpChangesHash(t *testing.T) {
	st := memstore.New()
	svc := seedService(t, st)
	eng := New(st)
	ctx := context.Background()

	v1, err := eng.Publish(ctx, svc.ID)
	if err != nil {
		t.Fatalf("Publish v1: %v", err)
	}

	newImage := "nginx:1.26"
	if _, err := st.UpsertConfig(ctx, domain.Config{Scope: domain.ConfigScopeService, ParentID: svc.ID, Key: "docker_image", Value: &newImage}); err != nil {
		t.Fatalf("UpsertConfig: %v", err)
	}

	v2, err := eng.Publish(ctx, svc.ID)
	if err != nil {
		t.Fatalf("Publish v2: %v", err)
	}
	if v2.VersionLabel != "v2" {
		t.Fatalf("expected v2, got %s", v2.VersionLabel)
	}
	if v2.ConfigHash == v1.ConfigHash {
		t.Fatalf("expected different hash after image bump")
	}
}

func TestCanonicalJSONRoundTripsHash(t *testing.T) {
	spec := map[string]any{"config": map[string]any{"docker_image": "nginx:1.25"}, "variables": map[string]any{"LOG": "info"}, "secrets": map[string]any{}}

	raw, err := CanonicalJSON(spec)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	raw2, err := CanonicalJSON(parsed)
	if err != nil {
		t.Fatalf("CanonicalJSON second pass: %v", err)
	}
	if string(raw) != string(raw2) {
		t.Fatalf("hash(spec) != hash(parse(serialize(spec))): %s != %s", raw, raw2)
	}
}
