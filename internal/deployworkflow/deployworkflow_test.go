// Copyright Contributors to the env360 project

package deployworkflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/env360/env360/internal/config"
	"github.com/env360/env360/internal/deployworkflow"
	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/k8sgateway"
	"github.com/env360/env360/internal/manifest"
	"github.com/env360/env360/internal/store/memstore"
	"github.com/env360/env360/internal/workflow"
)

func init() {
	if _, err := config.Load(); err != nil {
		panic(err)
	}
}

// fakeGateway records every apply call instead of dialing a real
// cluster, so deploy_workflow's step sequencing can be tested without
// network access.
type fakeGateway struct {
	appliedKinds []string
}

func (f *fakeGateway) ApplyAndPoll(ctx context.Context, cluster domain.KubernetesCluster, obj manifest.UnstructuredObject, timeout, interval time.Duration) (*k8sgateway.ApplyResult, error) {
	if obj == nil {
		return nil, nil
	}
	kind, _ := obj["kind"].(string)
	f.appliedKinds = append(f.appliedKinds, kind)
	meta, _ := obj["metadata"].(map[string]any)
	name, _ := meta["name"].(string)
	return &k8sgateway.ApplyResult{Kind: kind, Name: name, Outcome: k8sgateway.OutcomeApplied}, nil
}

func (f *fakeGateway) Apply(ctx context.Context, cluster domain.KubernetesCluster, objs...manifest.UnstructuredObject) ([]k8sgateway.ApplyResult, error) {
	results := make([]k8sgateway.ApplyResult, 0, len(objs))
	for _, obj := range objs {
		if obj == nil {
			continue
		}
		kind, _ := obj["kind"].(string)
		f.appliedKinds = append(f.appliedKinds, kind)
		meta, _ := obj["metadata"].(map[string]any)
		name, _ := meta["name"].(string)
		results = append(results, k8sgateway.ApplyResult{Kind: kind, Name: name, Outcome: k8sgateway.OutcomeApplied})
	}
	return results, nil
}

func seedFixture(t *testing.T, st *memstore.Store) (deploymentID string) {
	t.Helper()
	ctx := context.Background()

	proj, err := st.CreateProject(ctx, domain.Project{Name: "Acme Corp"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	cluster, err := st.CreateCluster(ctx, domain.KubernetesCluster{Name: "dev", APIURL: "https://dev.example.com", AuthMethod: domain.AuthMethodToken})
	if err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}
	env, err := st.CreateEnvironment(ctx, domain.Environment{Name: "qa", Type: domain.EnvTypeTesting, ProjectID: proj.ID})
	if err != nil {
		t.Fatalf("CreateEnvironment: %v", err)
	}
	if err := st.SetEnvironmentCluster(ctx, env.ID, &cluster.ID); err != nil {
		t.Fatalf("SetEnvironmentCluster: %v", err)
	}
	svc, err := st.CreateService(ctx, domain.Service{Name: "billing-api", ProjectID: proj.ID, Type: domain.ServiceTypeMicroservice})
	if err != nil {
		t.Fatalf("CreateService: %v", err)
	}

	specJSON := map[string]any{
		"project": map[string]any{"id": proj.ID, "name": proj.Name},
		"service": map[string]any{"id": svc.ID, "name": svc.Name, "type": string(svc.Type)},
		"config": map[string]any{
			"docker_image": "acme/billing-api:v1",
			"ports": []any{map[string]any{"containerPort": float64(8080), "name": "http"}},
		},
	}
	sv, err := st.CreateServiceVersion(ctx, svc.ID, "v1", "deadbeef", specJSON)
	if err != nil {
		t.Fatalf("CreateServiceVersion: %v", err)
	}

	d, err := st.CreateDeployment(ctx, domain.Deployment{
		ServiceID: svc.ID,
		VersionID: sv.ID,
		EnvironmentID: &env.ID,
		Steps: deployworkflow.DeploySteps,
		Status: domain.DeploymentPending,
	})
	if err != nil {
		t.Fatalf("CreateDeployment: %v", err)
	}
	return d.ID
}

func TestDeployWorkflowSucceedsAndAppliesAllKinds(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	deploymentID := seedFixture(t, st)

	fg := &fakeGateway{}
	orch := &deployworkflow.Orchestrator{Store: st, Gateway: fg}
	e := workflow.New(st)
	orch.Register(e)

	wfID, err := e.Enqueue(ctx, deployworkflow.Name, map[string]any{"deployment_id": deploymentID}, "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := e.Start(ctx, wfID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	d, err := st.ResolveDeployment(ctx, deploymentID)
	if err != nil {
		t.Fatalf("ResolveDeployment: %v", err)
	}
	if d.Status != domain.DeploymentSucceeded {
		t.Fatalf("deployment status = %v, want succeeded", d.Status)
	}

	wantKinds := map[string]bool{"Namespace": true, "ServiceAccount": true, "Deployment": true, "Service": true, "DestinationRule": true, "VirtualService": true}
	for _, k := range fg.appliedKinds {
		delete(wantKinds, k)
	}
	if len(wantKinds) != 0 {
		t.Errorf("missing applied kinds: %v (applied: %v)", wantKinds, fg.appliedKinds)
	}

	snap, err := e.Status(ctx, wfID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snap.StepsCompleted != len(deployworkflow.DeploySteps) {
		t.Errorf("StepsCompleted = %d, want %d", snap.StepsCompleted, len(deployworkflow.DeploySteps))
	}
	if snap.Status != domain.WorkflowSucceeded {
		t.Errorf("workflow status = %v, want succeeded", snap.Status)
	}
}

func TestDeployWorkflowMissingClusterIsFatal(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	proj, _ := st.CreateProject(ctx, domain.Project{Name: "Acme Corp"})
	env, _ := st.CreateEnvironment(ctx, domain.Environment{Name: "qa", Type: domain.EnvTypeTesting, ProjectID: proj.ID})
	svc, _ := st.CreateService(ctx, domain.Service{Name: "billing-api", ProjectID: proj.ID, Type: domain.ServiceTypeMicroservice})
	specJSON := map[string]any{
		"project": map[string]any{"id": proj.ID, "name": proj.Name},
		"service": map[string]any{"id": svc.ID, "name": svc.Name},
		"config": map[string]any{"docker_image": "acme/billing-api:v1"},
	}
	sv, _ := st.CreateServiceVersion(ctx, svc.ID, "v1", "deadbeef", specJSON)
	d, _ := st.CreateDeployment(ctx, domain.Deployment{
		ServiceID: svc.ID,
		VersionID: sv.ID,
		EnvironmentID: &env.ID, // env has no cluster assigned
		Status: domain.DeploymentPending,
	})

	fg := &fakeGateway{}
	orch := &deployworkflow.Orchestrator{Store: st, Gateway: fg}
	e := workflow.New(st)
	orch.Register(e)

	wfID, _ := e.Enqueue(ctx, deployworkflow.Name, map[string]any{"deployment_id": d.ID}, "")
	if _, err := e.Start(ctx, wfID); err == nil {
		t.Fatal("expected Start to fail when the environment has no cluster")
	}

	rec, err := st.ResolveDeployment(ctx, d.ID)
	if err != nil {
		t.Fatalf("ResolveDeployment: %v", err)
	}
	if rec.Status != domain.DeploymentFailed {
		t.Errorf("deployment status = %v, want failed", rec.Status)
	}
}
