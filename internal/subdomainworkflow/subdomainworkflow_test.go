// Copyright Contributors to the env360 project

package subdomainworkflow_test

import (
	"context"
	"testing"

	"github.com/env360/env360/internal/config"
	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/k8sgateway"
	"github.com/env360/env360/internal/manifest"
	"github.com/env360/env360/internal/store/memstore"
	"github.com/env360/env360/internal/subdomainworkflow"
	"github.com/env360/env360/internal/workflow"
)

func init() {
	if _, err := config.Load(); err != nil {
		panic(err)
	}
}

// fakeGateway records every apply call instead of dialing a real
// cluster.
type fakeGateway struct {
	appliedKinds []string
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

func seedEnv(t *testing.T, st *memstore.Store, projectName, envName string) (envID string, clusterID string) {
	t.Helper()
	ctx := context.Background()

	proj, err := st.CreateProject(ctx, domain.Project{Name: projectName})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	cluster, err := st.CreateCluster(ctx, domain.KubernetesCluster{Name: "dev", APIURL: "https://dev.example.com", AuthMethod: domain.AuthMethodToken})
	if err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}
	env, err := st.CreateEnvironment(ctx, domain.Environment{Name: envName, Type: domain.EnvTypeTesting, ProjectID: proj.ID})
	if err != nil {
		t.Fatalf("CreateEnvironment: %v", err)
	}
	if err := st.SetEnvironmentCluster(ctx, env.ID, &cluster.ID); err != nil {
		t.Fatalf("SetEnvironmentCluster: %v", err)
	}
	return env.ID, cluster.ID
}

func TestSetupEnvSubdomainAppliesCertificateAndGateway(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	envID, _ := seedEnv(t, st, "Acme Corp", "qa")

	fg := &fakeGateway{}
	orch := &subdomainworkflow.Orchestrator{Store: st, Gateway: fg}
	e := workflow.New(st)
	orch.Register(e)

	wfID, err := e.Enqueue(ctx, subdomainworkflow.Name, map[string]any{"environment_id": envID}, "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := e.Start(ctx, wfID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	wantKinds := map[string]bool{"Certificate": true, "Gateway": true}
	for _, k := range fg.appliedKinds {
		delete(wantKinds, k)
	}
	if len(wantKinds) != 0 {
		t.Errorf("missing applied kinds: %v (applied: %v)", wantKinds, fg.appliedKinds)
	}

	cfg, err := st.GetConfig(ctx, domain.ConfigScopeEnvironment, envID, subdomainworkflow.DomainInfoKey)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if cfg.ConfigData["project_name"] != "Acme Corp" || cfg.ConfigData["environment_name"] != "qa" {
		t.Errorf("domain_info ConfigData = %v", cfg.ConfigData)
	}
	if cfg.WorkflowUUID == nil || *cfg.WorkflowUUID != wfID {
		t.Errorf("domain_info WorkflowUUID = %v, want %s", cfg.WorkflowUUID, wfID)
	}

	snap, err := e.Status(ctx, wfID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snap.Status != domain.WorkflowSucceeded {
		t.Errorf("workflow status = %v, want succeeded", snap.Status)
	}
}

func TestSetupEnvSubdomainGatewayCoversEveryEnvironment(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	env1, _ := seedEnv(t, st, "Acme Corp", "qa")
	env2, _ := seedEnv(t, st, "Globex", "staging")

	e := workflow.New(st)

	fg1 := &fakeGateway{}
	orch1 := &subdomainworkflow.Orchestrator{Store: st, Gateway: fg1}
	orch1.Register(e)
	wfID1, _ := e.Enqueue(ctx, subdomainworkflow.Name, map[string]any{"environment_id": env1}, "")
	if _, err := e.Start(ctx, wfID1); err != nil {
		t.Fatalf("Start (env1): %v", err)
	}

	fg2 := &fakeGateway{}
	orch2 := &subdomainworkflow.Orchestrator{Store: st, Gateway: fg2}
	e2 := workflow.New(st)
	orch2.Register(e2)
	wfID2, _ := e2.Enqueue(ctx, subdomainworkflow.Name, map[string]any{"environment_id": env2}, "")
	if _, err := e2.Start(ctx, wfID2); err != nil {
		t.Fatalf("Start (env2): %v", err)
	}

	rows, err := st.ListConfigsByKey(ctx, domain.ConfigScopeEnvironment, subdomainworkflow.DomainInfoKey)
	if err != nil {
		t.Fatalf("ListConfigsByKey: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("domain_info rows = %d, want 2", len(rows))
	}
}

func TestSetupEnvSubdomainMissingClusterIsFatal(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	proj, _ := st.CreateProject(ctx, domain.Project{Name: "Acme Corp"})
	env, _ := st.CreateEnvironment(ctx, domain.Environment{Name: "qa", Type: domain.EnvTypeTesting, ProjectID: proj.ID})

	fg := &fakeGateway{}
	orch := &subdomainworkflow.Orchestrator{Store: st, Gateway: fg}
	e := workflow.New(st)
	orch.Register(e)

	wfID, _ := e.Enqueue(ctx, subdomainworkflow.Name, map[string]any{"environment_id": env.ID}, "")
	if _, err := e.Start(ctx, wfID); err == nil {
		t.Fatal("expected Start to fail when the environment has no cluster")
	}
}
