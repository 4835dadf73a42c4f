// Copyright Contributors to the env360 project

// Package subdomainworkflow implements the Environment-Subdomain
// Orchestrator: the setup_env_subdomain workflow that
// provisions a per-environment TLS certificate and keeps the cluster's
// single shared Gateway's listener set in sync with every environment
// that has ever run this workflow. It follows the same
// step-over-Store idiom as internal/deployworkflow.
package subdomainworkflow

import (
	"context"

	"github.com/env360/env360/internal/apperr"
	"github.com/env360/env360/internal/config"
	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/k8sgateway"
	"github.com/env360/env360/internal/manifest"
	"github.com/env360/env360/internal/store"
	"github.com/env360/env360/internal/workflow"
)

// Name is the workflow name registered with the Engine.
const Name = "setup_env_subdomain"

// DomainInfoKey is the EnvironmentConfig key this workflow upserts.
const DomainInfoKey = "domain_info"

// gateway narrows *k8sgateway.Gateway to the single method this
// orchestrator needs, so tests can substitute a fake.
type gateway interface {
	Apply(ctx context.Context, cluster domain.KubernetesCluster, objs...manifest.UnstructuredObject) ([]k8sgateway.ApplyResult, error)
}

// Orchestrator holds the dependencies setup_env_subdomain needs.
type Orchestrator struct {
	Store store.Store
	Gateway gateway
}

// New returns an Orchestrator ready to Register against a workflow.Engine.
func New(st store.Store, gw *k8sgateway.Gateway) *Orchestrator {
	return &Orchestrator{Store: st, Gateway: gw}
}

// Register installs setup_env_subdomain into e.
func (o *Orchestrator) Register(e *workflow.Engine) {
	e.Register(Name, o.run)
}

func (o *Orchestrator) run(ctx context.Context, r *workflow.Run) (map[string]any, error) {
	environmentID, _ := r.Args["environment_id"].(string)

	details, err := o.stepSaveDomainInfo(ctx, r, environmentID)
	if err != nil {
		return nil, err
	}

	bundle, err := o.stepRenderEnvManifests(ctx, r, details)
	if err != nil {
		return nil, err
	}

	if details.ClusterID == nil {
		return nil, apperr.Newf(apperr.KindFatal, "setup_env_subdomain: environment %s has no cluster assigned", environmentID)
	}
	cluster, err := o.Store.ResolveCluster(ctx, *details.ClusterID)
	if err != nil {
		return nil, err
	}

	if _, err := r.Step(ctx, "apply_env_certificate", o.applyFunc(cluster, bundle.Certificate)); err != nil {
		return nil, err
	}
	if _, err := r.Step(ctx, "apply_env_gateway", o.applyFunc(cluster, bundle.Gateway)); err != nil {
		return nil, err
	}

	return map[string]any{"environment_id": environmentID}, nil
}

// envDetails is the decoded return value of save_domain_info: the
// environment's cluster plus every domain_info row known so far,
// including the one this step just wrote.
type envDetails struct {
	EnvironmentID string
	EnvironmentName string
	ProjectName string
	ClusterID *string
	Pairs []manifest.GatewayPair
}

// stepSaveDomainInfo implements step 1: resolve env+project,
// upsert EnvironmentConfig(key="domain_info"), and return the full set
// of domain_info rows across every environment -- the shared Gateway's
// listener inputs. It also stamps the workflow's own uuid onto the row
// it writes, satisfying "the mutation that starts this workflow MUST
// persist the returned workflow_uuid onto the... row" at the earliest
// point that row exists.
func (o *Orchestrator) stepSaveDomainInfo(ctx context.Context, r *workflow.Run, environmentID string) (envDetails, error) {
	out, err := r.Step(ctx, "save_domain_info", func(ctx context.Context) (map[string]any, error) {
		env, err := o.Store.ResolveEnvironment(ctx, environmentID)
		if err != nil {
			return nil, err
		}
		proj, err := o.Store.ResolveProject(ctx, env.ProjectID)
		if err != nil {
			return nil, err
		}

		workflowUUID := r.WorkflowUUID
		if _, err := o.Store.UpsertConfig(ctx, domain.Config{
			Scope: domain.ConfigScopeEnvironment,
			ParentID: env.ID,
			Key: DomainInfoKey,
			ConfigData: map[string]any{
				"project_name": proj.Name,
				"environment_name": env.Name,
			},
			WorkflowUUID: &workflowUUID,
		}); err != nil {
			return nil, err
		}

		rows, err := o.Store.ListConfigsByKey(ctx, domain.ConfigScopeEnvironment, DomainInfoKey)
		if err != nil {
			return nil, err
		}
		pairs := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			pairs = append(pairs, map[string]any{
				"environment_name": stringFromData(row.ConfigData, "environment_name"),
				"project_name": stringFromData(row.ConfigData, "project_name"),
			})
		}

		clusterID := ""
		if env.ClusterID != nil {
			clusterID = *env.ClusterID
		}
		return map[string]any{
			"environment_id": env.ID,
			"environment_name": env.Name,
			"project_name": proj.Name,
			"cluster_id": clusterID,
			"pairs": pairs,
		}, nil
	})
	if err != nil {
		return envDetails{}, err
	}

	d := envDetails{
		EnvironmentID: stringFromData(out, "environment_id"),
		EnvironmentName: stringFromData(out, "environment_name"),
		ProjectName: stringFromData(out, "project_name"),
	}
	if cid := stringFromData(out, "cluster_id"); cid != "" {
		d.ClusterID = &cid
	}
	if rawPairs, ok := out["pairs"].([]any); ok {
		for _, rp := range rawPairs {
			m, ok := rp.(map[string]any)
			if !ok {
				continue
			}
			d.Pairs = append(d.Pairs, manifest.GatewayPair{
				EnvironmentName: stringFromData(m, "environment_name"),
				ProjectName: stringFromData(m, "project_name"),
			})
		}
	}
	return d, nil
}

func (o *Orchestrator) stepRenderEnvManifests(ctx context.Context, r *workflow.Run, details envDetails) (manifest.SubdomainBundle, error) {
	out, err := r.Step(ctx, "render_env_manifests", func(ctx context.Context) (map[string]any, error) {
		cfg := config.Current()
		for i := range details.Pairs {
			details.Pairs[i].BaseDomain = cfg.BaseDomain
		}

		cert := manifest.RenderCertificate(manifest.SubdomainInput{
			EnvironmentName: details.EnvironmentName,
			ProjectName: details.ProjectName,
			BaseDomain: cfg.BaseDomain,
			CertNamespace: cfg.DomainCertNamespace,
			IssuerName: cfg.DomainIssuerName,
			CertDuration: cfg.DomainCertDuration,
			RenewBefore: cfg.DomainCertRenewBefore,
		})
		gw := manifest.RenderGateway(details.Pairs, cfg.DomainGatewayName, cfg.DomainGatewayNamespace, cfg.DomainGatewayClassName)

		raw, err := toMap(manifest.SubdomainBundle{Certificate: cert, Gateway: gw})
		if err != nil {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		return manifest.SubdomainBundle{}, err
	}
	var bundle manifest.SubdomainBundle
	if err := fromMap(out, &bundle); err != nil {
		return manifest.SubdomainBundle{}, apperr.Wrap(apperr.KindFatal, "setup_env_subdomain: decoding render_env_manifests output", err)
	}
	return bundle, nil
}

func (o *Orchestrator) applyFunc(cluster domain.KubernetesCluster, obj manifest.UnstructuredObject) func(context.Context) (map[string]any, error) {
	return func(ctx context.Context) (map[string]any, error) {
		results, err := o.Gateway.Apply(ctx, cluster, obj)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return map[string]any{}, nil
		}
		return map[string]any{"kind": results[0].Kind, "name": results[0].Name, "outcome": string(results[0].Outcome)}, nil
	}
}

func stringFromData(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
