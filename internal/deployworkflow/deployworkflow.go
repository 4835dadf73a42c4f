// Copyright Contributors to the env360 project

// Package deployworkflow implements the Deployment Orchestrator: the
// deploy_workflow that realises a Deployment on its target cluster by
// rendering manifests (internal/manifest) and applying them through the
// K8s Gateway (internal/k8sgateway), with each stage run as a memoized
// internal/workflow step.
package deployworkflow

import (
	"context"
	"time"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/env360/env360/internal/apperr"
	"github.com/env360/env360/internal/config"
	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/k8sgateway"
	"github.com/env360/env360/internal/manifest"
	"github.com/env360/env360/internal/store"
	"github.com/env360/env360/internal/workflow"
)

var log = zapr.NewLogger(zap.L()).WithName("deployworkflow")

// Name is the workflow name registered with the Engine and persisted on
// workflow_status.name.
const Name = "deploy_workflow"

// DeploySteps is the canonical, ordered step list requires
// the implementation to match exactly. It is informational when
// persisted onto a Deployment's Steps field; it never drives execution.
var DeploySteps = []string{
	"get_deployment",
	"get_environment_name",
	"get_service_details",
	"render_manifests",
	"create_namespace",
	"create_service_account",
	"create_deployment",
	"create_service",
	"create_destination_rule",
	"create_virtual_service_mesh",
	"create_virtual_service_ext",
}

// gateway is the slice of *k8sgateway.Gateway's behavior deploy_workflow
// depends on, narrowed to an interface so tests can substitute a fake
// that never dials a real cluster.
type gateway interface {
	ApplyAndPoll(ctx context.Context, cluster domain.KubernetesCluster, obj manifest.UnstructuredObject, timeout, interval time.Duration) (*k8sgateway.ApplyResult, error)
	Apply(ctx context.Context, cluster domain.KubernetesCluster, objs...manifest.UnstructuredObject) ([]k8sgateway.ApplyResult, error)
}

// Orchestrator holds the dependencies deploy_workflow needs: the Store
// for loading the Deployment/Environment/ServiceVersion rows, and the
// Gateway for applying/polling the rendered manifests.
type Orchestrator struct {
	Store store.Store
	Gateway gateway
}

// New returns an Orchestrator ready to Register against a workflow.Engine.
func New(st store.Store, gw *k8sgateway.Gateway) *Orchestrator {
	return &Orchestrator{Store: st, Gateway: gw}
}

// Register installs deploy_workflow into e.
func (o *Orchestrator) Register(e *workflow.Engine) {
	e.Register(Name, o.run)
}

// run implements the 11-step sequence of.
func (o *Orchestrator) run(ctx context.Context, r *workflow.Run) (map[string]any, error) {
	deploymentID, _ := r.Args["deployment_id"].(string)

	deployment, err := o.stepGetDeployment(ctx, r, deploymentID)
	if err != nil {
		return nil, err
	}

	envName, err := o.stepGetEnvironmentName(ctx, r, deployment)
	if err != nil {
		o.finalize(ctx, deployment.ID, domain.DeploymentFailed)
		return nil, err
	}

	details, versionLabel, err := o.stepGetServiceDetails(ctx, r, deployment)
	if err != nil {
		o.finalize(ctx, deployment.ID, domain.DeploymentFailed)
		return nil, err
	}

	cluster, err := o.resolveCluster(ctx, deployment)
	if err != nil {
		o.finalize(ctx, deployment.ID, domain.DeploymentFailed)
		return nil, err
	}

	bundle, err := o.stepRenderManifests(ctx, r, details, versionLabel, deployment, envName)
	if err != nil {
		o.finalize(ctx, deployment.ID, domain.DeploymentFailed)
		return nil, err
	}

	applySteps := []struct {
		name string
		obj manifest.UnstructuredObject
	}{
		{"create_namespace", bundle.Namespace},
		{"create_service_account", bundle.ServiceAccount},
		{"create_deployment", bundle.Deployment},
		{"create_service", bundle.Service},
	}
	for _, s := range applySteps {
		if _, err := r.Step(ctx, s.name, o.applyAndPollFunc(cluster, s.obj)); err != nil {
			o.finalize(ctx, deployment.ID, domain.DeploymentFailed)
			return nil, err
		}
	}

	if _, err := r.Step(ctx, "create_destination_rule", o.applyManyFunc(cluster, bundle.DestinationRules)); err != nil {
		o.finalize(ctx, deployment.ID, domain.DeploymentFailed)
		return nil, err
	}
	if _, err := r.Step(ctx, "create_virtual_service_mesh", o.applyManyFunc(cluster, bundle.VirtualServicesMesh)); err != nil {
		o.finalize(ctx, deployment.ID, domain.DeploymentFailed)
		return nil, err
	}
	if _, err := r.Step(ctx, "create_virtual_service_ext", o.applyManyFunc(cluster, []manifest.UnstructuredObject{bundle.VirtualServiceExt})); err != nil {
		o.finalize(ctx, deployment.ID, domain.DeploymentFailed)
		return nil, err
	}

	o.finalize(ctx, deployment.ID, domain.DeploymentSucceeded)
	return map[string]any{"deployment_id": deployment.ID, "status": string(domain.DeploymentSucceeded)}, nil
}

func (o *Orchestrator) stepGetDeployment(ctx context.Context, r *workflow.Run, deploymentID string) (domain.Deployment, error) {
	out, err := r.Step(ctx, "get_deployment", func(ctx context.Context) (map[string]any, error) {
		d, err := o.Store.ResolveDeployment(ctx, deploymentID)
		if err != nil {
			return nil, err
		}
		return toMap(d)
	})
	if err != nil {
		return domain.Deployment{}, err
	}
	var d domain.Deployment
	if err := fromMap(out, &d); err != nil {
		return domain.Deployment{}, apperr.Wrap(apperr.KindFatal, "deploy_workflow: decoding get_deployment output", err)
	}
	return d, nil
}

func (o *Orchestrator) stepGetEnvironmentName(ctx context.Context, r *workflow.Run, deployment domain.Deployment) (string, error) {
	out, err := r.Step(ctx, "get_environment_name", func(ctx context.Context) (map[string]any, error) {
		if deployment.EnvironmentID == nil {
			return map[string]any{"name": ""}, nil
		}
		env, err := o.Store.ResolveEnvironment(ctx, *deployment.EnvironmentID)
		if err != nil {
			if apperr.IsNotFound(err) {
				return map[string]any{"name": ""}, nil
			}
			return nil, err
		}
		return map[string]any{"name": env.Name}, nil
	})
	if err != nil {
		return "", err
	}
	name, _ := out["name"].(string)
	return name, nil
}

func (o *Orchestrator) stepGetServiceDetails(ctx context.Context, r *workflow.Run, deployment domain.Deployment) (manifest.ServiceDetails, string, error) {
	out, err := r.Step(ctx, "get_service_details", func(ctx context.Context) (map[string]any, error) {
		sv, err := o.Store.ResolveServiceVersion(ctx, deployment.VersionID)
		if err != nil {
			return nil, err
		}
		detailsMap, err := toMap(serviceDetailsFromSpec(sv))
		if err != nil {
			return nil, err
		}
		return map[string]any{"details": detailsMap, "version_label": sv.VersionLabel}, nil
	})
	if err != nil {
		return manifest.ServiceDetails{}, "", err
	}

	detailsRaw, _ := out["details"].(map[string]any)
	var details manifest.ServiceDetails
	if err := fromMap(detailsRaw, &details); err != nil {
		return manifest.ServiceDetails{}, "", apperr.Wrap(apperr.KindFatal, "deploy_workflow: decoding get_service_details output", err)
	}
	label, _ := out["version_label"].(string)
	return details, label, nil
}

func (o *Orchestrator) stepRenderManifests(ctx context.Context, r *workflow.Run, details manifest.ServiceDetails, versionLabel string, deployment domain.Deployment, envName string) (manifest.Bundle, error) {
	out, err := r.Step(ctx, "render_manifests", func(ctx context.Context) (map[string]any, error) {
		cfg := config.Current()
		input := manifest.Input{
			Service: details,
			VersionLabel: versionLabel,
			DeploymentID: deployment.ID,
			EnvironmentName: envName,
			DownstreamOverrides: toManifestOverrides(deployment.DownstreamOverrides),
			Gateway: manifest.GatewayRef{
				Namespace: cfg.DomainGatewayNamespace,
				Name: cfg.DomainGatewayName,
			},
			BaseDomain: cfg.BaseDomain,
		}
		return toMap(manifest.Render(input))
	})
	if err != nil {
		return manifest.Bundle{}, err
	}
	var bundle manifest.Bundle
	if err := fromMap(out, &bundle); err != nil {
		return manifest.Bundle{}, apperr.Wrap(apperr.KindFatal, "deploy_workflow: decoding render_manifests output", err)
	}
	return bundle, nil
}

// resolveCluster implements: "resolves the target
// KubernetesCluster by following Deployment.environment_id ->
// Environment.cluster_id; missing cluster is a fatal error for the
// workflow." This is a plain, idempotent Store read, not itself one of
// the 11 named steps.
func (o *Orchestrator) resolveCluster(ctx context.Context, d domain.Deployment) (domain.KubernetesCluster, error) {
	if d.EnvironmentID == nil {
		return domain.KubernetesCluster{}, apperr.New(apperr.KindFatal, "deploy_workflow: deployment has no environment assigned")
	}
	env, err := o.Store.ResolveEnvironment(ctx, *d.EnvironmentID)
	if err != nil {
		return domain.KubernetesCluster{}, err
	}
	if env.ClusterID == nil {
		return domain.KubernetesCluster{}, apperr.Newf(apperr.KindFatal, "deploy_workflow: environment %s has no cluster assigned", env.ID)
	}
	return o.Store.ResolveCluster(ctx, *env.ClusterID)
}

// applyAndPollFunc builds a step body that applies a single object and
// waits for it to become ready.
// obj == nil makes the step a no-op ("skip if absent").
func (o *Orchestrator) applyAndPollFunc(cluster domain.KubernetesCluster, obj manifest.UnstructuredObject) func(context.Context) (map[string]any, error) {
	return func(ctx context.Context) (map[string]any, error) {
		res, err := o.Gateway.ApplyAndPoll(ctx, cluster, obj, k8sgateway.DefaultPollTimeout, k8sgateway.DefaultPollInterval)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return map[string]any{"skipped": true}, nil
		}
		return map[string]any{"kind": res.Kind, "name": res.Name, "outcome": string(res.Outcome)}, nil
	}
}

// applyManyFunc builds a step body that applies every non-nil object in
// objs without waiting for readiness.
func (o *Orchestrator) applyManyFunc(cluster domain.KubernetesCluster, objs []manifest.UnstructuredObject) func(context.Context) (map[string]any, error) {
	return func(ctx context.Context) (map[string]any, error) {
		results, err := o.Gateway.Apply(ctx, cluster, objs...)
		if err != nil {
			return nil, err
		}
		applied := make([]string, 0, len(results))
		for _, res := range results {
			applied = append(applied, res.Kind+"/"+res.Name)
		}
		return map[string]any{"applied": applied}, nil
	}
}

// finalize persists the terminal Deployment status. It is intentionally
// not a workflow step: it uses time.Now() directly and is safe to
// re-run on every resume since UpdateDeploymentStatus is idempotent.
func (o *Orchestrator) finalize(ctx context.Context, deploymentID string, status domain.DeploymentStatus) {
	now := time.Now()
	if err := o.Store.UpdateDeploymentStatus(ctx, deploymentID, status, &now); err != nil {
		log.Error(err, "failed to persist terminal deployment status", "deployment", deploymentID, "status", status)
	}
}
