// Copyright Contributors to the env360 project

package k8sgateway

import (
	"context"
	"encoding/json"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/env360/env360/internal/apperr"
	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/manifest"
)

// FieldManager is the field manager every server-side apply call in this
// package identifies itself as.
const FieldManager = "env360"

// Outcome is the per-object result of Apply.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomePatched Outcome = "patched"
)

// ApplyResult pairs an applied object's GVK/name with how it landed.
type ApplyResult struct {
	Kind string
	Name string
	Outcome Outcome
}

// Apply implements apply(): normalize manifest(s) into a list
// of objects, reject any missing apiVersion/kind/metadata.name, then for
// each object attempt server-side apply with force=true, falling back
// to a strategic merge patch on a field-manager 409 conflict.
func (g *Gateway) Apply(ctx context.Context, cluster domain.KubernetesCluster, objs...manifest.UnstructuredObject) ([]ApplyResult, error) {
	cl, cleanup, err := g.Client(cluster)
	defer cleanup()
	if err != nil {
		return nil, err
	}

	results := make([]ApplyResult, 0, len(objs))
	for _, obj := range objs {
		if obj == nil {
			continue
		}
		u, err := toUnstructured(obj)
		if err != nil {
			return results, err
		}
		outcome, err := applyOne(ctx, cl, u)
		if err != nil {
			return results, err
		}
		results = append(results, ApplyResult{Kind: u.GetKind(), Name: u.GetName(), Outcome: outcome})
	}
	return results, nil
}

// toUnstructured converts a manifest.UnstructuredObject into
// unstructured.Unstructured, rejecting objects missing apiVersion, kind,
// or metadata.name.
func toUnstructured(obj manifest.UnstructuredObject) (*unstructured.Unstructured, error) {
	u := &unstructured.Unstructured{Object: map[string]any(obj)}

	if u.GetAPIVersion() == "" {
		return nil, apperr.Invalid("k8sgateway: manifest missing apiVersion")
	}
	if u.GetKind() == "" {
		return nil, apperr.Invalid("k8sgateway: manifest missing kind")
	}
	if u.GetName() == "" {
		return nil, apperr.Invalid("k8sgateway: manifest missing metadata.name")
	}
	return u, nil
}

// applyOne implements the per-object apply/fallback logic of 
// steps 2-3: server-side apply with force=true; on a field-manager 409
// conflict, fall back to a strategic merge patch.
func applyOne(ctx context.Context, cl client.Client, u *unstructured.Unstructured) (Outcome, error) {
	applyObj := u.DeepCopy()
	err := cl.Patch(ctx, applyObj, client.Apply, client.FieldOwner(FieldManager), client.ForceOwnership)
	if err == nil {
		*u = *applyObj
		return OutcomeApplied, nil
	}
	if !apierrors.IsConflict(err) {
		return "", apperr.Wrap(apperr.KindUnavailable, "k8sgateway: server-side apply", err)
	}

	// Strategic-merge fallback: a 409 on server-side apply is handled
	// locally rather than surfaced as a Conflict error.
	patchBytes, mErr := json.Marshal(u.Object)
	if mErr != nil {
		return "", apperr.Wrap(apperr.KindFatal, "k8sgateway: marshaling strategic-merge patch", mErr)
	}
	target := u.DeepCopy()
	if pErr := cl.Patch(ctx, target, client.RawPatch(strategicMergePatchType(), patchBytes), client.FieldOwner(FieldManager)); pErr != nil {
		return "", apperr.Wrap(apperr.KindUnavailable, "k8sgateway: strategic-merge fallback", pErr)
	}
	*u = *target
	return OutcomePatched, nil
}
