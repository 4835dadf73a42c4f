// Copyright Contributors to the env360 project

package k8sgateway

import (
	"context"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/env360/env360/internal/apperr"
	"github.com/env360/env360/internal/domain"
)

const (
	// DefaultPollTimeout is the deploy workflow's poll timeout.
	DefaultPollTimeout = 300 * time.Second
	// DefaultPollInterval is the deploy workflow's poll interval.
	DefaultPollInterval = 10 * time.Second
)

// PollReady implements pollReady(): dispatch by kind, blocking
// (subject to ctx) until the object satisfies its kind-specific
// readiness condition or timeout elapses.
func (g *Gateway) PollReady(ctx context.Context, cluster domain.KubernetesCluster, obj *unstructured.Unstructured, timeout, interval time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	cl, cleanup, err := g.Client(cluster)
	defer cleanup()
	if err != nil {
		return err
	}

	checker, ok := readinessCheckers[obj.GetKind()]
	if !ok {
		// Unknown kind: reported ready immediately; no note is logged
		// or returned.
		return nil
	}

	deadline := time.Now().Add(timeout)
	key := client.ObjectKeyFromObject(obj)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		fetched := &unstructured.Unstructured{}
		fetched.SetGroupVersionKind(obj.GroupVersionKind())
		getErr := cl.Get(ctx, key, fetched)
		if getErr == nil {
			ready, checkErr := checker(fetched)
			if checkErr != nil {
				return checkErr
			}
			if ready {
				return nil
			}
		} else if !apierrors.IsNotFound(getErr) {
			return apperr.Wrap(apperr.KindUnavailable, "k8sgateway: polling readiness", getErr)
		}

		if time.Now().After(deadline) {
			return apperr.Unavailable("k8sgateway: timed out waiting for %s/%s to become ready", obj.GetKind(), obj.GetName())
		}

		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.KindCancelled, "k8sgateway: poll cancelled", ctx.Err())
		case <-ticker.C:
		}
	}
}

// readinessChecker reports whether obj currently satisfies its kind's
// readiness condition.
type readinessChecker func(obj *unstructured.Unstructured) (bool, error)

var readinessCheckers = map[string]readinessChecker{
	"Namespace": namespaceReady,
	"ServiceAccount": existsReady,
	"HTTPRoute": existsReady,
	"VirtualService": existsReady,
	"Gateway": existsReady,
	"Ingress": existsReady,
	"Deployment": deploymentReady,
	"Service": serviceReady,
}

// namespaceReady implements: "ready when status.phase ==
// Active".
func namespaceReady(obj *unstructured.Unstructured) (bool, error) {
	phase, _, _ := unstructured.NestedString(obj.Object, "status", "phase")
	return phase == "Active", nil
}

// existsReady implements: "ready when GET returns the object",
// which by construction is already true once we reach this checker.
func existsReady(obj *unstructured.Unstructured) (bool, error) {
	return true, nil
}

// deploymentReady implements: "ready when availableReplicas >=
// spec.replicas && updatedReplicas >= spec.replicas && readyReplicas >=
// spec.replicas". A Deployment with spec.replicas == 0 is ready
// immediately.
func deploymentReady(obj *unstructured.Unstructured) (bool, error) {
	wantReplicas, found, _ := unstructured.NestedInt64(obj.Object, "spec", "replicas")
	if !found {
		wantReplicas = 1
	}
	available, _, _ := unstructured.NestedInt64(obj.Object, "status", "availableReplicas")
	updated, _, _ := unstructured.NestedInt64(obj.Object, "status", "updatedReplicas")
	ready, _, _ := unstructured.NestedInt64(obj.Object, "status", "readyReplicas")

	return available >= wantReplicas && updated >= wantReplicas && ready >= wantReplicas, nil
}

// serviceReady implements: LoadBalancer services are ready
// once an ingress entry is present; every other type is ready once
// clusterIP is assigned and not "None".
func serviceReady(obj *unstructured.Unstructured) (bool, error) {
	svcType, _, _ := unstructured.NestedString(obj.Object, "spec", "type")
	if svcType == "LoadBalancer" {
		ingress, found, _ := unstructured.NestedSlice(obj.Object, "status", "loadBalancer", "ingress")
		return found && len(ingress) > 0, nil
	}
	clusterIP, _, _ := unstructured.NestedString(obj.Object, "spec", "clusterIP")
	return clusterIP != "" && clusterIP != "None", nil
}
