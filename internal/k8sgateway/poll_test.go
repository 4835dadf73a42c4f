// Copyright Contributors to the env360 project

package k8sgateway

import (
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func TestNamespaceReady(t *testing.T) {
	active := &unstructured.Unstructured{Object: map[string]any{
		"status": map[string]any{"phase": "Active"},
	}}
	ready, err := namespaceReady(active)
	if err != nil || !ready {
		t.Fatalf("namespaceReady(Active) = %v, %v; want true, nil", ready, err)
	}

	pending := &unstructured.Unstructured{Object: map[string]any{
		"status": map[string]any{"phase": "Terminating"},
	}}
	ready, _ = namespaceReady(pending)
	if ready {
		t.Fatalf("namespaceReady(Terminating) = true, want false")
	}
}

func TestDeploymentReadyZeroReplicas(t *testing.T) {
	// boundary: spec.replicas=0 reports ready immediately.
	obj := &unstructured.Unstructured{Object: map[string]any{
		"spec": map[string]any{"replicas": int64(0)},
		"status": map[string]any{},
	}}
	ready, err := deploymentReady(obj)
	if err != nil || !ready {
		t.Fatalf("deploymentReady(replicas=0) = %v, %v; want true, nil", ready, err)
	}
}

func TestDeploymentReadyPartialRollout(t *testing.T) {
	obj := &unstructured.Unstructured{Object: map[string]any{
		"spec": map[string]any{"replicas": int64(3)},
		"status": map[string]any{
			"availableReplicas": int64(2),
			"updatedReplicas": int64(3),
			"readyReplicas": int64(2),
		},
	}}
	ready, err := deploymentReady(obj)
	if err != nil || ready {
		t.Fatalf("deploymentReady(partial) = %v, %v; want false, nil", ready, err)
	}
}

func TestDeploymentReadyFullyAvailable(t *testing.T) {
	obj := &unstructured.Unstructured{Object: map[string]any{
		"spec": map[string]any{"replicas": int64(3)},
		"status": map[string]any{
			"availableReplicas": int64(3),
			"updatedReplicas": int64(3),
			"readyReplicas": int64(3),
		},
	}}
	ready, err := deploymentReady(obj)
	if err != nil || !ready {
		t.Fatalf("deploymentReady(full) = %v, %v; want true, nil", ready, err)
	}
}

func TestServiceReadyClusterIP(t *testing.T) {
	none := &unstructured.Unstructured{Object: map[string]any{
		"spec": map[string]any{"type": "ClusterIP", "clusterIP": "None"},
	}}
	ready, _ := serviceReady(none)
	if ready {
		t.Fatalf("serviceReady(clusterIP=None) = true, want false")
	}

	assigned := &unstructured.Unstructured{Object: map[string]any{
		"spec": map[string]any{"type": "ClusterIP", "clusterIP": "10.0.0.1"},
	}}
	ready, _ = serviceReady(assigned)
	if !ready {
		t.Fatalf("serviceReady(clusterIP=10.0.0.1) = false, want true")
	}
}

func TestServiceReadyLoadBalancer(t *testing.T) {
	pending := &unstructured.Unstructured{Object: map[string]any{
		"spec": map[string]any{"type": "LoadBalancer"},
		"status": map[string]any{},
	}}
	ready, _ := serviceReady(pending)
	if ready {
		t.Fatalf("serviceReady(LB pending) = true, want false")
	}

	assigned := &unstructured.Unstructured{Object: map[string]any{
		"spec": map[string]any{"type": "LoadBalancer"},
		"status": map[string]any{
			"loadBalancer": map[string]any{
				"ingress": []any{map[string]any{"ip": "1.2.3.4"}},
			},
		},
	}}
	ready, _ = serviceReady(assigned)
	if !ready {
		t.Fatalf("serviceReady(LB assigned) = false, want true")
	}
}

func TestUnknownKindSkipsReadinessCheck(t *testing.T) {
	if _, ok := readinessCheckers["ConfigMap"]; ok {
		t.Fatalf("ConfigMap should not have a registered readiness checker")
	}
}
