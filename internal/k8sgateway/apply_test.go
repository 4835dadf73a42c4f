// Copyright Contributors to the env360 project

package k8sgateway

import (
	"testing"

	"github.com/env360/env360/internal/manifest"
)

func TestToUnstructuredRejectsMissingFields(t *testing.T) {
	cases := []manifest.UnstructuredObject{
		{"kind": "Namespace", "metadata": map[string]any{"name": "x"}},
		{"apiVersion": "v1", "metadata": map[string]any{"name": "x"}},
		{"apiVersion": "v1", "kind": "Namespace"},
	}
	for i, obj := range cases {
		if _, err := toUnstructured(obj); err == nil {
			t.Errorf("case %d: expected error for incomplete manifest %v", i, obj)
		}
	}
}

func TestToUnstructuredAccepts(t *testing.T) {
	obj := manifest.UnstructuredObject{
		"apiVersion": "v1",
		"kind": "Namespace",
		"metadata": map[string]any{"name": "proj-123"},
	}
	u, err := toUnstructured(obj)
	if err != nil {
		t.Fatalf("toUnstructured: %v", err)
	}
	if u.GetName() != "proj-123" {
		t.Errorf("GetName() = %q, want proj-123", u.GetName())
	}
	if u.GetKind() != "Namespace" {
		t.Errorf("GetKind() = %q, want Namespace", u.GetKind())
	}
}
