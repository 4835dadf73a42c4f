// Copyright Contributors to the env360 project

package k8sgateway

import (
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
)

// buildScheme returns the runtime.Scheme every Gateway client uses. Only
// the built-in client-go types are registered: every manifest this
// package applies travels as unstructured.Unstructured, so Istio and
// Gateway-API CRDs never need typed scheme registration.
func buildScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	return scheme
}
