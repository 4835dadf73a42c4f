// Copyright Contributors to the env360 project

package k8sgateway

import "k8s.io/apimachinery/pkg/types"

// strategicMergePatchType names the fallback patch type used when
// server-side apply returns a field-manager 409.
func strategicMergePatchType() types.PatchType {
	return types.StrategicMergePatchType
}
