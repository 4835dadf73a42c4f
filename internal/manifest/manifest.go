// Copyright Contributors to the env360 project

// Package manifest implements the Manifest Renderer: a
// deterministic, side-effect-free function from (service spec, version,
// deployment id, environment, downstream overrides) to the named bundle
// of Kubernetes objects that realise path-based external routing and
// lane/source-based mesh routing. Objects are modeled as
// UnstructuredObject, per the design note on duck-typed manifests --
// there is no back-reference or dynamic dispatch here, only a small,
// closed set of kinds the renderer itself knows how to build.
package manifest

import (
	"regexp"
	"sort"
	"strings"
)

// UnstructuredObject is the generic Kubernetes wire shape every rendered
// manifest uses: enough structure for the k8s Gateway to apply/poll it
// without this package depending on the k8s.io/api typed structs.
type UnstructuredObject map[string]any

const (
	partOf = "env360"
	managedBy = "env360"
	fieldOwner = "env360"
)

var nameNormalizer = regexp.MustCompile(`[/_ ]+`)

// Normalize implements the renderer's name-normalization rule: lowercase,
// with '/', '_' and ' ' collapsed to '-'.
func Normalize(s string) string {
	return nameNormalizer.ReplaceAllString(strings.ToLower(s), "-")
}

// ServiceConfig is the rendering-relevant slice of a ServiceVersion's
// spec_json: docker image, ports, and any other keys the renderer reads.
type ServiceConfig struct {
	DockerImage string
	Ports []Port
}

// Port is one entry of the versioned "ports" config key, already parsed
// into structured form.
type Port struct {
	ContainerPort int
	Name string
}

// ServiceDetails is the renderer's primary input: the resolved service
// snapshot plus its owning project and (optional) lane assignment.
type ServiceDetails struct {
	ProjectID string
	ProjectName string
	ServiceID string
	ServiceName string
	Config ServiceConfig
	LaneID string
}

// DownstreamOverride instructs the renderer to steer this service's mesh
// traffic, from pods carrying this service's own version/lane labels, to
// a specific subset of a named downstream service.
type DownstreamOverride struct {
	ServiceID string
	ServiceName string
	Version string
}

// GatewayRef names the mesh gateway the external VirtualService binds to.
type GatewayRef struct {
	Namespace string
	Name string
}

// Input bundles every argument the renderer takes,.
type Input struct {
	Service ServiceDetails
	VersionLabel string
	DeploymentID string
	EnvironmentName string
	DownstreamOverrides []DownstreamOverride
	Gateway GatewayRef
	BaseDomain string
}

// Bundle is the named set of manifests the renderer produces.
type Bundle struct {
	Namespace UnstructuredObject
	ServiceAccount UnstructuredObject
	Deployment UnstructuredObject
	Service UnstructuredObject
	DestinationRules []UnstructuredObject
	VirtualServicesMesh []UnstructuredObject
	VirtualServiceExt UnstructuredObject
	Route UnstructuredObject
}

// namespaceName implements "proj-<project_id_norm>".
func namespaceName(projectID string) string {
	return "proj-" + Normalize(projectID)
}

// workloadName implements "<svc_norm>-<version>".
func workloadName(serviceName, versionLabel string) string {
	return Normalize(serviceName) + "-" + Normalize(versionLabel)
}

// canonicalLabels implements the label set every object carries.
func canonicalLabels(in Input) map[string]string {
	l := map[string]string{
		"app.kubernetes.io/part-of": partOf,
		"managed-by": managedBy,
		"project-id": in.Service.ProjectID,
		"project-name": in.Service.ProjectName,
		"deployment-id": in.DeploymentID,
	}
	return l
}

// workloadLabels extends canonicalLabels with the additional keys
// attached to workload/service/service-account objects.
func workloadLabels(in Input) map[string]string {
	l := canonicalLabels(in)
	l["app"] = workloadName(in.Service.ServiceName, in.VersionLabel)
	l["version"] = in.VersionLabel
	l["service-id"] = in.Service.ServiceID
	l["service-name"] = in.Service.ServiceName
	if in.Service.LaneID != "" {
		l["lane"] = in.Service.LaneID
	}
	return l
}

// selectorLabels implements the exact selector key set: {service-id,
// service-name, version, project-id, project-name}.
func selectorLabels(in Input) map[string]string {
	return map[string]string{
		"service-id": in.Service.ServiceID,
		"service-name": in.Service.ServiceName,
		"version": in.VersionLabel,
		"project-id": in.Service.ProjectID,
		"project-name": in.Service.ProjectName,
	}
}

func asAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func metadata(name, namespace string, labels map[string]string) map[string]any {
	meta := map[string]any{
		"name": name,
		"labels": asAny(labels),
	}
	if namespace != "" {
		meta["namespace"] = namespace
	}
	return meta
}

// firstPort returns the first configured container port, or 80 when none
// is configured.
func firstPort(cfg ServiceConfig) int {
	if len(cfg.Ports) == 0 {
		return 80
	}
	return cfg.Ports[0].ContainerPort
}

// Render performs deterministic, side-effect-free manifest construction
// from Input.
func Render(in Input) Bundle {
	ns := namespaceName(in.Service.ProjectID)
	workload := workloadName(in.Service.ServiceName, in.VersionLabel)

	b := Bundle{
		Namespace: renderNamespace(in, ns),
		ServiceAccount: renderServiceAccount(in, ns, workload),
		Deployment: renderDeployment(in, ns, workload),
		Service: renderService(in, ns, workload),
	}
	b.DestinationRules = renderDestinationRules(in, ns)
	b.VirtualServicesMesh = renderVirtualServicesMesh(in, ns)
	b.VirtualServiceExt = renderVirtualServiceExt(in, ns, workload)
	b.Route = renderHTTPRoute(in, ns, workload)
	return b
}

func renderNamespace(in Input, ns string) UnstructuredObject {
	return UnstructuredObject{
		"apiVersion": "v1",
		"kind": "Namespace",
		"metadata": metadata(ns, "", canonicalLabels(in)),
	}
}

func renderServiceAccount(in Input, ns, workload string) UnstructuredObject {
	return UnstructuredObject{
		"apiVersion": "v1",
		"kind": "ServiceAccount",
		"metadata": metadata(workload, ns, workloadLabels(in)),
	}
}

func renderDeployment(in Input, ns, workload string) UnstructuredObject {
	labels := workloadLabels(in)
	containerPorts := make([]map[string]any, 0, len(in.Service.Config.Ports))
	for _, p := range in.Service.Config.Ports {
		entry := map[string]any{"containerPort": p.ContainerPort}
		if p.Name != "" {
			entry["name"] = p.Name
		}
		containerPorts = append(containerPorts, entry)
	}

	podSpec := map[string]any{
		"serviceAccountName": workload,
		"containers": []map[string]any{
			{
				"name": Normalize(in.Service.ServiceName),
				"image": in.Service.Config.DockerImage,
				"ports": containerPorts,
			},
		},
	}

	return UnstructuredObject{
		"apiVersion": "apps/v1",
		"kind": "Deployment",
		"metadata": metadata(workload, ns, labels),
		"spec": map[string]any{
			"replicas": int64(1),
			"selector": map[string]any{
				"matchLabels": asAny(selectorLabels(in)),
			},
			"template": map[string]any{
				"metadata": map[string]any{"labels": asAny(labels)},
				"spec": podSpec,
			},
		},
	}
}

func renderService(in Input, ns, workload string) UnstructuredObject {
	ports := make([]map[string]any, 0, len(in.Service.Config.Ports))
	for _, p := range in.Service.Config.Ports {
		entry := map[string]any{
			"port": int64(p.ContainerPort),
			"targetPort": int64(p.ContainerPort),
		}
		if p.Name != "" {
			entry["name"] = p.Name
		}
		ports = append(ports, entry)
	}
	if len(ports) == 0 {
		ports = append(ports, map[string]any{"port": int64(80), "targetPort": int64(80)})
	}

	return UnstructuredObject{
		"apiVersion": "v1",
		"kind": "Service",
		"metadata": metadata(workload, ns, workloadLabels(in)),
		"spec": map[string]any{
			"selector": asAny(selectorLabels(in)),
			"ports": ports,
		},
	}
}

// renderDestinationRules builds one DestinationRule per distinct host,
// grouping every version seen for that host (the service's own version
// plus any downstream override versions) into that rule's subsets list.
// Two overrides -- or an override and the service's own host -- that
// normalize to the same host land in the same DestinationRule rather
// than producing duplicate, single-subset objects.
func renderDestinationRules(in Input, ns string) []UnstructuredObject {
	hostVersions := map[string]map[string]struct{}{}
	var hostOrder []string

	addVersion := func(host, version string) {
		if host == "" || version == "" {
			return
		}
		versions, ok := hostVersions[host]
		if !ok {
			versions = map[string]struct{}{}
			hostVersions[host] = versions
			hostOrder = append(hostOrder, host)
		}
		versions[version] = struct{}{}
	}

	addVersion(Normalize(in.Service.ServiceName), in.VersionLabel)
	for _, d := range in.DownstreamOverrides {
		addVersion(Normalize(d.ServiceName), d.Version)
	}

	rules := make([]UnstructuredObject, 0, len(hostOrder))
	for _, host := range hostOrder {
		rules = append(rules, destinationRule(in, ns, host, hostVersions[host]))
	}
	return rules
}

func destinationRule(in Input, ns, host string, versions map[string]struct{}) UnstructuredObject {
	versionList := make([]string, 0, len(versions))
	for v := range versions {
		versionList = append(versionList, v)
	}
	sort.Strings(versionList)

	subsets := make([]map[string]any, 0, len(versionList))
	for _, v := range versionList {
		subsets = append(subsets, map[string]any{
			"name": v,
			"labels": map[string]any{"version": v},
		})
	}

	name := host + "-dest-rule"
	return UnstructuredObject{
		"apiVersion": "networking.istio.io/v1beta1",
		"kind": "DestinationRule",
		"metadata": metadata(name, ns, canonicalLabels(in)),
		"spec": map[string]any{
			"host": host,
			"subsets": subsets,
		},
	}
}

// renderVirtualServicesMesh builds one mesh-internal VirtualService per
// downstream override: traffic from this service's pods (matched by
// sourceLabels) is routed to the downstream host's overridden subset.
// Empty overrides yield an empty list.
func renderVirtualServicesMesh(in Input, ns string) []UnstructuredObject {
	if len(in.DownstreamOverrides) == 0 {
		return nil
	}

	selfApp := workloadName(in.Service.ServiceName, in.VersionLabel)
	sourceLabels := map[string]any{
		"app": selfApp,
		"version": in.VersionLabel,
	}
	if in.Service.LaneID != "" {
		sourceLabels["lane"] = in.Service.LaneID
	}

	out := make([]UnstructuredObject, 0, len(in.DownstreamOverrides))
	for _, d := range in.DownstreamOverrides {
		host := Normalize(d.ServiceName)
		name := host + "-mesh-vs-" + Normalize(in.VersionLabel)
		out = append(out, UnstructuredObject{
			"apiVersion": "networking.istio.io/v1beta1",
			"kind": "VirtualService",
			"metadata": metadata(name, ns, canonicalLabels(in)),
			"spec": map[string]any{
				"hosts": []string{host},
				"http": []map[string]any{
					{
						"match": []map[string]any{
							{"sourceLabels": sourceLabels},
						},
						"route": []map[string]any{
							{
								"destination": map[string]any{
									"host": host,
									"subset": d.Version,
								},
							},
						},
					},
				},
			},
		})
	}
	return out
}

// renderVirtualServiceExt builds the single external-gateway
// VirtualService routing /<project>/<env>/<svc>/<version> to this
// deployment's Service.
func renderVirtualServiceExt(in Input, ns, workload string) UnstructuredObject {
	name := workload + "-ext-vs"
	prefix := extPathPrefix(in)

	return UnstructuredObject{
		"apiVersion": "networking.istio.io/v1beta1",
		"kind": "VirtualService",
		"metadata": metadata(name, ns, canonicalLabels(in)),
		"spec": map[string]any{
			"hosts": []string{in.BaseDomain},
			"gateways": []string{in.Gateway.Namespace + "/" + in.Gateway.Name},
			"http": []map[string]any{
				{
					"match": []map[string]any{
						{"uri": map[string]any{"prefix": prefix}},
					},
					"route": []map[string]any{
						{
							"destination": map[string]any{
								"host": workload,
								"port": map[string]any{"number": int64(firstPort(in.Service.Config))},
							},
						},
					},
				},
			},
		},
	}
}

// renderHTTPRoute builds the Gateway-API HTTPRoute equivalent of the
// external VirtualService, for non-Istio clusters.
func renderHTTPRoute(in Input, ns, workload string) UnstructuredObject {
	name := workload + "-route"
	prefix := extPathPrefix(in)

	return UnstructuredObject{
		"apiVersion": "gateway.networking.k8s.io/v1",
		"kind": "HTTPRoute",
		"metadata": metadata(name, ns, canonicalLabels(in)),
		"spec": map[string]any{
			"hostnames": []string{in.BaseDomain},
			"parentRefs": []map[string]any{
				{"name": in.Gateway.Name, "namespace": in.Gateway.Namespace},
			},
			"rules": []map[string]any{
				{
					"matches": []map[string]any{
						{"path": map[string]any{"type": "PathPrefix", "value": prefix}},
					},
					"backendRefs": []map[string]any{
						{"name": workload, "port": int64(firstPort(in.Service.Config))},
					},
				},
			},
		},
	}
}

func extPathPrefix(in Input) string {
	return "/" + Normalize(in.Service.ProjectName) + "/" + Normalize(in.EnvironmentName) + "/" + Normalize(in.Service.ServiceName) + "/" + Normalize(in.VersionLabel)
}
