// Copyright Contributors to the env360 project

package manifest

import "time"

// Listener describes one Gateway-API HTTPS listener input to the
// environment-subdomain renderer.
type Listener struct {
	Hostname string
	SecretName string
}

// SubdomainInput bundles the arguments RenderSubdomain takes.
type SubdomainInput struct {
	EnvironmentName string
	ProjectName string
	BaseDomain string

	CertNamespace string
	IssuerName string
	CertDuration time.Duration
	RenewBefore time.Duration

	GatewayName string
	GatewayNamespace string
	GatewayClassName string
}

// SubdomainBundle is the Certificate + Gateway pair produced per
// (project, environment).
type SubdomainBundle struct {
	Certificate UnstructuredObject
	Gateway UnstructuredObject
}

func subdomainHost(in SubdomainInput) string {
	return Normalize(in.EnvironmentName) + "." + Normalize(in.ProjectName) + "." + in.BaseDomain
}

func certificateName(in SubdomainInput) string {
	return Normalize(in.EnvironmentName) + "-" + Normalize(in.ProjectName) + "-tls"
}

// RenderCertificate builds the cert-manager Certificate for one
// (project, environment) pair's exact and wildcard hosts.
func RenderCertificate(in SubdomainInput) UnstructuredObject {
	host := subdomainHost(in)
	wildcard := "*." + host
	certName := certificateName(in)

	return UnstructuredObject{
		"apiVersion": "cert-manager.io/v1",
		"kind": "Certificate",
		"metadata": metadata(certName, in.CertNamespace, nil),
		"spec": map[string]any{
			"secretName": certName,
			"dnsNames": []string{host, wildcard},
			"duration": durationString(in.CertDuration, "2160h"),
			"renewBefore": durationString(in.RenewBefore, "360h"),
			"issuerRef": map[string]any{
				"name": in.IssuerName,
				"kind": "ClusterIssuer",
			},
		},
	}
}

// GatewayPair names one (project, environment) pair contributing two
// listeners -- one exact host, one wildcard -- to the shared cluster
// Gateway.
type GatewayPair struct {
	EnvironmentName string
	ProjectName string
	BaseDomain string
}

// RenderGateway builds the single shared Gateway object covering every
// pair in pairs -- two HTTPS listeners each (wildcard + exact),
// terminating TLS with that pair's own certificate secret. The gateway
// is one cluster-wide resource, so every call re-applies the complete,
// current listener set.
func RenderGateway(pairs []GatewayPair, gatewayName, gatewayNamespace, gatewayClassName string) UnstructuredObject {
	listeners := make([]map[string]any, 0, len(pairs)*2)
	for _, p := range pairs {
		host := Normalize(p.EnvironmentName) + "." + Normalize(p.ProjectName) + "." + p.BaseDomain
		wildcard := "*." + host
		secretName := Normalize(p.EnvironmentName) + "-" + Normalize(p.ProjectName) + "-tls"
		listeners = append(listeners,
			httpsListener("wildcard-"+Normalize(p.EnvironmentName)+"-"+Normalize(p.ProjectName), wildcard, secretName, gatewayNamespace),
			httpsListener("exact-"+Normalize(p.EnvironmentName)+"-"+Normalize(p.ProjectName), host, secretName, gatewayNamespace),
		)
	}

	return UnstructuredObject{
		"apiVersion": "gateway.networking.k8s.io/v1",
		"kind": "Gateway",
		"metadata": metadata(gatewayName, gatewayNamespace, nil),
		"spec": map[string]any{
			"gatewayClassName": gatewayClassName,
			"listeners": listeners,
		},
	}
}

// RenderSubdomain renders the environment-subdomain manifests for a
// single (project, environment) pair in isolation: its own Certificate,
// plus a Gateway scoped to just that pair's two listeners.
// Durations default to 90d/15d via Settings before reaching
// this function.
func RenderSubdomain(in SubdomainInput) SubdomainBundle {
	pair := GatewayPair{EnvironmentName: in.EnvironmentName, ProjectName: in.ProjectName, BaseDomain: in.BaseDomain}
	return SubdomainBundle{
		Certificate: RenderCertificate(in),
		Gateway: RenderGateway([]GatewayPair{pair}, in.GatewayName, in.GatewayNamespace, in.GatewayClassName),
	}
}

func httpsListener(name, hostname, secretName, namespace string) map[string]any {
	return map[string]any{
		"name": name,
		"hostname": hostname,
		"port": int64(443),
		"protocol": "HTTPS",
		"tls": map[string]any{
			"mode": "Terminate",
			"certificateRefs": []map[string]any{
				{"name": secretName, "namespace": namespace},
			},
		},
		"allowedRoutes": map[string]any{
			"namespaces": map[string]any{"from": "All"},
		},
	}
}

func durationString(d time.Duration, fallback string) string {
	if d <= 0 {
		return fallback
	}
	return d.String()
}
