// Copyright Contributors to the env360 project

package manifest

import "testing"

func baseInput() Input {
	return Input{
		Service: ServiceDetails{
			ProjectID: "proj-123",
			ProjectName: "Acme Corp",
			ServiceID: "svc-456",
			ServiceName: "Billing API",
			Config: ServiceConfig{
				DockerImage: "nginx:1.25",
				Ports: []Port{{ContainerPort: 80}},
			},
		},
		VersionLabel: "v2",
		DeploymentID: "deploy-1",
		EnvironmentName: "qa",
		Gateway: GatewayRef{Namespace: "istio-ingress", Name: "env360-ingress"},
		BaseDomain: "env360.example.com",
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Billing API": "billing-api",
		"foo/bar": "foo-bar",
		"foo_bar baz": "foo-bar-baz",
		"already-fine": "already-fine",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderNamespaceName(t *testing.T) {
	b := Render(baseInput())
	meta := b.Namespace["metadata"].(map[string]any)
	if got := meta["name"]; got != "proj-proj-123" {
		t.Errorf("namespace name = %v, want proj-proj-123", got)
	}
}

func TestRenderSelectorLabelsExactSet(t *testing.T) {
	b := Render(baseInput())
	spec := b.Deployment["spec"].(map[string]any)
	selector := spec["selector"].(map[string]any)["matchLabels"].(map[string]any)

	want := map[string]string{
		"service-id": "svc-456",
		"service-name": "Billing API",
		"version": "v2",
		"project-id": "proj-123",
		"project-name": "Acme Corp",
	}
	if len(selector) != len(want) {
		t.Fatalf("selector has %d keys, want %d: %v", len(selector), len(want), selector)
	}
	for k, v := range want {
		if selector[k] != v {
			t.Errorf("selector[%q] = %v, want %v", k, selector[k], v)
		}
	}
}

func TestRenderEmptyDownstreamOverridesYieldsEmptyMeshVS(t *testing.T) {
	in := baseInput()
	in.DownstreamOverrides = nil
	b := Render(in)
	if len(b.VirtualServicesMesh) != 0 {
		t.Errorf("VirtualServicesMesh = %v, want empty", b.VirtualServicesMesh)
	}
}

func TestRenderDownstreamOverride(t *testing.T) {
	in := baseInput()
	in.DownstreamOverrides = []DownstreamOverride{
		{ServiceID: "svc-billing", ServiceName: "billing", Version: "v7"},
	}
	b := Render(in)

	if len(b.DestinationRules) != 2 {
		t.Fatalf("DestinationRules len = %d, want 2", len(b.DestinationRules))
	}
	ownRule := b.DestinationRules[0]
	if name := ownRule["metadata"].(map[string]any)["name"]; name != "billing-api-dest-rule" {
		t.Errorf("own dest rule name = %v, want billing-api-dest-rule", name)
	}
	downstreamRule := b.DestinationRules[1]
	if name := downstreamRule["metadata"].(map[string]any)["name"]; name != "billing-dest-rule" {
		t.Errorf("downstream dest rule name = %v, want billing-dest-rule", name)
	}
	subsets := downstreamRule["spec"].(map[string]any)["subsets"].([]map[string]any)
	if subsets[0]["name"] != "v7" {
		t.Errorf("downstream subset = %v, want v7", subsets[0]["name"])
	}

	if len(b.VirtualServicesMesh) != 1 {
		t.Fatalf("VirtualServicesMesh len = %d, want 1", len(b.VirtualServicesMesh))
	}
	vs := b.VirtualServicesMesh[0]
	hosts := vs["spec"].(map[string]any)["hosts"].([]string)
	if hosts[0] != "billing" {
		t.Errorf("mesh VS hosts = %v, want [billing]", hosts)
	}
}

func TestRenderVirtualServiceExtPrefix(t *testing.T) {
	b := Render(baseInput())
	spec := b.VirtualServiceExt["spec"].(map[string]any)
	hosts := spec["hosts"].([]string)
	if hosts[0] != "env360.example.com" {
		t.Errorf("ext VS hosts = %v, want [env360.example.com]", hosts)
	}
	http := spec["http"].([]map[string]any)
	match := http[0]["match"].([]map[string]any)
	uri := match[0]["uri"].(map[string]any)
	if got := uri["prefix"]; got != "/acme-corp/qa/billing-api/v2" {
		t.Errorf("prefix = %v, want /acme-corp/qa/billing-api/v2", got)
	}
}

func TestRenderDeploymentDefaultReplicas(t *testing.T) {
	b := Render(baseInput())
	spec := b.Deployment["spec"].(map[string]any)
	if spec["replicas"] != int64(1) {
		t.Errorf("replicas = %v, want 1", spec["replicas"])
	}
}

func TestFirstPortDefaultsTo80(t *testing.T) {
	in := baseInput()
	in.Service.Config.Ports = nil
	if got := firstPort(in.Service.Config); got != 80 {
		t.Errorf("firstPort = %d, want 80", got)
	}
}

func TestRenderSubdomainHosts(t *testing.T) {
	b := RenderSubdomain(SubdomainInput{
		EnvironmentName: "qa",
		ProjectName: "Acme Corp",
		BaseDomain: "env360.example.com",
		CertNamespace: "cert-manager",
		IssuerName: "letsencrypt-prod",
		GatewayName: "env360-ingress",
		GatewayNamespace: "istio-ingress",
		GatewayClassName: "istio",
	})
	dnsNames := b.Certificate["spec"].(map[string]any)["dnsNames"].([]string)
	if dnsNames[0] != "qa.acme-corp.env360.example.com" {
		t.Errorf("dnsNames[0] = %v", dnsNames[0])
	}
	if dnsNames[1] != "*.qa.acme-corp.env360.example.com" {
		t.Errorf("dnsNames[1] = %v", dnsNames[1])
	}

	listeners := b.Gateway["spec"].(map[string]any)["listeners"].([]map[string]any)
	if len(listeners) != 2 {
		t.Fatalf("listeners len = %d, want 2", len(listeners))
	}
}
