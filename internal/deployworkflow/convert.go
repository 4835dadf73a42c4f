// Copyright Contributors to the env360 project

package deployworkflow

import (
	"encoding/json"

	"github.com/env360/env360/internal/apperr"
	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/manifest"
)

// toMap round-trips v through JSON into a plain map[string]any so it can
// be persisted as a step output and decoded back on resume.
func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "deploy_workflow: encoding step output", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, "deploy_workflow: encoding step output", err)
	}
	return m, nil
}

// fromMap is toMap's inverse.
func fromMap(m map[string]any, out any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// serviceDetailsFromSpec extracts the renderer-relevant fields from a
// ServiceVersion's persisted spec_json.
func serviceDetailsFromSpec(sv domain.ServiceVersion) manifest.ServiceDetails {
	proj, _ := sv.SpecJSON["project"].(map[string]any)
	svc, _ := sv.SpecJSON["service"].(map[string]any)
	return manifest.ServiceDetails{
		ProjectID: strField(proj, "id"),
		ProjectName: strField(proj, "name"),
		ServiceID: strField(svc, "id"),
		ServiceName: strField(svc, "name"),
		Config: serviceConfigFromSpec(sv.SpecJSON),
	}
}

func serviceConfigFromSpec(spec map[string]any) manifest.ServiceConfig {
	configRaw, _ := spec["config"].(map[string]any)
	cfg := manifest.ServiceConfig{
		DockerImage: strField(configRaw, "docker_image"),
		Ports: parsePorts(configRaw["ports"]),
	}
	return cfg
}

// parsePorts accepts either an already-parsed []any or the raw JSON
// string that spec_json's "config" section holds for a string-valued
// ports row, and normalizes both into []manifest.Port. A string that
// does not parse yields nil.
func parsePorts(v any) []manifest.Port {
	var raw []any
	switch t := v.(type) {
	case []any:
		raw = t
	case string:
		var parsed []any
		if err := json.Unmarshal([]byte(t), &parsed); err != nil {
			return nil
		}
		raw = parsed
	default:
		return nil
	}

	ports := make([]manifest.Port, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		p := manifest.Port{Name: strField(m, "name")}
		switch cp := m["containerPort"].(type) {
		case float64:
			p.ContainerPort = int(cp)
		case int:
			p.ContainerPort = cp
		}
		ports = append(ports, p)
	}
	return ports
}

func strField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func toManifestOverrides(in []domain.DownstreamOverride) []manifest.DownstreamOverride {
	out := make([]manifest.DownstreamOverride, 0, len(in))
	for _, d := range in {
		out = append(out, manifest.DownstreamOverride{ServiceID: d.ServiceID, ServiceName: d.ServiceName, Version: d.Version})
	}
	return out
}
