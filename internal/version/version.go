// Copyright Contributors to the env360 project

// Package version implements the Version Engine: deciding
// when a service's editable spec constitutes a new immutable version,
// computing content hashes, and guaranteeing no duplicate versions for a
// given service.
package version

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/env360/env360/internal/apperr"
	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/store"
)

// NoChangeError is returned when a candidate publish hashes identical to
// an existing version; MatchingLabel names that version.
type NoChangeError struct {
	MatchingLabel string
}

func (e *NoChangeError) Error() string {
	return fmt.Sprintf("No new changes since %s", e.MatchingLabel)
}

var versionLabelPattern = regexp.MustCompile(`^v(\d+)$`)

// Engine publishes and validates ServiceVersions.
type Engine struct {
	Store store.Store
}

// New returns a Version Engine backed by st.
func New(st store.Store) *Engine {
	return &Engine{Store: st}
}

// versionedConfigKeys are the only ServiceConfig keys that participate
// in hashing -- step 1 deliberately excludes everything else.
var versionedConfigKeys = []string{"docker_image", "ports"}

// PublishResult is the outcome of a successful Publish.
type PublishResult struct {
	VersionLabel string
	ConfigHash string
	VersionID string
}

// Publish computes the canonical hash of the service's current editable
// triple and, if it differs from every prior version's hash, persists a
// new ServiceVersion. On an unchanged hash it returns *NoChangeError
// naming the matching label.
func (e *Engine) Publish(ctx context.Context, serviceID string) (PublishResult, error) {
	versionedConfig, variables, secrets, fullSpec, err := e.loadEditableTriple(ctx, serviceID)
	if err != nil {
		return PublishResult{}, err
	}

	configHash, err := ConfigHash(versionedConfig, variables, secrets)
	if err != nil {
		return PublishResult{}, err
	}

	if existing, found, err := e.Store.FindServiceVersionByHash(ctx, serviceID, configHash); err != nil {
		return PublishResult{}, err
	} else if found {
		return PublishResult{}, &NoChangeError{MatchingLabel: existing.VersionLabel}
	}

	label, err := e.nextLabel(ctx, serviceID)
	if err != nil {
		return PublishResult{}, err
	}

	v, err := e.Store.CreateServiceVersion(ctx, serviceID, label, configHash, fullSpec)
	if err != nil {
		return PublishResult{}, err
	}

	return PublishResult{VersionLabel: v.VersionLabel, ConfigHash: v.ConfigHash, VersionID: v.ID}, nil
}

// PublishAndDeploy runs Publish and, on success, creates a pending
// Deployment for the new version in environmentID. It resolves the open
// question: hash uniqueness is enforced here exactly as it is
// in the primary publish path, since Publish always runs first and its
// NoChange/Conflict errors propagate before any Deployment is created.
// steps is the informational step-name list the frontend renders as a
// timeline; callers pass the
// orchestrator's canonical step list.
func (e *Engine) PublishAndDeploy(ctx context.Context, serviceID string, environmentID *string, downstream []domain.DownstreamOverride, steps []string) (PublishResult, domain.Deployment, error) {
	result, err := e.Publish(ctx, serviceID)
	if err != nil {
		return PublishResult{}, domain.Deployment{}, err
	}

	d, err := e.Store.CreateDeployment(ctx, domain.Deployment{
		ServiceID: serviceID,
		VersionID: result.VersionID,
		EnvironmentID: environmentID,
		DownstreamOverrides: downstream,
		Steps: steps,
		Status: domain.DeploymentPending,
	})
	if err != nil {
		return PublishResult{}, domain.Deployment{}, err
	}
	return result, d, nil
}

func (e *Engine) nextLabel(ctx context.Context, serviceID string) (string, error) {
	versions, err := e.Store.ListServiceVersions(ctx, serviceID)
	if err != nil {
		return "", err
	}
	max := 0
	for _, v := range versions {
		if m := versionLabelPattern.FindStringSubmatch(v.VersionLabel); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > max {
				max = n
			}
		}
	}
	if max < 1 {
		max = 0
	}
	next := max + 1
	if next < 1 {
		next = 1
	}
	return fmt.Sprintf("v%d", next), nil
}

// loadEditableTriple gathers the versioned config subset, variables and
// secrets for serviceID, plus the full snapshot persisted as spec_json.
func (e *Engine) loadEditableTriple(ctx context.Context, serviceID string) (map[string]any, map[string]string, map[string]string, map[string]any, error) {
	svc, err := e.Store.ResolveService(ctx, serviceID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	proj, err := e.Store.ResolveProject(ctx, svc.ProjectID)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	configs, err := e.Store.ListConfigs(ctx, domain.ConfigScopeService, serviceID)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	versionedConfig := map[string]any{}
	allConfig := map[string]any{}
	for _, c := range configs {
		var val any
		if c.Value != nil {
			val = *c.Value
		} else {
			val = c.ConfigData
		}
		allConfig[c.Key] = val
		if contains(versionedConfigKeys, c.Key) {
			if c.Key == "ports" {
				versionedConfig[c.Key] = parsePortsBestEffort(val)
			} else {
				versionedConfig[c.Key] = val
			}
		}
	}

	variables, err := variableMap(ctx, e.Store, domain.VarScopeService, serviceID, false)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	secrets, err := variableMap(ctx, e.Store, domain.VarScopeService, serviceID, true)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	fullSpec := map[string]any{
		"project": map[string]any{"id": proj.ID, "name": proj.Name},
		"service": map[string]any{"id": svc.ID, "name": svc.Name, "type": svc.Type},
		"config": allConfig,
		"variables": variables,
		"secrets": secrets,
	}

	return versionedConfig, variables, secrets, fullSpec, nil
}

func variableMap(ctx context.Context, st store.Store, scope domain.VariableScope, resourceID string, secret bool) (map[string]string, error) {
	vars, err := st.ListVariables(ctx, scope, resourceID)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, v := range vars {
		if v.Secret == secret {
			out[v.Key] = v.Value
		}
	}
	return out, nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// parsePortsBestEffort handles ports values stored as strings: they must
// be parsed as JSON for hashing; parse failures leave the raw string
// untouched rather than failing the whole hash.
func parsePortsBestEffort(val any) any {
	s, ok := val.(string)
	if !ok {
		return val
	}
	var parsed []map[string]any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return s
	}
	return parsed
}

// ConfigHash computes the canonical SHA-256 hash of
// {"config":versionedConfig,"variables":variables,"secrets":secrets}
// with sorted keys and compact separators.
func ConfigHash(versionedConfig map[string]any, variables, secrets map[string]string) (string, error) {
	canonical, err := CanonicalJSON(map[string]any{
		"config": versionedConfig,
		"variables": variables,
		"secrets": secrets,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindFatal, "version: canonicalizing spec", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalJSON serializes v with sorted object keys and compact
// separators -- the Go equivalent of Python's
// json.dumps(v, sort_keys=True, separators=(",", ":")).
// encoding/json already sorts map[string]any keys and omits insignificant
// whitespace, so this is a thin, explicitly-named wrapper kept for the
// property test ("hash(spec) == hash(parse(serialize(spec)))").
func CanonicalJSON(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// normalize round-trips v through JSON once so that nested structs or
// non-map types land as plain map[string]any/[]any/scalars with
// deterministic key ordering on re-marshal.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ChangeStatus describes how one section of the candidate spec compares
// to the latest published version, for validateNewVersion.
type ChangeStatus string

const (
	ChangeUnchanged ChangeStatus = "unchanged"
	ChangeModified ChangeStatus = "modified"
	ChangeNoBaseline ChangeStatus = "no_baseline"
)

// KeyDelta is a single key's change within a section.
type KeyDelta struct {
	Key string
	Previous any
	Current any
	Changed bool
}

// ValidationReport is the pure read returned by ValidateNewVersion.
type ValidationReport struct {
	ConfigStatus ChangeStatus
	VariablesStatus ChangeStatus
	SecretsStatus ChangeStatus
	ConfigDeltas []KeyDelta
	CandidateHash string
	MatchingLabels []string
}

// ValidateNewVersion is a pure read: it never mutates the Store. It
// reports per-section change status, per-key deltas, and the labels of
// any previous versions whose hash equals the candidate's.
func (e *Engine) ValidateNewVersion(ctx context.Context, serviceID string) (ValidationReport, error) {
	versionedConfig, variables, secrets, _, err := e.loadEditableTriple(ctx, serviceID)
	if err != nil {
		return ValidationReport{}, err
	}

	hash, err := ConfigHash(versionedConfig, variables, secrets)
	if err != nil {
		return ValidationReport{}, err
	}

	report := ValidationReport{CandidateHash: hash}

	versions, err := e.Store.ListServiceVersions(ctx, serviceID)
	if err != nil {
		return ValidationReport{}, err
	}
	for _, v := range versions {
		if v.ConfigHash == hash {
			report.MatchingLabels = append(report.MatchingLabels, v.VersionLabel)
		}
	}
	sort.Strings(report.MatchingLabels)

	latest, found, err := e.Store.LatestServiceVersion(ctx, serviceID)
	if err != nil {
		return ValidationReport{}, err
	}
	if !found {
		report.ConfigStatus = ChangeNoBaseline
		report.VariablesStatus = ChangeNoBaseline
		report.SecretsStatus = ChangeNoBaseline
		return report, nil
	}

	prevConfig, _ := latest.SpecJSON["config"].(map[string]any)
	for _, key := range versionedConfigKeys {
		prevVal, hadPrev := prevConfig[key]
		if key == "ports" {
			prevVal = parsePortsBestEffort(prevVal)
		}
		curVal := versionedConfig[key]
		changed := !hadPrev || fmt.Sprint(prevVal) != fmt.Sprint(curVal)
		report.ConfigDeltas = append(report.ConfigDeltas, KeyDelta{Key: key, Previous: prevVal, Current: curVal, Changed: changed})
		if changed {
			report.ConfigStatus = ChangeModified
		}
	}
	if report.ConfigStatus == "" {
		report.ConfigStatus = ChangeUnchanged
	}

	report.VariablesStatus = compareStringMaps(prevMapFromSpec(latest.SpecJSON, "variables"), variables)
	report.SecretsStatus = compareStringMaps(prevMapFromSpec(latest.SpecJSON, "secrets"), secrets)

	return report, nil
}

func prevMapFromSpec(spec map[string]any, key string) map[string]string {
	if m, ok := spec[key].(map[string]string); ok {
		return m
	}
	raw, ok := spec[key].(map[string]any)
	if !ok {
		return nil
	}
	out := map[string]string{}
	for k, v := range raw {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func compareStringMaps(prev, cur map[string]string) ChangeStatus {
	if len(prev) != len(cur) {
		return ChangeModified
	}
	for k, v := range cur {
		if prev[k] != v {
			return ChangeModified
		}
	}
	return ChangeUnchanged
}
