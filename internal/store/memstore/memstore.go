// Copyright Contributors to the env360 project

// Package memstore is an in-memory Store implementation used by unit
// tests for every core component (version engine, permission evaluator,
// workflow engine, deployment orchestrator) that needs a Store but must
// not depend on a running Postgres instance. It enforces the same
// uniqueness and soft-delete semantics as internal/store/postgres.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/env360/env360/internal/apperr"
	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/store"
)

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	users map[string]domain.User
	projects map[string]domain.Project
	envs map[string]domain.Environment
	services map[string]domain.Service
	serviceEnvs map[string]map[string]struct{} // serviceID -> set of environmentID
	configs map[string]domain.Config
	adminConfig map[string]domain.AdminConfig
	variables map[string]domain.Variable
	clusters map[string]domain.KubernetesCluster
	versions map[string]domain.ServiceVersion
	deployments map[string]domain.Deployment
	permissions map[string]domain.ResourcePermission

	workflows map[string]store.WorkflowRecord
	stepOutputs map[string]map[int]store.StepOutput
	events map[string]map[string][]byte
	streams map[string]map[string][][]byte
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		users: map[string]domain.User{},
		projects: map[string]domain.Project{},
		envs: map[string]domain.Environment{},
		services: map[string]domain.Service{},
		serviceEnvs: map[string]map[string]struct{}{},
		configs: map[string]domain.Config{},
		adminConfig: map[string]domain.AdminConfig{},
		variables: map[string]domain.Variable{},
		clusters: map[string]domain.KubernetesCluster{},
		versions: map[string]domain.ServiceVersion{},
		deployments: map[string]domain.Deployment{},
		permissions: map[string]domain.ResourcePermission{},
		workflows: map[string]store.WorkflowRecord{},
		stepOutputs: map[string]map[int]store.StepOutput{},
		events: map[string]map[string][]byte{},
		streams: map[string]map[string][][]byte{},
	}
}

func newID() string { return uuid.NewString() }

// --- Users ---

func (s *Store) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.DeletedAt == nil && existing.Email == u.Email {
			return domain.User{}, apperr.AlreadyExists("user with email %q already exists", u.Email)
		}
	}
	if u.ID == "" {
		u.ID = newID()
	}
	u.CreatedAt = now()
	u.UpdatedAt = u.CreatedAt
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) ResolveUser(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.DeletedAt != nil {
		return domain.User{}, apperr.NotFound("user %s not found", id)
	}
	return u, nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.DeletedAt == nil && u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, apperr.NotFound("user with email %q not found", email)
}

// --- Projects ---

func (s *Store) CreateProject(_ context.Context, p domain.Project) (domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.projects {
		if existing.DeletedAt == nil && existing.Name == p.Name {
			return domain.Project{}, apperr.AlreadyExists("project name %q already exists", p.Name)
		}
	}
	if p.ID == "" {
		p.ID = newID()
	}
	p.CreatedAt = now()
	p.UpdatedAt = p.CreatedAt
	s.projects[p.ID] = p
	return p, nil
}

func (s *Store) ResolveProject(_ context.Context, id string) (domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok || p.DeletedAt != nil {
		return domain.Project{}, apperr.NotFound("project %s not found", id)
	}
	return p, nil
}

func (s *Store) ListProjects(_ context.Context) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Project
	for _, p := range s.projects {
		if p.DeletedAt == nil {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SoftDeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok || p.DeletedAt != nil {
		return apperr.NotFound("project %s not found", id)
	}
	t := now()
	p.DeletedAt = &t
	s.projects[id] = p
	return nil
}

// --- Environments ---

func (s *Store) CreateEnvironment(_ context.Context, e domain.Environment) (domain.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.envs {
		if existing.DeletedAt == nil && existing.ProjectID == e.ProjectID && existing.Name == e.Name {
			return domain.Environment{}, apperr.AlreadyExists("environment name %q already exists in project %s", e.Name, e.ProjectID)
		}
	}
	if e.ID == "" {
		e.ID = newID()
	}
	e.CreatedAt = now()
	e.UpdatedAt = e.CreatedAt
	s.envs[e.ID] = e
	return e, nil
}

func (s *Store) ResolveEnvironment(_ context.Context, id string) (domain.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.envs[id]
	if !ok || e.DeletedAt != nil {
		return domain.Environment{}, apperr.NotFound("environment %s not found", id)
	}
	return e, nil
}

func (s *Store) ListEnvironmentsByProject(_ context.Context, projectID string) ([]domain.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Environment
	for _, e := range s.envs {
		if e.DeletedAt == nil && e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SetEnvironmentCluster(_ context.Context, environmentID string, clusterID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.envs[environmentID]
	if !ok || e.DeletedAt != nil {
		return apperr.NotFound("environment %s not found", environmentID)
	}
	e.ClusterID = clusterID
	e.UpdatedAt = now()
	s.envs[environmentID] = e
	return nil
}

func (s *Store) SoftDeleteEnvironment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.envs[id]
	if !ok || e.DeletedAt != nil {
		return apperr.NotFound("environment %s not found", id)
	}
	t := now()
	e.DeletedAt = &t
	s.envs[id] = e
	return nil
}

// --- Services ---

func (s *Store) CreateService(_ context.Context, svc domain.Service) (domain.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.services {
		if existing.DeletedAt == nil && existing.ProjectID == svc.ProjectID && existing.Name == svc.Name {
			return domain.Service{}, apperr.AlreadyExists("service name %q already exists in project %s", svc.Name, svc.ProjectID)
		}
	}
	if svc.ID == "" {
		svc.ID = newID()
	}
	svc.CreatedAt = now()
	svc.UpdatedAt = svc.CreatedAt
	s.services[svc.ID] = svc
	return svc, nil
}

func (s *Store) ResolveService(_ context.Context, id string) (domain.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[id]
	if !ok || svc.DeletedAt != nil {
		return domain.Service{}, apperr.NotFound("service %s not found", id)
	}
	return svc, nil
}

func (s *Store) ListServicesByProject(_ context.Context, projectID string) ([]domain.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Service
	for _, svc := range s.services {
		if svc.DeletedAt == nil && svc.ProjectID == projectID {
			out = append(out, svc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SoftDeleteService(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[id]
	if !ok || svc.DeletedAt != nil {
		return apperr.NotFound("service %s not found", id)
	}
	t := now()
	svc.DeletedAt = &t
	s.services[id] = svc
	return nil
}

func (s *Store) AttachServiceEnvironment(_ context.Context, serviceID, environmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[serviceID]; !ok {
		return apperr.NotFound("service %s not found", serviceID)
	}
	if _, ok := s.envs[environmentID]; !ok {
		return apperr.NotFound("environment %s not found", environmentID)
	}
	set, ok := s.serviceEnvs[serviceID]
	if !ok {
		set = map[string]struct{}{}
		s.serviceEnvs[serviceID] = set
	}
	set[environmentID] = struct{}{}
	return nil
}

func (s *Store) ListServiceEnvironments(_ context.Context, serviceID string) ([]domain.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.serviceEnvs[serviceID]
	var out []domain.Environment
	for envID := range set {
		if e, ok := s.envs[envID]; ok && e.DeletedAt == nil {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Configs ---

func configKey(scope domain.ConfigScope, parentID, key string) string {
	return string(scope) + "/" + parentID + "/" + key
}

func (s *Store) UpsertConfig(_ context.Context, c domain.Config) (domain.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := configKey(c.Scope, c.ParentID, c.Key)
	for id, existing := range s.configs {
		if existing.DeletedAt == nil && configKey(existing.Scope, existing.ParentID, existing.Key) == k {
			c.ID = id
			c.CreatedAt = existing.CreatedAt
			c.UpdatedAt = now()
			s.configs[id] = c
			return c, nil
		}
	}
	if c.ID == "" {
		c.ID = newID()
	}
	c.CreatedAt = now()
	c.UpdatedAt = c.CreatedAt
	s.configs[c.ID] = c
	return c, nil
}

func (s *Store) GetConfig(_ context.Context, scope domain.ConfigScope, parentID, key string) (domain.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := configKey(scope, parentID, key)
	for _, existing := range s.configs {
		if existing.DeletedAt == nil && configKey(existing.Scope, existing.ParentID, existing.Key) == k {
			return existing, nil
		}
	}
	return domain.Config{}, apperr.NotFound("config %s/%s not found", parentID, key)
}

func (s *Store) ListConfigs(_ context.Context, scope domain.ConfigScope, parentID string) ([]domain.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Config
	for _, c := range s.configs {
		if c.DeletedAt == nil && c.Scope == scope && c.ParentID == parentID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) ListConfigsByKey(_ context.Context, scope domain.ConfigScope, key string) ([]domain.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Config
	for _, c := range s.configs {
		if c.DeletedAt == nil && c.Scope == scope && c.Key == key {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParentID < out[j].ParentID })
	return out, nil
}

func (s *Store) SoftDeleteConfig(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[id]
	if !ok || c.DeletedAt != nil {
		return apperr.NotFound("config %s not found", id)
	}
	t := now()
	c.DeletedAt = &t
	s.configs[id] = c
	return nil
}

// --- Admin config ---

func (s *Store) GetAdminConfig(_ context.Context, key string) (domain.AdminConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ac, ok := s.adminConfig[key]
	if !ok {
		return domain.AdminConfig{}, apperr.NotFound("admin config %q not found", key)
	}
	return ac, nil
}

func (s *Store) ListAdminConfig(_ context.Context) ([]domain.AdminConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AdminConfig
	for _, ac := range s.adminConfig {
		out = append(out, ac)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) SetAdminConfig(_ context.Context, key string, value *string, data map[string]any) (domain.AdminConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ac, ok := s.adminConfig[key]
	if !ok {
		ac = domain.AdminConfig{ID: newID(), Key: key, CreatedAt: now()}
	}
	ac.Value = value
	ac.ConfigData = data
	ac.UpdatedAt = now()
	s.adminConfig[key] = ac
	return ac, nil
}

// --- Variables ---

func varKey(scope domain.VariableScope, resourceID, key string) string {
	return string(scope) + "/" + resourceID + "/" + key
}

func (s *Store) UpsertVariable(_ context.Context, v domain.Variable) (domain.Variable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := varKey(v.Scope, v.ResourceID, v.Key)
	for id, existing := range s.variables {
		if existing.DeletedAt == nil && varKey(existing.Scope, existing.ResourceID, existing.Key) == k {
			if id != v.ID && v.ID != "" {
				continue
			}
			v.ID = id
			v.CreatedAt = existing.CreatedAt
			v.UpdatedAt = now()
			s.variables[id] = v
			return v, nil
		}
	}
	if v.ID == "" {
		v.ID = newID()
	}
	v.CreatedAt = now()
	v.UpdatedAt = v.CreatedAt
	s.variables[v.ID] = v
	return v, nil
}

func (s *Store) ListVariables(_ context.Context, scope domain.VariableScope, resourceID string) ([]domain.Variable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Variable
	for _, v := range s.variables {
		if v.DeletedAt == nil && v.Scope == scope && v.ResourceID == resourceID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) SoftDeleteVariable(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variables[id]
	if !ok || v.DeletedAt != nil {
		return apperr.NotFound("variable %s not found", id)
	}
	t := now()
	v.DeletedAt = &t
	s.variables[id] = v
	return nil
}

// --- Clusters ---

func (s *Store) CreateCluster(_ context.Context, c domain.KubernetesCluster) (domain.KubernetesCluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.clusters {
		if existing.Name == c.Name {
			return domain.KubernetesCluster{}, apperr.AlreadyExists("cluster name %q already exists", c.Name)
		}
	}
	if c.ID == "" {
		c.ID = newID()
	}
	c.CreatedAt = now()
	c.UpdatedAt = c.CreatedAt
	s.clusters[c.ID] = c
	return c, nil
}

func (s *Store) ResolveCluster(_ context.Context, id string) (domain.KubernetesCluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[id]
	if !ok {
		return domain.KubernetesCluster{}, apperr.NotFound("cluster %s not found", id)
	}
	return c, nil
}

// --- Versions ---

func (s *Store) CreateServiceVersion(_ context.Context, serviceID, label, configHash string, specJSON map[string]any) (domain.ServiceVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.versions {
		if existing.ServiceID == serviceID && existing.VersionLabel == label {
			return domain.ServiceVersion{}, apperr.AlreadyExists("version label %q already exists for service %s", label, serviceID)
		}
	}
	v := domain.ServiceVersion{
		ID: newID(),
		ServiceID: serviceID,
		VersionLabel: label,
		ConfigHash: configHash,
		SpecJSON: specJSON,
		CreatedAt: now(),
	}
	s.versions[v.ID] = v
	return v, nil
}

func (s *Store) LatestServiceVersion(_ context.Context, serviceID string) (domain.ServiceVersion, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest domain.ServiceVersion
	found := false
	for _, v := range s.versions {
		if v.ServiceID != serviceID {
			continue
		}
		if !found || v.CreatedAt.After(latest.CreatedAt) {
			latest = v
			found = true
		}
	}
	return latest, found, nil
}

func (s *Store) ListServiceVersions(_ context.Context, serviceID string) ([]domain.ServiceVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ServiceVersion
	for _, v := range s.versions {
		if v.ServiceID == serviceID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) FindServiceVersionByHash(_ context.Context, serviceID, configHash string) (domain.ServiceVersion, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions {
		if v.ServiceID == serviceID && v.ConfigHash == configHash {
			return v, true, nil
		}
	}
	return domain.ServiceVersion{}, false, nil
}

func (s *Store) ResolveServiceVersion(_ context.Context, id string) (domain.ServiceVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok {
		return domain.ServiceVersion{}, apperr.NotFound("service version %s not found", id)
	}
	return v, nil
}

// --- Deployments ---

func (s *Store) CreateDeployment(_ context.Context, d domain.Deployment) (domain.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = newID()
	}
	d.CreatedAt = now()
	if d.Status == "" {
		d.Status = domain.DeploymentPending
	}
	s.deployments[d.ID] = d
	return d, nil
}

func (s *Store) ResolveDeployment(_ context.Context, id string) (domain.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return domain.Deployment{}, apperr.NotFound("deployment %s not found", id)
	}
	return d, nil
}

func (s *Store) UpdateDeploymentStatus(_ context.Context, id string, status domain.DeploymentStatus, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return apperr.NotFound("deployment %s not found", id)
	}
	d.Status = status
	d.CompletedAt = completedAt
	s.deployments[id] = d
	return nil
}

func (s *Store) SetDeploymentWorkflow(_ context.Context, id, workflowUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return apperr.NotFound("deployment %s not found", id)
	}
	d.WorkflowUUID = &workflowUUID
	s.deployments[id] = d
	return nil
}

func (s *Store) CountDeploymentsBefore(_ context.Context, versionID string, environmentID *string, createdAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, d := range s.deployments {
		if d.VersionID != versionID {
			continue
		}
		if !sameEnv(d.EnvironmentID, environmentID) {
			continue
		}
		if d.CreatedAt.Before(createdAt) {
			count++
		}
	}
	return count, nil
}

func sameEnv(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// --- Permissions ---

func (s *Store) GrantResourcePermission(_ context.Context, p domain.ResourcePermission) (domain.ResourcePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.permissions {
		if existing.UserID == p.UserID && existing.Scope == p.Scope && existing.ResourceID == p.ResourceID {
			p.ID = id
			p.GrantedAt = now()
			s.permissions[id] = p
			return p, nil
		}
	}
	if p.ID == "" {
		p.ID = newID()
	}
	p.GrantedAt = now()
	s.permissions[p.ID] = p
	return p, nil
}

func (s *Store) ListResourcePermissions(_ context.Context, filter store.ResourcePermissionFilter) ([]domain.ResourcePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ResourcePermission
	for _, p := range s.permissions {
		if filter.UserID != nil && p.UserID != *filter.UserID {
			continue
		}
		if filter.Scope != nil && p.Scope != *filter.Scope {
			continue
		}
		if filter.ResourceID != nil && p.ResourceID != *filter.ResourceID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.Before(out[j].GrantedAt) })
	return out, nil
}

// --- Workflow store ---

func (s *Store) CreateWorkflow(_ context.Context, wf store.WorkflowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[wf.WorkflowUUID]; exists {
		return apperr.AlreadyExists("workflow %s already exists", wf.WorkflowUUID)
	}
	wf.CreatedAt = now()
	wf.UpdatedAt = wf.CreatedAt
	s.workflows[wf.WorkflowUUID] = wf
	s.stepOutputs[wf.WorkflowUUID] = map[int]store.StepOutput{}
	return nil
}

func (s *Store) GetWorkflow(_ context.Context, workflowUUID string) (store.WorkflowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[workflowUUID]
	if !ok {
		return store.WorkflowRecord{}, apperr.NotFound("workflow %s not found", workflowUUID)
	}
	return wf, nil
}

func (s *Store) ListWorkflowsByStatus(_ context.Context, status domain.WorkflowStatus) ([]store.WorkflowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.WorkflowRecord
	for _, wf := range s.workflows {
		if wf.Status == status {
			out = append(out, wf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateWorkflowStatus(_ context.Context, workflowUUID string, status domain.WorkflowStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[workflowUUID]
	if !ok {
		return apperr.NotFound("workflow %s not found", workflowUUID)
	}
	wf.Status = status
	wf.UpdatedAt = now()
	s.workflows[workflowUUID] = wf
	return nil
}

func (s *Store) RecordStepOutput(_ context.Context, out store.StepOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps, ok := s.stepOutputs[out.WorkflowUUID]
	if !ok {
		return apperr.NotFound("workflow %s not found", out.WorkflowUUID)
	}
	if _, exists := steps[out.FunctionID]; exists {
		// Exactly-once-per-position: a repeat record for the same position is
		// a no-op, matching the durability guarantee.
		return nil
	}
	steps[out.FunctionID] = out
	return nil
}

func (s *Store) GetStepOutput(_ context.Context, workflowUUID string, functionID int) (store.StepOutput, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps, ok := s.stepOutputs[workflowUUID]
	if !ok {
		return store.StepOutput{}, false, apperr.NotFound("workflow %s not found", workflowUUID)
	}
	out, ok := steps[functionID]
	return out, ok, nil
}

func (s *Store) ListStepOutputs(_ context.Context, workflowUUID string) ([]store.StepOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps, ok := s.stepOutputs[workflowUUID]
	if !ok {
		return nil, apperr.NotFound("workflow %s not found", workflowUUID)
	}
	out := make([]store.StepOutput, 0, len(steps))
	for _, v := range steps {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FunctionID < out[j].FunctionID })
	return out, nil
}

func (s *Store) SetEvent(_ context.Context, workflowUUID, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.events[workflowUUID]
	if !ok {
		m = map[string][]byte{}
		s.events[workflowUUID] = m
	}
	m[key] = value
	return nil
}

func (s *Store) GetEvent(_ context.Context, workflowUUID, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.events[workflowUUID]
	if !ok {
		return nil, false, nil
	}
	v, ok := m[key]
	return v, ok, nil
}

func (s *Store) AppendStream(_ context.Context, workflowUUID, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.streams[workflowUUID]
	if !ok {
		m = map[string][][]byte{}
		s.streams[workflowUUID] = m
	}
	m[key] = append(m[key], value)
	return nil
}

func (s *Store) ReadStream(_ context.Context, workflowUUID, key string, maxItems int) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.streams[workflowUUID]
	if !ok {
		return nil, nil
	}
	items := m[key]
	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	out := make([][]byte, len(items))
	copy(out, items)
	return out, nil
}

func now() time.Time { return time.Now().UTC() }

var _ store.Store = (*Store)(nil)
