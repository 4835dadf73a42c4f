// Copyright Contributors to the env360 project

// Package domain holds the entity structs shared across the store,
// version, permission, manifest and workflow packages. Entities carry
// ids and foreign ids only -- never back-references -- per the
// cyclic-object-graph design note: the Permission Evaluator in particular
// must traverse upward by id, not by resident pointers.
package domain

import "time"

// EnvironmentType enumerates the environment kinds the Store accepts.
type EnvironmentType string

const (
	EnvTypeDevelopment EnvironmentType = "development"
	EnvTypeTesting EnvironmentType = "testing"
	EnvTypeStaging EnvironmentType = "staging"
	EnvTypeProduction EnvironmentType = "production"
	EnvTypeSandbox EnvironmentType = "sandbox"
	EnvTypeDev EnvironmentType = "dev"
	EnvTypeProd EnvironmentType = "prod"
)

// ServiceType enumerates the kinds of workload a Service describes.
type ServiceType string

const (
	ServiceTypeMicroservice ServiceType = "microservice"
	ServiceTypeWebapp ServiceType = "webapp"
	ServiceTypeDatabase ServiceType = "database"
	ServiceTypeQueue ServiceType = "queue"
)

// ServiceStatus is the last-observed health of a Service.
type ServiceStatus string

const (
	ServiceStatusHealthy ServiceStatus = "healthy"
	ServiceStatusDegraded ServiceStatus = "degraded"
	ServiceStatusDown ServiceStatus = "down"
	ServiceStatusUnknown ServiceStatus = "unknown"
)

// AuthMethod enumerates the four supported cluster authentication modes.
type AuthMethod string

const (
	AuthMethodKubeconfig AuthMethod = "kubeconfig"
	AuthMethodToken AuthMethod = "token"
	AuthMethodServiceAccount AuthMethod = "serviceAccount"
	AuthMethodClientCert AuthMethod = "clientCert"
)

// PermissionScope enumerates the three levels ResourcePermission can target.
type PermissionScope string

const (
	ScopeProject PermissionScope = "project"
	ScopeEnvironment PermissionScope = "environment"
	ScopeService PermissionScope = "service"
)

// PermissionAction enumerates the four grantable actions.
type PermissionAction string

const (
	ActionRead PermissionAction = "read"
	ActionWrite PermissionAction = "write"
	ActionDelete PermissionAction = "delete"
	ActionAdmin PermissionAction = "admin"
)

// VariableScope enumerates where an EnvironmentVariable/Secret is attached.
type VariableScope string

const (
	VarScopeProject VariableScope = "project"
	VarScopeEnvironment VariableScope = "environment"
	VarScopeService VariableScope = "service"
)

// DeploymentStatus is the lifecycle of a Deployment row.
type DeploymentStatus string

const (
	DeploymentPending DeploymentStatus = "pending"
	DeploymentSucceeded DeploymentStatus = "succeeded"
	DeploymentFailed DeploymentStatus = "failed"
)

// WorkflowStatus is the lifecycle of a durable workflow instance.
type WorkflowStatus string

const (
	WorkflowEnqueued WorkflowStatus = "enqueued"
	WorkflowPending WorkflowStatus = "pending"
	WorkflowRunning WorkflowStatus = "running"
	WorkflowSucceeded WorkflowStatus = "succeeded"
	WorkflowFailed WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
	WorkflowPaused WorkflowStatus = "paused"
)

// User is an account in the system. IsSuperAdmin is derived from
// configuration at read time and is never persisted.
type User struct {
	ID string
	Email string
	Name string
	IsActive bool
	IsAdmin bool
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Caller is the already-authenticated identity the core receives; how a
// token or cookie was validated into this shape is out of scope here.
type Caller struct {
	ID string
	Email string
	IsActive bool
	IsAdmin bool
	IsSuperAdmin bool
}

// Project owns Environments, Services and Configs.
type Project struct {
	ID string
	Name string
	Description string
	OwnerID string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Environment belongs to a Project and weakly references a Cluster.
type Environment struct {
	ID string
	Name string
	Type EnvironmentType
	URL string
	ProjectID string
	ClusterID *string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Service belongs to a Project and is attached to zero or more
// Environments through the service_environments join table.
type Service struct {
	ID string
	Name string
	Description string
	Type ServiceType
	ProjectID string
	Owner string
	Status ServiceStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// ConfigScope names which parent-config table a Config row belongs to.
type ConfigScope string

const (
	ConfigScopeProject ConfigScope = "project"
	ConfigScopeEnvironment ConfigScope = "environment"
	ConfigScopeService ConfigScope = "service"
)

// Config is a single key/value row under a Project, Environment or
// Service. EnvironmentConfig additionally carries WorkflowUUID, modeled
// here as an optional field valid only when Scope == ConfigScopeEnvironment.
type Config struct {
	ID string
	Scope ConfigScope
	ParentID string
	Key string
	Value *string
	ConfigData map[string]any
	WorkflowUUID *string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// AdminConfig is a global key/value row loaded into Settings at startup.
type AdminConfig struct {
	ID string
	Key string
	Value *string
	ConfigData map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Variable is an EnvironmentVariable or Secret row, distinguished by the
// Secret flag. Read APIs must never surface Value for a Secret -- only
// its length -- a rule enforced by the store/http boundary, not this
// struct itself.
type Variable struct {
	ID string
	Scope VariableScope
	ResourceID string
	Key string
	Value string
	Secret bool
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// KubernetesCluster holds connection details for a target cluster. The
// credential fields are stored encrypted; Store implementations decrypt
// them on demand via an Encryptor, never caching plaintext.
type KubernetesCluster struct {
	ID string
	Name string
	APIURL string
	AuthMethod AuthMethod
	EnvironmentType *EnvironmentType
	KubeconfigContent *string
	Token *string
	ClientKey *string
	ClientCert *string
	ClientCACert *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ServiceVersion is an immutable, content-addressed snapshot of a
// Service's deployable spec.
type ServiceVersion struct {
	ID string
	ServiceID string
	VersionLabel string
	ConfigHash string
	SpecJSON map[string]any
	CreatedAt time.Time
}

// DownstreamOverride instructs the manifest renderer to steer this
// service's mesh traffic to a specific subset of a named downstream
// service.
type DownstreamOverride struct {
	ServiceID string
	ServiceName string
	Version string
}

// Deployment realises a ServiceVersion on an Environment's cluster.
type Deployment struct {
	ID string
	ServiceID string
	VersionID string
	EnvironmentID *string
	WorkflowUUID *string
	Steps []string
	DownstreamOverrides []DownstreamOverride
	Status DeploymentStatus
	CreatedAt time.Time
	CompletedAt *time.Time
}

// ResourcePermission is the effective grant the core authorizes against.
// The legacy UserPermission model is data-only and never consulted here.
type ResourcePermission struct {
	ID string
	UserID string
	Scope PermissionScope
	ResourceID string
	Actions []PermissionAction
	GrantedBy string
	GrantedAt time.Time
}

// HasAction reports whether action is present in the grant.
func (p ResourcePermission) HasAction(action PermissionAction) bool {
	for _, a := range p.Actions {
		if a == action {
			return true
		}
	}
	return false
}
