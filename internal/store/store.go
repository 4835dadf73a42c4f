// Copyright Contributors to the env360 project

// Package store defines the Store contract: the sole
// durability boundary for every entity in internal/domain. Soft delete
// is the default delete path; all list/resolve methods filter
// DeletedAt IS NULL unless the method name says otherwise.
package store

import (
	"context"
	"time"

	"github.com/env360/env360/internal/domain"
)

// ResourcePermissionFilter narrows listResourcePermissions; every
// non-nil field must match every returned row.
type ResourcePermissionFilter struct {
	UserID *string
	Scope *domain.PermissionScope
	ResourceID *string
}

// Store is the persistence boundary every other core component talks
// to. Implementations MUST make multi-row writes atomic and MUST map
// uniqueness violations to apperr.KindAlreadyExists.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	ResolveUser(ctx context.Context, id string) (domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (domain.User, error)

	// Projects
	CreateProject(ctx context.Context, p domain.Project) (domain.Project, error)
	ResolveProject(ctx context.Context, id string) (domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	SoftDeleteProject(ctx context.Context, id string) error

	// Environments
	CreateEnvironment(ctx context.Context, e domain.Environment) (domain.Environment, error)
	ResolveEnvironment(ctx context.Context, id string) (domain.Environment, error)
	ListEnvironmentsByProject(ctx context.Context, projectID string) ([]domain.Environment, error)
	SetEnvironmentCluster(ctx context.Context, environmentID string, clusterID *string) error
	SoftDeleteEnvironment(ctx context.Context, id string) error

	// Services
	CreateService(ctx context.Context, s domain.Service) (domain.Service, error)
	ResolveService(ctx context.Context, id string) (domain.Service, error)
	ListServicesByProject(ctx context.Context, projectID string) ([]domain.Service, error)
	AttachServiceEnvironment(ctx context.Context, serviceID, environmentID string) error
	ListServiceEnvironments(ctx context.Context, serviceID string) ([]domain.Environment, error)
	SoftDeleteService(ctx context.Context, id string) error

	// Configs
	UpsertConfig(ctx context.Context, c domain.Config) (domain.Config, error)
	GetConfig(ctx context.Context, scope domain.ConfigScope, parentID, key string) (domain.Config, error)
	ListConfigs(ctx context.Context, scope domain.ConfigScope, parentID string) ([]domain.Config, error)
	// ListConfigsByKey returns every row for scope/key across all parents,
	// e.g. every EnvironmentConfig(key="domain_info") row regardless of
	// which environment it belongs to.
	ListConfigsByKey(ctx context.Context, scope domain.ConfigScope, key string) ([]domain.Config, error)
	SoftDeleteConfig(ctx context.Context, id string) error

	// Admin config
	GetAdminConfig(ctx context.Context, key string) (domain.AdminConfig, error)
	ListAdminConfig(ctx context.Context) ([]domain.AdminConfig, error)
	SetAdminConfig(ctx context.Context, key string, value *string, data map[string]any) (domain.AdminConfig, error)

	// Variables / secrets
	UpsertVariable(ctx context.Context, v domain.Variable) (domain.Variable, error)
	ListVariables(ctx context.Context, scope domain.VariableScope, resourceID string) ([]domain.Variable, error)
	SoftDeleteVariable(ctx context.Context, id string) error

	// Clusters
	CreateCluster(ctx context.Context, c domain.KubernetesCluster) (domain.KubernetesCluster, error)
	ResolveCluster(ctx context.Context, id string) (domain.KubernetesCluster, error)

	// Versions
	CreateServiceVersion(ctx context.Context, serviceID, label, configHash string, specJSON map[string]any) (domain.ServiceVersion, error)
	LatestServiceVersion(ctx context.Context, serviceID string) (domain.ServiceVersion, bool, error)
	ListServiceVersions(ctx context.Context, serviceID string) ([]domain.ServiceVersion, error)
	FindServiceVersionByHash(ctx context.Context, serviceID, configHash string) (domain.ServiceVersion, bool, error)
	ResolveServiceVersion(ctx context.Context, id string) (domain.ServiceVersion, error)

	// Deployments
	CreateDeployment(ctx context.Context, d domain.Deployment) (domain.Deployment, error)
	ResolveDeployment(ctx context.Context, id string) (domain.Deployment, error)
	UpdateDeploymentStatus(ctx context.Context, id string, status domain.DeploymentStatus, completedAt *time.Time) error
	SetDeploymentWorkflow(ctx context.Context, id, workflowUUID string) error
	// CountDeploymentsBefore implements the derived "subversion index"
	// (glossary): the count of deployments sharing (versionID,
	// environmentID) with an earlier created_at.
	CountDeploymentsBefore(ctx context.Context, versionID string, environmentID *string, createdAt time.Time) (int, error)

	// Permissions
	GrantResourcePermission(ctx context.Context, p domain.ResourcePermission) (domain.ResourcePermission, error)
	ListResourcePermissions(ctx context.Context, filter ResourcePermissionFilter) ([]domain.ResourcePermission, error)

	// Workflow state
	WorkflowStore
}

// WorkflowStore is the durable-engine slice of Store: workflow_status and
// operation_outputs, plus the optional events/streams tables.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf WorkflowRecord) error
	GetWorkflow(ctx context.Context, workflowUUID string) (WorkflowRecord, error)
	UpdateWorkflowStatus(ctx context.Context, workflowUUID string, status domain.WorkflowStatus) error
	// ListWorkflowsByStatus backs the dispatcher's crash-recovery sweep:
	// workflows a prior process enqueued or started but never finished.
	ListWorkflowsByStatus(ctx context.Context, status domain.WorkflowStatus) ([]WorkflowRecord, error)

	// RecordStepOutput persists a step's result exactly once per
	// (workflowUUID, functionID); callers rely on the store to make a
	// duplicate insert a no-op so resumed runs replay cheaply.
	RecordStepOutput(ctx context.Context, out StepOutput) error
	GetStepOutput(ctx context.Context, workflowUUID string, functionID int) (StepOutput, bool, error)
	ListStepOutputs(ctx context.Context, workflowUUID string) ([]StepOutput, error)

	SetEvent(ctx context.Context, workflowUUID, key string, value []byte) error
	GetEvent(ctx context.Context, workflowUUID, key string) ([]byte, bool, error)

	AppendStream(ctx context.Context, workflowUUID, key string, value []byte) error
	ReadStream(ctx context.Context, workflowUUID, key string, maxItems int) ([][]byte, error)
}

// WorkflowRecord is the workflow_status row.
type WorkflowRecord struct {
	WorkflowUUID string
	Name string
	Status domain.WorkflowStatus
	Inputs map[string]any
	ApplicationVersion string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StepOutput is one operation_outputs row.
type StepOutput struct {
	WorkflowUUID string
	FunctionID int
	FunctionName string
	Output map[string]any
	Error string
	ChildWorkflowID string
	StartedAtMS int64
	CompletedAtMS int64
}
