// Copyright Contributors to the env360 project

// Package postgres implements store.Store on top of PostgreSQL using
// jackc/pgx/v5 as the driver (through its database/sql stdlib shim) and
// jmoiron/sqlx for struct-scanned queries, the same pairing the rest of
// the retrieval pack reaches for wherever a relational Store sits behind
// a Kubernetes-facing control plane.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	errorsx "github.com/pkg/errors"

	"github.com/env360/env360/internal/apperr"
	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/store"
)

// Store implements store.Store against a *sqlx.DB connected through the
// pgx stdlib driver.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn and verifies the connection is live.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "postgres: connecting", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db}, nil
}

// Migrate applies the bundled schema. It is safe to call repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return apperr.Wrap(apperr.KindFatal, "postgres: applying schema", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// uniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), the sole signal this Store maps to AlreadyExists
// rather than Unavailable.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// wrapWrite classifies a write failure and attaches a stack trace via
// pkg/errors before apperr wraps it, so a production log line traces
// back to the exact Store call site rather than just the driver error
// string.
func wrapWrite(err error, message string) error {
	if err == nil {
		return nil
	}
	traced := errorsx.WithStack(err)
	if uniqueViolation(err) {
		return apperr.Wrap(apperr.KindAlreadyExists, message, traced)
	}
	return apperr.Wrap(apperr.KindUnavailable, message, traced)
}

func notFoundIf(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, message)
	}
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, message, err)
	}
	return nil
}

// --- Users ---

type userRow struct {
	ID string `db:"id"`
	Email string `db:"email"`
	Name string `db:"name"`
	IsActive bool `db:"is_active"`
	IsAdmin bool `db:"is_admin"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

func (r userRow) toDomain() domain.User {
	return domain.User{ID: r.ID, Email: r.Email, Name: r.Name, IsActive: r.IsActive, IsAdmin: r.IsAdmin, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, DeletedAt: r.DeletedAt}
}

func (s *Store) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO users (email, name, is_active, is_admin)
		VALUES ($1,$2,$3,$4)
		RETURNING id, email, name, is_active, is_admin, created_at, updated_at, deleted_at`,
		u.Email, u.Name, u.IsActive, u.IsAdmin)
	if err != nil {
		return domain.User{}, wrapWrite(err, fmt.Sprintf("user with email %q already exists", u.Email))
	}
	return row.toDomain(), nil
}

func (s *Store) ResolveUser(ctx context.Context, id string) (domain.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT id, email, name, is_active, is_admin, created_at, updated_at, deleted_at FROM users WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return domain.User{}, notFoundIf(err, fmt.Sprintf("user %s not found", id))
	}
	return row.toDomain(), nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT id, email, name, is_active, is_admin, created_at, updated_at, deleted_at FROM users WHERE email=$1 AND deleted_at IS NULL`, email)
	if err != nil {
		return domain.User{}, notFoundIf(err, fmt.Sprintf("user with email %q not found", email))
	}
	return row.toDomain(), nil
}

// --- Projects ---

type projectRow struct {
	ID string `db:"id"`
	Name string `db:"name"`
	Description string `db:"description"`
	OwnerID string `db:"owner_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

func (r projectRow) toDomain() domain.Project {
	return domain.Project{ID: r.ID, Name: r.Name, Description: r.Description, OwnerID: r.OwnerID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, DeletedAt: r.DeletedAt}
}

func (s *Store) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	var row projectRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO projects (name, description, owner_id) VALUES ($1,$2,$3)
		RETURNING id, name, description, owner_id, created_at, updated_at, deleted_at`,
		p.Name, p.Description, p.OwnerID)
	if err != nil {
		return domain.Project{}, wrapWrite(err, fmt.Sprintf("project name %q already exists", p.Name))
	}
	return row.toDomain(), nil
}

func (s *Store) ResolveProject(ctx context.Context, id string) (domain.Project, error) {
	var row projectRow
	err := s.db.GetContext(ctx, &row, `SELECT id, name, description, owner_id, created_at, updated_at, deleted_at FROM projects WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return domain.Project{}, notFoundIf(err, fmt.Sprintf("project %s not found", id))
	}
	return row.toDomain(), nil
}

func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var rows []projectRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, name, description, owner_id, created_at, updated_at, deleted_at FROM projects WHERE deleted_at IS NULL ORDER BY created_at`); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "listing projects", err)
	}
	out := make([]domain.Project, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) SoftDeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE projects SET deleted_at=now() WHERE id=$1 AND deleted_at IS NULL`, id)
	return softDeleteResult(err, res, fmt.Sprintf("project %s not found", id))
}

func softDeleteResult(err error, res sql.Result, notFoundMsg string) error {
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, notFoundMsg, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.KindNotFound, notFoundMsg)
	}
	return nil
}

// --- Environments ---

type environmentRow struct {
	ID string `db:"id"`
	Name string `db:"name"`
	Type string `db:"type"`
	URL string `db:"url"`
	ProjectID string `db:"project_id"`
	ClusterID *string `db:"cluster_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

func (r environmentRow) toDomain() domain.Environment {
	return domain.Environment{ID: r.ID, Name: r.Name, Type: domain.EnvironmentType(r.Type), URL: r.URL, ProjectID: r.ProjectID, ClusterID: r.ClusterID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, DeletedAt: r.DeletedAt}
}

func (s *Store) CreateEnvironment(ctx context.Context, e domain.Environment) (domain.Environment, error) {
	var row environmentRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO environments (name, type, url, project_id, cluster_id) VALUES ($1,$2,$3,$4,$5)
		RETURNING id, name, type, url, project_id, cluster_id, created_at, updated_at, deleted_at`,
		e.Name, string(e.Type), e.URL, e.ProjectID, e.ClusterID)
	if err != nil {
		return domain.Environment{}, wrapWrite(err, fmt.Sprintf("environment name %q already exists in project %s", e.Name, e.ProjectID))
	}
	return row.toDomain(), nil
}

func (s *Store) ResolveEnvironment(ctx context.Context, id string) (domain.Environment, error) {
	var row environmentRow
	err := s.db.GetContext(ctx, &row, `SELECT id, name, type, url, project_id, cluster_id, created_at, updated_at, deleted_at FROM environments WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return domain.Environment{}, notFoundIf(err, fmt.Sprintf("environment %s not found", id))
	}
	return row.toDomain(), nil
}

func (s *Store) ListEnvironmentsByProject(ctx context.Context, projectID string) ([]domain.Environment, error) {
	var rows []environmentRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, name, type, url, project_id, cluster_id, created_at, updated_at, deleted_at FROM environments WHERE project_id=$1 AND deleted_at IS NULL ORDER BY created_at`, projectID); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "listing environments", err)
	}
	out := make([]domain.Environment, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) SetEnvironmentCluster(ctx context.Context, environmentID string, clusterID *string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE environments SET cluster_id=$1, updated_at=now() WHERE id=$2 AND deleted_at IS NULL`, clusterID, environmentID)
	return softDeleteResult(err, res, fmt.Sprintf("environment %s not found", environmentID))
}

func (s *Store) SoftDeleteEnvironment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE environments SET deleted_at=now() WHERE id=$1 AND deleted_at IS NULL`, id)
	return softDeleteResult(err, res, fmt.Sprintf("environment %s not found", id))
}

// --- Services ---

type serviceRow struct {
	ID string `db:"id"`
	Name string `db:"name"`
	Description string `db:"description"`
	Type string `db:"type"`
	ProjectID string `db:"project_id"`
	Owner string `db:"owner"`
	Status string `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

func (r serviceRow) toDomain() domain.Service {
	return domain.Service{ID: r.ID, Name: r.Name, Description: r.Description, Type: domain.ServiceType(r.Type), ProjectID: r.ProjectID, Owner: r.Owner, Status: domain.ServiceStatus(r.Status), CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, DeletedAt: r.DeletedAt}
}

func (s *Store) CreateService(ctx context.Context, svc domain.Service) (domain.Service, error) {
	var row serviceRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO services (name, description, type, project_id, owner, status) VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, name, description, type, project_id, owner, status, created_at, updated_at, deleted_at`,
		svc.Name, svc.Description, string(svc.Type), svc.ProjectID, svc.Owner, orDefault(string(svc.Status), "unknown"))
	if err != nil {
		return domain.Service{}, wrapWrite(err, fmt.Sprintf("service name %q already exists in project %s", svc.Name, svc.ProjectID))
	}
	return row.toDomain(), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (s *Store) ResolveService(ctx context.Context, id string) (domain.Service, error) {
	var row serviceRow
	err := s.db.GetContext(ctx, &row, `SELECT id, name, description, type, project_id, owner, status, created_at, updated_at, deleted_at FROM services WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return domain.Service{}, notFoundIf(err, fmt.Sprintf("service %s not found", id))
	}
	return row.toDomain(), nil
}

func (s *Store) ListServicesByProject(ctx context.Context, projectID string) ([]domain.Service, error) {
	var rows []serviceRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, name, description, type, project_id, owner, status, created_at, updated_at, deleted_at FROM services WHERE project_id=$1 AND deleted_at IS NULL ORDER BY created_at`, projectID); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "listing services", err)
	}
	out := make([]domain.Service, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) SoftDeleteService(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE services SET deleted_at=now() WHERE id=$1 AND deleted_at IS NULL`, id)
	return softDeleteResult(err, res, fmt.Sprintf("service %s not found", id))
}

func (s *Store) AttachServiceEnvironment(ctx context.Context, serviceID, environmentID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO service_environments (service_id, environment_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`, serviceID, environmentID)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "attaching service to environment", err)
	}
	return nil
}

func (s *Store) ListServiceEnvironments(ctx context.Context, serviceID string) ([]domain.Environment, error) {
	var rows []environmentRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT e.id, e.name, e.type, e.url, e.project_id, e.cluster_id, e.created_at, e.updated_at, e.deleted_at
		FROM environments e
		JOIN service_environments se ON se.environment_id = e.id
		WHERE se.service_id=$1 AND e.deleted_at IS NULL
		ORDER BY e.created_at`, serviceID); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "listing environments attached to service", err)
	}
	out := make([]domain.Environment, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// --- Configs ---

type configRow struct {
	ID string `db:"id"`
	Scope string `db:"scope"`
	ParentID string `db:"parent_id"`
	Key string `db:"key"`
	Value *string `db:"value"`
	ConfigData []byte `db:"config_data"`
	WorkflowUUID *string `db:"workflow_uuid"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

func (r configRow) toDomain() domain.Config {
	c := domain.Config{ID: r.ID, Scope: domain.ConfigScope(r.Scope), ParentID: r.ParentID, Key: r.Key, Value: r.Value, WorkflowUUID: r.WorkflowUUID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, DeletedAt: r.DeletedAt}
	if len(r.ConfigData) > 0 {
		_ = json.Unmarshal(r.ConfigData, &c.ConfigData)
	}
	return c
}

func (s *Store) UpsertConfig(ctx context.Context, c domain.Config) (domain.Config, error) {
	data, err := json.Marshal(c.ConfigData)
	if err != nil {
		return domain.Config{}, apperr.Wrap(apperr.KindInvalid, "marshalling config_data", err)
	}
	var row configRow
	err = s.db.GetContext(ctx, &row, `
		INSERT INTO configs (scope, parent_id, key, value, config_data, workflow_uuid)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (scope, parent_id, key) WHERE deleted_at IS NULL
		DO UPDATE SET value=EXCLUDED.value, config_data=EXCLUDED.config_data, workflow_uuid=EXCLUDED.workflow_uuid, updated_at=now()
		RETURNING id, scope, parent_id, key, value, config_data, workflow_uuid, created_at, updated_at, deleted_at`,
		string(c.Scope), c.ParentID, c.Key, c.Value, data, c.WorkflowUUID)
	if err != nil {
		return domain.Config{}, apperr.Wrap(apperr.KindUnavailable, "upserting config", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetConfig(ctx context.Context, scope domain.ConfigScope, parentID, key string) (domain.Config, error) {
	var row configRow
	err := s.db.GetContext(ctx, &row, `SELECT id, scope, parent_id, key, value, config_data, workflow_uuid, created_at, updated_at, deleted_at FROM configs WHERE scope=$1 AND parent_id=$2 AND key=$3 AND deleted_at IS NULL`, string(scope), parentID, key)
	if err != nil {
		return domain.Config{}, notFoundIf(err, fmt.Sprintf("config %s/%s not found", parentID, key))
	}
	return row.toDomain(), nil
}

func (s *Store) ListConfigs(ctx context.Context, scope domain.ConfigScope, parentID string) ([]domain.Config, error) {
	var rows []configRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, scope, parent_id, key, value, config_data, workflow_uuid, created_at, updated_at, deleted_at FROM configs WHERE scope=$1 AND parent_id=$2 AND deleted_at IS NULL ORDER BY key`, string(scope), parentID); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "listing configs", err)
	}
	out := make([]domain.Config, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) ListConfigsByKey(ctx context.Context, scope domain.ConfigScope, key string) ([]domain.Config, error) {
	var rows []configRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, scope, parent_id, key, value, config_data, workflow_uuid, created_at, updated_at, deleted_at FROM configs WHERE scope=$1 AND key=$2 AND deleted_at IS NULL ORDER BY parent_id`, string(scope), key); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "listing configs by key", err)
	}
	out := make([]domain.Config, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) SoftDeleteConfig(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE configs SET deleted_at=now() WHERE id=$1 AND deleted_at IS NULL`, id)
	return softDeleteResult(err, res, fmt.Sprintf("config %s not found", id))
}

// --- Admin config ---

type adminConfigRow struct {
	ID string `db:"id"`
	Key string `db:"key"`
	Value *string `db:"value"`
	ConfigData []byte `db:"config_data"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r adminConfigRow) toDomain() domain.AdminConfig {
	ac := domain.AdminConfig{ID: r.ID, Key: r.Key, Value: r.Value, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
	if len(r.ConfigData) > 0 {
		_ = json.Unmarshal(r.ConfigData, &ac.ConfigData)
	}
	return ac
}

func (s *Store) GetAdminConfig(ctx context.Context, key string) (domain.AdminConfig, error) {
	var row adminConfigRow
	err := s.db.GetContext(ctx, &row, `SELECT id, key, value, config_data, created_at, updated_at FROM admin_config WHERE key=$1`, key)
	if err != nil {
		return domain.AdminConfig{}, notFoundIf(err, fmt.Sprintf("admin config %q not found", key))
	}
	return row.toDomain(), nil
}

func (s *Store) ListAdminConfig(ctx context.Context) ([]domain.AdminConfig, error) {
	var rows []adminConfigRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, key, value, config_data, created_at, updated_at FROM admin_config ORDER BY key`); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "listing admin config", err)
	}
	out := make([]domain.AdminConfig, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) SetAdminConfig(ctx context.Context, key string, value *string, data map[string]any) (domain.AdminConfig, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return domain.AdminConfig{}, apperr.Wrap(apperr.KindInvalid, "marshalling admin config data", err)
	}
	var row adminConfigRow
	err = s.db.GetContext(ctx, &row, `
		INSERT INTO admin_config (key, value, config_data) VALUES ($1,$2,$3)
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, config_data=EXCLUDED.config_data, updated_at=now()
		RETURNING id, key, value, config_data, created_at, updated_at`,
		key, value, raw)
	if err != nil {
		return domain.AdminConfig{}, apperr.Wrap(apperr.KindUnavailable, "setting admin config", err)
	}
	return row.toDomain(), nil
}

// --- Variables ---

type variableRow struct {
	ID string `db:"id"`
	Scope string `db:"scope"`
	ResourceID string `db:"resource_id"`
	Key string `db:"key"`
	Value string `db:"value"`
	Secret bool `db:"secret"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

func (r variableRow) toDomain() domain.Variable {
	return domain.Variable{ID: r.ID, Scope: domain.VariableScope(r.Scope), ResourceID: r.ResourceID, Key: r.Key, Value: r.Value, Secret: r.Secret, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, DeletedAt: r.DeletedAt}
}

func (s *Store) UpsertVariable(ctx context.Context, v domain.Variable) (domain.Variable, error) {
	var row variableRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO variables (scope, resource_id, key, value, secret) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (scope, resource_id, key) WHERE deleted_at IS NULL
		DO UPDATE SET value=EXCLUDED.value, updated_at=now()
		RETURNING id, scope, resource_id, key, value, secret, created_at, updated_at, deleted_at`,
		string(v.Scope), v.ResourceID, v.Key, v.Value, v.Secret)
	if err != nil {
		return domain.Variable{}, apperr.Wrap(apperr.KindUnavailable, "upserting variable", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListVariables(ctx context.Context, scope domain.VariableScope, resourceID string) ([]domain.Variable, error) {
	var rows []variableRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, scope, resource_id, key, value, secret, created_at, updated_at, deleted_at FROM variables WHERE scope=$1 AND resource_id=$2 AND deleted_at IS NULL ORDER BY key`, string(scope), resourceID); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "listing variables", err)
	}
	out := make([]domain.Variable, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) SoftDeleteVariable(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE variables SET deleted_at=now() WHERE id=$1 AND deleted_at IS NULL`, id)
	return softDeleteResult(err, res, fmt.Sprintf("variable %s not found", id))
}

// --- Clusters ---

type clusterRow struct {
	ID string `db:"id"`
	Name string `db:"name"`
	APIURL string `db:"api_url"`
	AuthMethod string `db:"auth_method"`
	EnvironmentType *string `db:"environment_type"`
	KubeconfigContent *string `db:"kubeconfig_content"`
	Token *string `db:"token"`
	ClientKey *string `db:"client_key"`
	ClientCert *string `db:"client_cert"`
	ClientCACert *string `db:"client_ca_cert"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r clusterRow) toDomain() domain.KubernetesCluster {
	c := domain.KubernetesCluster{
		ID: r.ID, Name: r.Name, APIURL: r.APIURL, AuthMethod: domain.AuthMethod(r.AuthMethod),
		KubeconfigContent: r.KubeconfigContent, Token: r.Token, ClientKey: r.ClientKey,
		ClientCert: r.ClientCert, ClientCACert: r.ClientCACert, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if r.EnvironmentType != nil {
		t := domain.EnvironmentType(*r.EnvironmentType)
		c.EnvironmentType = &t
	}
	return c
}

func (s *Store) CreateCluster(ctx context.Context, c domain.KubernetesCluster) (domain.KubernetesCluster, error) {
	var envType *string
	if c.EnvironmentType != nil {
		v := string(*c.EnvironmentType)
		envType = &v
	}
	var row clusterRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO kubernetes_clusters (name, api_url, auth_method, environment_type, kubeconfig_content, token, client_key, client_cert, client_ca_cert)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id, name, api_url, auth_method, environment_type, kubeconfig_content, token, client_key, client_cert, client_ca_cert, created_at, updated_at`,
		c.Name, c.APIURL, string(c.AuthMethod), envType, c.KubeconfigContent, c.Token, c.ClientKey, c.ClientCert, c.ClientCACert)
	if err != nil {
		return domain.KubernetesCluster{}, wrapWrite(err, fmt.Sprintf("cluster name %q already exists", c.Name))
	}
	return row.toDomain(), nil
}

func (s *Store) ResolveCluster(ctx context.Context, id string) (domain.KubernetesCluster, error) {
	var row clusterRow
	err := s.db.GetContext(ctx, &row, `SELECT id, name, api_url, auth_method, environment_type, kubeconfig_content, token, client_key, client_cert, client_ca_cert, created_at, updated_at FROM kubernetes_clusters WHERE id=$1`, id)
	if err != nil {
		return domain.KubernetesCluster{}, notFoundIf(err, fmt.Sprintf("cluster %s not found", id))
	}
	return row.toDomain(), nil
}

// --- Versions ---

type versionRow struct {
	ID string `db:"id"`
	ServiceID string `db:"service_id"`
	VersionLabel string `db:"version_label"`
	ConfigHash string `db:"config_hash"`
	SpecJSON []byte `db:"spec_json"`
	CreatedAt time.Time `db:"created_at"`
}

func (r versionRow) toDomain() domain.ServiceVersion {
	v := domain.ServiceVersion{ID: r.ID, ServiceID: r.ServiceID, VersionLabel: r.VersionLabel, ConfigHash: r.ConfigHash, CreatedAt: r.CreatedAt}
	_ = json.Unmarshal(r.SpecJSON, &v.SpecJSON)
	return v
}

func (s *Store) CreateServiceVersion(ctx context.Context, serviceID, label, configHash string, specJSON map[string]any) (domain.ServiceVersion, error) {
	raw, err := json.Marshal(specJSON)
	if err != nil {
		return domain.ServiceVersion{}, apperr.Wrap(apperr.KindInvalid, "marshalling spec_json", err)
	}
	var row versionRow
	err = s.db.GetContext(ctx, &row, `
		INSERT INTO service_versions (service_id, version_label, config_hash, spec_json) VALUES ($1,$2,$3,$4)
		RETURNING id, service_id, version_label, config_hash, spec_json, created_at`,
		serviceID, label, configHash, raw)
	if err != nil {
		return domain.ServiceVersion{}, wrapWrite(err, fmt.Sprintf("version label %q already exists for service %s", label, serviceID))
	}
	return row.toDomain(), nil
}

func (s *Store) LatestServiceVersion(ctx context.Context, serviceID string) (domain.ServiceVersion, bool, error) {
	var row versionRow
	err := s.db.GetContext(ctx, &row, `SELECT id, service_id, version_label, config_hash, spec_json, created_at FROM service_versions WHERE service_id=$1 ORDER BY created_at DESC LIMIT 1`, serviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ServiceVersion{}, false, nil
	}
	if err != nil {
		return domain.ServiceVersion{}, false, apperr.Wrap(apperr.KindUnavailable, "loading latest service version", err)
	}
	return row.toDomain(), true, nil
}

func (s *Store) ListServiceVersions(ctx context.Context, serviceID string) ([]domain.ServiceVersion, error) {
	var rows []versionRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, service_id, version_label, config_hash, spec_json, created_at FROM service_versions WHERE service_id=$1 ORDER BY created_at`, serviceID); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "listing service versions", err)
	}
	out := make([]domain.ServiceVersion, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) FindServiceVersionByHash(ctx context.Context, serviceID, configHash string) (domain.ServiceVersion, bool, error) {
	var row versionRow
	err := s.db.GetContext(ctx, &row, `SELECT id, service_id, version_label, config_hash, spec_json, created_at FROM service_versions WHERE service_id=$1 AND config_hash=$2 LIMIT 1`, serviceID, configHash)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ServiceVersion{}, false, nil
	}
	if err != nil {
		return domain.ServiceVersion{}, false, apperr.Wrap(apperr.KindUnavailable, "looking up service version by hash", err)
	}
	return row.toDomain(), true, nil
}

func (s *Store) ResolveServiceVersion(ctx context.Context, id string) (domain.ServiceVersion, error) {
	var row versionRow
	err := s.db.GetContext(ctx, &row, `SELECT id, service_id, version_label, config_hash, spec_json, created_at FROM service_versions WHERE id=$1`, id)
	if err != nil {
		return domain.ServiceVersion{}, notFoundIf(err, fmt.Sprintf("service version %s not found", id))
	}
	return row.toDomain(), nil
}

// --- Deployments ---

type deploymentRow struct {
	ID string `db:"id"`
	ServiceID string `db:"service_id"`
	VersionID string `db:"version_id"`
	EnvironmentID *string `db:"environment_id"`
	WorkflowUUID *string `db:"workflow_uuid"`
	Steps []byte `db:"steps"`
	DownstreamOverrides []byte `db:"downstream_overrides"`
	Status string `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	CompletedAt *time.Time `db:"completed_at"`
}

func (r deploymentRow) toDomain() domain.Deployment {
	d := domain.Deployment{ID: r.ID, ServiceID: r.ServiceID, VersionID: r.VersionID, EnvironmentID: r.EnvironmentID, WorkflowUUID: r.WorkflowUUID, Status: domain.DeploymentStatus(r.Status), CreatedAt: r.CreatedAt, CompletedAt: r.CompletedAt}
	_ = json.Unmarshal(r.Steps, &d.Steps)
	if len(r.DownstreamOverrides) > 0 {
		_ = json.Unmarshal(r.DownstreamOverrides, &d.DownstreamOverrides)
	}
	return d
}

func (s *Store) CreateDeployment(ctx context.Context, d domain.Deployment) (domain.Deployment, error) {
	steps, err := json.Marshal(d.Steps)
	if err != nil {
		return domain.Deployment{}, apperr.Wrap(apperr.KindInvalid, "marshalling steps", err)
	}
	overrides, err := json.Marshal(d.DownstreamOverrides)
	if err != nil {
		return domain.Deployment{}, apperr.Wrap(apperr.KindInvalid, "marshalling downstream_overrides", err)
	}
	status := d.Status
	if status == "" {
		status = domain.DeploymentPending
	}
	var row deploymentRow
	err = s.db.GetContext(ctx, &row, `
		INSERT INTO deployments (service_id, version_id, environment_id, workflow_uuid, steps, downstream_overrides, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, service_id, version_id, environment_id, workflow_uuid, steps, downstream_overrides, status, created_at, completed_at`,
		d.ServiceID, d.VersionID, d.EnvironmentID, d.WorkflowUUID, steps, overrides, string(status))
	if err != nil {
		return domain.Deployment{}, apperr.Wrap(apperr.KindUnavailable, "creating deployment", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ResolveDeployment(ctx context.Context, id string) (domain.Deployment, error) {
	var row deploymentRow
	err := s.db.GetContext(ctx, &row, `SELECT id, service_id, version_id, environment_id, workflow_uuid, steps, downstream_overrides, status, created_at, completed_at FROM deployments WHERE id=$1`, id)
	if err != nil {
		return domain.Deployment{}, notFoundIf(err, fmt.Sprintf("deployment %s not found", id))
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateDeploymentStatus(ctx context.Context, id string, status domain.DeploymentStatus, completedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE deployments SET status=$1, completed_at=$2 WHERE id=$3`, string(status), completedAt, id)
	return softDeleteResult(err, res, fmt.Sprintf("deployment %s not found", id))
}

func (s *Store) SetDeploymentWorkflow(ctx context.Context, id, workflowUUID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE deployments SET workflow_uuid=$1 WHERE id=$2`, workflowUUID, id)
	return softDeleteResult(err, res, fmt.Sprintf("deployment %s not found", id))
}

func (s *Store) CountDeploymentsBefore(ctx context.Context, versionID string, environmentID *string, createdAt time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT count(*) FROM deployments
		WHERE version_id=$1 AND environment_id IS NOT DISTINCT FROM $2 AND created_at < $3`,
		versionID, environmentID, createdAt)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUnavailable, "counting prior deployments", err)
	}
	return count, nil
}

// --- Permissions ---

type permissionRow struct {
	ID string `db:"id"`
	UserID string `db:"user_id"`
	Scope string `db:"scope"`
	ResourceID string `db:"resource_id"`
	Actions []byte `db:"actions"`
	GrantedBy string `db:"granted_by"`
	GrantedAt time.Time `db:"granted_at"`
}

func (r permissionRow) toDomain() domain.ResourcePermission {
	p := domain.ResourcePermission{ID: r.ID, UserID: r.UserID, Scope: domain.PermissionScope(r.Scope), ResourceID: r.ResourceID, GrantedBy: r.GrantedBy, GrantedAt: r.GrantedAt}
	var actions []string
	_ = json.Unmarshal(r.Actions, &actions)
	for _, a := range actions {
		p.Actions = append(p.Actions, domain.PermissionAction(a))
	}
	return p
}

func (s *Store) GrantResourcePermission(ctx context.Context, p domain.ResourcePermission) (domain.ResourcePermission, error) {
	if len(p.Actions) == 0 {
		return domain.ResourcePermission{}, apperr.New(apperr.KindInvalid, "resource permission actions must be non-empty")
	}
	actions := make([]string, len(p.Actions))
	for i, a := range p.Actions {
		actions[i] = string(a)
	}
	raw, err := json.Marshal(actions)
	if err != nil {
		return domain.ResourcePermission{}, apperr.Wrap(apperr.KindInvalid, "marshalling actions", err)
	}
	var row permissionRow
	err = s.db.GetContext(ctx, &row, `
		INSERT INTO resource_permissions (user_id, scope, resource_id, actions, granted_by) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (user_id, scope, resource_id) DO UPDATE SET actions=EXCLUDED.actions, granted_by=EXCLUDED.granted_by, granted_at=now()
		RETURNING id, user_id, scope, resource_id, actions, granted_by, granted_at`,
		p.UserID, string(p.Scope), p.ResourceID, raw, p.GrantedBy)
	if err != nil {
		return domain.ResourcePermission{}, apperr.Wrap(apperr.KindUnavailable, "granting resource permission", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListResourcePermissions(ctx context.Context, filter store.ResourcePermissionFilter) ([]domain.ResourcePermission, error) {
	query := `SELECT id, user_id, scope, resource_id, actions, granted_by, granted_at FROM resource_permissions WHERE 1=1`
	var args []any
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		query += fmt.Sprintf(" AND user_id=$%d", len(args))
	}
	if filter.Scope != nil {
		args = append(args, string(*filter.Scope))
		query += fmt.Sprintf(" AND scope=$%d", len(args))
	}
	if filter.ResourceID != nil {
		args = append(args, *filter.ResourceID)
		query += fmt.Sprintf(" AND resource_id=$%d", len(args))
	}
	query += " ORDER BY granted_at"

	var rows []permissionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "listing resource permissions", err)
	}
	out := make([]domain.ResourcePermission, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
