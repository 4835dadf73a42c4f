// Copyright Contributors to the env360 project

package postgres

// schema is applied by the `env360 migrate` command. It is intentionally
// a single idempotent script (CREATE TABLE IF NOT EXISTS) rather than a
// directory of numbered migrations, run by the `migrate` cobra
// subcommand.
const schema = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	email TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT true,
	is_admin BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_users_email ON users (email) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS projects (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	owner_id UUID NOT NULL REFERENCES users(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_projects_name ON projects (name) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS kubernetes_clusters (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name TEXT NOT NULL UNIQUE,
	api_url TEXT NOT NULL,
	auth_method TEXT NOT NULL,
	environment_type TEXT,
	kubeconfig_content TEXT,
	token TEXT,
	client_key TEXT,
	client_cert TEXT,
	client_ca_cert TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS environments (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	cluster_id UUID REFERENCES kubernetes_clusters(id) ON DELETE SET NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_environments_name_project ON environments (project_id, name) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS services (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	owner TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'unknown',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_services_name_project ON services (project_id, name) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS service_environments (
	service_id UUID NOT NULL REFERENCES services(id) ON DELETE CASCADE,
	environment_id UUID NOT NULL REFERENCES environments(id) ON DELETE CASCADE,
	PRIMARY KEY (service_id, environment_id)
);

CREATE TABLE IF NOT EXISTS configs (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	scope TEXT NOT NULL,
	parent_id UUID NOT NULL,
	key TEXT NOT NULL,
	value TEXT,
	config_data JSONB,
	workflow_uuid UUID,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_configs_parent_key ON configs (scope, parent_id, key) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS admin_config (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	key TEXT NOT NULL UNIQUE,
	value TEXT,
	config_data JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS variables (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	scope TEXT NOT NULL,
	resource_id UUID NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	secret BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_variables_scope_resource_key ON variables (scope, resource_id, key) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS service_versions (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	service_id UUID NOT NULL REFERENCES services(id) ON DELETE CASCADE,
	version_label TEXT NOT NULL,
	config_hash TEXT NOT NULL,
	spec_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_service_versions_label ON service_versions (service_id, version_label);
CREATE INDEX IF NOT EXISTS ix_service_versions_hash ON service_versions (service_id, config_hash);

CREATE TABLE IF NOT EXISTS deployments (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	service_id UUID NOT NULL REFERENCES services(id),
	version_id UUID NOT NULL REFERENCES service_versions(id),
	environment_id UUID REFERENCES environments(id) ON DELETE SET NULL,
	workflow_uuid UUID,
	steps JSONB NOT NULL DEFAULT '[]',
	downstream_overrides JSONB,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS ix_deployments_service_created_at ON deployments (version_id, environment_id, created_at);

CREATE TABLE IF NOT EXISTS resource_permissions (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id UUID NOT NULL REFERENCES users(id),
	scope TEXT NOT NULL,
	resource_id UUID NOT NULL,
	actions JSONB NOT NULL,
	granted_by UUID NOT NULL REFERENCES users(id),
	granted_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_resource_permissions ON resource_permissions (user_id, scope, resource_id);

CREATE TABLE IF NOT EXISTS workflow_status (
	workflow_uuid UUID PRIMARY KEY,
	status TEXT NOT NULL,
	name TEXT NOT NULL,
	inputs JSONB,
	application_version TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS operation_outputs (
	workflow_uuid UUID NOT NULL REFERENCES workflow_status(workflow_uuid),
	function_id INT NOT NULL,
	function_name TEXT NOT NULL,
	output JSONB,
	error TEXT,
	child_workflow_id UUID,
	started_at_epoch_ms BIGINT NOT NULL,
	completed_at_epoch_ms BIGINT,
	PRIMARY KEY (workflow_uuid, function_id)
);

CREATE TABLE IF NOT EXISTS workflow_events (
	workflow_uuid UUID NOT NULL REFERENCES workflow_status(workflow_uuid),
	key TEXT NOT NULL,
	value BYTEA NOT NULL,
	PRIMARY KEY (workflow_uuid, key)
);

CREATE TABLE IF NOT EXISTS workflow_streams (
	workflow_uuid UUID NOT NULL REFERENCES workflow_status(workflow_uuid),
	key TEXT NOT NULL,
	seq INT NOT NULL,
	value BYTEA NOT NULL,
	PRIMARY KEY (workflow_uuid, key, seq)
);
`
