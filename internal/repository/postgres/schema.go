package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema is idempotent. audit_logs rejects UPDATE and DELETE at the
// database level; retention purges run as a separate privileged role that
// disables the trigger.
const schema = `
CREATE TABLE IF NOT EXISTS roles (
	id          UUID PRIMARY KEY,
	name        VARCHAR(100) NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	permissions TEXT[] NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	CONSTRAINT roles_name_key UNIQUE (name)
);

CREATE TABLE IF NOT EXISTS organizations (
	id             UUID PRIMARY KEY,
	name           VARCHAR(255) NOT NULL,
	type           VARCHAR(50) NOT NULL DEFAULT '',
	address        TEXT NOT NULL DEFAULT '',
	phone          VARCHAR(32) NOT NULL DEFAULT '',
	email          VARCHAR(255) NOT NULL DEFAULT '',
	website        VARCHAR(255) NOT NULL DEFAULT '',
	license_number VARCHAR(100) NOT NULL DEFAULT '',
	is_verified    BOOLEAN NOT NULL DEFAULT FALSE,
	verified_at    TIMESTAMPTZ,
	verified_by    UUID,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	deleted_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS users (
	id                 UUID PRIMARY KEY,
	organization_id    UUID REFERENCES organizations (id),
	name               VARCHAR(255) NOT NULL,
	email              VARCHAR(255) NOT NULL,
	password_hash      TEXT NOT NULL,
	age                INTEGER,
	phone              VARCHAR(32),
	doctor_approved_at TIMESTAMPTZ,
	doctor_approved_by UUID,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL,
	deleted_at         TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS users_email_active_key ON users (lower(email)) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS user_roles (
	id          UUID PRIMARY KEY,
	user_id     UUID NOT NULL,
	role_id     UUID NOT NULL REFERENCES roles (id),
	assigned_at TIMESTAMPTZ NOT NULL,
	assigned_by UUID,
	revoked_at  TIMESTAMPTZ,
	revoked_by  UUID
);

CREATE UNIQUE INDEX IF NOT EXISTS user_roles_active_key ON user_roles (user_id, role_id) WHERE revoked_at IS NULL;
CREATE INDEX IF NOT EXISTS user_roles_user_idx ON user_roles (user_id, assigned_at);

CREATE TABLE IF NOT EXISTS audit_logs (
	seq           BIGSERIAL PRIMARY KEY,
	id            UUID NOT NULL UNIQUE,
	actor_id      UUID,
	action        VARCHAR(100) NOT NULL,
	resource_type VARCHAR(100) NOT NULL,
	resource_id   VARCHAR(255),
	old_value     JSONB,
	new_value     JSONB,
	outcome       VARCHAR(16) NOT NULL CHECK (outcome IN ('success', 'denied', 'failed')),
	origin        VARCHAR(64),
	user_agent    TEXT NOT NULL DEFAULT '',
	details       TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS audit_logs_created_at_idx ON audit_logs (created_at DESC, seq DESC);
CREATE INDEX IF NOT EXISTS audit_logs_actor_idx ON audit_logs (actor_id, created_at DESC, seq DESC);
CREATE INDEX IF NOT EXISTS audit_logs_resource_idx ON audit_logs (resource_type, resource_id, created_at DESC, seq DESC);

CREATE OR REPLACE FUNCTION audit_logs_append_only() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'audit_logs is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS audit_logs_no_mutation ON audit_logs;
CREATE TRIGGER audit_logs_no_mutation
	BEFORE UPDATE OR DELETE ON audit_logs
	FOR EACH ROW EXECUTE FUNCTION audit_logs_append_only();
`

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", classify(err))
	}
	return nil
}
