package clustersync

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS working_copy_versions (
	repository_id TEXT NOT NULL,
	device_id     TEXT NOT NULL,
	version       BIGINT NOT NULL DEFAULT 0,
	is_writing    BOOLEAN NOT NULL DEFAULT FALSE,
	write_props   JSONB NOT NULL DEFAULT '{}',
	write_owner   TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (repository_id, device_id)
);

CREATE TABLE IF NOT EXISTS bindings (
	repository_id TEXT NOT NULL,
	device_id     TEXT NOT NULL,
	transport     TEXT NOT NULL,
	host_address  TEXT NOT NULL,
	PRIMARY KEY (repository_id, device_id)
);

CREATE TABLE IF NOT EXISTS repositories (
	repository_id      TEXT PRIMARY KEY,
	display_name       TEXT NOT NULL,
	working_copy_path  TEXT NOT NULL,
	family             TEXT NOT NULL,
	hosted             BOOLEAN NOT NULL DEFAULT TRUE,
	cluster_service_id TEXT NOT NULL DEFAULT ''
);
`

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}
