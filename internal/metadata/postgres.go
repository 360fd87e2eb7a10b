package metadata

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

// PostgresStore implements the MetadataStore interface using PostgreSQL,
// selected when the DB_HOST environment variable is configured. Timestamps
// are stored as ISO-8601 TEXT so the scan code is shared with SQLite.
type PostgresStore struct {
	sqlStore
}

// NewPostgresStore opens a connection pool to the given PostgreSQL DSN and
// initializes the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening PostgreSQL database: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)

	s := &PostgresStore{sqlStore{db: db, flavor: "postgres"}}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing PostgreSQL database: %w", err)
	}
	return s, nil
}

// initDB creates the required tables and indexes. Idempotent via IF NOT EXISTS.
func (s *PostgresStore) initDB() error {
	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS access_keys (
			access_key_id TEXT PRIMARY KEY,
			secret_key    TEXT NOT NULL,
			display_name  TEXT NOT NULL DEFAULT '',
			active        INTEGER NOT NULL DEFAULT 1,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS buckets (
			name       TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL REFERENCES access_keys(access_key_id),
			region     TEXT NOT NULL DEFAULT 'us-east-1',
			acl        TEXT NOT NULL DEFAULT 'private',
			max_size   BIGINT NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS objects (
			bucket        TEXT NOT NULL REFERENCES buckets(name) ON DELETE CASCADE,
			key           TEXT NOT NULL,
			size          BIGINT NOT NULL,
			etag          TEXT NOT NULL,
			content_type  TEXT NOT NULL DEFAULT 'application/octet-stream',
			storage_path  TEXT NOT NULL,
			user_metadata TEXT NOT NULL DEFAULT '{}',
			last_modified TEXT NOT NULL,
			created_at    TEXT NOT NULL,

			PRIMARY KEY (bucket, key)
		);

		CREATE INDEX IF NOT EXISTS idx_objects_bucket_key ON objects(bucket, key);

		CREATE TABLE IF NOT EXISTS multipart_uploads (
			upload_id     TEXT PRIMARY KEY,
			bucket        TEXT NOT NULL REFERENCES buckets(name) ON DELETE CASCADE,
			key           TEXT NOT NULL,
			content_type  TEXT NOT NULL DEFAULT 'application/octet-stream',
			user_metadata TEXT NOT NULL DEFAULT '{}',
			initiated_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_uploads_bucket_key ON multipart_uploads(bucket, key);

		CREATE TABLE IF NOT EXISTS multipart_parts (
			upload_id    TEXT NOT NULL REFERENCES multipart_uploads(upload_id) ON DELETE CASCADE,
			part_number  INTEGER NOT NULL,
			size         BIGINT NOT NULL,
			etag         TEXT NOT NULL,
			storage_path TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,

			PRIMARY KEY (upload_id, part_number)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	_, err := s.db.Exec(
		`INSERT INTO schema_version (version, applied_at) VALUES (1, $1)
		 ON CONFLICT (version) DO NOTHING`,
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting schema version: %w", err)
	}

	return nil
}
