// Package dbtest opens throwaway sqlite databases carrying the relay schema.
package dbtest

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-relay/pkg/db"
)

// Schema mirrors pkg/migrate/migrations in sqlite syntax. Time columns are
// DATETIME so the driver scans them back into time.Time.
var Schema = []string{
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		schema_version TEXT NOT NULL DEFAULT '1.0',
		idempotency_key TEXT NULL,
		trace_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'processing', 'sent', 'failed', 'dead_letter')),
		attempt_count INTEGER NOT NULL DEFAULT 0 CHECK (attempt_count >= 0),
		next_attempt_at DATETIME NOT NULL,
		leased_at DATETIME NULL,
		lease_owner TEXT NULL,
		last_error TEXT NULL,
		sent_at DATETIME NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_outbox_events_active_idempotency
		ON outbox_events (tenant_id, event_type, idempotency_key)
		WHERE idempotency_key IS NOT NULL AND status IN ('pending', 'processing')`,
	`CREATE TABLE dead_letters (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		schema_version TEXT NOT NULL DEFAULT '1.0',
		idempotency_key TEXT NULL,
		trace_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		reason TEXT NOT NULL CHECK (reason IN ('max_attempts', 'non_retryable', 'tenant_unknown')),
		last_error TEXT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		event_created_at DATETIME NOT NULL,
		failed_at DATETIME NOT NULL
	)`,
	`CREATE TABLE processed_events (
		tenant_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (tenant_id, event_type, idempotency_key)
	)`,
}

// Open creates a file-backed sqlite database under t.TempDir with the schema
// applied. A single connection keeps concurrent writers serialized.
func Open(t testing.TB) *db.Client {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "relay.db") + "?_busy_timeout=5000&_foreign_keys=on"
	conn, err := gorm.Open(sqlite.Open(dsn), db.GormConfig(nil, 0))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range Schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db.NewFromConn(conn)
}
