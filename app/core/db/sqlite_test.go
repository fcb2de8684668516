package db

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestNewSQLiteDBCreatesSchema(t *testing.T) {
	tempDir := t.TempDir()

	database, err := NewSQLiteDB(tempDir)
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	defer database.Close()

	for _, table := range []string{"actions", "action_configs", "chat_trigger_configs", "task_templates", "task_executions", "extensions"} {
		var name string
		err := database.Conn().QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}

	var version string
	if err := database.Conn().QueryRow(`SELECT value FROM schema_meta WHERE key = 'schema_version'`).Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "2" {
		t.Fatalf("unexpected schema version: %s", version)
	}
}

func TestNewSQLiteDBMigratesExtensionSecrets(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "goosuke.db")

	// Seed a version 1 database without the secrets column.
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open seed connection: %v", err)
	}
	if _, err := conn.Exec(`CREATE TABLE schema_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		t.Fatalf("seed schema_meta: %v", err)
	}
	tx, err := conn.Begin()
	if err != nil {
		t.Fatalf("begin seed tx: %v", err)
	}
	if err := migrateToCoreSchema(tx); err != nil {
		t.Fatalf("seed core schema: %v", err)
	}
	if err := writeSchemaVersion(tx, 1); err != nil {
		t.Fatalf("seed schema version: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit seed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close seed connection: %v", err)
	}

	database, err := NewSQLiteDB(tempDir)
	if err != nil {
		t.Fatalf("reopen with migration failed: %v", err)
	}
	defer database.Close()

	if _, err := database.Conn().Exec(`INSERT INTO extensions (id, name, enabled, secrets, created_at, updated_at) VALUES ('ext-1', 'web', 1, '["API_KEY"]', 0, 0)`); err != nil {
		t.Fatalf("secrets column not migrated: %v", err)
	}
}

func TestNewSQLiteDBRejectsNewerSchema(t *testing.T) {
	tempDir := t.TempDir()

	database, err := NewSQLiteDB(tempDir)
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	if _, err := database.Conn().Exec(`UPDATE schema_meta SET value = '99' WHERE key = 'schema_version'`); err != nil {
		t.Fatalf("bump schema version: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Fatalf("close database: %v", err)
	}

	if _, err := NewSQLiteDB(tempDir); err == nil {
		t.Fatal("expected error for newer schema version")
	}
}
