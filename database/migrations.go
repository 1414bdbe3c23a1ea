package database

import "fmt"

type migration struct {
	version     int
	description string
	sql         string
}

// migrations contains all database migrations in order.
var migrations = []migration{
	{version: 1, description: "Write session history", sql: initialSchema},
	{version: 2, description: "Mirror downloads", sql: downloadsSchema},
}

func (d *DB) initSchema() error {
	if _, err := d.db.Exec(schemaMigrationsTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	for _, m := range migrations {
		if err := d.runMigration(m); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
	}
	return nil
}

func (d *DB) runMigration(m migration) error {
	var exists bool
	err := d.db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", m.version).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}
	if exists {
		return nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, description) VALUES (?, ?)", m.version, m.description); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration.
func (d *DB) SchemaVersion() (int, error) {
	var v int
	if err := d.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}
