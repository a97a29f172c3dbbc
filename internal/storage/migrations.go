package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/kyleking/fedquery/internal/logging"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// MigrationManager handles database schema migrations
type MigrationManager struct {
	db *sql.DB
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// GetMigrations returns all available migrations in order
func (m *MigrationManager) GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Schema descriptor index",
			Up: `
				CREATE TABLE IF NOT EXISTS schema_descriptors (
					source_name VARCHAR NOT NULL,
					table_name VARCHAR NOT NULL,
					description TEXT NOT NULL,
					embedding VARCHAR,
					column_names VARCHAR,
					row_count BIGINT DEFAULT 0,
					has_primary_key BOOLEAN DEFAULT FALSE,
					foreign_key_count INTEGER DEFAULT 0,
					indexed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (source_name, table_name)
				);

				CREATE INDEX IF NOT EXISTS idx_schema_descriptors_source ON schema_descriptors(source_name);
			`,
			Down: `
				DROP INDEX IF EXISTS idx_schema_descriptors_source;
				DROP TABLE IF EXISTS schema_descriptors;
			`,
		},
		{
			Version:     2,
			Description: "Unstructured document index",
			Up: `
				CREATE TABLE IF NOT EXISTS documents (
					id VARCHAR PRIMARY KEY,
					source_name VARCHAR NOT NULL,
					title VARCHAR,
					content TEXT NOT NULL,
					metadata VARCHAR,
					embedding VARCHAR,
					created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source_name);
			`,
			Down: `
				DROP INDEX IF EXISTS idx_documents_source;
				DROP TABLE IF EXISTS documents;
			`,
		},
	}
}

// InitializeMigrationTable creates the migration tracking table
func (m *MigrationManager) InitializeMigrationTable(ctx context.Context) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`

	if _, err := m.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	return nil
}

// GetAppliedMigrations returns a list of applied migration versions
func (m *MigrationManager) GetAppliedMigrations(ctx context.Context) ([]int, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}

	defer rows.Close()

	var versions []int

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}

		versions = append(versions, version)
	}

	return versions, rows.Err()
}

// ApplyMigration applies a single migration
func (m *MigrationManager) ApplyMigration(ctx context.Context, migration Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		migration.Version, migration.Description)
	if err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	return tx.Commit()
}

// RollbackMigration rolls back a single migration
func (m *MigrationManager) RollbackMigration(ctx context.Context, migration Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %d: %w", migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record %d: %w", migration.Version, err)
	}

	return tx.Commit()
}

// MigrateUp applies all pending migrations
func (m *MigrationManager) MigrateUp(ctx context.Context) error {
	if err := m.InitializeMigrationTable(ctx); err != nil {
		return err
	}

	appliedVersions, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	appliedMap := make(map[int]bool)
	for _, version := range appliedVersions {
		appliedMap[version] = true
	}

	migrations := m.GetMigrations()
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for _, migration := range migrations {
		if appliedMap[migration.Version] {
			continue
		}

		logging.WithField("version", migration.Version).Infof("Applying migration: %s", migration.Description)

		if err := m.ApplyMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// MigrateDown rolls back migrations above targetVersion, newest first
func (m *MigrationManager) MigrateDown(ctx context.Context, targetVersion int) error {
	appliedVersions, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	migrationMap := make(map[int]Migration)
	for _, migration := range m.GetMigrations() {
		migrationMap[migration.Version] = migration
	}

	sort.Sort(sort.Reverse(sort.IntSlice(appliedVersions)))

	for _, version := range appliedVersions {
		if version <= targetVersion {
			break
		}

		migration, exists := migrationMap[version]
		if !exists {
			return fmt.Errorf("migration %d not found", version)
		}

		logging.WithField("version", version).Infof("Rolling back migration: %s", migration.Description)

		if err := m.RollbackMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", version, err)
		}
	}

	return nil
}

// MigrationStatus represents the status of a migration
type MigrationStatus struct {
	Version     int       `json:"version"`
	Description string    `json:"description"`
	Applied     bool      `json:"applied"`
	AppliedAt   time.Time `json:"applied_at,omitempty"`
}

// GetMigrationStatus returns the current migration status
func (m *MigrationManager) GetMigrationStatus(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.InitializeMigrationTable(ctx); err != nil {
		return nil, err
	}

	applied := make(map[int]time.Time)

	rows, err := m.db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			version   int
			appliedAt time.Time
		)
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}

		applied[version] = appliedAt
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	migrations := m.GetMigrations()
	status := make([]MigrationStatus, 0, len(migrations))

	for _, migration := range migrations {
		appliedAt, ok := applied[migration.Version]
		status = append(status, MigrationStatus{
			Version:     migration.Version,
			Description: migration.Description,
			Applied:     ok,
			AppliedAt:   appliedAt,
		})
	}

	return status, nil
}
