package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/faucetdb/cistern/internal/model"
)

// Store manages cistern's persistent state backed by SQLite: registered
// databases, stored entity definitions and settings.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new config store. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "cistern.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open config database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate config database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Database CRUD
// ---------------------------------------------------------------------------

// databaseRow maps 1:1 to the databases table. model.DatabaseConfig nests
// the pool limits, which do not map directly to columns.
type databaseRow struct {
	ID                int64     `db:"id"`
	Name              string    `db:"name"`
	Label             string    `db:"label"`
	Driver            string    `db:"driver"`
	DSN               string    `db:"dsn"`
	PrivateKeyPath    string    `db:"private_key_path"`
	SchemaName        string    `db:"schema_name"`
	IsActive          bool      `db:"is_active"`
	Workers           int       `db:"workers"`
	CompletionWorkers int       `db:"completion_workers"`
	MaxOpenConns      int       `db:"max_open_conns"`
	MaxIdleConns      int       `db:"max_idle_conns"`
	ConnMaxLifetimeMs int64     `db:"conn_max_lifetime_ms"`
	ConnMaxIdleTimeMs int64     `db:"conn_max_idle_time_ms"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func databaseRowFromModel(d *model.DatabaseConfig) databaseRow {
	return databaseRow{
		ID:                d.ID,
		Name:              d.Name,
		Label:             d.Label,
		Driver:            d.Driver,
		DSN:               d.DSN,
		PrivateKeyPath:    d.PrivateKeyPath,
		SchemaName:        d.Schema,
		IsActive:          d.IsActive,
		Workers:           d.Workers,
		CompletionWorkers: d.CompletionWorkers,
		MaxOpenConns:      d.Pool.MaxOpenConns,
		MaxIdleConns:      d.Pool.MaxIdleConns,
		ConnMaxLifetimeMs: d.Pool.ConnMaxLifetime.Milliseconds(),
		ConnMaxIdleTimeMs: d.Pool.ConnMaxIdleTime.Milliseconds(),
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func (r databaseRow) toModel() model.DatabaseConfig {
	return model.DatabaseConfig{
		ID:                r.ID,
		Name:              r.Name,
		Label:             r.Label,
		Driver:            r.Driver,
		DSN:               r.DSN,
		PrivateKeyPath:    r.PrivateKeyPath,
		Schema:            r.SchemaName,
		IsActive:          r.IsActive,
		Workers:           r.Workers,
		CompletionWorkers: r.CompletionWorkers,
		Pool: model.PoolConfig{
			MaxOpenConns:    r.MaxOpenConns,
			MaxIdleConns:    r.MaxIdleConns,
			ConnMaxLifetime: time.Duration(r.ConnMaxLifetimeMs) * time.Millisecond,
			ConnMaxIdleTime: time.Duration(r.ConnMaxIdleTimeMs) * time.Millisecond,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// CreateDatabase inserts a new database registration. The ID, CreatedAt,
// and UpdatedAt fields on d are populated after a successful insert.
func (s *Store) CreateDatabase(ctx context.Context, d *model.DatabaseConfig) error {
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	row := databaseRowFromModel(d)

	const q = `INSERT INTO databases
		(name, label, driver, dsn, private_key_path, schema_name, is_active, workers, completion_workers,
		 max_open_conns, max_idle_conns, conn_max_lifetime_ms, conn_max_idle_time_ms,
		 created_at, updated_at)
		VALUES
		(:name, :label, :driver, :dsn, :private_key_path, :schema_name, :is_active, :workers, :completion_workers,
		 :max_open_conns, :max_idle_conns, :conn_max_lifetime_ms, :conn_max_idle_time_ms,
		 :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("insert database: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get database id: %w", err)
	}
	d.ID = id
	return nil
}

// GetDatabase returns a database registration by ID.
func (s *Store) GetDatabase(ctx context.Context, id int64) (*model.DatabaseConfig, error) {
	var row databaseRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM databases WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get database: %w", err)
	}
	d := row.toModel()
	return &d, nil
}

// GetDatabaseByName returns a database registration by its unique name.
func (s *Store) GetDatabaseByName(ctx context.Context, name string) (*model.DatabaseConfig, error) {
	var row databaseRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM databases WHERE name = ?", name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get database by name: %w", err)
	}
	d := row.toModel()
	return &d, nil
}

// ListDatabases returns all registered databases ordered by name.
func (s *Store) ListDatabases(ctx context.Context) ([]model.DatabaseConfig, error) {
	var rows []databaseRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM databases ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}

	out := make([]model.DatabaseConfig, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// UpdateDatabase updates an existing registration. The UpdatedAt field on d
// is refreshed automatically.
func (s *Store) UpdateDatabase(ctx context.Context, d *model.DatabaseConfig) error {
	d.UpdatedAt = time.Now().UTC()
	row := databaseRowFromModel(d)

	const q = `UPDATE databases SET
		name = :name, label = :label, driver = :driver, dsn = :dsn, private_key_path = :private_key_path,
		schema_name = :schema_name, is_active = :is_active, workers = :workers,
		completion_workers = :completion_workers, max_open_conns = :max_open_conns,
		max_idle_conns = :max_idle_conns, conn_max_lifetime_ms = :conn_max_lifetime_ms,
		conn_max_idle_time_ms = :conn_max_idle_time_ms, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("update database: %w", err)
	}
	return expectRow(result, "update database")
}

// DeleteDatabase removes a registration by name.
func (s *Store) DeleteDatabase(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM databases WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete database: %w", err)
	}
	return expectRow(result, "delete database")
}

// ---------------------------------------------------------------------------
// Entity definitions
// ---------------------------------------------------------------------------

const entityColumns = "id, name, clause, sidecar, version, created_at, updated_at"

// SaveEntity inserts or replaces the definition named e.Name (ignoring
// case) and bumps its version. ID, Version and the timestamps on e are
// refreshed.
func (s *Store) SaveEntity(ctx context.Context, e *model.StoredEntity) error {
	now := time.Now().UTC()

	const q = `INSERT INTO entities (name, name_key, clause, sidecar, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(name_key) DO UPDATE SET
			name = excluded.name,
			clause = excluded.clause,
			sidecar = excluded.sidecar,
			version = entities.version + 1,
			updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, q, e.Name, strings.ToLower(e.Name), e.Clause, e.Sidecar, now, now); err != nil {
		return fmt.Errorf("save entity: %w", err)
	}
	saved, err := s.GetEntity(ctx, e.Name)
	if err != nil {
		return err
	}
	*e = *saved
	return nil
}

// GetEntity returns a stored definition by name, ignoring case.
func (s *Store) GetEntity(ctx context.Context, name string) (*model.StoredEntity, error) {
	var e model.StoredEntity
	q := "SELECT " + entityColumns + " FROM entities WHERE name_key = ?"
	if err := s.db.GetContext(ctx, &e, q, strings.ToLower(name)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get entity: %w", err)
	}
	return &e, nil
}

// entityVersion returns the version of a stored definition.
func (s *Store) entityVersion(ctx context.Context, name string) (int64, error) {
	var v int64
	if err := s.db.GetContext(ctx, &v, "SELECT version FROM entities WHERE name_key = ?", strings.ToLower(name)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("get entity version: %w", err)
	}
	return v, nil
}

// ListEntities returns all stored definitions ordered by name.
func (s *Store) ListEntities(ctx context.Context) ([]model.StoredEntity, error) {
	var out []model.StoredEntity
	if err := s.db.SelectContext(ctx, &out, "SELECT "+entityColumns+" FROM entities ORDER BY name_key"); err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return out, nil
}

// DeleteEntity removes a stored definition by name, ignoring case.
func (s *Store) DeleteEntity(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM entities WHERE name_key = ?", strings.ToLower(name))
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	return expectRow(result, "delete entity")
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// GetSetting returns the value stored under key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	if err := s.db.GetContext(ctx, &v, "SELECT value FROM settings WHERE key = ?", key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return v, nil
}

// SetSetting stores value under key, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

func expectRow(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
