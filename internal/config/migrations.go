package config

import "fmt"

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS databases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			driver TEXT NOT NULL,
			dsn TEXT NOT NULL,
			private_key_path TEXT NOT NULL DEFAULT '',
			schema_name TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			workers INTEGER NOT NULL DEFAULT 32,
			completion_workers INTEGER NOT NULL DEFAULT 4,
			max_open_conns INTEGER NOT NULL DEFAULT 25,
			max_idle_conns INTEGER NOT NULL DEFAULT 5,
			conn_max_lifetime_ms INTEGER NOT NULL DEFAULT 300000,
			conn_max_idle_time_ms INTEGER NOT NULL DEFAULT 60000,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Entity definitions: the clause and its YAML/JSON sidecar. name_key
		// is the lowercased name; version increases on every save.
		`CREATE TABLE IF NOT EXISTS entities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			name_key TEXT UNIQUE NOT NULL,
			clause TEXT NOT NULL,
			sidecar TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
