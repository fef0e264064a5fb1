package config

import (
	"fmt"
	"strings"
)

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS models (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			table_name TEXT UNIQUE NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			has_timestamps INTEGER NOT NULL DEFAULT 1,
			has_soft_deletes INTEGER NOT NULL DEFAULT 0,
			api_enabled INTEGER NOT NULL DEFAULT 1,
			is_active INTEGER NOT NULL DEFAULT 1,
			list_rule TEXT NOT NULL DEFAULT '',
			view_rule TEXT NOT NULL DEFAULT '',
			create_rule TEXT NOT NULL DEFAULT '',
			update_rule TEXT NOT NULL DEFAULT '',
			delete_rule TEXT NOT NULL DEFAULT '',
			settings_json TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS model_fields (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model_id INTEGER NOT NULL REFERENCES models(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			required INTEGER NOT NULL DEFAULT 0,
			is_unique INTEGER NOT NULL DEFAULT 0,
			indexed INTEGER NOT NULL DEFAULT 0,
			searchable INTEGER NOT NULL DEFAULT 0,
			filterable INTEGER NOT NULL DEFAULT 0,
			sortable INTEGER NOT NULL DEFAULT 0,
			hidden INTEGER NOT NULL DEFAULT 0,
			default_value TEXT NOT NULL DEFAULT '',
			validation_json TEXT NOT NULL DEFAULT '[]',
			options_json TEXT NOT NULL DEFAULT '[]',
			synced_at DATETIME,
			UNIQUE(model_id, name)
		)`,

		`CREATE TABLE IF NOT EXISTS model_relationships (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model_id INTEGER NOT NULL REFERENCES models(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			related_model TEXT NOT NULL,
			kind TEXT NOT NULL,
			foreign_key TEXT NOT NULL,
			local_key TEXT NOT NULL DEFAULT 'id',
			pivot_table TEXT NOT NULL DEFAULT '',
			related_pivot_key TEXT NOT NULL DEFAULT '',
			UNIQUE(model_id, name)
		)`,

		`CREATE TABLE IF NOT EXISTS admins (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			last_login_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL DEFAULT '',
			owner_id INTEGER,
			key_prefix TEXT NOT NULL,
			lookup_hash TEXT UNIQUE NOT NULL,
			token_hash TEXT NOT NULL,
			salt TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'public',
			scopes INTEGER NOT NULL DEFAULT 1,
			allowed_tables_json TEXT,
			rate_limit INTEGER NOT NULL DEFAULT 60,
			is_active INTEGER NOT NULL DEFAULT 1,
			expires_at DATETIME,
			last_used_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS webhooks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model_id INTEGER NOT NULL REFERENCES models(id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			secret TEXT NOT NULL DEFAULT '',
			events_json TEXT NOT NULL DEFAULT '[]',
			headers_json TEXT NOT NULL DEFAULT '{}',
			condition_expr TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			failure_count INTEGER NOT NULL DEFAULT 0,
			last_triggered_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS api_analytics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER,
			api_key_id INTEGER,
			table_name TEXT NOT NULL DEFAULT '',
			method TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			client_ip TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_model_fields_model_id ON model_fields(model_id)`,
		`CREATE INDEX IF NOT EXISTS idx_webhooks_model_id ON webhooks(model_id)`,
		`CREATE INDEX IF NOT EXISTS idx_api_analytics_created ON api_analytics(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_api_analytics_table ON api_analytics(table_name)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// SQLite ALTER TABLE ADD COLUMN fails if column already exists;
			// treat "duplicate column" as a no-op for idempotent migrations.
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
