package db

import (
	"database/sql"
)

func init() {
	RegisterMigration(Migration{
		Version:     1,
		Description: "Create sessions, messages, and clients tables",
		Up:          migration001_initial,
	})
}

func migration001_initial(database *sql.DB) error {
	tx, err := database.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id                TEXT PRIMARY KEY,
			engine_session_id TEXT,
			created_at        INTEGER NOT NULL,
			last_activity     INTEGER NOT NULL,
			message_count     INTEGER NOT NULL DEFAULT 0,
			is_active         INTEGER NOT NULL DEFAULT 0,
			metadata          TEXT NOT NULL DEFAULT '{}'
		)
	`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			type       TEXT NOT NULL,
			subtype    TEXT,
			content    TEXT,
			timestamp  INTEGER NOT NULL,
			cost       REAL,
			duration   INTEGER,
			metadata   TEXT NOT NULL DEFAULT '{}'
		)
	`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS clients (
			id                 TEXT PRIMARY KEY,
			connected_at       INTEGER NOT NULL,
			disconnected_at    INTEGER,
			current_session_id TEXT
		)
	`); err != nil {
		return err
	}

	indices := []string{
		`CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_type ON messages(type)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_is_active ON sessions(is_active)`,
	}
	for _, stmt := range indices {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return tx.Commit()
}
