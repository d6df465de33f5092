package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrSessionNotFound is returned when a session row does not exist
var ErrSessionNotFound = errors.New("session not found")

func scanSession(scan func(dest ...any) error) (Session, error) {
	var s Session
	var engineID sql.NullString
	var active int
	var metadata string
	err := scan(&s.ID, &engineID, &s.CreatedAt, &s.LastActivity, &s.MessageCount, &active, &metadata)
	if err != nil {
		return s, err
	}
	s.EngineSessionID = engineID.String
	s.IsActive = active != 0
	s.Metadata = json.RawMessage(metadata)
	return s, nil
}

const sessionColumns = "id, engine_session_id, created_at, last_activity, message_count, is_active, metadata"

// CreateSession inserts a new session row. New sessions start active
// because creation always precedes the first turn.
func (d *DB) CreateSession(id string, createdAt int64, metadata json.RawMessage) (*Session, error) {
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}
	_, err := d.Run(
		`INSERT INTO sessions (id, created_at, last_activity, message_count, is_active, metadata)
		 VALUES (?, ?, ?, 0, 1, ?)`,
		id, createdAt, createdAt, string(metadata),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &Session{
		ID:           id,
		CreatedAt:    createdAt,
		LastActivity: createdAt,
		IsActive:     true,
		Metadata:     metadata,
	}, nil
}

// UpdateSession applies a partial update to a session row
func (d *DB) UpdateSession(id string, patch SessionPatch) error {
	var sets []string
	var params []QueryParam

	if patch.EngineSessionID != nil {
		sets = append(sets, "engine_session_id = ?")
		params = append(params, *patch.EngineSessionID)
	}
	if patch.LastActivity != nil {
		sets = append(sets, "last_activity = ?")
		params = append(params, *patch.LastActivity)
	}
	if patch.MessageCount != nil {
		sets = append(sets, "message_count = ?")
		params = append(params, *patch.MessageCount)
	}
	if patch.IsActive != nil {
		sets = append(sets, "is_active = ?")
		params = append(params, boolToInt(*patch.IsActive))
	}
	if patch.Metadata != nil {
		sets = append(sets, "metadata = ?")
		params = append(params, string(patch.Metadata))
	}
	if len(sets) == 0 {
		return nil
	}
	params = append(params, id)

	result, err := d.Run("UPDATE sessions SET "+strings.Join(sets, ", ")+" WHERE id = ?", params...)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// GetSession returns one session or ErrSessionNotFound
func (d *DB) GetSession(id string) (*Session, error) {
	s, err := SelectOne(d,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = ?",
		[]QueryParam{id},
		func(row *sql.Row) (Session, error) { return scanSession(row.Scan) },
	)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// ListSessions returns sessions ordered by most recent activity
func (d *DB) ListSessions(limit, offset int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	return Select(d,
		"SELECT "+sessionColumns+" FROM sessions ORDER BY last_activity DESC LIMIT ? OFFSET ?",
		[]QueryParam{limit, offset},
		func(rows *sql.Rows) (Session, error) { return scanSession(rows.Scan) },
	)
}

// ListActiveSessions returns sessions with a turn in flight
func (d *DB) ListActiveSessions() ([]Session, error) {
	return Select(d,
		"SELECT "+sessionColumns+" FROM sessions WHERE is_active = 1 ORDER BY last_activity DESC",
		nil,
		func(rows *sql.Rows) (Session, error) { return scanSession(rows.Scan) },
	)
}

// DeleteSession removes a session row; messages cascade
func (d *DB) DeleteSession(id string) error {
	result, err := d.Run("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// CleanupOldSessions deletes inactive sessions whose last activity is
// older than the given number of days. Returns the number of rows removed.
func (d *DB) CleanupOldSessions(days int) (int64, error) {
	cutoff := NowMillis() - int64(days)*24*60*60*1000
	result, err := d.Run(
		"DELETE FROM sessions WHERE is_active = 0 AND last_activity < ?",
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
