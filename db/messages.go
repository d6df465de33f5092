package db

import (
	"database/sql"
	"encoding/json"
)

// NewMessage holds the fields of a message to append
type NewMessage struct {
	SessionID string
	Type      string
	Subtype   string
	Content   string
	Timestamp int64
	Cost      *float64
	Duration  *int64
	Metadata  json.RawMessage
}

const messageColumns = "id, session_id, type, subtype, content, timestamp, cost, duration, metadata"

func scanMessage(scan func(dest ...any) error) (Message, error) {
	var m Message
	var subtype, content sql.NullString
	var cost sql.NullFloat64
	var duration sql.NullInt64
	var metadata string
	err := scan(&m.ID, &m.SessionID, &m.Type, &subtype, &content, &m.Timestamp, &cost, &duration, &metadata)
	if err != nil {
		return m, err
	}
	m.Subtype = subtype.String
	m.Content = content.String
	if cost.Valid {
		m.Cost = &cost.Float64
	}
	if duration.Valid {
		m.Duration = &duration.Int64
	}
	m.Metadata = json.RawMessage(metadata)
	return m, nil
}

// AppendMessage inserts a message and bumps the parent session's
// message_count and last_activity in the same transaction, so the
// counter can never drift from the actual row count.
func (d *DB) AppendMessage(msg NewMessage) (int64, error) {
	if msg.Timestamp == 0 {
		msg.Timestamp = NowMillis()
	}
	metadata := msg.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	var id int64
	err := d.withTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(
			`INSERT INTO messages (session_id, type, subtype, content, timestamp, cost, duration, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.SessionID, msg.Type, nullString(msg.Subtype), nullString(msg.Content),
			msg.Timestamp, msg.Cost, msg.Duration, string(metadata),
		)
		if err != nil {
			return err
		}
		id, err = result.LastInsertId()
		if err != nil {
			return err
		}

		_, err = tx.Exec(
			`UPDATE sessions SET message_count = message_count + 1, last_activity = ? WHERE id = ?`,
			msg.Timestamp, msg.SessionID,
		)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// DeleteMessage removes a single message row and decrements the parent
// session's counter in the same transaction. Used to undo a persisted
// prompt the queue rejected.
func (d *DB) DeleteMessage(id int64, sessionID string) error {
	return d.withTx(func(tx *sql.Tx) error {
		result, err := tx.Exec("DELETE FROM messages WHERE id = ? AND session_id = ?", id, sessionID)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil || affected == 0 {
			return err
		}
		_, err = tx.Exec(
			`UPDATE sessions SET message_count = message_count - 1 WHERE id = ?`,
			sessionID,
		)
		return err
	})
}

// ListMessages returns a session's messages in chronological order
func (d *DB) ListMessages(sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	return Select(d,
		"SELECT "+messageColumns+" FROM messages WHERE session_id = ? ORDER BY timestamp ASC, id ASC LIMIT ?",
		[]QueryParam{sessionID, limit},
		func(rows *sql.Rows) (Message, error) { return scanMessage(rows.Scan) },
	)
}

// SearchMessages finds messages whose content contains the given substring
func (d *DB) SearchMessages(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	return Select(d,
		`SELECT m.id, m.session_id, m.type, m.subtype, m.content, m.timestamp, m.cost, m.duration, m.metadata,
		        s.created_at
		 FROM messages m
		 JOIN sessions s ON s.id = m.session_id
		 WHERE m.content LIKE ?
		 ORDER BY m.timestamp DESC
		 LIMIT ?`,
		[]QueryParam{"%" + query + "%", limit},
		func(rows *sql.Rows) (SearchResult, error) {
			var r SearchResult
			var subtype, content sql.NullString
			var cost sql.NullFloat64
			var duration sql.NullInt64
			var metadata string
			err := rows.Scan(&r.ID, &r.SessionID, &r.Type, &subtype, &content,
				&r.Timestamp, &cost, &duration, &metadata, &r.SessionCreatedAt)
			if err != nil {
				return r, err
			}
			r.Subtype = subtype.String
			r.Content = content.String
			if cost.Valid {
				r.Cost = &cost.Float64
			}
			if duration.Valid {
				r.Duration = &duration.Int64
			}
			r.Metadata = json.RawMessage(metadata)
			return r, nil
		},
	)
}

// GetStats returns totals across all sessions and messages
func (d *DB) GetStats() (*Stats, error) {
	stats := &Stats{MessagesByType: make(map[string]int)}

	row := d.conn.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM sessions WHERE is_active = 1),
			(SELECT COUNT(*) FROM messages),
			(SELECT COALESCE(SUM(cost), 0) FROM messages WHERE cost IS NOT NULL)
	`)
	if err := row.Scan(&stats.TotalSessions, &stats.ActiveSessions, &stats.TotalMessages, &stats.TotalCostUSD); err != nil {
		return nil, err
	}

	rows, err := d.conn.Query("SELECT type, COUNT(*) FROM messages GROUP BY type")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		stats.MessagesByType[t] = n
	}
	return stats, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
