package db

import "database/sql"

// RegisterClient records a newly connected WebSocket client
func (d *DB) RegisterClient(id string, connectedAt int64) error {
	_, err := d.Run(
		`INSERT OR REPLACE INTO clients (id, connected_at, disconnected_at, current_session_id)
		 VALUES (?, ?, NULL, NULL)`,
		id, connectedAt,
	)
	return err
}

// SetClientSession records which session a client is subscribed to.
// Pass an empty session id to clear the subscription.
func (d *DB) SetClientSession(clientID, sessionID string) error {
	_, err := d.Run(
		`UPDATE clients SET current_session_id = ? WHERE id = ?`,
		nullString(sessionID), clientID,
	)
	return err
}

// MarkClientDisconnected stamps the disconnect time on a client row
func (d *DB) MarkClientDisconnected(id string, disconnectedAt int64) error {
	_, err := d.Run(
		`UPDATE clients SET disconnected_at = ?, current_session_id = NULL WHERE id = ?`,
		disconnectedAt, id,
	)
	return err
}

// GetClient returns a client row, or nil if unknown
func (d *DB) GetClient(id string) (*Client, error) {
	return SelectOne(d,
		`SELECT id, connected_at, disconnected_at, current_session_id FROM clients WHERE id = ?`,
		[]QueryParam{id},
		func(row *sql.Row) (Client, error) {
			var c Client
			var disconnected sql.NullInt64
			var sessionID sql.NullString
			err := row.Scan(&c.ID, &c.ConnectedAt, &disconnected, &sessionID)
			if err != nil {
				return c, err
			}
			if disconnected.Valid {
				c.DisconnectedAt = &disconnected.Int64
			}
			c.CurrentSessionID = sessionID.String
			return c, nil
		},
	)
}
