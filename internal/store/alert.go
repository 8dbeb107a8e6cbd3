package store

import (
	"database/sql"
	"time"
)

// InsertAlert stores a new alert record.
func (db *DB) InsertAlert(a *Alert) error {
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO alerts (alert_id, session_id, alert_type, chat_id, msg_id, message, is_read, notified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.Type, a.ChatID, a.MsgID, a.Message, a.IsRead, a.Notified, a.CreatedAt)
	return err
}

// ListAlerts returns a session's alerts, newest first.
func (db *DB) ListAlerts(sessionID string, unreadOnly bool, skip, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT alert_id, session_id, alert_type, chat_id, msg_id, message, is_read, notified, created_at
		FROM alerts WHERE session_id = ?`
	args := []any{sessionID}
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC, alert_id LIMIT ? OFFSET ?`
	args = append(args, limit, skip)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanAlerts(rows)
}

// MarkAlertRead flips the only mutable user-facing field of an alert.
func (db *DB) MarkAlertRead(alertID string) error {
	_, err := db.Exec(`UPDATE alerts SET is_read = 1 WHERE alert_id = ?`, alertID)
	return err
}

// PendingAlerts returns alerts not yet forwarded to the broker, oldest first.
func (db *DB) PendingAlerts(limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT alert_id, session_id, alert_type, chat_id, msg_id, message, is_read, notified, created_at
		FROM alerts WHERE notified = 0 ORDER BY created_at, alert_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanAlerts(rows)
}

// MarkAlertNotified records that the alert reached the broker.
func (db *DB) MarkAlertNotified(alertID string) error {
	_, err := db.Exec(`UPDATE alerts SET notified = 1 WHERE alert_id = ?`, alertID)
	return err
}

func scanAlerts(rows *sql.Rows) ([]Alert, error) {
	var alerts []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Type, &a.ChatID, &a.MsgID, &a.Message, &a.IsRead, &a.Notified, &a.CreatedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
