package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wpphub/wpphub/internal/status"
)

// ErrSessionUnknown is returned for status writes against a session id that
// was never created.
var ErrSessionUnknown = errors.New("session record not found")

// CreateSession seeds (or re-seeds) the durable record for a new session
// attempt: status initializing, QR budget reset. This is the only write that
// can leave the closed state.
func (db *DB) CreateSession(sessionID string, maxQRAttempts int, groupRef string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sessions (session_id, status, last_seen, qr_attempts, max_qr_attempts, group_ref, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			qr_attempts = 0,
			max_qr_attempts = excluded.max_qr_attempts,
			is_disconnected = 0,
			closed_at = 0,
			qr_code = '',
			group_ref = excluded.group_ref,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`,
		sessionID, status.Initializing, now, maxQRAttempts, groupRef, now, now)
	return err
}

// SetStatus writes a status transition, enforcing the QR-budget invariant:
// entering qr_generated increments qr_attempts, entering authenticated/ready
// resets it, and reaching the budget forces closed. Writes against a closed
// record are ignored. Returns the effective status after the write.
func (db *DB) SetStatus(sessionID string, st status.Status) (status.Status, error) {
	return db.setStatus(sessionID, st, "")
}

// SetQRCode persists a qr_generated transition together with the QR payload.
func (db *DB) SetQRCode(sessionID, code string) (status.Status, error) {
	return db.setStatus(sessionID, status.QRGenerated, code)
}

func (db *DB) setStatus(sessionID string, st status.Status, qr string) (status.Status, error) {
	tx, err := db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		current  string
		attempts int
		maxAtt   int
	)
	err = tx.QueryRow(`SELECT status, qr_attempts, max_qr_attempts FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&current, &attempts, &maxAtt)
	if err == sql.ErrNoRows {
		return "", ErrSessionUnknown
	}
	if err != nil {
		return "", err
	}

	if status.Status(current) == status.Closed {
		return status.Closed, nil
	}

	now := time.Now().UnixMilli()
	effective := st
	qrCode := qr
	closedAt := int64(0)
	disconnected := 0

	switch st {
	case status.QRGenerated:
		attempts++
		if attempts >= maxAtt {
			effective = status.Closed
			qrCode = ""
			closedAt = now
		}
	case status.Authenticated, status.Ready:
		attempts = 0
		qrCode = ""
	case status.Disconnected:
		disconnected = 1
		closedAt = now
	}

	_, err = tx.Exec(`
		UPDATE sessions SET
			status = ?,
			qr_attempts = ?,
			qr_code = ?,
			is_disconnected = ?,
			closed_at = CASE WHEN ? > 0 THEN ? ELSE closed_at END,
			last_seen = ?,
			updated_at = ?
		WHERE session_id = ?`,
		effective, attempts, qrCode, disconnected, closedAt, closedAt, now, now, sessionID)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return effective, nil
}

// TouchLastSeen updates the session's last-seen timestamp.
func (db *DB) TouchLastSeen(sessionID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE sessions SET last_seen = ?, updated_at = ? WHERE session_id = ?`, now, now, sessionID)
	return err
}

// GetSession returns a session record, or nil when absent.
func (db *DB) GetSession(sessionID string) (*Session, error) {
	var s Session
	var st string
	err := db.QueryRow(`
		SELECT session_id, status, last_seen, qr_attempts, max_qr_attempts, is_disconnected, closed_at, group_ref, qr_code
		FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&s.ID, &st, &s.LastSeen, &s.QRAttempts, &s.MaxQRAttempts, &s.IsDisconnected, &s.ClosedAt, &s.GroupRef, &s.QRCode)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Status = status.Status(st)
	return &s, nil
}

// ListSessions returns stored sessions, optionally narrowed to a status set,
// ordered by session id.
func (db *DB) ListSessions(f SessionFilter) ([]Session, error) {
	query := `
		SELECT session_id, status, last_seen, qr_attempts, max_qr_attempts, is_disconnected, closed_at, group_ref, qr_code
		FROM sessions`
	var args []any
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY session_id`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		var s Session
		var st string
		if err := rows.Scan(&s.ID, &st, &s.LastSeen, &s.QRAttempts, &s.MaxQRAttempts, &s.IsDisconnected, &s.ClosedAt, &s.GroupRef, &s.QRCode); err != nil {
			return nil, err
		}
		s.Status = status.Status(st)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DeleteSessionData removes the session's whole partition: the session row
// and all its chats, messages, editions, deletion history, and alerts.
func (db *DB) DeleteSessionData(sessionID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"alerts", "message_editions", "messages", "chat_deletions", "chats", "sessions"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return tx.Commit()
}
