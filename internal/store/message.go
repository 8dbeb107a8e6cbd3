package store

import (
	"database/sql"
	"fmt"
	"time"
)

const messageColumns = `session_id, msg_id, chat_id, body, msg_type, from_jid, to_jid, author, from_me,
	timestamp, ack, has_media, media_path, media_size, media_filename, is_deleted, deleted_by, deleted_at, group_ref`

// SaveMessage upserts a message keyed by (session id, message id). A row
// already flagged deleted is left untouched: a late duplicate delivery must
// not resurrect a revoked message.
func (db *DB) SaveMessage(sessionID string, m *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertMessage(tx, sessionID, m); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveMessages bulk-upserts messages in a single transaction, with the same
// per-row dedup semantics as SaveMessage.
func (db *DB) SaveMessages(sessionID string, msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range msgs {
		if err := upsertMessage(tx, sessionID, &msgs[i]); err != nil {
			return fmt.Errorf("upsert message %s: %w", msgs[i].MsgID, err)
		}
	}
	return tx.Commit()
}

func upsertMessage(tx *sql.Tx, sessionID string, m *Message) error {
	var deleted bool
	err := tx.QueryRow(`SELECT is_deleted FROM messages WHERE session_id = ? AND msg_id = ?`, sessionID, m.MsgID).
		Scan(&deleted)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if err == nil && deleted {
		return nil
	}

	now := time.Now().UnixMilli()
	_, err = tx.Exec(`
		INSERT INTO messages (session_id, msg_id, chat_id, body, msg_type, from_jid, to_jid, author, from_me, timestamp, ack, has_media, media_filename, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, msg_id) DO UPDATE SET
			chat_id = excluded.chat_id,
			body = excluded.body,
			msg_type = excluded.msg_type,
			from_jid = excluded.from_jid,
			to_jid = excluded.to_jid,
			author = excluded.author,
			from_me = excluded.from_me,
			timestamp = excluded.timestamp,
			ack = excluded.ack,
			has_media = excluded.has_media,
			media_filename = excluded.media_filename,
			updated_at = excluded.updated_at`,
		sessionID, m.MsgID, m.ChatID, m.Body, m.Type, m.From, m.To, m.Author, m.FromMe,
		m.Timestamp, m.Ack, m.HasMedia, m.MediaFilename, now, now)
	return err
}

// MarkMessageDeleted flags the message deleted. An unseen message id gets a
// tombstone row so a duplicate delivery arriving later is dropped.
func (db *DB) MarkMessageDeleted(sessionID, msgID, chatID, deletedBy string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (session_id, msg_id, chat_id, is_deleted, deleted_by, deleted_at, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(session_id, msg_id) DO UPDATE SET
			is_deleted = 1,
			deleted_by = excluded.deleted_by,
			deleted_at = excluded.deleted_at,
			updated_at = excluded.updated_at`,
		sessionID, msgID, chatID, deletedBy, now, now, now)
	return err
}

// UpdateMessageEdition appends the previous body to the edition history and
// sets the new body, in that order within one transaction, so a reader never
// observes a body change without its history entry. Deleted messages are not
// edited.
func (db *DB) UpdateMessageEdition(sessionID, msgID, newBody, prevBody string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var deleted bool
	err = tx.QueryRow(`SELECT is_deleted FROM messages WHERE session_id = ? AND msg_id = ?`, sessionID, msgID).
		Scan(&deleted)
	if err == sql.ErrNoRows || (err == nil && deleted) {
		return tx.Commit()
	}
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO message_editions (session_id, msg_id, body, edited_at) VALUES (?, ?, ?, ?)`,
		sessionID, msgID, prevBody, now); err != nil {
		return fmt.Errorf("append edition: %w", err)
	}
	if _, err := tx.Exec(`
		UPDATE messages SET body = ?, updated_at = ? WHERE session_id = ? AND msg_id = ?`,
		newBody, now, sessionID, msgID); err != nil {
		return fmt.Errorf("set body: %w", err)
	}
	return tx.Commit()
}

// SetMessageMedia persists the media descriptor, filled in asynchronously
// after download.
func (db *DB) SetMessageMedia(sessionID, msgID, path string, size int64, filename string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE messages SET media_path = ?, media_size = ?, media_filename = ?, updated_at = ?
		WHERE session_id = ? AND msg_id = ?`,
		path, size, filename, now, sessionID, msgID)
	return err
}

// SetMessageGroupRef sets the external grouping tag on a stored message.
func (db *DB) SetMessageGroupRef(sessionID, msgID, groupRef string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE messages SET group_ref = ?, updated_at = ? WHERE session_id = ? AND msg_id = ?`,
		groupRef, now, sessionID, msgID)
	return err
}

// GetMessage returns a single message, or nil when absent.
func (db *DB) GetMessage(sessionID, msgID string) (*Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE session_id = ? AND msg_id = ?`, sessionID, msgID)
	m, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns a session's messages with stable timestamp ordering
// and offset pagination.
func (db *DB) ListMessages(sessionID string, f MessageFilter) ([]Message, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE session_id = ?`
	args := []any{sessionID}
	if f.ChatID != "" {
		query += ` AND chat_id = ?`
		args = append(args, f.ChatID)
	}
	if !f.IncludeDeleted {
		query += ` AND is_deleted = 0`
	}
	if f.FromMe != nil {
		query += ` AND from_me = ?`
		args = append(args, *f.FromMe)
	}
	if f.Since > 0 {
		query += ` AND timestamp >= ?`
		args = append(args, f.Since)
	}
	if f.Until > 0 {
		query += ` AND timestamp <= ?`
		args = append(args, f.Until)
	}
	query += ` ORDER BY timestamp, msg_id LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Skip)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// MessageEditions returns the append-only list of prior bodies, oldest first.
func (db *DB) MessageEditions(sessionID, msgID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT body FROM message_editions
		WHERE session_id = ? AND msg_id = ? ORDER BY id`, sessionID, msgID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var bodies []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		bodies = append(bodies, b)
	}
	return bodies, rows.Err()
}

func scanMessage(scan func(...any) error) (*Message, error) {
	var m Message
	err := scan(&m.SessionID, &m.MsgID, &m.ChatID, &m.Body, &m.Type, &m.From, &m.To, &m.Author, &m.FromMe,
		&m.Timestamp, &m.Ack, &m.HasMedia, &m.MediaPath, &m.MediaSize, &m.MediaFilename,
		&m.IsDeleted, &m.DeletedBy, &m.DeletedAt, &m.GroupRef)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
