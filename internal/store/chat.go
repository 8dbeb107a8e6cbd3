package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveChat inserts or updates a chat record. The deletion history list is
// never touched here; re-saving a chat marks it present again.
func (db *DB) SaveChat(sessionID string, c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (session_id, chat_id, name, is_group, archived, pinned, muted_until, last_message_preview, timestamp, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(session_id, chat_id) DO UPDATE SET
			name = excluded.name,
			is_group = excluded.is_group,
			archived = excluded.archived,
			pinned = excluded.pinned,
			muted_until = excluded.muted_until,
			last_message_preview = excluded.last_message_preview,
			timestamp = excluded.timestamp,
			deleted = 0,
			updated_at = excluded.updated_at`,
		sessionID, c.ChatID, c.Name, c.IsGroup, c.Archived, c.Pinned, c.MutedUntil, c.LastMessagePreview, c.Timestamp, now, now)
	return err
}

// SaveChats bulk-upserts chats in a single transaction.
func (db *DB) SaveChats(sessionID string, chats []Chat) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range chats {
		if _, err := tx.Exec(`
			INSERT INTO chats (session_id, chat_id, name, is_group, archived, pinned, muted_until, last_message_preview, timestamp, deleted, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
			ON CONFLICT(session_id, chat_id) DO UPDATE SET
				name = excluded.name,
				is_group = excluded.is_group,
				archived = excluded.archived,
				pinned = excluded.pinned,
				muted_until = excluded.muted_until,
				last_message_preview = excluded.last_message_preview,
				timestamp = excluded.timestamp,
				deleted = 0,
				updated_at = excluded.updated_at`,
			sessionID, c.ChatID, c.Name, c.IsGroup, c.Archived, c.Pinned, c.MutedUntil, c.LastMessagePreview, c.Timestamp, now, now); err != nil {
			return fmt.Errorf("upsert chat %s: %w", c.ChatID, err)
		}
	}
	return tx.Commit()
}

// MarkChatDeleted flags the chat deleted and appends to its deletion history.
// The history list only grows; a chat may be removed and reappear many times.
func (db *DB) MarkChatDeleted(sessionID, chatID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO chats (session_id, chat_id, deleted, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(session_id, chat_id) DO UPDATE SET
			deleted = 1,
			updated_at = excluded.updated_at`,
		sessionID, chatID, now, now); err != nil {
		return fmt.Errorf("flag chat: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO chat_deletions (session_id, chat_id, deleted_at) VALUES (?, ?, ?)`,
		sessionID, chatID, now); err != nil {
		return fmt.Errorf("append deletion: %w", err)
	}
	return tx.Commit()
}

// GetChat returns a single chat, or nil when absent.
func (db *DB) GetChat(sessionID, chatID string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT session_id, chat_id, name, is_group, archived, pinned, muted_until, last_message_preview, timestamp, deleted
		FROM chats WHERE session_id = ? AND chat_id = ?`, sessionID, chatID).
		Scan(&c.SessionID, &c.ChatID, &c.Name, &c.IsGroup, &c.Archived, &c.Pinned, &c.MutedUntil, &c.LastMessagePreview, &c.Timestamp, &c.Deleted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChats returns a session's chats sorted by last activity descending.
func (db *DB) ListChats(sessionID string, f ChatFilter) ([]Chat, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := `
		SELECT session_id, chat_id, name, is_group, archived, pinned, muted_until, last_message_preview, timestamp, deleted
		FROM chats WHERE session_id = ?`
	args := []any{sessionID}
	if !f.IncludeDeleted {
		query += ` AND deleted = 0`
	}
	if f.Archived != nil {
		query += ` AND archived = ?`
		args = append(args, *f.Archived)
	}
	if f.IsGroup != nil {
		query += ` AND is_group = ?`
		args = append(args, *f.IsGroup)
	}
	query += ` ORDER BY timestamp DESC, chat_id LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Skip)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.SessionID, &c.ChatID, &c.Name, &c.IsGroup, &c.Archived, &c.Pinned, &c.MutedUntil, &c.LastMessagePreview, &c.Timestamp, &c.Deleted); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// ChatDeletions returns the append-only deletion timestamps for a chat,
// oldest first.
func (db *DB) ChatDeletions(sessionID, chatID string) ([]int64, error) {
	rows, err := db.Query(`
		SELECT deleted_at FROM chat_deletions
		WHERE session_id = ? AND chat_id = ? ORDER BY id`, sessionID, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var stamps []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		stamps = append(stamps, ts)
	}
	return stamps, rows.Err()
}
