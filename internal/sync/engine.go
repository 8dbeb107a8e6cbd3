// Package sync implements the chat synchronization engine: a strictly
// sequential pass over a session's chats that persists chat metadata and
// recent messages, reporting progress after every step.
package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wpphub/wpphub/internal/bus"
	"github.com/wpphub/wpphub/internal/client"
	"github.com/wpphub/wpphub/internal/registry"
	"github.com/wpphub/wpphub/internal/store"
)

// KindProgress is the bus event kind carrying sync checkpoints.
const KindProgress = "sync.progress"

// Progress is one checkpoint of a sync pass. A pass over N chats emits one
// initial checkpoint plus two per chat; CurrentChat never decreases within
// a pass. MessagesSynced is the current chat's own count: zero on the
// chat-start checkpoint and after a failed chat, the fetched count on the
// completion checkpoint.
type Progress struct {
	NChats         int    `json:"nChats"`
	CurrentChat    int    `json:"currentChat"`
	MessagesSynced int    `json:"messagesSynced"`
	ChatID         string `json:"chatId,omitempty"`
}

// Result summarizes a completed sync pass.
type Result struct {
	ChatsProcessed int
	MessagesSynced int
	ChatIDs        []string
}

// Engine runs sync passes against live session clients.
type Engine struct {
	db     *store.DB
	reg    *registry.Registry
	bus    *bus.Bus
	logger *zap.Logger
	limit  int
}

// NewEngine creates a sync engine. limit is the default per-chat message
// fetch limit.
func NewEngine(db *store.DB, reg *registry.Registry, b *bus.Bus, logger *zap.Logger, limit int) *Engine {
	if limit <= 0 {
		limit = 100
	}
	return &Engine{db: db, reg: reg, bus: b, logger: logger, limit: limit}
}

// SyncChatsWithProgress runs a full sequential pass over the session's
// chats: chat list first, then per-chat recent messages, oldest chat last.
// A failing chat is logged and skipped; the pass keeps going. Cancellation
// of ctx or of the session handle stops the pass between chats.
func (e *Engine) SyncChatsWithProgress(ctx context.Context, sessionID string, limitPerChat int) (*Result, error) {
	h, err := e.reg.Ready(sessionID)
	if err != nil {
		return nil, err
	}
	if limitPerChat <= 0 {
		limitPerChat = e.limit
	}

	chats, err := h.Client.GetChats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chats: %w", err)
	}

	res := &Result{ChatIDs: make([]string, 0, len(chats))}
	e.emit(sessionID, Progress{NChats: len(chats)})

	for i, c := range chats {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-h.Ctx.Done():
			return res, h.Ctx.Err()
		default:
		}

		rec := chatRecord(&c)
		if err := e.db.SaveChat(sessionID, rec); err != nil {
			e.logger.Warn("chat save failed",
				zap.String("session_id", sessionID),
				zap.String("chat_id", c.ID),
				zap.Error(err))
		}

		e.emit(sessionID, Progress{
			NChats:      len(chats),
			CurrentChat: i + 1,
			ChatID:      c.ID,
		})

		n, err := e.syncChat(ctx, h, sessionID, c.ID, limitPerChat)
		if err != nil {
			e.logger.Warn("chat sync failed",
				zap.String("session_id", sessionID),
				zap.String("chat_id", c.ID),
				zap.Error(err))
		}
		res.MessagesSynced += n
		res.ChatsProcessed++
		res.ChatIDs = append(res.ChatIDs, c.ID)

		e.emit(sessionID, Progress{
			NChats:         len(chats),
			CurrentChat:    i + 1,
			MessagesSynced: n,
			ChatID:         c.ID,
		})
	}

	e.logger.Info("sync pass complete",
		zap.String("session_id", sessionID),
		zap.Int("chats", res.ChatsProcessed),
		zap.Int("messages", res.MessagesSynced))
	return res, nil
}

// SyncRecentMessages refreshes recent messages for one chat, or for every
// chat when chatID is empty. No progress checkpoints are emitted.
func (e *Engine) SyncRecentMessages(ctx context.Context, sessionID, chatID string, limit int) (int, error) {
	h, err := e.reg.Ready(sessionID)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = e.limit
	}

	if chatID != "" {
		return e.syncChat(ctx, h, sessionID, chatID, limit)
	}

	chats, err := h.Client.GetChats(ctx)
	if err != nil {
		return 0, fmt.Errorf("get chats: %w", err)
	}
	total := 0
	for _, c := range chats {
		n, err := e.syncChat(ctx, h, sessionID, c.ID, limit)
		if err != nil {
			e.logger.Warn("chat sync failed",
				zap.String("session_id", sessionID),
				zap.String("chat_id", c.ID),
				zap.Error(err))
		}
		total += n
	}
	return total, nil
}

func (e *Engine) syncChat(ctx context.Context, h *registry.Handle, sessionID, chatID string, limit int) (int, error) {
	msgs, err := h.Client.FetchMessages(ctx, chatID, limit)
	if err != nil {
		return 0, fmt.Errorf("fetch messages: %w", err)
	}
	if err := e.db.SaveMessages(sessionID, messageRecords(msgs)); err != nil {
		return 0, fmt.Errorf("save messages: %w", err)
	}
	return len(msgs), nil
}

func (e *Engine) emit(sessionID string, p Progress) {
	e.bus.Publish(bus.Event{
		Kind:      KindProgress,
		Session:   sessionID,
		Timestamp: time.Now(),
		Payload:   p,
	})
}

func chatRecord(c *client.Chat) *store.Chat {
	return &store.Chat{
		ChatID:             c.ID,
		Name:               c.Name,
		IsGroup:            c.IsGroup,
		Archived:           c.Archived,
		Pinned:             c.Pinned,
		MutedUntil:         c.MutedUntil,
		LastMessagePreview: c.LastMessagePreview,
		Timestamp:          c.Timestamp,
	}
}

func messageRecords(msgs []client.Message) []store.Message {
	out := make([]store.Message, len(msgs))
	for i, m := range msgs {
		out[i] = store.Message{
			MsgID:     m.ID,
			ChatID:    m.ChatID,
			Body:      m.Body,
			Type:      m.Type,
			From:      m.From,
			To:        m.To,
			Author:    m.Author,
			FromMe:    m.FromMe,
			Timestamp: m.Timestamp,
			Ack:       m.Ack,
			HasMedia:  m.HasMedia,
		}
	}
	return out
}
