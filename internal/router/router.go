// Package router dispatches protocol events from one live automation client
// to persistence, alerting, the push channel, and the broker. Every handler
// contains its own failures: a bad event is logged and dropped, never
// propagated back into the client's event loop.
package router

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/wpphub/wpphub/internal/alerts"
	"github.com/wpphub/wpphub/internal/broker"
	"github.com/wpphub/wpphub/internal/client"
	"github.com/wpphub/wpphub/internal/push"
	"github.com/wpphub/wpphub/internal/registry"
	"github.com/wpphub/wpphub/internal/status"
	"github.com/wpphub/wpphub/internal/store"
	syncengine "github.com/wpphub/wpphub/internal/sync"
)

const qrImageSize = 256

// Deps are the shared collaborators a router dispatches into.
type Deps struct {
	DB        *store.DB
	Registry  *registry.Registry
	Engine    *syncengine.Engine
	Alerts    *alerts.Service
	Hub       *push.Hub
	Publisher broker.Publisher
	Logger    *zap.Logger
}

// Router handles the event stream of a single session.
type Router struct {
	Deps
	sessionID string
	mediaDir  string
}

// New creates a router bound to one session. mediaDir is where downloaded
// media files land.
func New(deps Deps, sessionID, mediaDir string) *Router {
	r := &Router{Deps: deps, sessionID: sessionID, mediaDir: mediaDir}
	r.Logger = deps.Logger.With(zap.String("session_id", sessionID))
	return r
}

// Handle dispatches one protocol event. It never returns an error: handler
// failures are logged and swallowed so one bad event cannot poison the
// stream.
func (r *Router) Handle(evt any) {
	switch e := evt.(type) {
	case *client.QREvent:
		r.onQR(e)
	case *client.AuthenticatedEvent:
		r.onAuthenticated()
	case *client.ReadyEvent:
		r.onReady()
	case *client.AuthFailureEvent:
		r.onAuthFailure(e)
	case *client.MessageEvent:
		r.onMessage(e)
	case *client.ChatRemovedEvent:
		r.onChatRemoved(e)
	case *client.DisconnectedEvent:
		r.onDisconnected(e)
	case *client.MessageRevokeEvent:
		r.onMessageRevoke(e)
	case *client.MessageEditEvent:
		r.onMessageEdit(e)
	case *client.LoadingScreenEvent:
		r.Hub.Emit(r.sessionID, "loading_screen", map[string]any{
			"percent": e.Percent,
			"message": e.Message,
		})
	default:
		r.Logger.Debug("unhandled event", zap.String("type", fmt.Sprintf("%T", evt)))
	}
}

// onQR persists the QR payload and pushes it to subscribers. A QR arriving
// after the session authenticated is stale and ignored. When the attempt
// budget runs out the record closes and the live handle is torn down.
func (r *Router) onQR(e *client.QREvent) {
	if h, ok := r.Registry.Get(r.sessionID); ok && h.IsReady {
		r.Logger.Debug("ignoring stale qr for ready session")
		return
	}

	st, err := r.DB.SetQRCode(r.sessionID, e.Code)
	if err != nil {
		r.Logger.Error("failed to persist qr", zap.Error(err))
		return
	}
	if st == status.Closed {
		r.Logger.Warn("qr attempt budget exhausted, closing session")
		r.teardown()
		r.Hub.Emit(r.sessionID, "session_closed", map[string]any{
			"reason": "qr attempts exceeded",
		})
		return
	}

	payload := map[string]any{"qr": e.Code}
	if png, err := qrcode.Encode(e.Code, qrcode.Medium, qrImageSize); err != nil {
		r.Logger.Warn("failed to render qr image", zap.Error(err))
	} else {
		payload["image"] = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	}
	r.Hub.Emit(r.sessionID, "qr", payload)
	r.Logger.Info("qr generated")
}

func (r *Router) onAuthenticated() {
	if _, err := r.DB.SetStatus(r.sessionID, status.Authenticated); err != nil {
		r.Logger.Error("failed to persist authenticated status", zap.Error(err))
	}
	r.Hub.Emit(r.sessionID, "authenticated", nil)
	r.Logger.Info("session authenticated")
}

// onReady marks the handle usable and, for fresh sessions, kicks off the
// initial chat sync. The broker learns about the session only after that
// sync lands, so downstream consumers see a populated store; the ready push
// follows the sync for the same reason. Restored sessions skip the backfill
// and only announce readiness on the push channel.
func (r *Router) onReady() {
	if _, err := r.DB.SetStatus(r.sessionID, status.Ready); err != nil {
		r.Logger.Error("failed to persist ready status", zap.Error(err))
	}
	r.Registry.MarkReady(r.sessionID, true)
	r.Logger.Info("session ready")

	h, ok := r.Registry.Get(r.sessionID)
	if !ok || h.IsRestoring {
		r.Hub.Emit(r.sessionID, "ready", map[string]any{"sessionId": r.sessionID})
		return
	}

	go func() {
		res, err := r.Engine.SyncChatsWithProgress(h.Ctx, r.sessionID, 0)
		if err != nil {
			r.Logger.Warn("initial sync failed", zap.Error(err))
		} else {
			r.Publisher.Emit(broker.PatternSessionReady, map[string]any{
				"sessionId": r.sessionID,
				"chatIds":   res.ChatIDs,
			})
		}
		r.Hub.Emit(r.sessionID, "ready", map[string]any{"sessionId": r.sessionID})
	}()
}

func (r *Router) onAuthFailure(e *client.AuthFailureEvent) {
	if _, err := r.DB.SetStatus(r.sessionID, status.AuthFailure); err != nil {
		r.Logger.Error("failed to persist auth failure", zap.Error(err))
	}
	r.teardown()
	r.Hub.Emit(r.sessionID, "auth_failure", map[string]any{"reason": e.Reason})
	r.Logger.Warn("authentication failed", zap.String("reason", e.Reason))
}

// onMessage persists the message, refreshes its chat's metadata, downloads
// any media, and fans the message out.
func (r *Router) onMessage(e *client.MessageEvent) {
	m := messageRecord(&e.Message)
	if err := r.DB.SaveMessage(r.sessionID, m); err != nil {
		r.Logger.Error("failed to save message", zap.String("msg_id", m.MsgID), zap.Error(err))
		return
	}
	_ = r.DB.TouchLastSeen(r.sessionID)

	if h, ok := r.Registry.Get(r.sessionID); ok {
		if c, err := h.Client.GetChatByID(h.Ctx, m.ChatID); err == nil && c != nil {
			if err := r.DB.SaveChat(r.sessionID, chatRecord(c)); err != nil {
				r.Logger.Warn("failed to refresh chat", zap.String("chat_id", m.ChatID), zap.Error(err))
			}
		}
		if e.Message.HasMedia {
			r.downloadMedia(h, &e.Message, m)
		}
	}

	r.Hub.Emit(r.sessionID, "message", m)
	payload := map[string]any{
		"sessionId": r.sessionID,
		"msgId":     m.MsgID,
		"chatId":    m.ChatID,
		"body":      m.Body,
		"fromMe":    m.FromMe,
		"timestamp": m.Timestamp,
	}
	if m.MediaPath != "" {
		payload["mediaPath"] = m.MediaPath
		payload["mediaSize"] = m.MediaSize
		payload["mediaFilename"] = m.MediaFilename
	}
	r.Publisher.Emit(broker.PatternMessageCreate, payload)
}

// downloadMedia stores the media file, records its descriptor, and copies
// the descriptor onto m so the outward payloads carry it.
func (r *Router) downloadMedia(h *registry.Handle, msg *client.Message, m *store.Message) {
	data, filename, err := h.Client.DownloadMedia(h.Ctx, msg)
	if err != nil {
		r.Logger.Warn("media download failed", zap.String("msg_id", msg.ID), zap.Error(err))
		return
	}
	if filename == "" {
		filename = "media"
	}
	if err := os.MkdirAll(r.mediaDir, 0700); err != nil {
		r.Logger.Error("failed to create media dir", zap.Error(err))
		return
	}
	path := filepath.Join(r.mediaDir, sanitizeFilename(msg.ID)+"_"+sanitizeFilename(filename))
	if err := os.WriteFile(path, data, 0600); err != nil {
		r.Logger.Error("failed to write media file", zap.String("path", path), zap.Error(err))
		return
	}
	if err := r.DB.SetMessageMedia(r.sessionID, msg.ID, path, int64(len(data)), filename); err != nil {
		r.Logger.Error("failed to record media path", zap.String("msg_id", msg.ID), zap.Error(err))
		return
	}
	m.MediaPath = path
	m.MediaSize = int64(len(data))
	m.MediaFilename = filename
}

func (r *Router) onChatRemoved(e *client.ChatRemovedEvent) {
	if err := r.DB.MarkChatDeleted(r.sessionID, e.ChatID); err != nil {
		r.Logger.Error("failed to mark chat deleted", zap.String("chat_id", e.ChatID), zap.Error(err))
		return
	}
	if err := r.Alerts.ChatRemoved(r.sessionID, e.ChatID); err != nil {
		r.Logger.Error("failed to create chat removal alert", zap.Error(err))
	}
	r.Hub.Emit(r.sessionID, "chat_removed", map[string]any{"chatId": e.ChatID})
	r.Logger.Info("chat removed", zap.String("chat_id", e.ChatID))
}

// onDisconnected is terminal: the live handle is removed, the durable record
// flagged, and the operator alerted. Reconnection is an explicit operator
// action, never automatic.
func (r *Router) onDisconnected(e *client.DisconnectedEvent) {
	r.teardown()
	if _, err := r.DB.SetStatus(r.sessionID, status.Disconnected); err != nil {
		r.Logger.Error("failed to persist disconnect", zap.Error(err))
	}
	if err := r.Alerts.Disconnected(r.sessionID, e.Reason); err != nil {
		r.Logger.Error("failed to create disconnect alert", zap.Error(err))
	}
	r.Hub.Emit(r.sessionID, "disconnected", map[string]any{"reason": e.Reason})
	r.Logger.Warn("session disconnected", zap.String("reason", e.Reason))
}

func (r *Router) onMessageRevoke(e *client.MessageRevokeEvent) {
	if err := r.DB.MarkMessageDeleted(r.sessionID, e.MessageID, e.ChatID, e.RevokedBy); err != nil {
		r.Logger.Error("failed to mark message deleted", zap.String("msg_id", e.MessageID), zap.Error(err))
		return
	}
	if err := r.Alerts.MessageDeleted(r.sessionID, e.ChatID, e.MessageID, e.RevokedBy); err != nil {
		r.Logger.Error("failed to create revoke alert", zap.Error(err))
	}
	r.Hub.Emit(r.sessionID, "message_revoked", map[string]any{
		"msgId":     e.MessageID,
		"chatId":    e.ChatID,
		"revokedBy": e.RevokedBy,
	})
	r.Logger.Info("message revoked",
		zap.String("msg_id", e.MessageID),
		zap.String("revoked_by", e.RevokedBy))
}

func (r *Router) onMessageEdit(e *client.MessageEditEvent) {
	prev, err := r.DB.GetMessage(r.sessionID, e.MessageID)
	if err != nil {
		r.Logger.Error("failed to load edited message", zap.String("msg_id", e.MessageID), zap.Error(err))
		return
	}
	if prev == nil {
		r.Logger.Debug("edit for unknown message dropped", zap.String("msg_id", e.MessageID))
		return
	}
	if err := r.DB.UpdateMessageEdition(r.sessionID, e.MessageID, e.NewBody, prev.Body); err != nil {
		r.Logger.Error("failed to record edition", zap.String("msg_id", e.MessageID), zap.Error(err))
		return
	}
	if err := r.Alerts.MessageEdited(r.sessionID, e.ChatID, e.MessageID); err != nil {
		r.Logger.Error("failed to create edit alert", zap.Error(err))
	}
	r.Hub.Emit(r.sessionID, "message_edited", map[string]any{
		"msgId":   e.MessageID,
		"chatId":  e.ChatID,
		"newBody": e.NewBody,
	})
}

// teardown removes the live handle and destroys its client in the
// background. Safe to call when no handle exists.
func (r *Router) teardown() {
	h, ok := r.Registry.Delete(r.sessionID)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.Client.Destroy(ctx); err != nil && !client.IsSessionClosed(err) {
			r.Logger.Warn("client destroy failed", zap.Error(err))
		}
	}()
}

func sanitizeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, s)
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

func messageRecord(m *client.Message) *store.Message {
	return &store.Message{
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
