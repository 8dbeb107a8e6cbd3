// Package wa adapts whatsmeow to the automation client contract. One
// Adapter owns one whatsmeow client, its credential store, and the session
// lock file.
package wa

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/wpphub/wpphub/internal/client"
	"github.com/wpphub/wpphub/internal/lock"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter implements client.Client on top of whatsmeow.
type Adapter struct {
	sessionID  string
	sessionDir string
	dbPath     string
	logger     *zap.Logger

	wm        *whatsmeow.Client
	container *sqlstore.Container
	flock     *lock.Lock

	mu       sync.Mutex
	handlers []func(any)
	chats    map[string]client.Chat
	msgs     map[string][]client.Message
	raw      map[string]*waE2E.Message
	closed   bool

	readyOnce sync.Once
}

// NewAdapter creates an adapter for one session. dbPath is the credential
// store location inside sessionDir; the directory also holds the lock file.
func NewAdapter(sessionID, sessionDir, dbPath string, logger *zap.Logger) *Adapter {
	return &Adapter{
		sessionID:  sessionID,
		sessionDir: sessionDir,
		dbPath:     dbPath,
		logger:     logger.With(zap.String("session_id", sessionID)),
		chats:      make(map[string]client.Chat),
		msgs:       make(map[string][]client.Message),
		raw:        make(map[string]*waE2E.Message),
	}
}

// AddEventHandler registers a protocol event handler. Must be called before
// Initialize.
func (a *Adapter) AddEventHandler(handler func(any)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, handler)
}

// Initialize acquires the session lock, opens the credential store, and
// connects. For unpaired sessions the QR flow starts streaming QR events.
func (a *Adapter) Initialize(ctx context.Context) error {
	flock, err := lock.Acquire(a.sessionDir)
	if err != nil {
		return err
	}
	a.flock = flock

	wastore.SetOSInfo("WPPHub", [3]uint32{0, 1, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", a.dbPath),
		nil,
	)
	if err != nil {
		_ = a.flock.Release()
		return fmt.Errorf("create credential store: %w", err)
	}
	a.container = container

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = a.flock.Release()
		return fmt.Errorf("get device store: %w", err)
	}

	a.wm = whatsmeow.NewClient(deviceStore, nil)
	a.wm.AddEventHandler(a.route)

	if a.wm.Store.ID == nil {
		// GetQRChannel must be called before Connect.
		qrChan, err := a.wm.GetQRChannel(ctx)
		if err != nil {
			_ = a.flock.Release()
			return fmt.Errorf("get qr channel: %w", err)
		}
		if err := a.wm.Connect(); err != nil {
			_ = a.flock.Release()
			return fmt.Errorf("connect: %w", err)
		}
		go a.watchQR(qrChan)
		return nil
	}

	if err := a.wm.Connect(); err != nil {
		_ = a.flock.Release()
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Destroy disconnects, closes the credential store, and releases the lock.
// All later operations fail with a session-closed error.
func (a *Adapter) Destroy(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	if a.wm != nil {
		a.wm.Disconnect()
	}
	if a.container != nil {
		if err := a.container.Close(); err != nil {
			a.logger.Warn("failed to close credential store", zap.Error(err))
		}
	}
	return a.flock.Release()
}

func (a *Adapter) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			a.emit(&client.QREvent{Code: item.Code})
		case "success":
			// Connected fires separately; nothing to do here.
		case "timeout":
			a.emit(&client.AuthFailureEvent{Reason: "qr timeout"})
			return
		default:
			if item.Error != nil {
				a.emit(&client.AuthFailureEvent{Reason: item.Error.Error()})
				return
			}
		}
	}
}

func (a *Adapter) route(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		a.emit(&client.AuthenticatedEvent{})
	case *events.OfflineSyncCompleted:
		a.emitReady()
	case *events.HistorySync:
		a.ingestHistory(evt)
		a.emitReady()
	case *events.Message:
		a.routeMessage(evt)
	case *events.DeleteChat:
		a.emit(&client.ChatRemovedEvent{ChatID: evt.JID.String()})
	case *events.LoggedOut:
		a.emit(&client.DisconnectedEvent{Reason: "logged out: " + evt.Reason.String()})
	case *events.StreamReplaced:
		a.emit(&client.DisconnectedEvent{Reason: "stream replaced"})
	case *events.Disconnected:
		a.emit(&client.DisconnectedEvent{Reason: "connection lost"})
	}
}

func (a *Adapter) routeMessage(evt *events.Message) {
	if pe := parseProtocolMessage(evt); pe != nil {
		a.emit(pe)
		return
	}

	m := parseLiveMessage(evt)
	a.mu.Lock()
	a.msgs[m.ChatID] = append(a.msgs[m.ChatID], *m)
	if m.HasMedia {
		a.raw[m.ID] = evt.Message
	}
	a.mu.Unlock()

	a.emit(&client.MessageEvent{Message: *m})
}

func (a *Adapter) ingestHistory(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, conv := range data.GetConversations() {
		chatID := conv.GetID()
		c := client.Chat{
			ID:         chatID,
			Name:       conv.GetName(),
			IsGroup:    strings.HasSuffix(chatID, "@g.us"),
			Archived:   conv.GetArchived(),
			Pinned:     conv.GetPinned() > 0,
			MutedUntil: int64(conv.GetMuteEndTime()),
			Timestamp:  int64(conv.GetConversationTimestamp()) * 1000,
		}

		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			body := extractTextBody(wmsg.GetMessage())
			m := client.Message{
				ID:        wmsg.GetKey().GetID(),
				ChatID:    chatID,
				Body:      body,
				Type:      detectMessageType(wmsg.GetMessage()),
				From:      wmsg.GetKey().GetParticipant(),
				Author:    wmsg.GetKey().GetParticipant(),
				FromMe:    wmsg.GetKey().GetFromMe(),
				Timestamp: int64(wmsg.GetMessageTimestamp()) * 1000,
				HasMedia:  hasMedia(wmsg.GetMessage()),
				Filename:  mediaFilename(wmsg.GetMessage()),
			}
			a.msgs[chatID] = append(a.msgs[chatID], m)
			if m.HasMedia {
				a.raw[m.ID] = wmsg.GetMessage()
			}
			if m.Timestamp >= c.Timestamp {
				c.Timestamp = m.Timestamp
				c.LastMessagePreview = body
			}
		}
		a.chats[chatID] = c
	}
}

func (a *Adapter) emitReady() {
	a.readyOnce.Do(func() {
		a.emit(&client.ReadyEvent{})
	})
}

func (a *Adapter) emit(evt any) {
	a.mu.Lock()
	handlers := append([]func(any){}, a.handlers...)
	a.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

// GetChats returns the known chats, most recently active first.
func (a *Adapter) GetChats(ctx context.Context) ([]client.Chat, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	out := make([]client.Chat, 0, len(a.chats))
	for _, c := range a.chats {
		out = append(out, c)
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

// GetChatByID returns one chat. Unknown ids resolve through the contact
// store so a brand-new conversation still gets a name.
func (a *Adapter) GetChatByID(ctx context.Context, chatID string) (*client.Chat, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	c, ok := a.chats[chatID]
	a.mu.Unlock()
	if ok {
		return &c, nil
	}

	jid, err := types.ParseJID(chatID)
	if err != nil {
		return nil, fmt.Errorf("parse chat id: %w", err)
	}
	c = client.Chat{
		ID:      chatID,
		Name:    jid.User,
		IsGroup: jid.Server == types.GroupServer,
	}
	if info, err := a.wm.Store.Contacts.GetContact(ctx, jid.ToNonAD()); err == nil && info.Found {
		if info.FullName != "" {
			c.Name = info.FullName
		} else if info.PushName != "" {
			c.Name = info.PushName
		}
	}
	return &c, nil
}

// FetchMessages returns up to limit most recent messages of a chat, oldest
// first.
func (a *Adapter) FetchMessages(ctx context.Context, chatID string, limit int) ([]client.Message, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	msgs := a.msgs[chatID]
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]client.Message(nil), msgs...), nil
}

// SendMessage sends text to a chat and returns the server message id.
func (a *Adapter) SendMessage(ctx context.Context, chatID, text string) (string, error) {
	if err := a.checkOpen(); err != nil {
		return "", err
	}

	to, err := types.ParseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("parse chat id: %w", err)
	}
	resp, err := a.wm.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// DownloadMedia fetches the raw media bytes of a previously seen message.
func (a *Adapter) DownloadMedia(ctx context.Context, msg *client.Message) ([]byte, string, error) {
	if err := a.checkOpen(); err != nil {
		return nil, "", err
	}

	a.mu.Lock()
	rawMsg, ok := a.raw[msg.ID]
	a.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("no media payload for message %s", msg.ID)
	}

	dl := downloadable(rawMsg)
	if dl == nil {
		return nil, "", fmt.Errorf("message %s carries no downloadable media", msg.ID)
	}

	data, err := a.wm.Download(ctx, dl)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	return data, mediaFilename(rawMsg), nil
}

func downloadable(msg *waE2E.Message) whatsmeow.DownloadableMessage {
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage()
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage()
	}
	return nil
}

func (a *Adapter) checkOpen() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return &client.SessionClosedError{SessionID: a.sessionID}
	}
	if a.wm == nil {
		return fmt.Errorf("client for session %s not initialized", a.sessionID)
	}
	return nil
}
