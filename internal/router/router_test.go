package router

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wpphub/wpphub/internal/alerts"
	"github.com/wpphub/wpphub/internal/bus"
	"github.com/wpphub/wpphub/internal/client"
	"github.com/wpphub/wpphub/internal/push"
	"github.com/wpphub/wpphub/internal/registry"
	"github.com/wpphub/wpphub/internal/status"
	"github.com/wpphub/wpphub/internal/store"
	syncengine "github.com/wpphub/wpphub/internal/sync"
)

type fakeClient struct {
	mu        sync.Mutex
	chats     []client.Chat
	messages  map[string][]client.Message
	media     []byte
	mediaName string
	destroyed bool
}

func (f *fakeClient) Initialize(context.Context) error { return nil }
func (f *fakeClient) AddEventHandler(func(any))        {}
func (f *fakeClient) SendMessage(context.Context, string, string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeClient) Destroy(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
	return nil
}

func (f *fakeClient) wasDestroyed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

func (f *fakeClient) GetChats(context.Context) ([]client.Chat, error) {
	return f.chats, nil
}

func (f *fakeClient) GetChatByID(_ context.Context, chatID string) (*client.Chat, error) {
	for _, c := range f.chats {
		if c.ID == chatID {
			return &c, nil
		}
	}
	return nil, errors.New("chat not found")
}

func (f *fakeClient) FetchMessages(_ context.Context, chatID string, _ int) ([]client.Message, error) {
	return f.messages[chatID], nil
}

func (f *fakeClient) DownloadMedia(context.Context, *client.Message) ([]byte, string, error) {
	if f.media == nil {
		return nil, "", errors.New("no media")
	}
	return f.media, f.mediaName, nil
}

type capturePublisher struct {
	mu      sync.Mutex
	emitted []struct {
		Pattern string
		Payload any
	}
}

func (p *capturePublisher) Emit(pattern string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emitted = append(p.emitted, struct {
		Pattern string
		Payload any
	}{pattern, payload})
}

func (p *capturePublisher) patterns() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.emitted))
	for i, e := range p.emitted {
		out[i] = e.Pattern
	}
	return out
}

func (p *capturePublisher) waitFor(t *testing.T, pattern string) any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		for _, e := range p.emitted {
			if e.Pattern == pattern {
				p.mu.Unlock()
				return e.Payload
			}
		}
		p.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("pattern %q never emitted; got %v", pattern, p.patterns())
	return nil
}

type fixture struct {
	db     *store.DB
	reg    *registry.Registry
	pub    *capturePublisher
	router *Router
	fc     *fakeClient
}

func newFixture(t *testing.T, sessionID string) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "wpphub.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateSession(sessionID, 3, ""); err != nil {
		t.Fatal(err)
	}

	reg := registry.New()
	b := bus.New()
	pub := &capturePublisher{}
	hub := push.NewHub(zap.NewNop())
	t.Cleanup(hub.Close)
	engine := syncengine.NewEngine(db, reg, b, zap.NewNop(), 100)

	fc := &fakeClient{messages: make(map[string][]client.Message)}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	reg.Set(sessionID, &registry.Handle{
		Client:    fc,
		CreatedAt: time.Now(),
		Ctx:       ctx,
		Cancel:    cancel,
	})

	r := New(Deps{
		DB:        db,
		Registry:  reg,
		Engine:    engine,
		Alerts:    alerts.NewService(db),
		Hub:       hub,
		Publisher: pub,
		Logger:    zap.NewNop(),
	}, sessionID, filepath.Join(t.TempDir(), "media"))

	return &fixture{db: db, reg: reg, pub: pub, router: r, fc: fc}
}

func TestMessagePersistsAndPublishes(t *testing.T) {
	fx := newFixture(t, "s1")
	fx.fc.chats = []client.Chat{{ID: "c1", Name: "Chat One", Timestamp: 42}}

	fx.router.Handle(&client.MessageEvent{Message: client.Message{
		ID: "m1", ChatID: "c1", Body: "hello", Timestamp: 100,
	}})

	m, err := fx.db.GetMessage("s1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Body != "hello" {
		t.Fatalf("message = %+v", m)
	}

	c, err := fx.db.GetChat("s1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Name != "Chat One" {
		t.Errorf("chat metadata not refreshed: %+v", c)
	}

	fx.pub.waitFor(t, "message_create")
}

func TestMessageWithMediaStoresFile(t *testing.T) {
	fx := newFixture(t, "s1")
	fx.fc.media = []byte("fake-bytes")
	fx.fc.mediaName = "photo.jpg"

	fx.router.Handle(&client.MessageEvent{Message: client.Message{
		ID: "m1", ChatID: "c1", Body: "", HasMedia: true, Timestamp: 100,
	}})

	m, err := fx.db.GetMessage("s1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.MediaPath == "" || m.MediaSize != int64(len("fake-bytes")) || m.MediaFilename != "photo.jpg" {
		t.Errorf("media not recorded: %+v", m)
	}

	// The outward payload carries the descriptor, not zero values.
	payload := fx.pub.waitFor(t, "message_create").(map[string]any)
	if payload["mediaFilename"] != "photo.jpg" {
		t.Errorf("payload mediaFilename = %v", payload["mediaFilename"])
	}
	if payload["mediaPath"] != m.MediaPath || payload["mediaSize"] != m.MediaSize {
		t.Errorf("payload media descriptor = %v/%v, want %v/%v",
			payload["mediaPath"], payload["mediaSize"], m.MediaPath, m.MediaSize)
	}
}

func TestRevokeMarksDeletedAndAlertsOnce(t *testing.T) {
	fx := newFixture(t, "s1")
	fx.router.Handle(&client.MessageEvent{Message: client.Message{
		ID: "m1", ChatID: "c1", Body: "secret", Timestamp: 100,
	}})

	fx.router.Handle(&client.MessageRevokeEvent{
		MessageID: "m1", ChatID: "c1", RevokedBy: client.RevokedByEveryone,
	})

	m, err := fx.db.GetMessage("s1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsDeleted || m.DeletedBy != client.RevokedByEveryone {
		t.Errorf("message = %+v", m)
	}

	got, err := fx.db.ListAlerts("s1", false, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	var n int
	for _, a := range got {
		if a.Type == store.AlertMessageDeleted {
			n++
		}
	}
	if n != 1 {
		t.Errorf("got %d revoke alerts, want 1", n)
	}

	// A late save must not resurrect the message.
	fx.router.Handle(&client.MessageEvent{Message: client.Message{
		ID: "m1", ChatID: "c1", Body: "secret", Timestamp: 100,
	}})
	m, _ = fx.db.GetMessage("s1", "m1")
	if !m.IsDeleted {
		t.Error("late save resurrected a deleted message")
	}
}

func TestRevokeBeforeSaveLeavesTombstone(t *testing.T) {
	fx := newFixture(t, "s1")

	fx.router.Handle(&client.MessageRevokeEvent{
		MessageID: "ghost", ChatID: "c1", RevokedBy: client.RevokedByMe,
	})

	m, err := fx.db.GetMessage("s1", "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || !m.IsDeleted {
		t.Fatalf("tombstone = %+v", m)
	}
}

func TestEditAppendsHistory(t *testing.T) {
	fx := newFixture(t, "s1")
	fx.router.Handle(&client.MessageEvent{Message: client.Message{
		ID: "m1", ChatID: "c1", Body: "first", Timestamp: 100,
	}})

	fx.router.Handle(&client.MessageEditEvent{MessageID: "m1", ChatID: "c1", NewBody: "second"})
	fx.router.Handle(&client.MessageEditEvent{MessageID: "m1", ChatID: "c1", NewBody: "third"})

	m, err := fx.db.GetMessage("s1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Body != "third" {
		t.Errorf("body = %q, want third", m.Body)
	}
	editions, err := fx.db.MessageEditions("s1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(editions) != 2 || editions[0] != "first" || editions[1] != "second" {
		t.Errorf("editions = %v", editions)
	}
}

func TestEditForUnknownMessageIsDropped(t *testing.T) {
	fx := newFixture(t, "s1")
	fx.router.Handle(&client.MessageEditEvent{MessageID: "nope", ChatID: "c1", NewBody: "x"})

	got, err := fx.db.ListAlerts("s1", false, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("unexpected alerts: %v", got)
	}
}

func TestChatRemovedRecordsDeletionAndAlert(t *testing.T) {
	fx := newFixture(t, "s1")
	fx.router.Handle(&client.ChatRemovedEvent{ChatID: "c1"})

	c, err := fx.db.GetChat("s1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || !c.Deleted {
		t.Fatalf("chat = %+v", c)
	}
	deletions, err := fx.db.ChatDeletions("s1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(deletions) != 1 {
		t.Errorf("deletions = %v", deletions)
	}

	got, _ := fx.db.ListAlerts("s1", false, 0, 10)
	if len(got) != 1 || got[0].Type != store.AlertChatRemoved {
		t.Errorf("alerts = %+v", got)
	}
}

func TestDisconnectIsTerminal(t *testing.T) {
	fx := newFixture(t, "s1")
	fx.reg.MarkReady("s1", true)

	fx.router.Handle(&client.DisconnectedEvent{Reason: "stream error"})

	if _, ok := fx.reg.Get("s1"); ok {
		t.Error("handle survived disconnect")
	}
	s, err := fx.db.GetSession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != status.Disconnected || !s.IsDisconnected {
		t.Errorf("session = %+v", s)
	}

	got, _ := fx.db.ListAlerts("s1", false, 0, 10)
	if len(got) != 1 || got[0].Type != store.AlertDisconnected {
		t.Errorf("alerts = %+v", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !fx.fc.wasDestroyed() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !fx.fc.wasDestroyed() {
		t.Error("client was not destroyed")
	}
}

func TestQRAfterReadyIsIgnored(t *testing.T) {
	fx := newFixture(t, "s1")
	fx.reg.MarkReady("s1", true)
	if _, err := fx.db.SetStatus("s1", status.Ready); err != nil {
		t.Fatal(err)
	}

	fx.router.Handle(&client.QREvent{Code: "stale"})

	s, err := fx.db.GetSession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != status.Ready || s.QRCode != "" {
		t.Errorf("session = %+v", s)
	}
}

func TestQRBudgetClosesSession(t *testing.T) {
	fx := newFixture(t, "s1") // budget of 3

	fx.router.Handle(&client.QREvent{Code: "one"})
	fx.router.Handle(&client.QREvent{Code: "two"})
	fx.router.Handle(&client.QREvent{Code: "three"})

	s, err := fx.db.GetSession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != status.Closed {
		t.Errorf("status = %q, want closed", s.Status)
	}
	if _, ok := fx.reg.Get("s1"); ok {
		t.Error("handle survived budget exhaustion")
	}

	// Closed is irreversible for plain status writes.
	st, err := fx.db.SetStatus("s1", status.Ready)
	if err != nil {
		t.Fatal(err)
	}
	if st != status.Closed {
		t.Errorf("status after write = %q, want closed", st)
	}
}

func TestReadyRunsInitialSyncThenPublishes(t *testing.T) {
	fx := newFixture(t, "s1")
	fx.fc.chats = []client.Chat{{ID: "c1", Timestamp: 1}, {ID: "c2", Timestamp: 2}}
	fx.fc.messages["c1"] = []client.Message{{ID: "m1", ChatID: "c1", Body: "x", Timestamp: 1}}

	fx.router.Handle(&client.ReadyEvent{})

	payload := fx.pub.waitFor(t, "session_ready")
	got := payload.(map[string]any)
	ids := got["chatIds"].([]string)
	if len(ids) != 2 {
		t.Errorf("chatIds = %v", ids)
	}

	chats, err := fx.db.ListChats("s1", store.ChatFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 {
		t.Errorf("stored chats = %d, want 2", len(chats))
	}

	s, _ := fx.db.GetSession("s1")
	if s.Status != status.Ready {
		t.Errorf("status = %q", s.Status)
	}
}

func TestReadyWhileRestoringSkipsSync(t *testing.T) {
	fx := newFixture(t, "s1")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	fx.reg.Set("s1", &registry.Handle{
		Client:      fx.fc,
		IsRestoring: true,
		CreatedAt:   time.Now(),
		Ctx:         ctx,
		Cancel:      cancel,
	})
	fx.fc.chats = []client.Chat{{ID: "c1", Timestamp: 1}}

	fx.router.Handle(&client.ReadyEvent{})

	time.Sleep(100 * time.Millisecond)
	for _, p := range fx.pub.patterns() {
		if p == "session_ready" {
			t.Errorf("restore announced session_ready: %v", fx.pub.patterns())
		}
	}

	chats, err := fx.db.ListChats("s1", store.ChatFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 0 {
		t.Errorf("restore triggered a sync: %d chats", len(chats))
	}

	s, _ := fx.db.GetSession("s1")
	if s.Status != status.Ready {
		t.Errorf("status = %q", s.Status)
	}
}

func TestAuthFailureTearsDown(t *testing.T) {
	fx := newFixture(t, "s1")
	fx.router.Handle(&client.AuthFailureEvent{Reason: "bad credentials"})

	if _, ok := fx.reg.Get("s1"); ok {
		t.Error("handle survived auth failure")
	}
	s, _ := fx.db.GetSession("s1")
	if s.Status != status.AuthFailure {
		t.Errorf("status = %q", s.Status)
	}
}
