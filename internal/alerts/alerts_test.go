package alerts

import (
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/wpphub/wpphub/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "wpphub.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	return db
}

type capturePublisher struct {
	mu      sync.Mutex
	emitted []string
}

func (p *capturePublisher) Emit(pattern string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emitted = append(p.emitted, pattern)
}

func (p *capturePublisher) patterns() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.emitted...)
}

func TestServiceCreatesOneAlertPerEvent(t *testing.T) {
	db := testDB(t)
	svc := NewService(db)

	if err := svc.Disconnected("s1", "stream error"); err != nil {
		t.Fatal(err)
	}
	if err := svc.MessageDeleted("s1", "c1", "m1", "everyone"); err != nil {
		t.Fatal(err)
	}
	if err := svc.MessageEdited("s1", "c1", "m2"); err != nil {
		t.Fatal(err)
	}
	if err := svc.ChatRemoved("s1", "c2"); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListAlerts("s1", false, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d alerts, want 4", len(got))
	}
	for _, a := range got {
		if a.ID == "" {
			t.Errorf("alert %q has empty id", a.Type)
		}
		if a.IsRead || a.Notified {
			t.Errorf("alert %q created read=%v notified=%v", a.Type, a.IsRead, a.Notified)
		}
	}
}

func TestNotifierDrainsPendingOnce(t *testing.T) {
	db := testDB(t)
	svc := NewService(db)
	pub := &capturePublisher{}
	n := NewNotifier(db, pub, zap.NewNop())

	if err := svc.Disconnected("s1", ""); err != nil {
		t.Fatal(err)
	}
	if err := svc.ChatRemoved("s1", "c1"); err != nil {
		t.Fatal(err)
	}

	n.Drain()

	got := pub.patterns()
	if len(got) != 2 {
		t.Fatalf("emitted %v, want 2 patterns", got)
	}
	if got[0] != "alert_"+store.AlertDisconnected || got[1] != "alert_"+store.AlertChatRemoved {
		t.Errorf("patterns = %v", got)
	}

	// A second drain must not re-deliver.
	n.Drain()
	if len(pub.patterns()) != 2 {
		t.Errorf("second drain re-delivered: %v", pub.patterns())
	}

	pending, err := db.PendingAlerts(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("still pending after drain: %d", len(pending))
	}
}

func TestMarkReadDoesNotAffectNotification(t *testing.T) {
	db := testDB(t)
	svc := NewService(db)
	pub := &capturePublisher{}
	n := NewNotifier(db, pub, zap.NewNop())

	if err := svc.MessageEdited("s1", "c1", "m1"); err != nil {
		t.Fatal(err)
	}
	got, err := db.ListAlerts("s1", true, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.MarkAlertRead(got[0].ID); err != nil {
		t.Fatal(err)
	}

	n.Drain()
	if len(pub.patterns()) != 1 {
		t.Errorf("read alert was not forwarded: %v", pub.patterns())
	}
}
