package session

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wpphub/wpphub/internal/client"
	"github.com/wpphub/wpphub/internal/config"
	"github.com/wpphub/wpphub/internal/lock"
	"github.com/wpphub/wpphub/internal/registry"
	"github.com/wpphub/wpphub/internal/router"
	"github.com/wpphub/wpphub/internal/status"
	"github.com/wpphub/wpphub/internal/store"
)

// ClientFactory builds an automation client bound to a session identity.
// The production factory lives in internal/wa; tests substitute fakes.
type ClientFactory func(ctx context.Context, sessionID string) (client.Client, error)

// Options tunes session creation.
type Options struct {
	IsRestoring bool
	GroupRef    string
}

// Result reports the outcome of a create attempt.
type Result struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// Controller drives the session lifecycle: creation, restore after daemon
// restart, teardown, and outbound sends.
type Controller struct {
	cfg     *config.Config
	db      *store.DB
	reg     *registry.Registry
	paths   Paths
	deps    router.Deps
	factory ClientFactory
	logger  *zap.Logger

	restoreOnce sync.Once
	restoreDone chan struct{}
}

// NewController creates a session controller.
func NewController(cfg *config.Config, db *store.DB, reg *registry.Registry, deps router.Deps, factory ClientFactory, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:         cfg,
		db:          db,
		reg:         reg,
		paths:       Paths{Base: cfg.DataDir},
		deps:        deps,
		factory:     factory,
		logger:      logger,
		restoreDone: make(chan struct{}),
	}
}

// CreateSession starts (or restores) the session with the given id. A
// session that is already live and authenticated is left alone; a stale
// half-initialized handle is torn down and replaced.
func (c *Controller) CreateSession(ctx context.Context, id string, opts Options) (*Result, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	stored, err := c.db.GetSession(id)
	if err != nil {
		return nil, fmt.Errorf("load session record: %w", err)
	}

	if h, ok := c.reg.Get(id); ok {
		if h.IsReady && stored != nil && stored.Status.Live() {
			return &Result{
				Success:   false,
				SessionID: id,
				Message:   "session already active",
			}, nil
		}
		// Half-initialized leftover. Replace it.
		c.logger.Warn("replacing stale session handle", zap.String("session_id", id))
		c.teardownHandle(id)
	} else if stored != nil && stored.Status.Live() {
		// Durable state says authenticated but nothing is live: this is a
		// restore, not a fresh pairing.
		opts.IsRestoring = true
	}

	if err := c.db.CreateSession(id, c.cfg.MaxQRAttempts, opts.GroupRef); err != nil {
		return nil, fmt.Errorf("seed session record: %w", err)
	}
	if err := c.paths.EnsureSessionDirs(id); err != nil {
		return nil, fmt.Errorf("create session dirs: %w", err)
	}

	cli, err := c.factory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("build client: %w", err)
	}

	r := router.New(c.deps, id, c.paths.MediaDir(id))
	cli.AddEventHandler(r.Handle)

	sessCtx, cancel := context.WithCancel(context.Background())
	h := &registry.Handle{
		Client:      cli,
		IsRestoring: opts.IsRestoring,
		CreatedAt:   time.Now(),
		Ctx:         sessCtx,
		Cancel:      cancel,
	}
	if opts.IsRestoring {
		h.LastRestore = time.Now()
	}
	// Registered before Initialize: events can fire mid-handshake and their
	// handlers expect a handle.
	c.reg.Set(id, h)

	if err := c.initializeWithRetry(ctx, cli, id); err != nil {
		c.teardownHandle(id)
		if _, serr := c.db.SetStatus(id, status.Error); serr != nil {
			c.logger.Error("failed to persist error status", zap.String("session_id", id), zap.Error(serr))
		}
		return nil, fmt.Errorf("initialize client: %w", err)
	}

	c.logger.Info("session created",
		zap.String("session_id", id),
		zap.Bool("restoring", opts.IsRestoring))
	return &Result{Success: true, SessionID: id, Message: "session initializing"}, nil
}

// initializeWithRetry starts the client, retrying exactly once after a lock
// conflict: the stale lock artifact is removed and the attempt repeated
// after a backoff.
func (c *Controller) initializeWithRetry(ctx context.Context, cli client.Client, id string) error {
	err := cli.Initialize(ctx)
	if err == nil || !lock.IsHeld(err) {
		return err
	}

	c.logger.Warn("session lock conflict, retrying once",
		zap.String("session_id", id),
		zap.Error(err))
	if rerr := lock.RemoveStale(c.paths.Dir(id)); rerr != nil {
		return fmt.Errorf("remove stale lock: %w", rerr)
	}

	select {
	case <-time.After(c.cfg.ConflictBackoff.Duration):
	case <-ctx.Done():
		return ctx.Err()
	}
	return cli.Initialize(ctx)
}

// DestroySession tears down the live client and removes the session's whole
// durable partition, including its on-disk directory. Destroying a session
// that does not exist is a no-op reported in the result, not an error.
func (c *Controller) DestroySession(ctx context.Context, id string) (*Result, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	stored, err := c.db.GetSession(id)
	if err != nil {
		return nil, fmt.Errorf("load session record: %w", err)
	}

	h, live := c.reg.Delete(id)
	if !live && stored == nil {
		return &Result{
			Success:   false,
			SessionID: id,
			Message:   "session not found",
		}, nil
	}
	if live {
		if err := h.Client.Destroy(ctx); err != nil && !client.IsSessionClosed(err) {
			c.logger.Warn("client destroy failed", zap.String("session_id", id), zap.Error(err))
		}
	}

	if err := c.db.DeleteSessionData(id); err != nil {
		return nil, fmt.Errorf("delete session data: %w", err)
	}
	if err := os.RemoveAll(c.paths.Dir(id)); err != nil {
		c.logger.Warn("failed to remove session dir", zap.String("session_id", id), zap.Error(err))
	}

	c.logger.Info("session destroyed", zap.String("session_id", id))
	return &Result{Success: true, SessionID: id, Message: "session destroyed"}, nil
}

// RestoreSessions brings back every session whose durable record says it was
// authenticated. It runs at most once per process; later calls wait for the
// first to finish.
func (c *Controller) RestoreSessions(ctx context.Context) {
	c.restoreOnce.Do(func() {
		defer close(c.restoreDone)
		c.restore(ctx)
	})
	<-c.restoreDone
}

// RestoreDone is closed once the restore pass has finished.
func (c *Controller) RestoreDone() <-chan struct{} {
	return c.restoreDone
}

func (c *Controller) restore(ctx context.Context) {
	stored, err := c.db.ListSessions(store.SessionFilter{Statuses: status.Restorable})
	if err != nil {
		c.logger.Error("failed to list restorable sessions", zap.Error(err))
		return
	}

	seen := make(map[string]bool, len(stored))
	restored := 0
	for _, s := range stored {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true

		res, err := c.CreateSession(ctx, s.ID, Options{IsRestoring: true, GroupRef: s.GroupRef})
		if err != nil {
			c.logger.Error("session restore failed", zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		if res.Success {
			restored++
		}
	}
	c.logger.Info("session restore finished",
		zap.Int("candidates", len(stored)),
		zap.Int("restored", restored))
}

// SendMessage sends text to a recipient through a ready session. A bare
// phone number is normalized to a chat id; an existing chat id passes
// through unchanged.
func (c *Controller) SendMessage(ctx context.Context, id, to, text string) (string, error) {
	h, err := c.reg.Ready(id)
	if err != nil {
		return "", err
	}

	chatID := NormalizeRecipient(to)
	if chatID == "" {
		return "", fmt.Errorf("invalid recipient %q", to)
	}

	msgID, err := h.Client.SendMessage(ctx, chatID, text)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}

	err = c.db.SaveMessage(id, &store.Message{
		MsgID:     msgID,
		ChatID:    chatID,
		Body:      text,
		Type:      "chat",
		FromMe:    true,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		c.logger.Warn("failed to persist outbound message",
			zap.String("session_id", id),
			zap.String("msg_id", msgID),
			zap.Error(err))
	}
	return msgID, nil
}

func (c *Controller) teardownHandle(id string) {
	h, ok := c.reg.Delete(id)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := h.Client.Destroy(ctx); err != nil && !client.IsSessionClosed(err) {
		c.logger.Warn("client destroy failed", zap.String("session_id", id), zap.Error(err))
	}
}

var nonDigits = regexp.MustCompile(`\D`)

// NormalizeRecipient turns a raw phone number into a chat id. Inputs that
// already look like chat ids are returned as-is.
func NormalizeRecipient(to string) string {
	if strings.Contains(to, "@") {
		return to
	}
	digits := nonDigits.ReplaceAllString(to, "")
	if digits == "" {
		return ""
	}
	return digits + "@c.us"
}
