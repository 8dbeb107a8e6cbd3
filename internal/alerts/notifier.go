package alerts

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wpphub/wpphub/internal/broker"
	"github.com/wpphub/wpphub/internal/store"
)

const pollBatch = 100

// Notifier drains alerts not yet forwarded to the broker and publishes
// them, one channel per alert type. An alert is marked notified only after
// a publish attempt, so a crash mid-drain re-delivers rather than drops.
type Notifier struct {
	db        *store.DB
	publisher broker.Publisher
	logger    *zap.Logger
	interval  time.Duration
	cancel    context.CancelFunc
}

// NewNotifier creates an alert notifier.
func NewNotifier(db *store.DB, publisher broker.Publisher, logger *zap.Logger) *Notifier {
	return &Notifier{
		db:        db,
		publisher: publisher,
		logger:    logger,
		interval:  500 * time.Millisecond,
	}
}

// Start begins polling for pending alerts.
func (n *Notifier) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	go n.loop(ctx)
}

// Stop stops the notifier loop.
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
}

func (n *Notifier) loop(ctx context.Context) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.Drain()
		case <-ctx.Done():
			return
		}
	}
}

// Drain forwards all pending alerts to the broker.
func (n *Notifier) Drain() {
	pending, err := n.db.PendingAlerts(pollBatch)
	if err != nil {
		n.logger.Error("failed to read pending alerts", zap.Error(err))
		return
	}

	for _, a := range pending {
		n.publisher.Emit("alert_"+a.Type, map[string]any{
			"alertId":   a.ID,
			"sessionId": a.SessionID,
			"type":      a.Type,
			"chatId":    a.ChatID,
			"msgId":     a.MsgID,
			"message":   a.Message,
			"createdAt": a.CreatedAt,
		})
		if err := n.db.MarkAlertNotified(a.ID); err != nil {
			n.logger.Error("failed to mark alert notified", zap.Error(err), zap.String("alert_id", a.ID))
		}
	}
}
