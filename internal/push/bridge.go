package push

import (
	"context"

	"github.com/wpphub/wpphub/internal/bus"
)

// Bridge forwards synchronization progress events from the bus to the push
// channel, decoupling the sync engine from transport delivery.
type Bridge struct {
	bus    *bus.Bus
	hub    *Hub
	cancel context.CancelFunc
}

// NewBridge creates a bridge between the bus and the hub.
func NewBridge(b *bus.Bus, hub *Hub) *Bridge {
	return &Bridge{bus: b, hub: hub}
}

// Start subscribes to sync events and forwards them to the emitting
// session's room.
func (br *Bridge) Start(ctx context.Context) {
	ctx, br.cancel = context.WithCancel(ctx)
	ch, unsub := br.bus.Subscribe("sync.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				br.hub.Emit(evt.Session, "sync_progress", evt.Payload)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops forwarding.
func (br *Bridge) Stop() {
	if br.cancel != nil {
		br.cancel()
	}
}
