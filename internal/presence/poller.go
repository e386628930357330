package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clinchat/clinchat/internal/bus"
	"github.com/clinchat/clinchat/internal/status"
)

// SnapshotSource fetches the authoritative list of online users.
type SnapshotSource interface {
	OnlineUsers(ctx context.Context) ([]string, error)
}

// Poller periodically refreshes the tracker from the REST snapshot, and
// refreshes immediately whenever the push channel reconnects, since deltas
// sent while the channel was down are gone for good.
type Poller struct {
	tracker  *Tracker
	src      SnapshotSource
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
}

// NewPoller creates a poller. A non-positive interval disables the periodic
// refresh; reconnect-triggered refreshes still run.
func NewPoller(tracker *Tracker, src SnapshotSource, b *bus.Bus, logger *zap.Logger, interval time.Duration) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		tracker:  tracker,
		src:      src,
		bus:      b,
		logger:   logger,
		interval: interval,
	}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	events, unsub := p.bus.Subscribe(bus.KindConnStateChanged, 16)
	defer unsub()

	var tick <-chan time.Time
	if p.interval > 0 {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			p.Refresh(ctx)
		case evt := <-events:
			if ch, ok := evt.Payload.(status.Change); ok && ch.To == status.Connected {
				p.Refresh(ctx)
			}
		}
	}
}

// Refresh fetches one snapshot and applies it. Errors are logged and the
// stale picture is kept until the next poll.
func (p *Poller) Refresh(ctx context.Context) {
	ids, err := p.src.OnlineUsers(ctx)
	if err != nil {
		p.logger.Warn("presence snapshot refresh failed", zap.Error(err))
		return
	}
	p.tracker.ApplySnapshot(ids)
	p.bus.Publish(bus.KindPresenceRefreshed, len(ids))
}
