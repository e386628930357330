package conn

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clinchat/clinchat/internal/bus"
	"github.com/clinchat/clinchat/internal/config"
	"github.com/clinchat/clinchat/internal/rest"
	"github.com/clinchat/clinchat/internal/status"
)

// Manager owns the push channel. It drives the connection state machine,
// falls back across transports in order, schedules reconnects with capped
// exponential backoff, and publishes every parsed push frame on the bus.
//
// Exhausting every transport once counts as a single failed attempt. A
// rejected credential is terminal: the manager disconnects and stays down
// until the session supplies a fresh credential and calls Connect again.
type Manager struct {
	selfID     string
	machine    *status.Machine
	bus        *bus.Bus
	logger     *zap.Logger
	rec        *reconnector
	transports []Transport

	// sleep and now are replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a connection manager for the given push endpoint,
// preferring websocket with an SSE stream as fallback.
func NewManager(cfg config.Connection, pushURL, selfID string, creds rest.CredentialSource, machine *status.Machine, b *bus.Bus, logger *zap.Logger, httpClient *http.Client) *Manager {
	transports := []Transport{
		newWSTransport(pushURL, creds, cfg.HandshakeTimeout.Duration),
		newSSETransport(pushURL, creds, httpClient),
	}
	return newManager(cfg, selfID, machine, b, logger, transports)
}

func newManager(cfg config.Connection, selfID string, machine *status.Machine, b *bus.Bus, logger *zap.Logger, transports []Transport) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		selfID:     selfID,
		machine:    machine,
		bus:        b,
		logger:     logger,
		rec:        newReconnector(cfg.BaseDelay.Duration, cfg.MaxDelay.Duration, cfg.MaxAttempts),
		transports: transports,
		sleep:      sleepCtx,
		now:        time.Now,
	}
}

// State returns the current connection state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// Connect starts the connection loop. It is a no-op when the loop is
// already running, and is also how a Failed connection is retried.
func (m *Manager) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}
	if err := m.machine.Transition(status.Connecting); err != nil {
		return err
	}
	m.rec.markConnected()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
	return nil
}

// Disconnect stops the connection loop and waits for it to exit.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	// Covers the Failed resting state, where no loop is running.
	_ = m.machine.Transition(status.Disconnected)
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	final := m.loop(ctx)

	// Deregister before publishing the terminal state, so a caller reacting
	// to that state can Connect again immediately.
	m.mu.Lock()
	if m.done == done {
		m.cancel = nil
		m.done = nil
	}
	m.mu.Unlock()
	_ = m.machine.Transition(final)
	close(done)
}

// loop cycles through the transports until stopped, returning the terminal
// state the machine must settle in.
func (m *Manager) loop(ctx context.Context) status.State {
	for {
		wasUp := false
		for _, t := range m.transports {
			err := t.Run(ctx, func() {
				wasUp = true
				m.rec.markConnected()
				_ = m.machine.Transition(status.Connected)
				m.logger.Info("push channel established", zap.String("transport", t.Name()))
			}, m.handleFrame)

			if ctx.Err() != nil {
				return status.Disconnected
			}
			if rest.IsAuthError(err) {
				m.logger.Error("push credential rejected", zap.Error(err))
				m.bus.Publish(bus.KindConnAuthError, err.Error())
				return status.Disconnected
			}

			m.logger.Warn("push transport down",
				zap.String("transport", t.Name()),
				zap.Error(err))
			if wasUp {
				// The channel dropped after being established; restart the
				// fallback order from the top rather than demoting to the
				// next transport.
				break
			}
		}

		_ = m.machine.Transition(status.Reconnecting)
		if m.rec.exhausted() {
			m.logger.Error("reconnect attempts exhausted, giving up")
			return status.Failed
		}

		delay := m.rec.nextDelay()
		m.logger.Info("scheduling reconnect", zap.Duration("delay", delay))
		if err := m.sleep(ctx, delay); err != nil {
			return status.Disconnected
		}
		_ = m.machine.Transition(status.Connecting)
	}
}

func (m *Manager) handleFrame(data []byte) {
	kind, payload, err := parseFrame(data, m.selfID, m.now)
	if err != nil {
		m.logger.Warn("dropping malformed push frame", zap.Error(err))
		return
	}
	m.bus.Publish(kind, payload)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
