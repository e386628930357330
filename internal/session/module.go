package session

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/clinchat/clinchat/internal/bus"
	"github.com/clinchat/clinchat/internal/config"
	"github.com/clinchat/clinchat/internal/conn"
	"github.com/clinchat/clinchat/internal/lock"
	"github.com/clinchat/clinchat/internal/logging"
	"github.com/clinchat/clinchat/internal/notify"
	"github.com/clinchat/clinchat/internal/outbox"
	"github.com/clinchat/clinchat/internal/presence"
	"github.com/clinchat/clinchat/internal/rest"
	"github.com/clinchat/clinchat/internal/status"
	"github.com/clinchat/clinchat/internal/store"
	intsync "github.com/clinchat/clinchat/internal/sync"
)

// Params holds the resolved identity and credential passed to the fx
// module. Authentication happens outside the engine; the engine only
// carries the resulting token.
type Params struct {
	SessionName string
	UserID      string
	UserName    string
	Role        string
	Token       string
}

// Module returns the fx module for one chat session, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("session",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideCredentials,
			provideRESTClient,
			provideDirectory,
			provideHistory,
			provideSendService,
			provideStore,
			provideContacts,
			provideTracker,
			provideQueue,
			provideFeed,
			provideManager,
			provideEngine,
			providePipeline,
			providePoller,
			provideService,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Load(ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	return logging.New(LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired", zap.String("path", l.Path()))
	return l, nil
}

func provideCredentials(p Params) *rest.StaticCredentials {
	return rest.NewStaticCredentials(p.Token)
}

func provideRESTClient(cfg *config.Config, creds *rest.StaticCredentials, logger *zap.Logger) *rest.Client {
	return rest.NewClient(cfg.Server.BaseURL, creds, nil, logger)
}

func provideDirectory(c *rest.Client) *rest.Directory {
	return rest.NewDirectory(c)
}

func provideHistory(c *rest.Client) *rest.History {
	return rest.NewHistory(c)
}

func provideSendService(p Params, c *rest.Client) *rest.Send {
	return rest.NewSend(c, p.UserName)
}

func provideStore(p Params, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *store.Store {
	return store.New(p.UserID, cfg.Reconcile.DedupWindow.Duration, b, logger)
}

func provideContacts() *store.Contacts {
	return store.NewContacts()
}

func provideTracker(b *bus.Bus) *presence.Tracker {
	return presence.NewTracker(b)
}

func provideQueue(cfg *config.Config, b *bus.Bus) *notify.Queue {
	return notify.NewQueue(cfg.Notify.TTL.Duration, cfg.Notify.Capacity, b)
}

func provideFeed(cfg *config.Config) *notify.Feed {
	return notify.NewFeed(cfg.Notify.FeedTTL.Duration, cfg.Notify.FeedCapacity)
}

func provideManager(p Params, cfg *config.Config, creds *rest.StaticCredentials, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(cfg.Connection, cfg.Server.PushURL, p.UserID, creds, machine, b, logger, nil)
}

func provideEngine(s *store.Store, contacts *store.Contacts, tracker *presence.Tracker, queue *notify.Queue, feed *notify.Feed, history *rest.History, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(s, contacts, tracker, queue, feed, history, b, logger)
}

func providePipeline(s *store.Store, send *rest.Send, cfg *config.Config, logger *zap.Logger) *outbox.Pipeline {
	return outbox.NewPipeline(s, send, logger, cfg.Reconcile.ConfirmGrace.Duration)
}

func providePoller(tracker *presence.Tracker, directory *rest.Directory, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *presence.Poller {
	return presence.NewPoller(tracker, directory, b, logger, cfg.Presence.PollInterval.Duration)
}

func provideService(p Params, b *bus.Bus, s *store.Store, contacts *store.Contacts, tracker *presence.Tracker, queue *notify.Queue, feed *notify.Feed, manager *conn.Manager, engine *intsync.Engine, pipeline *outbox.Pipeline) *Service {
	return NewService(p.SessionName, b, s, contacts, tracker, queue, feed, manager, engine, pipeline)
}

func registerLifecycle(lc fx.Lifecycle, p Params, lk *lock.Lock, manager *conn.Manager, engine *intsync.Engine, poller *presence.Poller, pipeline *outbox.Pipeline, directory *rest.Directory, contacts *store.Contacts, queue *notify.Queue, feed *notify.Feed, b *bus.Bus, logger *zap.Logger) {
	runCtx, stop := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go engine.Run(runCtx)
			go poller.Run(runCtx)

			// Contacts are a bootstrap concern; a failure here leaves an
			// empty directory, not a dead engine.
			go func() {
				ctx, cancel := context.WithTimeout(runCtx, 30*time.Second)
				defer cancel()
				list, err := directory.FetchAll(ctx, p.UserID, p.Role)
				if err != nil {
					logger.Warn("contact directory fetch failed", zap.Error(err))
					return
				}
				contacts.Upsert(list...)
				b.Publish(bus.KindPresenceRefreshed, len(list))
				logger.Info("contact directory loaded", zap.Int("contacts", len(list)))
			}()

			if err := manager.Connect(); err != nil {
				return err
			}
			logger.Info("session started",
				zap.String("session", p.SessionName),
				zap.String("user", p.UserID))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			manager.Disconnect()
			stop()
			pipeline.Wait()
			queue.Close()
			feed.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing session lock", zap.Error(err))
			}
			logger.Info("session stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
