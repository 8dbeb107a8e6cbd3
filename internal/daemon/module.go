// Package daemon composes the full wpphubd process: providers for every
// component and the lifecycle hooks that start and stop them in order.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/wpphub/wpphub/internal/alerts"
	"github.com/wpphub/wpphub/internal/broker"
	"github.com/wpphub/wpphub/internal/bus"
	"github.com/wpphub/wpphub/internal/client"
	"github.com/wpphub/wpphub/internal/config"
	"github.com/wpphub/wpphub/internal/httpapi"
	"github.com/wpphub/wpphub/internal/logging"
	"github.com/wpphub/wpphub/internal/push"
	"github.com/wpphub/wpphub/internal/registry"
	"github.com/wpphub/wpphub/internal/router"
	"github.com/wpphub/wpphub/internal/session"
	"github.com/wpphub/wpphub/internal/store"
	syncengine "github.com/wpphub/wpphub/internal/sync"
	"github.com/wpphub/wpphub/internal/wa"
)

// Params holds process-level settings passed to the fx module.
type Params struct {
	ConfigPath string // optional override; empty = <data dir>/config.toml
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStore,
			provideRegistry,
			provideHub,
			providePublisher,
			provideSyncEngine,
			provideAlertService,
			provideNotifier,
			provideBridge,
			provideRouterDeps,
			provideController,
			provideHTTPServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.Paths{Base: config.Default().DataDir}.ConfigPath()
	}
	return config.Load(path)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.Paths{Base: cfg.DataDir}.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.Paths{Base: cfg.DataDir}.StorePath()
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRegistry() *registry.Registry {
	return registry.New()
}

func provideHub(logger *zap.Logger) *push.Hub {
	return push.NewHub(logger)
}

func providePublisher(cfg *config.Config, logger *zap.Logger) broker.Publisher {
	if cfg.Redis.Addr == "" {
		logger.Info("no broker configured, events stay local")
		return broker.Nop{}
	}
	logger.Info("broker connected", zap.String("addr", cfg.Redis.Addr))
	return broker.NewRedis(cfg.Redis, logger)
}

func provideSyncEngine(cfg *config.Config, db *store.DB, reg *registry.Registry, b *bus.Bus, logger *zap.Logger) *syncengine.Engine {
	return syncengine.NewEngine(db, reg, b, logger, cfg.SyncLimit)
}

func provideAlertService(db *store.DB) *alerts.Service {
	return alerts.NewService(db)
}

func provideNotifier(db *store.DB, publisher broker.Publisher, logger *zap.Logger) *alerts.Notifier {
	return alerts.NewNotifier(db, publisher, logger)
}

func provideBridge(b *bus.Bus, hub *push.Hub) *push.Bridge {
	return push.NewBridge(b, hub)
}

func provideRouterDeps(db *store.DB, reg *registry.Registry, engine *syncengine.Engine, svc *alerts.Service, hub *push.Hub, publisher broker.Publisher, logger *zap.Logger) router.Deps {
	return router.Deps{
		DB:        db,
		Registry:  reg,
		Engine:    engine,
		Alerts:    svc,
		Hub:       hub,
		Publisher: publisher,
		Logger:    logger,
	}
}

func provideController(cfg *config.Config, db *store.DB, reg *registry.Registry, deps router.Deps, logger *zap.Logger) *session.Controller {
	paths := session.Paths{Base: cfg.DataDir}
	factory := func(_ context.Context, id string) (client.Client, error) {
		return wa.NewAdapter(id, paths.Dir(id), paths.ClientDBPath(id), logger), nil
	}
	return session.NewController(cfg, db, reg, deps, factory, logger)
}

func provideHTTPServer(cfg *config.Config, ctrl *session.Controller, db *store.DB, reg *registry.Registry, engine *syncengine.Engine, hub *push.Hub, logger *zap.Logger) *httpapi.Server {
	return httpapi.NewServer(cfg, ctrl, db, reg, engine, hub, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *httpapi.Server, ctrl *session.Controller, bridge *push.Bridge, notifier *alerts.Notifier, hub *push.Hub, publisher broker.Publisher, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			bridge.Start(context.Background())
			notifier.Start(context.Background())
			srv.Start()

			// Restore previously authenticated sessions without blocking
			// startup.
			go ctrl.RestoreSessions(context.Background())

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("http shutdown failed", zap.Error(err))
			}
			notifier.Stop()
			bridge.Stop()
			hub.Close()
			if closer, ok := publisher.(*broker.Redis); ok {
				if err := closer.Close(); err != nil {
					logger.Warn("broker close failed", zap.Error(err))
				}
			}
			if err := db.Close(); err != nil {
				logger.Warn("store close failed", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
