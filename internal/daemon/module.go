package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Muhammad18557/telegram-mcp/internal/bus"
	"github.com/Muhammad18557/telegram-mcp/internal/config"
	"github.com/Muhammad18557/telegram-mcp/internal/lock"
	"github.com/Muhammad18557/telegram-mcp/internal/logging"
	"github.com/Muhammad18557/telegram-mcp/internal/outbox"
	"github.com/Muhammad18557/telegram-mcp/internal/query"
	"github.com/Muhammad18557/telegram-mcp/internal/session"
	"github.com/Muhammad18557/telegram-mcp/internal/status"
	"github.com/Muhammad18557/telegram-mcp/internal/store"
	intsync "github.com/Muhammad18557/telegram-mcp/internal/sync"
	"github.com/Muhammad18557/telegram-mcp/internal/telegram"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName  string
	SocketPath   string // optional override for testing; empty = use default
	UpstreamPath string // optional override for the account client socket
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideTransport,
			provideReconciler,
			provideIngestor,
			provideCoordinator,
			provideQueryEngine,
			provideGateway,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig() (*config.Config, error) {
	return config.Load(session.ConfigPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
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

func provideTransport(p Params) telegram.Transport {
	upstream := p.UpstreamPath
	if upstream == "" {
		upstream = session.UpstreamSocketPath(p.SessionName)
	}
	return telegram.NewStreamTransport(upstream)
}

func provideReconciler(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, b, logger)
}

func provideIngestor(t telegram.Transport, rec *intsync.Reconciler, b *bus.Bus, machine *status.Machine, cfg *config.Config, logger *zap.Logger) *intsync.Ingestor {
	return intsync.NewIngestor(t, rec, b, machine, cfg.Sync, logger)
}

func provideCoordinator(db *store.DB, t telegram.Transport, rec *intsync.Reconciler, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *intsync.Coordinator {
	return intsync.NewCoordinator(db, t, rec, b, cfg.Sync, logger)
}

func provideQueryEngine(db *store.DB) *query.Engine {
	return query.NewEngine(db)
}

func provideGateway(t telegram.Transport, rec *intsync.Reconciler, db *store.DB, cfg *config.Config, logger *zap.Logger) *outbox.Gateway {
	return outbox.NewGateway(t, rec, db, cfg.Sync, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, ing *intsync.Ingestor, coord *intsync.Coordinator, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			coord.Start(context.Background())
			ing.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("api server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			ing.Stop()
			coord.Stop()
			b.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
