package daemon

import (
	"context"
	"net"

	"github.com/matheus3301/shopchat/internal/audit"
	"github.com/matheus3301/shopchat/internal/backend"
	"github.com/matheus3301/shopchat/internal/config"
	"github.com/matheus3301/shopchat/internal/hub"
	"github.com/matheus3301/shopchat/internal/lock"
	"github.com/matheus3301/shopchat/internal/logging"
	"github.com/matheus3301/shopchat/internal/realtime"
	"github.com/matheus3301/shopchat/internal/session"
	"github.com/matheus3301/shopchat/internal/store"
	"github.com/matheus3301/shopchat/internal/tracing"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved hub configuration passed to the fx module.
type Params struct {
	Config *config.Config
	// Listener overrides Config.Server.Listen, for tests.
	Listener net.Listener
	// Logger overrides the file logger, for tests.
	Logger *zap.Logger
}

// Module returns the fx module for the hub, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideLock,
			provideStore,
			provideTracing,
			provideAudit,
			provideBroker,
			provideRelay,
			provideService,
			provideHub,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func dataDir(cfg *config.Config) string {
	if cfg.Server.DataDir != "" {
		return cfg.Server.DataDir
	}
	return session.HubDir()
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	cfg := p.Config
	path := cfg.Log.File
	if path == "" {
		path = session.HubLogPath(dataDir(cfg))
	}
	return logging.New(logging.Options{
		Path:       path,
		Level:      cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Console:    true,
		Fields:     []zap.Field{zap.String("component", "chathub")},
	})
}

// provideLock guards a SQLite data dir against a second hub. Postgres
// deployments run several hubs and take no lock.
func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if p.Config.Server.Database.Driver == store.DriverPostgres {
		return nil, nil
	}
	dir := dataDir(p.Config)
	logger.Info("acquiring data dir lock", zap.String("dir", dir))
	l, err := lock.Acquire(dir, "chathub")
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbCfg := p.Config.Server.Database
	dsn := dbCfg.DSN
	if dsn == "" && dbCfg.Driver != store.DriverPostgres {
		dsn = session.HubDBPath(dataDir(p.Config))
	}
	db, err := store.Open(dbCfg.Driver, dsn)
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
	logger.Info("store initialized", zap.String("driver", db.Driver()))
	return db, nil
}

func provideTracing(p Params, logger *zap.Logger) (tracing.Shutdown, error) {
	tc := p.Config.Server.Tracing
	shutdown, err := tracing.Setup(context.Background(), "chathub", tc.Endpoint, tc.SampleRatio)
	if err != nil {
		return nil, err
	}
	if tc.Endpoint != "" {
		logger.Info("tracing enabled", zap.String("endpoint", tc.Endpoint))
	}
	return shutdown, nil
}

func provideAudit(p Params, logger *zap.Logger) (audit.Publisher, *audit.Emitter) {
	ac := p.Config.Server.AMQP
	pub := audit.NewPublisher(ac.URL, ac.Exchange, logger)
	logger.Info("audit publisher ready", zap.String("mode", audit.Mode(pub)), zap.String("noop_reason", audit.NoopReason(pub)))
	return pub, audit.NewEmitter(pub, "chathub", logger)
}

func provideBroker(logger *zap.Logger) *realtime.Broker {
	return realtime.NewBroker(logger)
}

// provideRelay returns nil when no Redis address is configured.
func provideRelay(p Params, broker *realtime.Broker, logger *zap.Logger) *realtime.RedisRelay {
	rc := p.Config.Server.Redis
	if rc.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: rc.Addr})
	return realtime.NewRedisRelay(rdb, rc.Prefix, broker, logger)
}

func provideService(p Params, db *store.DB, broker *realtime.Broker, emitter *audit.Emitter, logger *zap.Logger, _ tracing.Shutdown) *backend.Service {
	return backend.New(db, broker, logger,
		backend.WithAudit(emitter),
		backend.WithEditWindow(p.Config.Server.EnforceEditWindow))
}

func provideHub(p Params, svc *backend.Service, broker *realtime.Broker, logger *zap.Logger) *hub.Server {
	sc := p.Config.Server
	return hub.New(svc, hub.Options{
		AdminToken: sc.AdminToken,
		RateLimit:  sc.RateLimit,
		RateBurst:  sc.RateBurst,
		Stats:      broker.Stats,
	}, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, h *hub.Server, relay *realtime.RedisRelay, db *store.DB, pub audit.Publisher, shutdownTracing tracing.Shutdown, lk *lock.Lock, logger *zap.Logger) {
	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if relay != nil {
				go func() {
					defer close(relayDone)
					if err := relay.Run(relayCtx); err != nil {
						logger.Error("redis relay stopped", zap.Error(err))
					}
				}()
			} else {
				close(relayDone)
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			h.Close()
			srv.Stop(ctx)
			stopRelay()
			<-relayDone
			if relay != nil {
				if err := relay.Close(); err != nil {
					logger.Warn("error closing redis", zap.Error(err))
				}
			}
			if err := pub.Close(); err != nil {
				logger.Warn("error closing audit publisher", zap.Error(err))
			}
			if err := shutdownTracing(ctx); err != nil {
				logger.Warn("error flushing traces", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("hub stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
