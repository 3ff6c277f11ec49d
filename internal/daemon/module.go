package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/matheus3301/paperchat/internal/api"
	"github.com/matheus3301/paperchat/internal/bus"
	"github.com/matheus3301/paperchat/internal/chat"
	"github.com/matheus3301/paperchat/internal/config"
	"github.com/matheus3301/paperchat/internal/durable"
	"github.com/matheus3301/paperchat/internal/lock"
	"github.com/matheus3301/paperchat/internal/logging"
	"github.com/matheus3301/paperchat/internal/outbox"
	"github.com/matheus3301/paperchat/internal/session"
	"github.com/matheus3301/paperchat/internal/status"
	"github.com/matheus3301/paperchat/internal/store"
	"github.com/matheus3301/paperchat/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// lockOwner is recorded in the session lock file.
const lockOwner = "paperchatd"

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideDurable,
			provideLive,
			provideSender,
			provideEngine,
			provideSessionService,
			provideChatService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Resolve(session.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.Log.Level)
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
	l, err := lock.Acquire(session.Dir(p.SessionName), lockOwner)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is only opened by its owner.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, result, err := store.OpenMigrated(dbPath)
	if err != nil {
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

func provideDurable(cfg *config.Config, logger *zap.Logger) *durable.Client {
	httpClient := &http.Client{Timeout: cfg.Chat.RequestTimeout.Duration}
	return durable.New(cfg.Server.APIURL, httpClient, logger.Named("durable"))
}

func provideLive(cfg *config.Config, machine *status.Machine, logger *zap.Logger) *transport.Manager {
	return transport.New(transport.Config{
		URL:             cfg.Server.LiveURL,
		InitialInterval: cfg.Reconnect.InitialInterval.Duration,
		MaxInterval:     cfg.Reconnect.MaxInterval.Duration,
		MaxAttempts:     cfg.Reconnect.MaxAttempts,
	}, machine, logger.Named("live"))
}

func provideSender(cfg *config.Config, db *store.DB, client *durable.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, b, outbox.Config{
		Interval: cfg.Outbox.Interval.Duration,
		Timeout:  cfg.Chat.RequestTimeout.Duration,
	}, logger.Named("outbox"))
}

func provideEngine(cfg *config.Config, live *transport.Manager, client *durable.Client, sender *outbox.Sender, db *store.DB, b *bus.Bus, logger *zap.Logger) *chat.Engine {
	return chat.NewEngine(chat.Config{
		TypingWindow:   cfg.Chat.TypingWindow.Duration,
		RequestTimeout: cfg.Chat.RequestTimeout.Duration,
		HistoryLimit:   cfg.Chat.HistoryLimit,
	}, live, client, sender, b, logger.Named("chat"), chat.WithCache(db))
}

func provideSessionService(p Params, engine *chat.Engine, logger *zap.Logger) *api.SessionService {
	return api.NewSessionService(p.SessionName, engine, logger)
}

func provideChatService(p Params, engine *chat.Engine, db *store.DB, client *durable.Client, logger *zap.Logger) *api.ChatService {
	return api.NewChatService(engine, db, client, p.SessionName, logger)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, srv *Server, lk *lock.Lock, db *store.DB, engine *chat.Engine, sender *outbox.Sender, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The start context expires once startup completes.
			engine.Start(context.Background())
			sender.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if n, err := db.PruneOutbox(time.Now().Add(-cfg.Outbox.Retention.Duration)); err != nil {
				logger.Warn("outbox prune failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("pruned delivered outbox entries", zap.Int64("count", n))
			}

			if cfg.Account.UserID == "" {
				logger.Info("no account configured, waiting for login")
				return nil
			}
			return engine.Init(chat.Session{
				User:  chat.User{ID: cfg.Account.UserID, Name: cfg.Account.UserName},
				Token: cfg.Account.Token,
			})
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			engine.Stop()
			sender.Stop()
			var result *multierror.Error
			if err := db.Close(); err != nil {
				result = multierror.Append(result, err)
			}
			if err := lk.Release(); err != nil {
				result = multierror.Append(result, err)
			}
			logger.Info("daemon stopped")
			return result.ErrorOrNil()
		},
	})
}
