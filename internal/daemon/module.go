package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/matheus3301/convsync/internal/api"
	"github.com/matheus3301/convsync/internal/auth"
	"github.com/matheus3301/convsync/internal/backend"
	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/config"
	"github.com/matheus3301/convsync/internal/core"
	"github.com/matheus3301/convsync/internal/lock"
	"github.com/matheus3301/convsync/internal/logging"
	"github.com/matheus3301/convsync/internal/profile"
	"github.com/matheus3301/convsync/internal/realtime"
	"github.com/matheus3301/convsync/internal/store"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
	ConfigPath  string // optional override; empty = ~/.convsync/config.toml
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideCredentials,
			provideBackend,
			provideDialer,
			provideCore,
			provideChatService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	return config.LoadOrDefault(path)
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	var held *lock.HeldError
	if errors.As(err, &held) {
		logger.Error("profile already served by another daemon",
			zap.Int("pid", held.PID),
			zap.Time("since", held.Started),
			zap.Bool("alive", held.Alive()),
		)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(profile.DBPath(p.ProfileName))
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store ready",
		zap.String("path", db.Path()),
		zap.Uint("schema_from", result.From),
		zap.Uint("schema", result.Version),
		zap.Bool("migrated", result.Changed),
	)
	return db, nil
}

// provideCredentials rereads the token file on every poll so an external
// login can drop a fresh token in place.
func provideCredentials(p Params, cfg *config.Config) auth.Source {
	path := cfg.Server.TokenFile
	if path == "" {
		path = profile.TokenPath(p.ProfileName)
	}
	return auth.File{Path: path, UserID: cfg.Server.UserID}
}

func provideBackend(cfg *config.Config, creds auth.Source, logger *zap.Logger) backend.Backend {
	return backend.NewClient(cfg.Server.APIURL, creds, &http.Client{Timeout: 15 * time.Second}, logger.Named("backend"))
}

func provideDialer(cfg *config.Config) realtime.Dialer {
	return &realtime.WebSocketDialer{URL: cfg.Server.RealtimeURL}
}

func provideCore(
	cfg *config.Config,
	be backend.Backend,
	d realtime.Dialer,
	db *store.DB,
	b *bus.Bus,
	creds auth.Source,
	logger *zap.Logger,
) *core.Core {
	return core.New(core.Deps{
		Backend:     be,
		Dialer:      d,
		DB:          db,
		Bus:         b,
		Logger:      logger,
		Credentials: creds,
		Config:      cfg,
	})
}

func provideChatService(p Params, c *core.Core, b *bus.Bus) *api.ChatService {
	return api.NewChatService(c, b, p.ProfileName)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, c *core.Core, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Core loops outlive the start hook, so they get their own context.
			if err := c.Start(context.Background()); err != nil {
				return err
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			c.Stop()
			err := multierr.Combine(
				db.Close(),
				lk.Release(),
			)
			if err != nil {
				logger.Warn("shutdown incomplete", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return err
		},
	})
}
