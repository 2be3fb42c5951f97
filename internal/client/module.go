// Package client composes a signed-in chat client against a hub.
package client

import (
	"context"
	"sync/atomic"

	"github.com/matheus3301/shopchat/internal/bus"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/config"
	"github.com/matheus3301/shopchat/internal/controller"
	"github.com/matheus3301/shopchat/internal/logging"
	"github.com/matheus3301/shopchat/internal/presence"
	"github.com/matheus3301/shopchat/internal/remote"
	"github.com/matheus3301/shopchat/internal/roster"
	"github.com/matheus3301/shopchat/internal/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds what a client needs before the graph is built.
type Params struct {
	Config *config.Config
	User   chat.UserID
	// Console also logs to stderr. The TUI owns the terminal and leaves it off.
	Console bool
	// Logger overrides the file logger, for tests.
	Logger *zap.Logger
	// Backend overrides the hub client, for tests.
	Backend chat.Backend
	// Headless skips the heartbeat and roster watcher (one-shot CLI commands).
	Headless bool
}

// Foreground reports whether the open conversation is on screen. The UI
// flips it as pages change; headless callers leave it true.
type Foreground struct {
	hidden atomic.Bool
}

// Set records whether the conversation is visible.
func (f *Foreground) Set(visible bool) { f.hidden.Store(!visible) }

// Visible reports the last value passed to Set.
func (f *Foreground) Visible() bool { return !f.hidden.Load() }

// Client is the assembled client graph.
type Client struct {
	fx.In

	Self       chat.UserID
	Backend    chat.Backend
	Bus        *bus.Bus
	Controller *controller.Controller
	Roster     *roster.Query
	Foreground *Foreground
	Logger     *zap.Logger
}

// Module returns the fx module for a client.
func Module(p Params) fx.Option {
	return fx.Module("client",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideSelf,
			provideBackend,
			bus.New,
			provideForeground,
			provideController,
			provideRoster,
			provideHeartbeat,
			provideWatcher,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	path := p.Config.Log.File
	if path == "" {
		if err := session.EnsureDir(string(p.User)); err != nil {
			return nil, err
		}
		path = session.LogPath(string(p.User))
	}
	return logging.New(logging.Options{
		Path:       path,
		Level:      p.Config.Log.Level,
		MaxSizeMB:  p.Config.Log.MaxSizeMB,
		MaxBackups: p.Config.Log.MaxBackups,
		Console:    p.Console,
		Fields:     []zap.Field{zap.String("user", string(p.User))},
	})
}

func provideSelf(p Params) (chat.UserID, error) {
	if err := session.ValidateUser(string(p.User)); err != nil {
		return "", err
	}
	return p.User, nil
}

func provideBackend(p Params, self chat.UserID, logger *zap.Logger) (chat.Backend, error) {
	if p.Backend != nil {
		return p.Backend, nil
	}
	rc, err := remote.New(p.Config.Hub.URL, self,
		remote.WithDisplayName(p.Config.User.DisplayName),
		remote.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	logger.Info("hub client ready", zap.String("hub", p.Config.Hub.URL))
	return rc, nil
}

func provideForeground() *Foreground { return &Foreground{} }

func provideController(p Params, self chat.UserID, backend chat.Backend, b *bus.Bus, fg *Foreground, logger *zap.Logger) *controller.Controller {
	cc := p.Config.Chat
	return controller.New(self, backend, b, logger,
		controller.WithForeground(fg.Visible),
		controller.WithHistoryLimit(cc.HistoryLimit),
		controller.WithPresenceOptions(
			presence.WithInterval(cc.TypingInterval.Duration),
			presence.WithExpiry(cc.TypingExpiry.Duration),
		),
	)
}

func provideRoster(p Params, self chat.UserID, source chat.Backend) *roster.Query {
	return roster.NewQuery(self, source, p.Config.Chat.OnlineThreshold.Duration, nil)
}

func provideHeartbeat(p Params, self chat.UserID, beater chat.Backend, logger *zap.Logger) *roster.Heartbeat {
	return roster.NewHeartbeat(self, beater, p.Config.Chat.HeartbeatInterval.Duration, logger)
}

func provideWatcher(self chat.UserID, backend chat.Backend, b *bus.Bus, logger *zap.Logger) *roster.Watcher {
	return roster.NewWatcher(self, backend, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, ctl *controller.Controller, hb *roster.Heartbeat, w *roster.Watcher, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if p.Headless {
				return nil
			}
			hb.Start(ctx)
			// The roster still works without live updates; the UI can refresh by hand.
			if err := w.Start(startCtx); err != nil {
				logger.Warn("roster watcher unavailable", zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			ctl.Close()
			w.Stop()
			hb.Stop()
			cancel()
			logger.Info("client stopped")
			_ = logger.Sync()
			return nil
		},
	})
}

// Into copies the assembled client into dst once the graph is built.
func Into(dst *Client) fx.Option {
	return fx.Invoke(func(c Client) { *dst = c })
}
