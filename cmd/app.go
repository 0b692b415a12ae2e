package cmd

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/slush-dev/fcm-demo/fcm"
	"github.com/slush-dev/fcm-demo/internal/controller"
	"github.com/slush-dev/fcm-demo/internal/tray"
	"github.com/slush-dev/fcm-demo/notify"
)

// errQuit ends an app's errgroup without reporting a failure.
var errQuit = errors.New("quit")

type appConfig struct {
	logger   *slog.Logger
	prompt   notify.Prompter
	view     controller.View
	alerter  controller.Alerter
	tray     notify.Tray
	launchID string
}

// app is the foreground app: device client, notification facade and
// presentation controller wired together.
type app struct {
	client *fcm.Client
	facade *notify.Facade
	ctrl   *controller.Controller
	logger *slog.Logger
}

func newApp(ac appConfig) *app {
	client := newFCMClient(ac.logger)
	perms := notify.NewStoredPermissions(sessionDir, ac.prompt)

	opts := []notify.Option{notify.WithLogger(ac.logger)}
	if ac.launchID != "" {
		opts = append(opts, notify.WithLaunchNotification(ac.launchID))
	}
	facade := notify.New(client, perms, ac.tray, opts...)

	client.OnMessage(facade.Deliver)
	client.OnTokenRefresh(func(token string) {
		ac.logger.Info("registration token issued", "token", token)
	})
	client.OnDeletedMessages(func() {
		ac.logger.Info("deleted messages on server")
	})
	client.OnError(func(err error) {
		ac.logger.Warn("push client error", "error", err)
	})

	ctrl := controller.New(facade, ac.view, ac.alerter,
		controller.WithLogger(ac.logger),
		controller.WithFetchTimeout(cfg.FetchTimeout),
	)
	client.OnConnected(func() { ctrl.SetConnected(true) })
	client.OnDisconnected(func() { ctrl.SetConnected(false) })

	return &app{client: client, facade: facade, ctrl: ctrl, logger: ac.logger}
}

// start runs the controller and the push connection in g.
func (a *app) start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return a.ctrl.Run(ctx) })
	g.Go(func() error { return listen(ctx, a.logger, a.client, a.ctrl.Ready()) })
}

// pushConn is the long-lived push connection. *fcm.Client satisfies it.
type pushConn interface {
	Listen(ctx context.Context) error
}

// listen opens conn each time the token becomes ready. A dropped connection
// is opened again only after the next successful refresh.
func listen(ctx context.Context, logger *slog.Logger, conn pushConn, ready <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ready:
		}
		err := conn.Listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("push connection closed; refresh the token to reconnect", "error", err)
	}
}

func (a *app) Refresh() { a.ctrl.Refresh() }

func (a *app) SetAppState(state notify.AppState) { a.facade.SetAppState(state) }

func (a *app) Open(id string) (tray.Entry, error) { return a.facade.Open(id) }
