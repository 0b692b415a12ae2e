package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/slush-dev/fcm-demo/internal/controller"
	"github.com/slush-dev/fcm-demo/internal/logging"
	"github.com/slush-dev/fcm-demo/internal/mcpserver"
	"github.com/slush-dev/fcm-demo/internal/tray"
	"github.com/slush-dev/fcm-demo/notify"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP (Model Context Protocol) server on stdio",
	Long: `Start an MCP server that runs the demo app and exposes it as resources
(push://status, push://tray) and tools (refresh_token, set_app_state,
open_notification) for LLM integration.

The screen and alerts are also printed to stderr.

The server communicates via JSON-RPC over stdin/stdout, so the permission
dialog cannot be answered interactively: use --permission grant or deny, or
decide beforehand with 'fcm-demo token'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireSenderID(); err != nil {
			return err
		}

		logger, closer := logging.New(logging.Options{
			Verbose: verbose,
			File:    filepath.Join(sessionDir, "mcp.log"),
		})
		defer closer.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		shared := tray.NewShared(tray.Path(sessionDir))
		s := mcpserver.New(rootCmd.Version, logger, shared)
		a := newApp(appConfig{
			logger:  logger,
			prompt:  promptFor(cfg.Permission, noDialog),
			view:    controller.Views{s, controller.NewTextView(os.Stderr)},
			alerter: controller.Alerters{s, controller.NewTextAlerter(os.Stderr)},
			tray:    s.WatchTray(shared),
		})
		defer a.facade.Close()
		s.Bind(a.ctrl, a.facade)

		g, gctx := errgroup.WithContext(ctx)
		a.start(gctx, g)
		g.Go(func() error {
			if err := s.Run(gctx); err != nil {
				return err
			}
			return errQuit
		})

		if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
			return err
		}
		return nil
	},
}

// noDialog is the prompter when no terminal is available.
func noDialog(context.Context) (notify.PermissionState, error) {
	return notify.Undetermined, fmt.Errorf("no interactive permission dialog; use --permission grant or deny")
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
