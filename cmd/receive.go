package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/slush-dev/fcm-demo/fcm"
	"github.com/slush-dev/fcm-demo/internal/logging"
	"github.com/slush-dev/fcm-demo/internal/receiver"
	"github.com/slush-dev/fcm-demo/internal/tray"
	"github.com/slush-dev/fcm-demo/notify"
)

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Run the background receiver while the app is not running (Ctrl+C to stop)",
	Long: `Runs the background receiver: keeps the push connection open, logs every
message, token refresh and deleted-messages notice, and displays
notifications in the tray when notification permission is granted.

The push service allows one connection per device, so run this instead of,
not alongside, 'fcm-demo run'. Open a displayed notification later with
'fcm-demo run --launch ID'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireSenderID(); err != nil {
			return err
		}

		logger, closer := logging.New(logging.Options{
			Verbose: verbose,
			File:    filepath.Join(sessionDir, "receiver.log"),
		})
		defer closer.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		client := newFCMClient(logger)
		perms := notify.NewStoredPermissions(sessionDir, nil)
		shared := tray.NewShared(tray.Path(sessionDir))

		r := receiver.New(logger, displayIfPermitted(ctx, logger, perms, shared))
		r.Attach(client)

		if _, err := client.Register(ctx); err != nil {
			return fmt.Errorf("registering device: %w", err)
		}
		logger.Info("background receiver listening")
		if err := client.Listen(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(receiveCmd)
}

// displayIfPermitted posts notifications to the tray unless the user has not
// enabled notifications.
func displayIfPermitted(ctx context.Context, logger *slog.Logger, perms notify.Permissions, t notify.Tray) func(fcm.Message) error {
	return func(msg fcm.Message) error {
		state, err := perms.Status(ctx)
		if err != nil {
			return err
		}
		if !state.Enabled() {
			return fmt.Errorf("notification not displayed: permission %s", state)
		}
		entry, err := t.Post(msg)
		if err != nil {
			return err
		}
		logger.Info("notification displayed", "id", entry.ID, "title", msg.Title())
		return nil
	}
}
