package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/slush-dev/fcm-demo/internal/controller"
	"github.com/slush-dev/fcm-demo/internal/tray"
	"github.com/slush-dev/fcm-demo/notify"
)

const runHelp = `Commands:
  r        refresh the token
  b        move the app to the background
  f        bring the app to the foreground
  o [ID]   tap a tray notification (newest when ID is omitted)
  q        quit`

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the demo app interactively (Ctrl+C to stop)",
	Long: `Runs the app: asks for notification permission, shows the registration
token and the last notification, and keeps a push connection open while a
token is shown.

` + runHelp + `

Use --launch ID to start the app as if the user tapped tray notification ID.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		launchID, _ := cmd.Flags().GetString("launch")
		if err := requireSenderID(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		logger := commandLogger()
		con := newConsole(os.Stdin, os.Stderr)
		a := newApp(appConfig{
			logger:   logger,
			prompt:   promptFor(cfg.Permission, con.Prompt(cfg.AppPackage)),
			view:     controller.NewTextView(os.Stdout),
			alerter:  controller.NewTextAlerter(os.Stdout),
			tray:     tray.NewShared(tray.Path(sessionDir)),
			launchID: launchID,
		})
		defer a.facade.Close()

		fmt.Fprintln(os.Stderr, runHelp)

		g, gctx := errgroup.WithContext(ctx)
		a.start(gctx, g)
		g.Go(func() error { return serveCommands(gctx, con, a, os.Stdout) })

		if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
			return err
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("launch", "", "Start as if opened by tapping this tray notification")
	rootCmd.AddCommand(runCmd)
}

type lineSource interface {
	Lines() <-chan string
	Done() <-chan struct{}
}

// appActions are the user actions available from the command loop.
type appActions interface {
	Refresh()
	SetAppState(notify.AppState)
	Open(id string) (tray.Entry, error)
}

// serveCommands runs the command loop until ctx ends or the user quits.
// End of input stops reading commands but keeps the app running.
func serveCommands(ctx context.Context, src lineSource, actions appActions, out io.Writer) error {
	done := src.Done()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			done = nil
		case line := <-src.Lines():
			if handleCommand(line, actions, out) {
				return errQuit
			}
		}
	}
}

// handleCommand runs one command line and reports whether to quit.
func handleCommand(line string, actions appActions, out io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "r", "refresh":
		actions.Refresh()
	case "b", "background":
		actions.SetAppState(notify.Background)
		fmt.Fprintln(out, "App is in the background; notifications go to the tray.")
	case "f", "foreground":
		actions.SetAppState(notify.Foreground)
		fmt.Fprintln(out, "App is in the foreground.")
	case "o", "open":
		var id string
		if len(fields) > 1 {
			id = fields[1]
		}
		entry, err := actions.Open(id)
		if errors.Is(err, tray.ErrNotFound) {
			fmt.Fprintln(out, "No such notification in the tray.")
		} else if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		} else {
			fmt.Fprintf(out, "Opened notification %s.\n", entry.ID)
		}
	case "q", "quit", "exit":
		return true
	case "h", "help", "?":
		fmt.Fprintln(out, runHelp)
	default:
		fmt.Fprintf(out, "Unknown command %q.\n%s\n", fields[0], runHelp)
	}
	return false
}
