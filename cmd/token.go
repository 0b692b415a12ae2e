package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/slush-dev/fcm-demo/notify"
)

// tokenSource is the part of the notification facade the token command uses.
type tokenSource interface {
	RequestPermission(ctx context.Context) notify.PermissionState
	Token(ctx context.Context) (string, error)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Ask for notification permission and print the registration token",
	Long: `Asks for notification permission (once; the decision is remembered) and
prints this device's registration token, registering the device first if
needed. --rotate asks the push service for a new token.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rotate, _ := cmd.Flags().GetBool("rotate")
		if err := requireSenderID(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		client := newFCMClient(commandLogger())
		perms := notify.NewStoredPermissions(sessionDir,
			promptFor(cfg.Permission, notify.LinePrompt(os.Stdin, os.Stderr, cfg.AppPackage)))
		facade := notify.New(client, perms, nil)

		var rotateFn func(context.Context) (string, error)
		if rotate {
			rotateFn = client.Rotate
		}
		return printToken(ctx, os.Stdout, facade, rotateFn, useYAML)
	},
}

func init() {
	tokenCmd.Flags().Bool("rotate", false, "Request a new token from the push service")
	rootCmd.AddCommand(tokenCmd)
}

// printToken runs the permission and token steps and prints the result.
// rotate, when set, replaces the token after the permission check.
func printToken(ctx context.Context, w io.Writer, src tokenSource, rotate func(context.Context) (string, error), asYAML bool) error {
	state := src.RequestPermission(ctx)
	if !state.Enabled() {
		return fmt.Errorf("notification permission %s: no token available", state)
	}

	token, err := src.Token(ctx)
	if err != nil {
		return err
	}
	if rotate != nil {
		if token, err = rotate(ctx); err != nil {
			return fmt.Errorf("rotating token: %w", err)
		}
	}

	if asYAML {
		yamlTo(w, map[string]string{"permission": state.String(), "token": token})
	} else {
		fmt.Fprintf(w, "Permission: %s\n", state)
		fmt.Fprintf(w, "Token: %s\n", token)
	}
	return nil
}
