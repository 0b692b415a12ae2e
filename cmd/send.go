package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slush-dev/fcm-demo/fcm"
	"github.com/slush-dev/fcm-demo/internal/sender"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a test push through the Firebase Admin API",
	Long: `Send a test push to a registration token, by default this device's.
Requires a Firebase service account: set firebase_credentials in the config
or rely on application default credentials.

Send with no --title or --body for a data-only push.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		title, _ := cmd.Flags().GetString("title")
		body, _ := cmd.Flags().GetString("body")
		pairs, _ := cmd.Flags().GetStringArray("data")
		collapseKey, _ := cmd.Flags().GetString("collapse-key")

		data, err := sender.ParseData(pairs)
		if err != nil {
			return err
		}
		if token == "" {
			if token, err = deviceToken(sessionDir); err != nil {
				return err
			}
		}

		ctx := context.Background()
		s, err := sender.New(ctx, cfg.FirebaseCredentials, commandLogger())
		if err != nil {
			return err
		}
		name, err := s.Send(ctx, token, sender.Notification{
			Title:       title,
			Body:        body,
			Data:        data,
			CollapseKey: collapseKey,
		})
		if err != nil {
			return err
		}

		if useYAML {
			yamlOut(map[string]string{"message": name, "token": token})
		} else {
			fmt.Printf("Sent: %s\n", name)
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().String("token", "", "Registration token (default: this device's token)")
	sendCmd.Flags().String("title", "", "Notification title")
	sendCmd.Flags().String("body", "", "Notification body")
	sendCmd.Flags().StringArray("data", nil, "Data payload entry key=value (repeatable)")
	sendCmd.Flags().String("collapse-key", "", "Collapse key")
	rootCmd.AddCommand(sendCmd)
}

// deviceToken returns the token this device registered with.
func deviceToken(dir string) (string, error) {
	creds, err := fcm.LoadCredentials(dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("this device is not registered yet: run 'fcm-demo token' or pass --token")
	}
	if err != nil {
		return "", err
	}
	if creds.Token == "" {
		return "", fmt.Errorf("stored credentials hold no token: run 'fcm-demo token' or pass --token")
	}
	return creds.Token, nil
}
