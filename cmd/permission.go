package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/slush-dev/fcm-demo/notify"
)

var permissionCmd = &cobra.Command{
	Use:   "permission",
	Short: "Show the stored notification permission decision",
	RunE: func(cmd *cobra.Command, args []string) error {
		perms := notify.NewStoredPermissions(sessionDir, nil)
		state, err := perms.Status(context.Background())
		if err != nil {
			return err
		}
		if useYAML {
			yamlOut(map[string]string{"permission": state.String()})
		} else {
			fmt.Printf("Permission: %s\n", state)
		}
		return nil
	},
}

var permissionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the decision so the app asks again",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := notify.NewStoredPermissions(sessionDir, nil).Reset(); err != nil {
			return err
		}
		fmt.Println("Permission reset; the app will ask again.")
		return nil
	},
}

func init() {
	permissionCmd.AddCommand(permissionResetCmd)
	rootCmd.AddCommand(permissionCmd)
}
