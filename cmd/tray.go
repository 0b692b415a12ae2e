package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slush-dev/fcm-demo/internal/tray"
)

var trayCmd = &cobra.Command{
	Use:   "tray",
	Short: "List notifications displayed while the app was in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := tray.NewShared(tray.Path(sessionDir)).List()
		if err != nil {
			return err
		}
		printTray(os.Stdout, entries, useYAML)
		return nil
	},
}

var trayClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Dismiss every notification in the tray",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := tray.NewShared(tray.Path(sessionDir)).Clear(); err != nil {
			return err
		}
		fmt.Println("Tray cleared.")
		return nil
	},
}

func init() {
	trayCmd.AddCommand(trayClearCmd)
	rootCmd.AddCommand(trayCmd)
}
