package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/slush-dev/fcm-demo/fcm"
	"github.com/slush-dev/fcm-demo/internal/config"
	"github.com/slush-dev/fcm-demo/internal/logging"
)

var (
	sessionDir     string
	configFile     string
	verbose        bool
	useYAML        bool
	permissionMode string

	// cfg is loaded before every command runs.
	cfg *config.Config
)

func defaultSessionDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fcm-demo")
}

var rootCmd = &cobra.Command{
	Use:   "fcm-demo",
	Short: "Push notification demo device: token, foreground/background delivery and a test sender",
	Long: `fcm-demo registers itself as an Android FCM device, shows its registration
token and displays incoming pushes the way a mobile app does: alerts in the
foreground, tray notifications in the background, and the tapped
notification when the app is opened from the tray.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			logger, _ := logging.New(logging.Options{Verbose: true})
			slog.SetDefault(logger)
		}

		loaded, err := config.Load(sessionDir, configFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("permission") {
			loaded.Permission = permissionMode
			if err := loaded.Validate(); err != nil {
				return err
			}
		}
		cfg = loaded
		if cfg.File != "" {
			slog.Debug("loaded config", "file", cfg.File)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionDir, "session-dir", defaultSessionDir(), "Directory for device credentials, permission decision and tray")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default <session-dir>/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&useYAML, "yaml", false, "Print output in YAML format")
	rootCmd.PersistentFlags().StringVar(&permissionMode, "permission", config.PermissionPrompt, "How to answer the notification permission dialog: prompt, grant or deny")

	// Allow env override
	if envDir := os.Getenv("FCM_DEMO_SESSION_DIR"); envDir != "" {
		sessionDir = envDir
	}
}

// SetVersion sets the version string shown by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newFCMClient returns the device client for the configured app.
func newFCMClient(logger *slog.Logger) *fcm.Client {
	return fcm.NewClient(sessionDir,
		fcm.WithLogger(logger),
		fcm.WithApp(cfg.App()),
	)
}

// commandLogger is the stderr logger for long-running commands.
func commandLogger() *slog.Logger {
	logger, _ := logging.New(logging.Options{Verbose: verbose})
	return logger
}

func requireSenderID() error {
	if cfg.SenderID == "" {
		return fmt.Errorf("sender_id is not configured: set it in %s or FCM_DEMO_SENDER_ID",
			filepath.Join(sessionDir, "config.yaml"))
	}
	return nil
}
