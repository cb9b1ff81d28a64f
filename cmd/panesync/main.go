// Command panesync is a dual-pane file transfer and synchronization client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"panesync/internal/app"
)

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		masterEnv  string
		console    bool
	)

	cmd := &cobra.Command{
		Use:           "panesync",
		Short:         "Browse, transfer and synchronize files between two panes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch logLevel {
			case "", "debug", "info", "warn", "error":
			default:
				return fmt.Errorf("invalid log level %q", logLevel)
			}
			application, err := app.New(app.Options{
				ConfigPath:     configPath,
				LogLevel:       logLevel,
				MasterPassword: os.Getenv(masterEnv),
				Console:        console,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return application.Run()
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "configuration file (default ~/.config/panesync/config.json)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&masterEnv, "master-password-env", "PANESYNC_MASTER_PASSWORD", "environment variable holding the credential store password")
	cmd.Flags().BoolVar(&console, "console", false, "also log to the console")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
