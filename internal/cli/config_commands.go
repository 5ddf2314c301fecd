package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tstore/tstore-desktop/internal/config"
	"github.com/tstore/tstore-desktop/internal/core"
	"github.com/tstore/tstore-desktop/internal/models"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Backend settings and client preferences",
		Long: `Read and change the backend settings (Telegram bot token, chat and
sync folder) and manage the local client.ini preferences file.`,
	}

	configCmd.AddCommand(newConfigGetCmd())
	configCmd.AddCommand(newConfigSetCmd())
	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())

	return configCmd
}

// newConfigGetCmd creates the 'config get' command.
func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show backend settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			engine, err := startEngine(ctx)
			if err != nil {
				return err
			}
			defer stopEngine(engine)

			cfg, err := engine.BackendConfig(ctx)
			if err != nil {
				return err
			}
			printBackendConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func printBackendConfig(w io.Writer, cfg models.Config) {
	fmt.Fprintf(w, "bot_token:   %s\n", maskToken(cfg.BotToken))
	fmt.Fprintf(w, "chat_id:     %s\n", cfg.ChatID)
	fmt.Fprintf(w, "sync_folder: %s\n", cfg.SyncFolder)
}

// maskToken keeps the bot id and hides the secret part.
func maskToken(token string) string {
	if token == "" {
		return "(not set)"
	}
	runes := []rune(token)
	if len(runes) <= 8 {
		return "********"
	}
	return string(runes[:4]) + "..." + string(runes[len(runes)-4:])
}

// newConfigSetCmd creates the 'config set' command.
func newConfigSetCmd() *cobra.Command {
	var (
		botToken   string
		chatID     string
		syncFolder string
		pickFolder bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change backend settings",
		Long: `Change one or more backend settings. Unspecified settings keep their
current value.

Examples:
  tstore-client config set --chat-id -1001234567890
  tstore-client config set --pick-folder`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("bot-token") && !flags.Changed("chat-id") &&
				!flags.Changed("sync-folder") && !pickFolder {
				return errors.New("nothing to change; pass at least one of --bot-token, --chat-id, --sync-folder, --pick-folder")
			}
			if pickFolder && flags.Changed("sync-folder") {
				return errors.New("--pick-folder and --sync-folder are mutually exclusive")
			}

			ctx := GetContext()
			engine, err := startEngine(ctx)
			if err != nil {
				return err
			}
			defer stopEngine(engine)

			cfg, err := engine.BackendConfig(ctx)
			if err != nil {
				return err
			}

			if flags.Changed("bot-token") {
				cfg.BotToken = botToken
			}
			if flags.Changed("chat-id") {
				cfg.ChatID = chatID
			}
			if flags.Changed("sync-folder") {
				cfg.SyncFolder = syncFolder
			}
			if pickFolder {
				dir, err := engine.PickSyncFolder(ctx)
				if errors.Is(err, core.ErrCancelled) {
					fmt.Fprintln(cmd.OutOrStdout(), "No folder selected; settings unchanged")
					return nil
				}
				if err != nil {
					return err
				}
				cfg.SyncFolder = dir
			}

			if err := engine.UpdateBackendConfig(ctx, cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Settings saved")
			printBackendConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}

	cmd.Flags().StringVar(&botToken, "bot-token", "", "Telegram bot token")
	cmd.Flags().StringVar(&chatID, "chat-id", "", "Telegram chat ID that stores the files")
	cmd.Flags().StringVar(&syncFolder, "sync-folder", "", "Local sync folder")
	cmd.Flags().BoolVar(&pickFolder, "pick-folder", false, "Choose the sync folder with the backend's directory chooser")

	return cmd
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default client.ini",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				var err error
				if path, err = config.DefaultClientConfigPath(); err != nil {
					return err
				}
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			if err := config.SaveClientConfig(config.NewClientConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective client preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			socket := cfg.Backend.SocketPath
			if socket == "" {
				socket = "(default)"
			}
			fmt.Fprintf(w, "[backend]       socket_path=%s request_timeout=%s\n", socket, cfg.RequestTimeout())
			fmt.Fprintf(w, "[editor]        autosave_delay=%s\n", cfg.AutosaveDelay())
			fmt.Fprintf(w, "[registry]      refresh_coalesce=%s\n", cfg.RefreshCoalesce())
			fmt.Fprintf(w, "[notifications] enabled=%t desktop=%t\n", cfg.Notifications.Enabled, cfg.Notifications.Desktop)
			fmt.Fprintf(w, "[logging]       level=%s file=%t (%s)\n", cfg.Logging.Level, cfg.Logging.File, config.LogFilePath())
			return nil
		},
	}
}
