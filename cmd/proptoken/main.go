// Command proptoken is the entry point for the tokenization and investment
// ledger engine. The serve command runs the configured mode; migrate and
// encrypt-key are operator utilities.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/proptoken/internal/app"
	"github.com/alanyoungcy/proptoken/internal/config"
	"github.com/alanyoungcy/proptoken/internal/crypto"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "proptoken",
		Short:         "Property tokenization and investment ledger engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to configuration file")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		migrateCmd(&configPath),
		encryptKeyCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine in the configured mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath, mode)
			if err != nil {
				return err
			}

			logger.Info("proptoken starting",
				slog.String("mode", cfg.Mode),
				slog.String("config", *configPath),
			)

			application := app.New(cfg, logger)
			defer application.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("application exited with error", slog.String("error", err.Error()))
				return err
			}
			logger.Info("proptoken stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "override the configured mode (server, reconcile, full, sandbox)")
	return cmd
}

func migrateCmd(configPath *string) *cobra.Command {
	var rollback int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath, "")
			if err != nil {
				return err
			}
			n, err := app.Migrate(cmd.Context(), cfg, rollback, logger)
			if err != nil {
				return err
			}
			if rollback > 0 {
				fmt.Printf("rolled back %d migration(s)\n", n)
			} else {
				fmt.Printf("applied %d migration(s)\n", n)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&rollback, "rollback", 0, "roll back the last N migrations instead of applying")
	return cmd
}

func encryptKeyCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "encrypt-key",
		Short: "Encrypt a treasury keypair into a password-protected file",
		Long: "Reads the base58 keypair from PROPTOKEN_SOLANA_TREASURY_KEY and the password " +
			"from PROPTOKEN_SOLANA_KEY_PASSWORD, then writes the encrypted key file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := os.Getenv("PROPTOKEN_SOLANA_TREASURY_KEY")
			password := os.Getenv("PROPTOKEN_SOLANA_KEY_PASSWORD")
			if key == "" || password == "" {
				return errors.New("PROPTOKEN_SOLANA_TREASURY_KEY and PROPTOKEN_SOLANA_KEY_PASSWORD must be set")
			}
			data, err := crypto.EncryptKey(key, password)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Printf("encrypted key written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "treasury.key.json", "output path for the encrypted key")
	return cmd
}

// loadConfig loads and validates configuration and returns a JSON logger at
// the configured level.
func loadConfig(path, mode string) (*config.Config, *slog.Logger, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, nil, err
	}
	if mode != "" {
		cfg.Mode = mode
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, nil, err
	}
	logger.Debug("effective configuration", slog.Any("config", cfg))
	return cfg, logger, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
