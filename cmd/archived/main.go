package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mam/cmd/internal/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "archived",
		Short:         "Message archive server",
		Long:          "archived stores one-to-one chat messages per user and serves paged archive queries over a realtime WebSocket.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "YAML config file (overrides ARC_CONFIG_FILE)")
	root.PersistentFlags().String("log-level", "", "log level: debug|info|warn|error")
	root.PersistentFlags().String("log-format", "", "log format: auto|json|pretty")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newPurgeCmd())
	return root
}

// loadConfig applies persistent flags on top of LoadConfig.
func loadConfig(cmd *cobra.Command) (app.Config, app.Logger, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := os.Setenv("ARC_CONFIG_FILE", path); err != nil {
			return app.Config{}, nil, err
		}
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return app.Config{}, nil, err
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	return cfg, app.NewLogger(cfg.LogLevel, cfg.LogFormat), nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"run"},
		Short:   "Start the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("http"); addr != "" {
				cfg.HTTPAddr = addr
			}
			return app.Serve(cfg, logger)
		},
	}
	cmd.Flags().String("http", "", "HTTP listen address (overrides ARC_HTTP_ADDR)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the archive tables and indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Migrate(ctx)
		},
	}
}

func newPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete archived messages older than a cutoff",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cutoff, err := purgeCutoff(cmd, time.Now().UTC())
			if err != nil {
				return err
			}

			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Purge(ctx, cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d messages archived before %s\n", n, cutoff.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().String("before", "", "RFC 3339 cutoff timestamp")
	cmd.Flags().Duration("older-than", 0, "cutoff relative to now, e.g. 720h")
	cmd.MarkFlagsMutuallyExclusive("before", "older-than")
	cmd.MarkFlagsOneRequired("before", "older-than")
	return cmd
}

func purgeCutoff(cmd *cobra.Command, now time.Time) (time.Time, error) {
	if s, _ := cmd.Flags().GetString("before"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("--before: %w", err)
		}
		return t.UTC(), nil
	}
	d, _ := cmd.Flags().GetDuration("older-than")
	if d <= 0 {
		return time.Time{}, fmt.Errorf("--older-than must be positive")
	}
	return now.Add(-d), nil
}
