package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/healthconnect/internal/config"
	"github.com/ashureev/healthconnect/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// flags overriding the environment.
type flags struct {
	dbPath string
	port   string
	debug  bool
}

func (f *flags) bindPersistent(fs *pflag.FlagSet) {
	fs.StringVar(&f.dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	fs.BoolVar(&f.debug, "debug", false, "enable debug logging and request logs")
}

func (f *flags) bindServe(fs *pflag.FlagSet) {
	fs.StringVarP(&f.port, "port", "p", "", "listen port (overrides PORT)")
}

// load reads the environment configuration and applies flag overrides.
func (f *flags) load() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if f.dbPath != "" {
		cfg.DBPath = f.dbPath
	}
	if f.port != "" {
		cfg.Port = f.port
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "healthconnect",
		Short:         "HealthConnect API server",
		Long:          "HealthConnect serves the patient portal API and relays live-consultation signaling between two peers.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if f.debug {
				slog.SetDefault(slog.New(slog.NewJSONHandler(cmd.OutOrStdout(), &slog.HandlerOptions{
					Level: slog.LevelDebug,
				})))
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), f)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	f.bindPersistent(root.PersistentFlags())
	f.bindServe(root.Flags())

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), f)
		},
	}
	f.bindServe(serve.Flags())

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and add any missing optional user columns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(f, func(repo store.Repository) error {
				added, err := repo.EnsureUserColumns(cmd.Context())
				if err != nil {
					return err
				}
				if len(added) == 0 {
					slog.Info("Users table already up to date")
					return nil
				}
				slog.Info("Added user columns", "columns", added)
				return nil
			})
		},
	}

	columns := &cobra.Command{
		Use:   "columns",
		Short: "List the users table columns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(f, func(repo store.Repository) error {
				cols, err := repo.UserColumns(cmd.Context())
				if err != nil {
					return err
				}
				for _, c := range cols {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), c)
				}
				return nil
			})
		},
	}

	root.AddCommand(serve, migrate, columns)
	return root
}

// withStore opens the configured database for a one-shot command.
func withStore(f *flags, fn func(store.Repository) error) error {
	cfg, err := f.load()
	if err != nil {
		return err
	}
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(context.Background()); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	return fn(repo)
}
