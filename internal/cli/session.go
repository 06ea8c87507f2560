package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/driftdb/internal/action"
	"github.com/roach88/driftdb/internal/adapter"
	"github.com/roach88/driftdb/internal/adapter/memory"
	"github.com/roach88/driftdb/internal/adapter/sqlite"
	"github.com/roach88/driftdb/internal/config"
	"github.com/roach88/driftdb/internal/database"
	"github.com/roach88/driftdb/internal/schemafile"
)

// session is an open database plus what it was opened from.
type session struct {
	cfg       *config.Config
	db        *database.Database
	formatter *OutputFormatter
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// loadConfig resolves the configuration and builds the logger. --verbose
// forces debug logging.
func (o *RootOptions) loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.viper, o.ConfigFile, "")
	if err != nil {
		return nil, nil, err
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.NewLogger(cmd.ErrOrStderr()), nil
}

// open loads config and schema, opens the adapter and the database. Set-up
// (and with it any migration) runs before open returns.
func (o *RootOptions) open(cmd *cobra.Command) (*session, error) {
	f := o.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, logger, err := o.loadConfig(cmd)
	if err != nil {
		return nil, fail(f, ExitCommandError, "failed to load config", err)
	}
	if cfg.File != "" {
		f.VerboseLog("Using config %s", cfg.File)
	}

	loaded, err := schemafile.Load(cfg.Schema)
	if err != nil {
		return nil, fail(f, ExitCommandError, "failed to load schema", err)
	}
	f.VerboseLog("Loaded schema %s (version %d)", cfg.Schema, loaded.Schema.Version())

	a, err := openAdapter(ctx, cfg, loaded, logger)
	if err != nil {
		return nil, fail(f, ExitFailure, "failed to open adapter", err)
	}

	db, err := database.Open(ctx, a, database.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, fail(f, ExitFailure, "failed to open database", err)
	}
	return &session{cfg: cfg, db: db, formatter: f}, nil
}

func openAdapter(ctx context.Context, cfg *config.Config, loaded *schemafile.Result, logger *slog.Logger) (adapter.Adapter, error) {
	switch cfg.Adapter {
	case config.AdapterMemory:
		return memory.New(loaded.Schema,
			memory.WithMigrations(loaded.Migrations),
			memory.WithLogger(logger),
		)
	case config.AdapterSQLite:
		return sqlite.Open(ctx, cfg.Database, loaded.Schema,
			sqlite.WithMigrations(loaded.Migrations),
			sqlite.WithLogger(logger),
		)
	}
	return nil, fmt.Errorf("unknown adapter %q", cfg.Adapter)
}

// action runs work as one database action.
func (s *session) action(cmd *cobra.Command, desc string, work func(ctx context.Context) error) error {
	return s.db.Action(s.ctx(cmd), desc, func(ctx context.Context, _ *action.Handle) error {
		return work(ctx)
	})
}

func (s *session) ctx(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (s *session) Close() error {
	return s.db.Close()
}
