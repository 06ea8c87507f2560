package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/driftdb/internal/config"
	"github.com/roach88/driftdb/internal/query"
)

// MigrateResult reports the database state after set-up.
type MigrateResult struct {
	Database      string         `json:"database,omitempty"`
	Adapter       string         `json:"adapter"`
	SchemaVersion int            `json:"schema_version"`
	Tables        map[string]int `json:"tables"` // live record count per table
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or migrate the database to the schema version",
		Long: `Open the database and run set-up: a new database is created, an older
one is migrated when the schema file lists a contiguous path of
migrations, and anything else is reset with a warning.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}
	return cmd
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	s, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	result := MigrateResult{
		Adapter:       s.cfg.Adapter,
		SchemaVersion: s.db.Schema().Version(),
		Tables:        make(map[string]int),
	}
	if s.cfg.Adapter == config.AdapterSQLite {
		result.Database = s.cfg.Database
	}

	err = s.action(cmd, "count records", func(ctx context.Context) error {
		for _, c := range s.db.Collections() {
			n, err := c.Count(ctx, query.New(c.Name()))
			if err != nil {
				return err
			}
			result.Tables[c.Name()] = n
		}
		return nil
	})
	if err != nil {
		return fail(s.formatter, ExitFailure, "failed to count records", err)
	}

	if s.formatter.Format == "json" {
		return s.formatter.Success(result)
	}
	w := s.formatter.Writer
	fmt.Fprintf(w, "✓ Database at schema version %d (%s)\n", result.SchemaVersion, result.Adapter)
	for _, name := range s.db.Schema().TableNames() {
		fmt.Fprintf(w, "  %s: %d records\n", name, result.Tables[name])
	}
	return nil
}
