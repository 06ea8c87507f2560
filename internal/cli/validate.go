package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/driftdb/internal/schemafile"
)

// SchemaSummary describes a loaded schema file.
type SchemaSummary struct {
	File       string         `json:"file"`
	Version    int            `json:"version"`
	Tables     []TableSummary `json:"tables"`
	Migrations []int          `json:"migrations"`
}

// TableSummary describes one table of a schema.
type TableSummary struct {
	Name    string `json:"name"`
	Columns int    `json:"columns"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [schema-file]",
		Short: "Validate a schema file without opening a database",
		Long: `Load a schema file (YAML, CUE, or a CUE package directory), check its
tables and migrations, and print a summary. Without an argument the
configured schema is validated.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, _, err := opts.loadConfig(cmd)
		if err != nil {
			return fail(f, ExitCommandError, "failed to load config", err)
		}
		path = cfg.Schema
	}

	loaded, err := schemafile.Load(path)
	if err != nil {
		// Schema errors are validation failures, not command misuse.
		if f.Format == "json" {
			_ = f.Error(errorCode(err), err.Error(), map[string]string{"file": path})
		} else {
			fmt.Fprintln(f.Writer, "✗ Schema invalid")
			fmt.Fprintf(f.Writer, "  %v\n", err)
		}
		return WrapExitError(ExitFailure, "validation failed", err)
	}

	summary := SchemaSummary{
		File:       path,
		Version:    loaded.Schema.Version(),
		Tables:     []TableSummary{},
		Migrations: []int{},
	}
	for _, t := range loaded.Schema.Tables() {
		summary.Tables = append(summary.Tables, TableSummary{Name: t.Name(), Columns: len(t.Columns())})
	}
	summary.Migrations = append(summary.Migrations, loaded.Migrations.Versions()...)

	if f.Format == "json" {
		return f.Success(summary)
	}

	w := f.Writer
	fmt.Fprintf(w, "✓ Schema valid: %s (version %d)\n", path, summary.Version)
	for _, t := range summary.Tables {
		fmt.Fprintf(w, "  table %s (%d columns)\n", t.Name, t.Columns)
	}
	if len(summary.Migrations) > 0 {
		fmt.Fprintf(w, "  migrations: %v\n", summary.Migrations)
	}
	return nil
}
