package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every record, tombstone and local key",
		Long: `Wipe the database, keeping its schema. Unsynced changes are lost,
and the next pull starts from scratch. Requires --yes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitCommandError, "reset is destructive; pass --yes to confirm")
			}
			return runReset(rootOpts, cmd)
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")

	return cmd
}

func runReset(opts *RootOptions, cmd *cobra.Command) error {
	s, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	err = s.action(cmd, "unsafe reset", func(ctx context.Context) error {
		return s.db.UnsafeResetDatabase(ctx)
	})
	if err != nil {
		return fail(s.formatter, ExitFailure, "failed to reset database", err)
	}

	if s.formatter.Format == "json" {
		return s.formatter.Success(map[string]bool{"reset": true})
	}
	fmt.Fprintln(s.formatter.Writer, "✓ Database reset")
	return nil
}
