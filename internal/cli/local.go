package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// LocalValue is a local-storage entry.
type LocalValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Found bool   `json:"found"`
}

// NewLocalCommand creates the local command group for the key/value store
// that never syncs.
func NewLocalCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Read and write local storage (never synced)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "get <key>",
		Short:         "Print a local value",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocalGet(rootOpts, args[0], cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "set <key> <value>",
		Short:         "Store a local value",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocalSet(rootOpts, args[0], args[1], cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "remove <key>",
		Short:         "Delete a local value",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocalRemove(rootOpts, args[0], cmd)
		},
	})

	return cmd
}

func runLocalGet(opts *RootOptions, key string, cmd *cobra.Command) error {
	s, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	v, ok, err := s.db.GetLocal(s.ctx(cmd), key)
	if err != nil {
		return fail(s.formatter, ExitFailure, "failed to read local value", err)
	}
	if s.formatter.Format == "json" {
		return s.formatter.Success(LocalValue{Key: key, Value: v, Found: ok})
	}
	if !ok {
		return NewExitError(ExitFailure, fmt.Sprintf("local key %q not set", key))
	}
	fmt.Fprintln(s.formatter.Writer, v)
	return nil
}

func runLocalSet(opts *RootOptions, key, value string, cmd *cobra.Command) error {
	s, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.db.SetLocal(s.ctx(cmd), key, value); err != nil {
		return fail(s.formatter, ExitFailure, "failed to write local value", err)
	}
	if s.formatter.Format == "json" {
		return s.formatter.Success(LocalValue{Key: key, Value: value, Found: true})
	}
	fmt.Fprintf(s.formatter.Writer, "✓ %s set\n", key)
	return nil
}

func runLocalRemove(opts *RootOptions, key string, cmd *cobra.Command) error {
	s, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.db.RemoveLocal(s.ctx(cmd), key); err != nil {
		return fail(s.formatter, ExitFailure, "failed to remove local value", err)
	}
	if s.formatter.Format == "json" {
		return s.formatter.Success(LocalValue{Key: key})
	}
	fmt.Fprintf(s.formatter.Writer, "✓ %s removed\n", key)
	return nil
}
