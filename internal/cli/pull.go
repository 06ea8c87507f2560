package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/driftdb/internal/dberr"
	dbsync "github.com/roach88/driftdb/internal/sync"
)

// PullSummary reports an applied pull.
type PullSummary struct {
	File      string                  `json:"file"`
	Timestamp int64                   `json:"timestamp"`
	Tables    map[string]ChangeCounts `json:"tables"`
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull <file>",
		Short: "Apply a remote change set from a JSON file",
		Long: `Apply a pulled change set ({"changes": {...}, "timestamp": N}) to the
database and record the timestamp. Conflicts resolve per column in favour
of local edits. Use - to read from stdin.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPull(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runPull(opts *RootOptions, file string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return fail(f, ExitCommandError, "failed to read change set", err)
	}

	var pulled dbsync.PullResult
	if err := json.Unmarshal(data, &pulled); err != nil {
		return fail(f, ExitFailure, "failed to decode change set", dberr.Protocol("", "malformed change set: %v", err))
	}

	s, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := s.ctx(cmd)

	if err := dbsync.ApplyRemoteChanges(ctx, s.db, pulled.Changes); err != nil {
		return fail(s.formatter, ExitFailure, "failed to apply remote changes", err)
	}
	if err := dbsync.SetLastPulledAt(ctx, s.db, pulled.Timestamp); err != nil {
		return fail(s.formatter, ExitFailure, "failed to record pull timestamp", err)
	}

	summary := PullSummary{File: file, Timestamp: pulled.Timestamp, Tables: countChanges(pulled.Changes)}
	if s.formatter.Format == "json" {
		return s.formatter.Success(summary)
	}
	fmt.Fprintf(s.formatter.Writer, "✓ Applied %s (timestamp %d)\n", file, pulled.Timestamp)
	writeCounts(s.formatter.Writer, pulled.Changes)
	return nil
}
