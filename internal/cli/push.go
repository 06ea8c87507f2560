package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	dbsync "github.com/roach88/driftdb/internal/sync"
)

// PushPayload is the file written by push: local changes stripped of local
// metadata plus the pull timestamp they are based on.
type PushPayload struct {
	Changes      dbsync.DatabaseChangeSet `json:"changes"`
	LastPulledAt int64                    `json:"last_pulled_at"`
}

// PushResult reports a push.
type PushResult struct {
	Out    string                  `json:"out"`
	Tables map[string]ChangeCounts `json:"tables"`
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Export local changes and mark them as synced",
		Long: `Fetch local changes, write them to a JSON file for the remote, then
mark them as synced. Records edited while the file is written stay dirty
for the next push. Nothing is written when there are no changes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(rootOpts, out, cmd)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "file to write the change set to (- for stdout)")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runPush(opts *RootOptions, out string, cmd *cobra.Command) error {
	s, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := s.ctx(cmd)

	local, err := dbsync.FetchLocalChanges(ctx, s.db)
	if err != nil {
		return fail(s.formatter, ExitFailure, "failed to fetch local changes", err)
	}
	if local.Changes.IsEmpty() {
		if s.formatter.Format == "json" {
			return s.formatter.Success(PushResult{Tables: map[string]ChangeCounts{}})
		}
		fmt.Fprintln(s.formatter.Writer, "No local changes")
		return nil
	}

	lastPulledAt, _, err := dbsync.GetLastPulledAt(ctx, s.db)
	if err != nil {
		return fail(s.formatter, ExitFailure, "failed to read last pull timestamp", err)
	}

	payload, err := json.MarshalIndent(PushPayload{
		Changes:      local.Changes.WithoutLocalMetadata(),
		LastPulledAt: lastPulledAt,
	}, "", "  ")
	if err != nil {
		return fail(s.formatter, ExitFailure, "failed to encode changes", err)
	}
	payload = append(payload, '\n')

	if out == "-" {
		if _, err := cmd.OutOrStdout().Write(payload); err != nil {
			return fail(s.formatter, ExitFailure, "failed to write changes", err)
		}
	} else if err := os.WriteFile(out, payload, 0644); err != nil {
		return fail(s.formatter, ExitFailure, "failed to write changes", err)
	}

	if err := dbsync.MarkLocalChangesAsSynced(ctx, s.db, local); err != nil {
		return fail(s.formatter, ExitFailure, "failed to mark changes as synced", err)
	}

	if out == "-" {
		return nil
	}
	result := PushResult{Out: out, Tables: countChanges(local.Changes)}
	if s.formatter.Format == "json" {
		return s.formatter.Success(result)
	}
	fmt.Fprintf(s.formatter.Writer, "✓ Pushed %d records to %s\n", len(local.Affected), out)
	writeCounts(s.formatter.Writer, local.Changes)
	return nil
}
