package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	dbsync "github.com/roach88/driftdb/internal/sync"
)

// ChangeCounts summarizes one table's delta.
type ChangeCounts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// NewChangesCommand creates the changes command.
func NewChangesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Show local changes waiting to be pushed",
		Long: `Fetch every unsynced record and tombstone. JSON output is the change
set with local metadata (_status, _changed) kept; text output lists
counts per table.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChanges(rootOpts, cmd)
		},
	}
	return cmd
}

func runChanges(opts *RootOptions, cmd *cobra.Command) error {
	s, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	local, err := dbsync.FetchLocalChanges(s.ctx(cmd), s.db)
	if err != nil {
		return fail(s.formatter, ExitFailure, "failed to fetch local changes", err)
	}

	if s.formatter.Format == "json" {
		return s.formatter.Success(local.Changes)
	}
	writeCounts(s.formatter.Writer, local.Changes)
	return nil
}

func countChanges(cs dbsync.DatabaseChangeSet) map[string]ChangeCounts {
	out := make(map[string]ChangeCounts, len(cs))
	for name, tc := range cs {
		out[name] = ChangeCounts{
			Created: len(tc.Created),
			Updated: len(tc.Updated),
			Deleted: len(tc.Deleted),
		}
	}
	return out
}

func writeCounts(w io.Writer, cs dbsync.DatabaseChangeSet) {
	if cs.IsEmpty() {
		fmt.Fprintln(w, "No local changes")
		return
	}
	counts := countChanges(cs)
	for _, name := range cs.Tables() {
		c := counts[name]
		if c == (ChangeCounts{}) {
			continue
		}
		fmt.Fprintf(w, "%s: %d created, %d updated, %d deleted\n", name, c.Created, c.Updated, c.Deleted)
	}
}
