package sync

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/driftdb/internal/action"
	"github.com/roach88/driftdb/internal/database"
	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/record"
)

// MarkLocalChangesAsSynced marks pushed records as synced and purges pushed
// tombstones, as one action.
//
// A record is marked only if its current state still equals the snapshot
// taken by FetchLocalChanges; a record edited since then is left dirty for
// the next cycle. A record that has vanished, including one evicted by a
// reset since the fetch, is logged and skipped.
func MarkLocalChangesAsSynced(ctx context.Context, db *database.Database, local LocalChanges) error {
	if err := ensureActionsEnabled(db); err != nil {
		return err
	}

	return db.Action(ctx, "mark local changes as synced", func(ctx context.Context, _ *action.Handle) error {
		affected := make(map[recordKey]*record.Record, len(local.Affected))
		for _, r := range local.Affected {
			affected[recordKey{r.Table(), r.ID()}] = r
		}

		var toMark []*record.Record
		skipped := 0
		for _, table := range local.Changes.Tables() {
			c, err := db.Collection(table)
			if err != nil {
				discard(toMark)
				return err
			}
			tc := local.Changes[table]
			snaps := make([]raw.Dirty, 0, len(tc.Created)+len(tc.Updated))
			snaps = append(snaps, tc.Created...)
			snaps = append(snaps, tc.Updated...)

			for _, snap := range snaps {
				id, _ := snap.ID()
				r, ok := affected[recordKey{table, id}]
				if !ok || r.IsDestroyed() || !c.IsCached(r) {
					db.Logger().Warn("record to mark as synced no longer exists; it will sync next time",
						"table", table, "id", id)
					continue
				}
				if !raw.Equal(r.Raw().Dirty(), snap) {
					skipped++
					continue
				}
				if err := r.PrepareMarkAsSynced(); err != nil {
					discard(toMark)
					return err
				}
				toMark = append(toMark, r)
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return db.Batch(gctx, toMark...)
		})
		for _, table := range local.Changes.Tables() {
			deleted := local.Changes[table].Deleted
			if len(deleted) == 0 {
				continue
			}
			g.Go(func() error {
				return db.Adapter().DestroyDeletedRecords(gctx, table, deleted)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		db.Logger().Debug("marked local changes as synced", "marked", len(toMark), "changed_since_fetch", skipped)
		return nil
	})
}

func discard(recs []*record.Record) {
	for _, r := range recs {
		r.Discard()
	}
}

type recordKey struct {
	table string
	id    string
}
