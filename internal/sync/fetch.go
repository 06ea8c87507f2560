package sync

import (
	"context"

	"github.com/roach88/driftdb/internal/action"
	"github.com/roach88/driftdb/internal/database"
	"github.com/roach88/driftdb/internal/query"
	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/record"
)

// LocalChanges is the result of FetchLocalChanges. Affected holds the
// records behind Changes so MarkLocalChangesAsSynced can re-check them.
type LocalChanges struct {
	Changes  DatabaseChangeSet
	Affected []*record.Record
}

// FetchLocalChanges collects every unsynced record and tombstone as one
// action. Every table appears in the result. Snapshots are copies carrying
// id, _status and _changed; later local edits do not alter them.
func FetchLocalChanges(ctx context.Context, db *database.Database) (LocalChanges, error) {
	if err := ensureActionsEnabled(db); err != nil {
		return LocalChanges{}, err
	}

	return action.Run(ctx, db.Queue(), "fetch local changes", func(ctx context.Context, _ *action.Handle) (LocalChanges, error) {
		out := LocalChanges{Changes: make(DatabaseChangeSet)}
		for _, c := range db.Collections() {
			recs, err := c.Query(ctx, query.NotSynced(c.Name()))
			if err != nil {
				return LocalChanges{}, err
			}
			deleted, err := db.Adapter().GetDeletedRecords(ctx, c.Name())
			if err != nil {
				return LocalChanges{}, err
			}

			tc := TableChangeSet{
				Created: []raw.Dirty{},
				Updated: []raw.Dirty{},
				Deleted: append([]string{}, deleted...),
			}
			for _, r := range recs {
				snap := r.Raw()
				switch snap.Status {
				case raw.StatusCreated:
					tc.Created = append(tc.Created, snap.Dirty())
				case raw.StatusUpdated:
					tc.Updated = append(tc.Updated, snap.Dirty())
				default:
					continue
				}
				out.Affected = append(out.Affected, r)
			}
			out.Changes[c.Name()] = tc
		}

		db.Logger().Debug("fetched local changes", "records", len(out.Affected))
		return out, nil
	})
}
