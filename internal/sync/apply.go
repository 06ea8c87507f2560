package sync

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/driftdb/internal/action"
	"github.com/roach88/driftdb/internal/database"
	"github.com/roach88/driftdb/internal/dberr"
	"github.com/roach88/driftdb/internal/query"
	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/record"
)

// ApplyRemoteChanges applies a pulled change set as one action.
//
// Every remote record of every table is validated before anything is
// touched; a violation fails with a PROTOCOL error. Id collisions between
// remote intent and local state are logged and healed:
//   - a remote create of an existing record becomes an update
//   - a remote create of a tombstoned id purges the tombstone first
//   - a remote update of a tombstoned id is skipped
//   - a remote update of a missing record becomes a create
//
// Remote deletes destroy local records without a tombstone and purge
// matching tombstones. An id deleted remotely is not also created or
// updated. An id listed more than once in created and updated is applied
// once, with its listings merged.
func ApplyRemoteChanges(ctx context.Context, db *database.Database, changes DatabaseChangeSet) error {
	if err := ensureActionsEnabled(db); err != nil {
		return err
	}
	if err := validateChangeSet(db, changes); err != nil {
		return err
	}

	return db.Action(ctx, "apply remote changes", func(ctx context.Context, _ *action.Handle) error {
		var plans []*tablePlan
		for _, c := range db.Collections() {
			tc, ok := changes[c.Name()]
			if !ok || tc.IsEmpty() {
				continue
			}
			p, err := planTable(ctx, db, c, tc)
			if err != nil {
				discardPlans(plans)
				return err
			}
			plans = append(plans, p)
		}

		// Tombstones of re-created ids must be gone before the creates land.
		for _, p := range plans {
			if len(p.recreate) == 0 {
				continue
			}
			if err := db.Adapter().DestroyDeletedRecords(ctx, p.table, p.recreate); err != nil {
				discardPlans(plans)
				return err
			}
		}

		var toDestroy, toApply []*record.Record
		for _, p := range plans {
			toDestroy = append(toDestroy, p.destroy...)
			toApply = append(toApply, p.apply...)
		}

		g, gctx := errgroup.WithContext(ctx)
		if len(toDestroy) > 0 {
			g.Go(func() error { return db.Batch(gctx, toDestroy...) })
		}
		for _, p := range plans {
			if len(p.purge) == 0 {
				continue
			}
			g.Go(func() error { return db.Adapter().DestroyDeletedRecords(gctx, p.table, p.purge) })
		}
		if len(toApply) > 0 {
			g.Go(func() error { return db.Batch(gctx, toApply...) })
		}
		if err := g.Wait(); err != nil {
			return err
		}

		db.Logger().Debug("applied remote changes",
			"tables", len(plans), "applied", len(toApply), "destroyed", len(toDestroy))
		return nil
	})
}

// tablePlan is the staged work for one table.
type tablePlan struct {
	table    string
	apply    []*record.Record // prepared creates and merged updates
	destroy  []*record.Record // prepared permanent destroys
	purge    []string         // tombstones the remote deleted too
	recreate []string         // tombstones the remote creates again
}

func (p *tablePlan) discard() {
	for _, r := range p.apply {
		r.Discard()
	}
	for _, r := range p.destroy {
		r.Discard()
	}
}

func discardPlans(plans []*tablePlan) {
	for _, p := range plans {
		p.discard()
	}
}

// lookupChunkSize bounds the ids per local lookup so one page of remote
// changes never exceeds the adapter's bound-parameter limit.
var lookupChunkSize = 500

// remoteRecord is one id of a table's created and updated lists.
type remoteRecord struct {
	id      string
	created bool
	fields  raw.Dirty
}

// collapseRemote returns one entry per id of tc.Created and tc.Updated, in
// first-seen order. When an id is listed more than once its fields are
// merged with later values winning, and the first listing decides whether
// it is a create or an update.
func collapseRemote(log *slog.Logger, table string, tc TableChangeSet) []remoteRecord {
	out := make([]remoteRecord, 0, len(tc.Created)+len(tc.Updated))
	at := make(map[string]int, cap(out))
	add := func(created bool, d raw.Dirty) {
		id, _ := d.ID()
		i, seen := at[id]
		if !seen {
			at[id] = len(out)
			out = append(out, remoteRecord{id: id, created: created, fields: d})
			return
		}
		log.Warn("remote change set lists a record more than once; merging", "table", table, "id", id)
		merged := out[i].fields.Clone()
		for k, v := range d {
			merged[k] = v
		}
		out[i].fields = merged
	}
	for _, d := range tc.Created {
		add(true, d)
	}
	for _, d := range tc.Updated {
		add(false, d)
	}
	return out
}

// findLocal loads the local records among ids, lookupChunkSize ids at a time.
func findLocal(ctx context.Context, c *database.Collection, ids []string) (map[string]*record.Record, error) {
	byID := make(map[string]*record.Record, len(ids))
	for start := 0; start < len(ids); start += lookupChunkSize {
		end := min(start+lookupChunkSize, len(ids))
		local, err := c.Query(ctx, query.ByIDs(c.Name(), ids[start:end]))
		if err != nil {
			return nil, err
		}
		for _, r := range local {
			byID[r.ID()] = r
		}
	}
	return byID, nil
}

func planTable(ctx context.Context, db *database.Database, c *database.Collection, tc TableChangeSet) (*tablePlan, error) {
	table := c.Name()
	log := db.Logger()

	remote := collapseRemote(log, table, tc)
	ids := make([]string, 0, len(remote)+len(tc.Deleted))
	for _, rr := range remote {
		ids = append(ids, rr.id)
	}
	ids = append(ids, tc.Deleted...)

	byID, err := findLocal(ctx, c, ids)
	if err != nil {
		return nil, err
	}

	tombs, err := db.Adapter().GetDeletedRecords(ctx, table)
	if err != nil {
		return nil, err
	}
	tombstone := toSet(tombs)
	remoteDeleted := toSet(tc.Deleted)

	p := &tablePlan{table: table}
	fail := func(err error) (*tablePlan, error) {
		p.discard()
		return nil, err
	}
	merge := func(r *record.Record, d raw.Dirty) error {
		if err := r.PrepareReplace(ResolveConflict(c.Schema(), r.Raw(), d)); err != nil {
			return err
		}
		p.apply = append(p.apply, r)
		return nil
	}
	create := func(d raw.Dirty) error {
		r, err := c.PrepareCreateFromDirty(d)
		if err != nil {
			return err
		}
		p.apply = append(p.apply, r)
		return nil
	}

	for _, rr := range remote {
		id, d := rr.id, rr.fields
		if _, ok := remoteDeleted[id]; ok {
			continue
		}
		r, exists := byID[id]
		_, tombstoned := tombstone[id]
		switch {
		case exists:
			if rr.created {
				log.Warn("remote created a record that already exists locally; updating it instead", "table", table, "id", id)
			}
			if err := merge(r, d); err != nil {
				return fail(err)
			}
			continue
		case tombstoned && rr.created:
			log.Warn("remote created a record that is deleted locally; recreating it", "table", table, "id", id)
			p.recreate = append(p.recreate, id)
		case tombstoned:
			log.Debug("remote updated a locally deleted record; the local delete wins", "table", table, "id", id)
			continue
		case !rr.created:
			log.Warn("remote updated a record that does not exist locally; creating it", "table", table, "id", id)
		}
		if err := create(d); err != nil {
			return fail(err)
		}
	}

	for _, id := range tc.Deleted {
		if r, ok := byID[id]; ok {
			if err := r.PrepareDestroyPermanently(); err != nil {
				return fail(err)
			}
			p.destroy = append(p.destroy, r)
		}
		if _, ok := tombstone[id]; ok {
			p.purge = append(p.purge, id)
		}
	}
	return p, nil
}

// validateChangeSet checks the whole remote change set before anything is
// applied.
func validateChangeSet(db *database.Database, changes DatabaseChangeSet) error {
	for _, table := range changes.Tables() {
		if _, err := db.Collection(table); err != nil {
			return dberr.Protocol(table, "remote change set names unknown table %q", table)
		}
		tc := changes[table]

		check := func(kind string, d raw.Dirty) error {
			if d == nil {
				return dberr.Protocol(table, "%s record must be an object", kind)
			}
			id, ok := d.ID()
			if !ok {
				return dberr.Protocol(table, "%s record must have a string id", kind)
			}
			if d.HasLocalMetadata() {
				return dberr.Protocol(table, "%s record must not carry _status or _changed", kind).WithRecord(table, id)
			}
			return nil
		}

		for _, d := range tc.Created {
			if err := check("created", d); err != nil {
				return err
			}
		}
		for _, d := range tc.Updated {
			if err := check("updated", d); err != nil {
				return err
			}
		}
		for _, id := range tc.Deleted {
			if id == "" {
				return dberr.Protocol(table, "deleted id must not be empty")
			}
		}
	}
	return nil
}

func toSet(ids []string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}
