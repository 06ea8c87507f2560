package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/driftdb/internal/action"
	"github.com/roach88/driftdb/internal/adapter"
	"github.com/roach88/driftdb/internal/adapter/memory"
	"github.com/roach88/driftdb/internal/adapter/sqlite"
	"github.com/roach88/driftdb/internal/database"
	"github.com/roach88/driftdb/internal/dberr"
	"github.com/roach88/driftdb/internal/query"
	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/record"
	"github.com/roach88/driftdb/internal/schemafile"
	dbsync "github.com/roach88/driftdb/internal/sync"
	"github.com/roach88/driftdb/internal/testutil"
)

// Harness executes the steps of one scenario against one database.
type Harness struct {
	db  *database.Database
	ids *scriptedIDs
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh database (in-memory for both adapters).
// The returned error covers only failures to set the run up; step and
// assertion failures are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	loaded, err := schemafile.Load(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	a, err := openAdapter(ctx, scenario.Adapter, loaded, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open adapter: %w", err)
	}

	clock := testutil.NewStepClock(time.Second)
	ids := &scriptedIDs{}
	db, err := database.Open(ctx, a,
		database.WithLogger(logger),
		database.WithIDGenerator(ids),
		database.WithNow(clock.Now),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	h := &Harness{db: db, ids: ids}
	result := NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step, result)
	}

	if err := h.snapshot(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to snapshot state: %w", err)
	}
	result.Log = logs.String()

	actx := &AssertionContext{DB: db, Ctx: ctx, Log: result.Log}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func openAdapter(ctx context.Context, name string, loaded *schemafile.Result, logger *slog.Logger) (adapter.Adapter, error) {
	if name == AdapterSQLite {
		return sqlite.Open(ctx, ":memory:", loaded.Schema,
			sqlite.WithMigrations(loaded.Migrations),
			sqlite.WithLogger(logger),
		)
	}
	return memory.New(loaded.Schema,
		memory.WithMigrations(loaded.Migrations),
		memory.WithLogger(logger),
	)
}

// executeStep runs one step, traces it and checks its expected error.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) {
	ev, err := h.run(ctx, step)
	ev.Op = step.Op()
	if err != nil {
		ev.Error = errorCode(err)
	}
	result.AddTrace(ev)

	switch {
	case err != nil && step.ExpectError == "":
		result.AddError(fmt.Sprintf("steps[%d] %s: %v", index, ev.Op, err))
	case err == nil && step.ExpectError != "":
		result.AddError(fmt.Sprintf("steps[%d] %s: expected %s error, got none", index, ev.Op, step.ExpectError))
	case err != nil && ev.Error != step.ExpectError:
		result.AddError(fmt.Sprintf("steps[%d] %s: expected %s error, got %v", index, ev.Op, step.ExpectError, err))
	}
}

func (h *Harness) run(ctx context.Context, step Step) (TraceEvent, error) {
	switch {
	case step.Create != nil:
		w := step.Create
		return TraceEvent{Table: w.Table, ID: w.ID}, h.db.Action(ctx, "create", func(ctx context.Context, _ *action.Handle) error {
			c, err := h.db.Collection(w.Table)
			if err != nil {
				return err
			}
			h.ids.set(w.ID)
			_, err = c.Create(ctx, func(u *record.Updater) { setAll(u, w.Set) })
			return err
		})

	case step.Update != nil:
		w := step.Update
		return TraceEvent{Table: w.Table, ID: w.ID}, h.withRecord(ctx, "update", w.Table, w.ID, func(ctx context.Context, c *database.Collection, r *record.Record) error {
			return c.Update(ctx, r, func(u *record.Updater) { setAll(u, w.Set) })
		})

	case step.Delete != nil:
		ref := step.Delete
		return TraceEvent{Table: ref.Table, ID: ref.ID}, h.withRecord(ctx, "delete", ref.Table, ref.ID, func(ctx context.Context, c *database.Collection, r *record.Record) error {
			return c.MarkAsDeleted(ctx, r)
		})

	case step.Destroy != nil:
		ref := step.Destroy
		return TraceEvent{Table: ref.Table, ID: ref.ID}, h.withRecord(ctx, "destroy", ref.Table, ref.ID, func(ctx context.Context, c *database.Collection, r *record.Record) error {
			return c.DestroyPermanently(ctx, r)
		})

	case step.Pull != nil:
		changes, err := remoteChanges(step.Pull.Changes)
		if err != nil {
			return TraceEvent{}, err
		}
		if err := dbsync.ApplyRemoteChanges(ctx, h.db, changes); err != nil {
			return TraceEvent{}, err
		}
		return TraceEvent{}, dbsync.SetLastPulledAt(ctx, h.db, step.Pull.Timestamp)

	case step.Fetch != nil:
		local, err := dbsync.FetchLocalChanges(ctx, h.db)
		return TraceEvent{Changes: local.Changes}, err

	case step.Push != nil:
		local, err := dbsync.FetchLocalChanges(ctx, h.db)
		if err != nil || local.Changes.IsEmpty() {
			return TraceEvent{}, err
		}
		ev := TraceEvent{Changes: local.Changes.WithoutLocalMetadata()}
		return ev, dbsync.MarkLocalChangesAsSynced(ctx, h.db, local)

	case step.Sync != nil:
		changes, err := remoteChanges(step.Sync.Changes)
		if err != nil {
			return TraceEvent{}, err
		}
		remote := &scriptedRemote{
			pull:     dbsync.PullResult{Changes: changes, Timestamp: step.Sync.Timestamp},
			failPush: step.Sync.FailPush,
		}
		err = dbsync.Synchronize(ctx, h.db, remote)
		return TraceEvent{Changes: remote.pushed}, err

	case step.Reset != nil:
		return TraceEvent{}, h.db.Action(ctx, "reset", func(ctx context.Context, _ *action.Handle) error {
			return h.db.UnsafeResetDatabase(ctx)
		})
	}
	return TraceEvent{}, fmt.Errorf("step has no operation")
}

// withRecord runs fn as one action on the live record table#id.
func (h *Harness) withRecord(ctx context.Context, desc, table, id string, fn func(context.Context, *database.Collection, *record.Record) error) error {
	return h.db.Action(ctx, desc, func(ctx context.Context, _ *action.Handle) error {
		c, err := h.db.Collection(table)
		if err != nil {
			return err
		}
		r, ok, err := c.Find(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return dberr.InvalidOperation("record not found").WithRecord(table, id)
		}
		return fn(ctx, c, r)
	})
}

// setAll writes values in column order so the first invalid column is
// always the same one.
func setAll(u *record.Updater, values map[string]any) {
	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		u.SetAny(col, values[col])
	}
}

// snapshot stores every table's live records and tombstones in result.
func (h *Harness) snapshot(ctx context.Context, result *Result) error {
	a := h.db.Adapter()
	for _, c := range h.db.Collections() {
		rows, err := a.Query(ctx, query.New(c.Name()))
		if err != nil {
			return err
		}
		deleted, err := a.GetDeletedRecords(ctx, c.Name())
		if err != nil {
			return err
		}

		st := TableState{
			Records: make([]raw.Dirty, 0, len(rows)),
			Deleted: append([]string{}, deleted...),
		}
		sort.Strings(st.Deleted)
		for _, row := range rows {
			st.Records = append(st.Records, row.Dirty())
		}
		result.State[c.Name()] = st
	}
	return nil
}

func remoteChanges(in map[string]RemoteTable) (dbsync.DatabaseChangeSet, error) {
	out := make(dbsync.DatabaseChangeSet, len(in))
	for table, rt := range in {
		created, err := toDirty(rt.Created)
		if err != nil {
			return nil, fmt.Errorf("%s created: %w", table, err)
		}
		updated, err := toDirty(rt.Updated)
		if err != nil {
			return nil, fmt.Errorf("%s updated: %w", table, err)
		}
		out[table] = dbsync.TableChangeSet{Created: created, Updated: updated, Deleted: rt.Deleted}
	}
	return out, nil
}

func toDirty(rows []map[string]any) ([]raw.Dirty, error) {
	out := make([]raw.Dirty, 0, len(rows))
	for i, row := range rows {
		d := make(raw.Dirty, len(row))
		for col, v := range row {
			val, err := raw.FromAny(v)
			if err != nil {
				return nil, fmt.Errorf("record %d column %q: %w", i, col, err)
			}
			d[col] = val
		}
		out = append(out, d)
	}
	return out, nil
}

// errorCode returns the dberr code of err, or "ERROR".
func errorCode(err error) string {
	var de *dberr.Error
	if errors.As(err, &de) {
		return string(de.Code)
	}
	return "ERROR"
}

// scriptedIDs hands out the id the current create step names.
type scriptedIDs struct {
	mu   sync.Mutex
	next string
}

func (g *scriptedIDs) set(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next = id
}

func (g *scriptedIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next
	g.next = ""
	return id
}

// scriptedRemote answers one pull and records what was pushed.
type scriptedRemote struct {
	pull     dbsync.PullResult
	failPush bool
	pushed   dbsync.DatabaseChangeSet
}

func (r *scriptedRemote) Pull(ctx context.Context, lastPulledAt int64) (dbsync.PullResult, error) {
	return r.pull, nil
}

func (r *scriptedRemote) Push(ctx context.Context, changes dbsync.DatabaseChangeSet, lastPulledAt int64) error {
	if r.failPush {
		return errors.New("remote rejected push")
	}
	r.pushed = changes
	return nil
}
