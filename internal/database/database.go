// Package database is the facade over an adapter: it owns the schema, the
// per-table collections, the action queue and the atomic batch that commits
// prepared record changes.
//
// Writes must happen inside an action (see Action) unless the database was
// opened with WithActionsEnabled(false). A batch either commits every
// prepared record or none of them; subscribers only hear about committed
// changes.
package database

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/driftdb/internal/action"
	"github.com/roach88/driftdb/internal/adapter"
	"github.com/roach88/driftdb/internal/dberr"
	"github.com/roach88/driftdb/internal/record"
	"github.com/roach88/driftdb/internal/schema"
)

// Database is the entry point for reads, writes and subscriptions.
//
// Thread-safety: Database is safe for concurrent use. Reads may run
// concurrently with each other; a batch commit excludes them.
type Database struct {
	adapter        adapter.Adapter
	schema         *schema.AppSchema
	queue          *action.Queue
	collections    map[string]*Collection
	order          []string
	actionsEnabled bool
	logger         *slog.Logger
	clock          *Clock
	ids            record.IDGenerator
	now            func() time.Time

	// commitMu is held for writing while a batch reaches the adapter and
	// commits into records and caches, and for reading by cache fills.
	commitMu sync.RWMutex
	// Batches are stamped under commitMu and delivered strictly in stamp
	// order, one at a time: emitted is the last delivered stamp.
	emitMu   sync.Mutex
	emitCond *sync.Cond
	emitted  int64
	tables   *feed[TableChanges]
}

// Option configures a Database.
type Option func(*Database)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(db *Database) {
		if l != nil {
			db.logger = l
		}
	}
}

// WithActionsEnabled controls whether writes are required to run inside an
// action. Enabled by default.
func WithActionsEnabled(enabled bool) Option {
	return func(db *Database) { db.actionsEnabled = enabled }
}

// WithIDGenerator sets the generator for new record ids.
func WithIDGenerator(g record.IDGenerator) Option {
	return func(db *Database) {
		if g != nil {
			db.ids = g
		}
	}
}

// WithNow sets the time source used for created_at and updated_at.
func WithNow(now func() time.Time) Option {
	return func(db *Database) {
		if now != nil {
			db.now = now
		}
	}
}

// Open builds a database over a and runs the adapter set-up as its first
// action.
func Open(ctx context.Context, a adapter.Adapter, opts ...Option) (*Database, error) {
	if a == nil {
		return nil, dberr.Configuration("database requires an adapter")
	}
	s := a.Schema()
	if s == nil {
		return nil, dberr.Configuration("adapter has no schema")
	}

	db := &Database{
		adapter:        a,
		schema:         s,
		collections:    make(map[string]*Collection, len(s.TableNames())),
		actionsEnabled: true,
		logger:         slog.Default(),
		clock:          NewClock(),
		ids:            record.UUIDv7Generator{},
		now:            time.Now,
		tables:         newFeed[TableChanges](),
	}
	db.emitCond = sync.NewCond(&db.emitMu)
	for _, opt := range opts {
		opt(db)
	}
	db.queue = action.NewQueue(db.logger)

	for _, t := range s.Tables() {
		db.collections[t.Name()] = newCollection(db, t)
		db.order = append(db.order, t.Name())
	}

	err := db.queue.Enqueue(ctx, "set up", func(ctx context.Context, _ *action.Handle) error {
		return a.SetUp(ctx)
	})
	if err != nil {
		return nil, err
	}
	db.logger.Debug("database opened", "schema_version", s.Version(), "tables", len(db.order))
	return db, nil
}

// Schema returns the app schema.
func (db *Database) Schema() *schema.AppSchema { return db.schema }

// Adapter returns the storage adapter.
func (db *Database) Adapter() adapter.Adapter { return db.adapter }

// Queue returns the action queue.
func (db *Database) Queue() *action.Queue { return db.queue }

// Logger returns the database logger.
func (db *Database) Logger() *slog.Logger { return db.logger }

// ActionsEnabled reports whether writes must run inside an action.
func (db *Database) ActionsEnabled() bool { return db.actionsEnabled }

// Now returns the current time from the configured source.
func (db *Database) Now() time.Time { return db.now() }

// Collection returns the collection for a table.
func (db *Database) Collection(table string) (*Collection, error) {
	c, ok := db.collections[table]
	if !ok {
		return nil, dberr.InvalidOperation("unknown table %q", table)
	}
	return c, nil
}

// Collections returns every collection in schema order.
func (db *Database) Collections() []*Collection {
	out := make([]*Collection, 0, len(db.order))
	for _, name := range db.order {
		out = append(out, db.collections[name])
	}
	return out
}

// Action runs work as one serialized action.
func (db *Database) Action(ctx context.Context, desc string, work action.Work) error {
	return db.queue.Enqueue(ctx, desc, work)
}

// InAction reports whether ctx belongs to an action running on this
// database.
func (db *Database) InAction(ctx context.Context) bool {
	return db.queue.InAction(ctx)
}

func (db *Database) checkInAction(ctx context.Context, what string) error {
	if db.actionsEnabled && !db.queue.InAction(ctx) {
		return dberr.InvalidOperation("%s must be called inside an action", what)
	}
	return nil
}

// Batch commits the prepared changes of recs atomically.
//
// Every record must carry exactly one prepared change and appear once. If
// validation or the adapter fails, every staged change is discarded and
// nothing is emitted.
func (db *Database) Batch(ctx context.Context, recs ...*record.Record) error {
	if err := db.checkInAction(ctx, "batch"); err != nil {
		discardAll(recs)
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	ops, err := db.operations(recs)
	if err != nil {
		discardAll(recs)
		return err
	}

	seq, changes, err := db.commit(ctx, recs, ops)
	if err != nil {
		return err
	}
	db.emit(seq, changes)
	return nil
}

func (db *Database) operations(recs []*record.Record) ([]adapter.Operation, error) {
	ops := make([]adapter.Operation, 0, len(recs))
	seen := make(map[*record.Record]struct{}, len(recs))
	for _, r := range recs {
		if r == nil {
			return nil, dberr.InvalidOperation("batch contains a nil record")
		}
		if _, dup := seen[r]; dup {
			return nil, dberr.InvalidOperation("record appears more than once in batch").WithRecord(r.Table(), r.ID())
		}
		seen[r] = struct{}{}

		if _, ok := db.collections[r.Table()]; !ok {
			return nil, dberr.InvalidOperation("record belongs to unknown table").WithRecord(r.Table(), r.ID())
		}
		op, ok := r.Operation()
		if !ok {
			return nil, dberr.InvalidOperation("record has no prepared change").WithRecord(r.Table(), r.ID())
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// commit sends ops to the adapter and, on success, commits every record and
// updates caches. It returns the batch's sequence number and the changes to
// emit, grouped by table.
func (db *Database) commit(ctx context.Context, recs []*record.Record, ops []adapter.Operation) (int64, map[string][]Change, error) {
	db.commitMu.Lock()
	defer db.commitMu.Unlock()

	if err := db.adapter.Batch(ctx, ops); err != nil {
		discardAll(recs)
		db.logger.Warn("batch failed", "operations", len(ops), "error", err)
		return 0, nil, err
	}

	changes := make(map[string][]Change)
	for _, r := range recs {
		op, _ := r.Commit()
		c := db.collections[r.Table()]
		var ct ChangeType
		switch op {
		case adapter.OpCreate:
			ct = ChangeCreated
			c.cachePut(r)
		case adapter.OpUpdate:
			ct = ChangeUpdated
			c.cachePut(r)
		default:
			ct = ChangeDestroyed
			c.cacheDelete(r.ID())
		}
		changes[r.Table()] = append(changes[r.Table()], Change{Type: ct, Record: r})
	}
	seq := db.clock.Next()
	db.logger.Debug("batch committed", "operations", len(ops), "seq", seq)
	return seq, changes, nil
}

// emit notifies collection, record and multi-table subscribers once every
// earlier batch has been delivered. Delivery is synchronous and happens after
// the commit lock is released, so subscribers may read. A subscriber must not
// write: its batch would wait for the delivery it is part of.
func (db *Database) emit(seq int64, changes map[string][]Change) {
	db.emitMu.Lock()
	for db.emitted != seq-1 {
		db.emitCond.Wait()
	}
	db.emitMu.Unlock()

	defer func() {
		db.emitMu.Lock()
		db.emitted = seq
		db.emitCond.Broadcast()
		db.emitMu.Unlock()
	}()

	for _, name := range db.order {
		cs, ok := changes[name]
		if !ok {
			continue
		}
		db.collections[name].publish(seq, cs)
	}
	if db.tables.len() > 0 {
		db.tables.publish(TableChanges{Seq: seq, Changes: changes})
	}
}

func discardAll(recs []*record.Record) {
	for _, r := range recs {
		if r != nil {
			r.Discard()
		}
	}
}

// SubscribeTables calls fn after every batch that touches one of tables,
// with only those tables' changes. fn is first called immediately with no
// changes. The returned function unsubscribes.
func (db *Database) SubscribeTables(tables []string, fn func(TableChanges)) (func(), error) {
	want := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		if _, ok := db.collections[t]; !ok {
			return nil, dberr.InvalidOperation("unknown table %q", t)
		}
		want[t] = struct{}{}
	}

	unsubscribe := db.tables.subscribe(func(tc TableChanges) {
		filtered := make(map[string][]Change)
		for t, cs := range tc.Changes {
			if _, ok := want[t]; ok {
				filtered[t] = cs
			}
		}
		if len(filtered) > 0 {
			fn(TableChanges{Seq: tc.Seq, Changes: filtered})
		}
	})
	fn(TableChanges{Changes: map[string][]Change{}})
	return unsubscribe, nil
}

// UnsafeResetDatabase wipes every table and local-storage key and empties
// the record caches. Records held by callers are stale afterwards.
func (db *Database) UnsafeResetDatabase(ctx context.Context) error {
	if err := db.checkInAction(ctx, "unsafe reset"); err != nil {
		return err
	}

	db.commitMu.Lock()
	defer db.commitMu.Unlock()

	if err := db.adapter.UnsafeResetDatabase(ctx); err != nil {
		return err
	}
	for _, c := range db.collections {
		c.cacheClear()
	}
	db.logger.Warn("database reset", "schema_version", db.schema.Version())
	return nil
}

// GetLocal reads a local-storage key.
func (db *Database) GetLocal(ctx context.Context, key string) (string, bool, error) {
	return db.adapter.GetLocal(ctx, key)
}

// SetLocal writes a local-storage key.
func (db *Database) SetLocal(ctx context.Context, key, value string) error {
	return db.adapter.SetLocal(ctx, key, value)
}

// RemoveLocal deletes a local-storage key.
func (db *Database) RemoveLocal(ctx context.Context, key string) error {
	return db.adapter.RemoveLocal(ctx, key)
}

// Close releases the adapter.
func (db *Database) Close() error {
	return db.adapter.Close()
}
