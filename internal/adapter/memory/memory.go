// Package memory implements adapter.Adapter with in-process maps.
//
// Data lives in a Store, which can outlive the Adapter: opening a second
// Adapter over the same Store simulates reopening a persisted database,
// which is how migrations are exercised in tests.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/roach88/driftdb/internal/adapter"
	"github.com/roach88/driftdb/internal/dberr"
	"github.com/roach88/driftdb/internal/query"
	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/schema"
)

// SchemaVersionKey is the local storage key holding the stored schema version.
const SchemaVersionKey = "__driftdb_schema_version"

// Store is the backing data of a memory adapter.
type Store struct {
	mu     sync.RWMutex
	tables map[string]map[string]raw.Raw
	local  map[string]string
}

// NewStore creates empty storage.
func NewStore() *Store {
	return &Store{
		tables: make(map[string]map[string]raw.Raw),
		local:  make(map[string]string),
	}
}

// Adapter is an in-memory adapter.Adapter.
type Adapter struct {
	store      *Store
	schema     *schema.AppSchema
	migrations *schema.Migrations
	logger     *slog.Logger

	// failNext, when set, makes the next Batch fail with it.
	failNext error
}

var _ adapter.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithStore opens the adapter over existing storage.
func WithStore(s *Store) Option {
	return func(a *Adapter) { a.store = s }
}

// WithMigrations sets the migrations used by SetUp.
func WithMigrations(m *schema.Migrations) Option {
	return func(a *Adapter) { a.migrations = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// New creates an adapter for s. Call SetUp before use.
func New(s *schema.AppSchema, opts ...Option) (*Adapter, error) {
	a := &Adapter{schema: s, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	if a.store == nil {
		a.store = NewStore()
	}
	if a.migrations != nil {
		if err := a.migrations.CheckAgainst(s); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Schema returns the app schema.
func (a *Adapter) Schema() *schema.AppSchema { return a.schema }

// FailNextBatch makes the next Batch call fail with err without applying
// anything. Used to exercise rollback paths.
func (a *Adapter) FailNextBatch(err error) {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	a.failNext = err
}

// SetUp migrates or resets storage to the current schema version.
func (a *Adapter) SetUp(ctx context.Context) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()

	stored := 0
	if v, ok := a.store.local[SchemaVersionKey]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return dberr.Adapter("set up", fmt.Errorf("stored schema version %q: %w", v, err))
		}
		stored = n
	}

	plan := adapter.Decide(stored, a.schema, a.migrations)
	switch plan.Kind {
	case adapter.SetUpNone:
		a.ensureTables()
	case adapter.SetUpCreate:
		a.logger.Info("creating database", "version", plan.To)
		a.resetLocked()
	case adapter.SetUpReset:
		a.logger.Warn("resetting database", "reason", plan.Reason)
		a.resetLocked()
	case adapter.SetUpMigrate:
		a.logger.Info("migrating database", "from", plan.From, "to", plan.To, "steps", len(plan.Steps))
		if err := a.migrateLocked(plan.Steps); err != nil {
			return dberr.Adapter("migrate", err)
		}
		a.store.local[SchemaVersionKey] = strconv.Itoa(plan.To)
	}
	return nil
}

// ensureTables creates any table missing from storage.
func (a *Adapter) ensureTables() {
	for _, name := range a.schema.TableNames() {
		if _, ok := a.store.tables[name]; !ok {
			a.store.tables[name] = make(map[string]raw.Raw)
		}
	}
}

func (a *Adapter) resetLocked() {
	a.store.tables = make(map[string]map[string]raw.Raw)
	a.store.local = make(map[string]string)
	a.ensureTables()
	a.store.local[SchemaVersionKey] = strconv.Itoa(a.schema.Version())
}

func (a *Adapter) migrateLocked(steps []schema.Step) error {
	for _, step := range steps {
		switch s := step.(type) {
		case schema.CreateTableStep:
			if _, ok := a.store.tables[s.Name]; !ok {
				a.store.tables[s.Name] = make(map[string]raw.Raw)
			}
		case schema.AddColumnsStep:
			rows, ok := a.store.tables[s.Table]
			if !ok {
				return fmt.Errorf("add columns: unknown table %q", s.Table)
			}
			for id, r := range rows {
				r = r.Clone()
				for _, col := range s.Columns {
					r.Fields[col.Name] = col.DefaultValue()
				}
				rows[id] = r
			}
		case schema.SQLStep:
			a.logger.Debug("skipping sql migration step", "query", s.Query)
		default:
			return fmt.Errorf("unknown migration step %T", step)
		}
	}
	return nil
}

func (a *Adapter) table(name string) (map[string]raw.Raw, error) {
	rows, ok := a.store.tables[name]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", name)
	}
	return rows, nil
}

// Find returns a record by id, including deleted records.
func (a *Adapter) Find(ctx context.Context, table, id string) (raw.Raw, bool, error) {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()

	rows, err := a.table(table)
	if err != nil {
		return raw.Raw{}, false, dberr.Adapter("find", err)
	}
	r, ok := rows[id]
	if !ok {
		return raw.Raw{}, false, nil
	}
	return r.Clone(), true, nil
}

// Query returns matching non-deleted records ordered by id.
func (a *Adapter) Query(ctx context.Context, q query.Query) ([]raw.Raw, error) {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()

	rows, err := a.table(q.Table)
	if err != nil {
		return nil, dberr.Adapter("query", err)
	}

	out := []raw.Raw{}
	for _, r := range rows {
		if query.Matches(q, r) {
			out = append(out, r.Clone())
		}
	}
	slices.SortFunc(out, func(x, y raw.Raw) int {
		switch {
		case x.ID < y.ID:
			return -1
		case x.ID > y.ID:
			return 1
		default:
			return 0
		}
	})
	return out, nil
}

// Count returns the number of matching non-deleted records.
func (a *Adapter) Count(ctx context.Context, q query.Query) (int, error) {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()

	rows, err := a.table(q.Table)
	if err != nil {
		return 0, dberr.Adapter("count", err)
	}
	n := 0
	for _, r := range rows {
		if query.Matches(q, r) {
			n++
		}
	}
	return n, nil
}

// Batch applies ops to copies of the touched tables and swaps them in only
// when every op succeeds.
func (a *Adapter) Batch(ctx context.Context, ops []adapter.Operation) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()

	if a.failNext != nil {
		err := a.failNext
		a.failNext = nil
		return dberr.Adapter("batch", err)
	}

	staged := make(map[string]map[string]raw.Raw)
	for _, op := range ops {
		rows, ok := staged[op.Table]
		if !ok {
			orig, err := a.table(op.Table)
			if err != nil {
				return dberr.Adapter("batch", err)
			}
			rows = make(map[string]raw.Raw, len(orig))
			for id, r := range orig {
				rows[id] = r
			}
			staged[op.Table] = rows
		}
		if err := applyOp(rows, op); err != nil {
			return dberr.Adapter("batch", err)
		}
	}

	for name, rows := range staged {
		a.store.tables[name] = rows
	}
	return nil
}

func applyOp(rows map[string]raw.Raw, op adapter.Operation) error {
	id := op.Raw.ID
	_, exists := rows[id]
	switch op.Type {
	case adapter.OpCreate:
		if exists {
			return fmt.Errorf("%s: record already exists", op)
		}
		rows[id] = op.Raw.Clone()
	case adapter.OpUpdate:
		if !exists {
			return fmt.Errorf("%s: record not found", op)
		}
		rows[id] = op.Raw.Clone()
	case adapter.OpMarkAsDeleted:
		if !exists {
			return fmt.Errorf("%s: record not found", op)
		}
		r := rows[id].Clone()
		r.Status = raw.StatusDeleted
		rows[id] = r
	case adapter.OpDestroyPermanently:
		delete(rows, id)
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
	return nil
}

// GetDeletedRecords returns tombstone ids ordered by id.
func (a *Adapter) GetDeletedRecords(ctx context.Context, table string) ([]string, error) {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()

	rows, err := a.table(table)
	if err != nil {
		return nil, dberr.Adapter("get deleted records", err)
	}
	ids := []string{}
	for id, r := range rows {
		if r.Status == raw.StatusDeleted {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// DestroyDeletedRecords purges tombstones among ids.
func (a *Adapter) DestroyDeletedRecords(ctx context.Context, table string, ids []string) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()

	rows, err := a.table(table)
	if err != nil {
		return dberr.Adapter("destroy deleted records", err)
	}
	for _, id := range ids {
		if r, ok := rows[id]; ok && r.Status == raw.StatusDeleted {
			delete(rows, id)
		}
	}
	return nil
}

// UnsafeResetDatabase drops all data, including local storage.
func (a *Adapter) UnsafeResetDatabase(ctx context.Context) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	a.resetLocked()
	return nil
}

// GetLocal returns a local storage value.
func (a *Adapter) GetLocal(ctx context.Context, key string) (string, bool, error) {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()
	v, ok := a.store.local[key]
	return v, ok, nil
}

// SetLocal stores a local storage value.
func (a *Adapter) SetLocal(ctx context.Context, key, value string) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	a.store.local[key] = value
	return nil
}

// RemoveLocal deletes a local storage value.
func (a *Adapter) RemoveLocal(ctx context.Context, key string) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	delete(a.store.local, key)
	return nil
}

// Close is a no-op; the Store stays usable.
func (a *Adapter) Close() error { return nil }
