package database

import (
	"context"
	"sync"

	"github.com/roach88/driftdb/internal/dberr"
	"github.com/roach88/driftdb/internal/query"
	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/record"
	"github.com/roach88/driftdb/internal/schema"
)

// Collection is the access point for one table. It caches the records it
// hands out so a row read twice yields the same *record.Record.
//
// Cache invariant: an entry is a live record whose state matches storage,
// or absent.
type Collection struct {
	db    *Database
	table *schema.TableSchema

	mu      sync.Mutex
	cache   map[string]*record.Record
	records map[string]*feed[Change]

	changes *feed[CollectionChanges]
}

func newCollection(db *Database, t *schema.TableSchema) *Collection {
	return &Collection{
		db:      db,
		table:   t,
		cache:   make(map[string]*record.Record),
		records: make(map[string]*feed[Change]),
		changes: newFeed[CollectionChanges](),
	}
}

// Name returns the table name.
func (c *Collection) Name() string { return c.table.Name() }

// Schema returns the table definition.
func (c *Collection) Schema() *schema.TableSchema { return c.table }

// Find returns the live record with id. Deleted records are not found.
func (c *Collection) Find(ctx context.Context, id string) (*record.Record, bool, error) {
	if r, ok := c.cacheGet(id); ok {
		return r, true, nil
	}

	c.db.commitMu.RLock()
	defer c.db.commitMu.RUnlock()

	row, ok, err := c.db.adapter.Find(ctx, c.Name(), id)
	if err != nil {
		return nil, false, err
	}
	if !ok || row.Status == raw.StatusDeleted {
		return nil, false, nil
	}
	return c.cacheLoad(row), true, nil
}

// Query returns the records matching q ordered by id. An empty q.Table
// means this collection.
func (c *Collection) Query(ctx context.Context, q query.Query) ([]*record.Record, error) {
	q, err := c.checkQuery(q)
	if err != nil {
		return nil, err
	}

	c.db.commitMu.RLock()
	defer c.db.commitMu.RUnlock()

	rows, err := c.db.adapter.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]*record.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, c.cacheLoad(row))
	}
	return out, nil
}

// Count returns the number of records matching q.
func (c *Collection) Count(ctx context.Context, q query.Query) (int, error) {
	q, err := c.checkQuery(q)
	if err != nil {
		return 0, err
	}
	return c.db.adapter.Count(ctx, q)
}

func (c *Collection) checkQuery(q query.Query) (query.Query, error) {
	if q.Table == "" {
		q.Table = c.Name()
	}
	if err := query.Validate(q, c.table); err != nil {
		return q, err
	}
	return q, nil
}

// PrepareCreate builds an unsaved record with a generated id. Pass it to
// Database.Batch to persist it.
func (c *Collection) PrepareCreate(fn func(*record.Updater)) (*record.Record, error) {
	return record.PrepareCreate(c.table, c.db.ids.Generate(), c.db.now(), fn)
}

// PrepareCreateFromDirty builds an unsaved, already synced record from a
// remote raw.
func (c *Collection) PrepareCreateFromDirty(d raw.Dirty) (*record.Record, error) {
	return record.PrepareCreateFromDirty(c.table, d)
}

// Create prepares and commits a new record in its own batch.
func (c *Collection) Create(ctx context.Context, fn func(*record.Updater)) (*record.Record, error) {
	r, err := c.PrepareCreate(fn)
	if err != nil {
		return nil, err
	}
	if err := c.db.Batch(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Update prepares and commits an update of r in its own batch.
func (c *Collection) Update(ctx context.Context, r *record.Record, fn func(*record.Updater)) error {
	if err := c.owns(r); err != nil {
		return err
	}
	if err := r.PrepareUpdate(c.db.now(), fn); err != nil {
		return err
	}
	return c.db.Batch(ctx, r)
}

// MarkAsDeleted deletes r, leaving a tombstone if it was ever synced.
func (c *Collection) MarkAsDeleted(ctx context.Context, r *record.Record) error {
	if err := c.owns(r); err != nil {
		return err
	}
	if err := r.PrepareMarkAsDeleted(); err != nil {
		return err
	}
	return c.db.Batch(ctx, r)
}

// DestroyPermanently deletes r without a tombstone.
func (c *Collection) DestroyPermanently(ctx context.Context, r *record.Record) error {
	if err := c.owns(r); err != nil {
		return err
	}
	if err := r.PrepareDestroyPermanently(); err != nil {
		return err
	}
	return c.db.Batch(ctx, r)
}

func (c *Collection) owns(r *record.Record) error {
	if r == nil {
		return dberr.InvalidOperation("nil record")
	}
	if r.Table() != c.Name() {
		return dberr.InvalidOperation("record does not belong to collection %q", c.Name()).WithRecord(r.Table(), r.ID())
	}
	return nil
}

// Subscribe calls fn with every committed batch that touches this table.
// fn is first called immediately with no changes. The returned function
// unsubscribes.
func (c *Collection) Subscribe(fn func(CollectionChanges)) func() {
	unsubscribe := c.changes.subscribe(fn)
	fn(CollectionChanges{Table: c.Name()})
	return unsubscribe
}

// ObserveRecord calls fn for each committed change of the record with id.
// After a destroyed change no further calls are made.
func (c *Collection) ObserveRecord(id string, fn func(Change)) func() {
	c.mu.Lock()
	f, ok := c.records[id]
	if !ok {
		f = newFeed[Change]()
		c.records[id] = f
	}
	c.mu.Unlock()
	return f.subscribe(fn)
}

func (c *Collection) publish(seq int64, cs []Change) {
	c.changes.publish(CollectionChanges{Table: c.Name(), Seq: seq, Changes: cs})

	for _, ch := range cs {
		id := ch.Record.ID()
		c.mu.Lock()
		f, ok := c.records[id]
		if ok && ch.Type == ChangeDestroyed {
			delete(c.records, id)
		}
		c.mu.Unlock()
		if ok {
			f.publish(ch)
		}
	}
}

func (c *Collection) cacheGet(id string) (*record.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.cache[id]
	return r, ok
}

// cacheLoad returns the cached record for row, loading it if absent.
func (c *Collection) cacheLoad(row raw.Raw) *record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.cache[row.ID]; ok {
		return r
	}
	r := record.Load(c.table, row)
	c.cache[row.ID] = r
	return r
}

func (c *Collection) cachePut(r *record.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[r.ID()] = r
}

func (c *Collection) cacheDelete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, id)
}

func (c *Collection) cacheClear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*record.Record)
}

// IsCached reports whether r is the live cached instance for its id. A
// record dropped by a reset or destroyed since it was fetched is not.
func (c *Collection) IsCached(r *record.Record) bool {
	cur, ok := c.cacheGet(r.ID())
	return ok && cur == r
}

// CacheLen returns the number of cached records.
func (c *Collection) CacheLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}
