// Package record implements the per-record dirty-state model.
//
// A Record holds its committed raw state plus at most one pending change.
// Prepare* methods stage a change without touching storage; the database
// batch sends the staged operation to the adapter and then calls Commit
// (on success) or Discard (on failure). A record with a pending change
// cannot be prepared again until the change is committed or discarded.
//
// Status transitions:
//
//	created ──(mark as synced)──▶ synced ──(update)──▶ updated ─┐
//	   │                            │                   ▲      │ (update)
//	   │ (mark as deleted:          │                   └──────┘
//	   │  destroyed, no tombstone)  └──(mark as deleted)──▶ deleted (tombstone)
package record

import (
	"sync"
	"time"

	"github.com/roach88/driftdb/internal/adapter"
	"github.com/roach88/driftdb/internal/dberr"
	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/schema"
)

type pendingChange struct {
	op  adapter.OpType
	raw raw.Raw
}

// Record is one row of a table. It refers to its collection by table name
// only; the database owns every record.
//
// Thread-safety: Record is safe for concurrent reads while a change is
// staged or committed.
type Record struct {
	mu        sync.RWMutex
	table     *schema.TableSchema
	raw       raw.Raw
	pending   *pendingChange
	isNew     bool
	destroyed bool
}

// Load wraps a raw read from storage.
func Load(t *schema.TableSchema, r raw.Raw) *Record {
	return &Record{table: t, raw: r.Clone()}
}

// PrepareCreate builds an unsaved record with status created. Declared
// timestamp columns are set to now before fn runs.
func PrepareCreate(t *schema.TableSchema, id string, now time.Time, fn func(*Updater)) (*Record, error) {
	if id == "" {
		return nil, dberr.InvalidOperation("cannot create a record without an id").WithRecord(t.Name(), "")
	}
	r := Sanitize(raw.Dirty{raw.ColumnID: raw.String(id)}, t)
	r.Status = raw.StatusCreated

	if t.HasCreatedAt {
		r.Fields[schema.ColumnCreatedAt] = timestamp(now)
	}
	if t.HasUpdatedAt {
		r.Fields[schema.ColumnUpdatedAt] = timestamp(now)
	}

	if fn != nil {
		u := &Updater{table: t, raw: &r}
		fn(u)
		if u.err != nil {
			return nil, u.err
		}
	}

	return newPending(t, r, adapter.OpCreate), nil
}

// PrepareCreateFromDirty builds an unsaved record from a remote raw. The
// record is created already synced.
func PrepareCreateFromDirty(t *schema.TableSchema, d raw.Dirty) (*Record, error) {
	id, ok := d.ID()
	if !ok {
		return nil, dberr.InvalidOperation("remote record has no id").WithRecord(t.Name(), "")
	}
	r := Sanitize(d, t)
	r.ID = id
	r.Status = raw.StatusSynced
	r.Changed = raw.ChangedSet{}
	return newPending(t, r, adapter.OpCreate), nil
}

func newPending(t *schema.TableSchema, r raw.Raw, op adapter.OpType) *Record {
	return &Record{
		table:   t,
		raw:     r,
		pending: &pendingChange{op: op, raw: r.Clone()},
		isNew:   true,
	}
}

// ID returns the record id.
func (r *Record) ID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.raw.ID
}

// Table returns the table name.
func (r *Record) Table() string { return r.table.Name() }

// Schema returns the table definition.
func (r *Record) Schema() *schema.TableSchema { return r.table }

// Raw returns a copy of the committed state. For a record that has not been
// created yet this is the state it will be created with.
func (r *Record) Raw() raw.Raw {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.raw.Clone()
}

// Status returns the committed sync status.
func (r *Record) Status() raw.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.raw.Status
}

// Changed returns a copy of the committed changed set.
func (r *Record) Changed() raw.ChangedSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.raw.Changed.Clone()
}

// Get returns the committed value of a column.
func (r *Record) Get(col string) raw.Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.raw.Get(col)
}

// IsNew reports whether the record has not been persisted yet.
func (r *Record) IsNew() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isNew
}

// IsDestroyed reports whether the record was deleted or destroyed.
func (r *Record) IsDestroyed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.destroyed
}

// HasPendingChange reports whether a change is staged.
func (r *Record) HasPendingChange() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pending != nil
}

// checkPreparable must be called with mu held.
func (r *Record) checkPreparable(what string) error {
	switch {
	case r.destroyed:
		return dberr.InvalidOperation("cannot %s a deleted record", what).WithRecord(r.table.Name(), r.raw.ID)
	case r.pending != nil:
		return dberr.InvalidOperation("cannot %s a record with a pending change", what).WithRecord(r.table.Name(), r.raw.ID)
	case r.isNew:
		return dberr.InvalidOperation("cannot %s a record that has not been created", what).WithRecord(r.table.Name(), r.raw.ID)
	}
	return nil
}

// PrepareUpdate stages fn's writes. Each column whose value changes is
// added to the changed set; a synced record becomes updated. A declared
// updated_at column is refreshed to now.
func (r *Record) PrepareUpdate(now time.Time, fn func(*Updater)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkPreparable("update"); err != nil {
		return err
	}

	next := r.raw.Clone()
	u := &Updater{table: r.table, raw: &next, track: true}
	fn(u)
	if u.err != nil {
		return u.err
	}
	if r.table.HasUpdatedAt {
		u.Set(schema.ColumnUpdatedAt, timestamp(now))
	}

	r.pending = &pendingChange{op: adapter.OpUpdate, raw: next}
	return nil
}

// PrepareMarkAsDeleted stages a logical delete that leaves a tombstone for
// sync. A record that was never synced is destroyed outright instead.
func (r *Record) PrepareMarkAsDeleted() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkPreparable("delete"); err != nil {
		return err
	}

	next := r.raw.Clone()
	if next.Status == raw.StatusCreated {
		r.pending = &pendingChange{op: adapter.OpDestroyPermanently, raw: next}
		return nil
	}
	next.Status = raw.StatusDeleted
	r.pending = &pendingChange{op: adapter.OpMarkAsDeleted, raw: next}
	return nil
}

// PrepareDestroyPermanently stages a physical delete with no tombstone.
func (r *Record) PrepareDestroyPermanently() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkPreparable("destroy"); err != nil {
		return err
	}
	r.pending = &pendingChange{op: adapter.OpDestroyPermanently, raw: r.raw.Clone()}
	return nil
}

// PrepareMarkAsSynced stages the transition to synced with an empty
// changed set.
func (r *Record) PrepareMarkAsSynced() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkPreparable("mark as synced"); err != nil {
		return err
	}
	next := r.raw.Clone()
	next.Status = raw.StatusSynced
	next.Changed = raw.ChangedSet{}
	r.pending = &pendingChange{op: adapter.OpUpdate, raw: next}
	return nil
}

// PrepareReplace stages next as the record's whole state. Used when a
// remote change is merged into a local record.
func (r *Record) PrepareReplace(next raw.Raw) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkPreparable("replace"); err != nil {
		return err
	}
	if next.ID != r.raw.ID {
		return dberr.InvalidOperation("cannot replace record with raw of id %q", next.ID).WithRecord(r.table.Name(), r.raw.ID)
	}
	r.pending = &pendingChange{op: adapter.OpUpdate, raw: next.Clone()}
	return nil
}

// Operation returns the staged adapter operation.
func (r *Record) Operation() (adapter.Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.pending == nil {
		return adapter.Operation{}, false
	}
	return adapter.Operation{Type: r.pending.op, Table: r.table.Name(), Raw: r.pending.raw.Clone()}, true
}

// Commit applies the staged change after storage confirmed it and returns
// the committed operation type.
func (r *Record) Commit() (adapter.OpType, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == nil {
		return "", false
	}
	p := r.pending
	r.pending = nil

	switch p.op {
	case adapter.OpCreate, adapter.OpUpdate:
		r.raw = p.raw
		r.isNew = false
	case adapter.OpMarkAsDeleted:
		r.raw.Status = raw.StatusDeleted
		r.destroyed = true
	case adapter.OpDestroyPermanently:
		r.destroyed = true
	}
	return p.op, true
}

// Discard drops the staged change.
func (r *Record) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = nil
}
