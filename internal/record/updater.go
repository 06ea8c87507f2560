package record

import (
	"github.com/roach88/driftdb/internal/dberr"
	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/schema"
)

// Updater is handed to create and update callbacks. The first invalid write
// is remembered and fails the surrounding prepare call.
type Updater struct {
	table *schema.TableSchema
	raw   *raw.Raw
	track bool
	err   error
}

// Get returns the current value of col, including writes made so far.
func (u *Updater) Get(col string) raw.Value {
	return u.raw.Get(col)
}

// Set writes v, sanitized to the column type.
func (u *Updater) Set(col string, v raw.Value) {
	if u.err != nil {
		return
	}
	c, ok := u.table.Column(col)
	if !ok {
		u.err = dberr.InvalidOperation("unknown column %q", col).WithRecord(u.table.Name(), u.raw.ID)
		return
	}

	next := c.Sanitize(v)
	if prev, ok := u.raw.Fields[col]; ok && prev == next {
		return
	}
	u.raw.Fields[col] = next
	if u.track {
		markChanged(u.raw, col)
	}
}

// SetAny converts v with raw.FromAny and writes it.
func (u *Updater) SetAny(col string, v any) {
	val, err := raw.FromAny(v)
	if err != nil {
		if u.err == nil {
			u.err = dberr.InvalidOperation("column %q: %v", col, err).WithRecord(u.table.Name(), u.raw.ID)
		}
		return
	}
	u.Set(col, val)
}

// markChanged records a local write of col. Only synced and updated records
// track columns; a created record is wholly new.
func markChanged(r *raw.Raw, col string) {
	switch r.Status {
	case raw.StatusSynced:
		r.Status = raw.StatusUpdated
		r.Changed.Add(col)
	case raw.StatusUpdated:
		r.Changed.Add(col)
	}
}
