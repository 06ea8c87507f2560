package record

import (
	"time"

	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/schema"
)

// Sanitize builds a typed raw from an untyped record. Every declared column
// is present in the result with a value of the column type; unknown keys
// are dropped. A missing or invalid _status becomes created.
func Sanitize(d raw.Dirty, t *schema.TableSchema) raw.Raw {
	r := raw.Raw{Status: raw.StatusCreated}
	if id, ok := d.ID(); ok {
		r.ID = id
	}
	if s, ok := d[raw.ColumnStatus].(raw.String); ok {
		if st, err := raw.ParseStatus(string(s)); err == nil {
			r.Status = st
		}
	}
	if c, ok := d[raw.ColumnChanged].(raw.String); ok {
		r.Changed = raw.ParseChangedSet(string(c))
	}

	cols := t.Columns()
	r.Fields = make(map[string]raw.Value, len(cols))
	for _, c := range cols {
		r.Fields[c.Name] = c.Sanitize(d[c.Name])
	}
	return r
}

// timestamp is the stored form of a time: milliseconds since the epoch.
func timestamp(t time.Time) raw.Value {
	return raw.Number(t.UnixMilli())
}
