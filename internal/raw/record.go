package raw

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Reserved column names. They never appear in a table schema.
const (
	ColumnID      = "id"
	ColumnStatus  = "_status"
	ColumnChanged = "_changed"
)

// Status describes a record's relationship to the last successful sync.
type Status string

const (
	StatusCreated Status = "created"
	StatusUpdated Status = "updated"
	StatusSynced  Status = "synced"
	StatusDeleted Status = "deleted"
)

// ParseStatus validates a persisted status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusCreated, StatusUpdated, StatusSynced, StatusDeleted:
		return st, nil
	default:
		return "", fmt.Errorf("unknown record status %q", s)
	}
}

// ChangedSet is an insertion-ordered set of column names.
// The zero value is an empty set.
type ChangedSet struct {
	cols []string
}

// NewChangedSet builds a set from columns, dropping duplicates.
func NewChangedSet(cols ...string) ChangedSet {
	var s ChangedSet
	for _, c := range cols {
		s.Add(c)
	}
	return s
}

// ParseChangedSet decodes the comma-delimited persistence form.
func ParseChangedSet(encoded string) ChangedSet {
	if encoded == "" {
		return ChangedSet{}
	}
	return NewChangedSet(strings.Split(encoded, ",")...)
}

// Add appends col if absent. Returns true if the set grew.
func (s *ChangedSet) Add(col string) bool {
	if col == "" || s.Has(col) {
		return false
	}
	s.cols = append(s.cols, col)
	return true
}

// Has reports whether col is in the set.
func (s ChangedSet) Has(col string) bool {
	for _, c := range s.cols {
		if c == col {
			return true
		}
	}
	return false
}

// Len returns the number of columns.
func (s ChangedSet) Len() int {
	return len(s.cols)
}

// Columns returns a copy of the columns in insertion order.
func (s ChangedSet) Columns() []string {
	out := make([]string, len(s.cols))
	copy(out, s.cols)
	return out
}

// String returns the comma-delimited persistence form.
func (s ChangedSet) String() string {
	return strings.Join(s.cols, ",")
}

// Clone returns an independent copy.
func (s ChangedSet) Clone() ChangedSet {
	return ChangedSet{cols: s.Columns()}
}

// Raw is the typed storage form of a record.
type Raw struct {
	ID      string
	Status  Status
	Changed ChangedSet
	Fields  map[string]Value
}

// Clone returns a deep copy; later edits to either copy do not leak.
func (r Raw) Clone() Raw {
	fields := make(map[string]Value, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Raw{
		ID:      r.ID,
		Status:  r.Status,
		Changed: r.Changed.Clone(),
		Fields:  fields,
	}
}

// Get returns the value of a column, or Null if it is not set.
func (r Raw) Get(col string) Value {
	if v, ok := r.Fields[col]; ok && v != nil {
		return v
	}
	return Null{}
}

// Dirty returns a structural snapshot including local metadata.
func (r Raw) Dirty() Dirty {
	d := make(Dirty, len(r.Fields)+3)
	for k, v := range r.Fields {
		d[k] = v
	}
	d[ColumnID] = String(r.ID)
	d[ColumnStatus] = String(r.Status)
	d[ColumnChanged] = String(r.Changed.String())
	return d
}

// Dirty is an untyped record: column name → value. Remote records arrive
// in this form; local snapshots use it so they can be compared later.
type Dirty map[string]Value

// ID returns the record id if present and a string.
func (d Dirty) ID() (string, bool) {
	v, ok := d[ColumnID]
	if !ok {
		return "", false
	}
	s, ok := v.(String)
	if !ok || s == "" {
		return "", false
	}
	return string(s), true
}

// HasLocalMetadata reports whether d carries _status or _changed.
func (d Dirty) HasLocalMetadata() bool {
	_, hasStatus := d[ColumnStatus]
	_, hasChanged := d[ColumnChanged]
	return hasStatus || hasChanged
}

// Clone returns a shallow copy (values are immutable).
func (d Dirty) Clone() Dirty {
	c := make(Dirty, len(d))
	for k, v := range d {
		c[k] = v
	}
	return c
}

// WithoutLocalMetadata returns a copy without _status and _changed.
func (d Dirty) WithoutLocalMetadata() Dirty {
	c := d.Clone()
	delete(c, ColumnStatus)
	delete(c, ColumnChanged)
	return c
}

// MarshalJSON encodes d as canonical JSON (sorted keys, no HTML escaping).
func (d Dirty) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(d)
}

// UnmarshalJSON decodes a JSON object of scalar values.
func (d *Dirty) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("record must be a JSON object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return err
	}

	out := make(Dirty, len(fields))
	for k, v := range fields {
		val, err := decodeValue(v)
		if err != nil {
			return fmt.Errorf("column %q: %w", k, err)
		}
		out[k] = val
	}
	*d = out
	return nil
}
