package sync

import (
	"encoding/json"
	"sort"

	"github.com/roach88/driftdb/internal/raw"
)

// TableChangeSet is one table's delta in either sync direction.
type TableChangeSet struct {
	Created []raw.Dirty `json:"created"`
	Updated []raw.Dirty `json:"updated"`
	Deleted []string    `json:"deleted"`
}

// IsEmpty reports whether the delta carries no changes.
func (c TableChangeSet) IsEmpty() bool {
	return len(c.Created) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0
}

// MarshalJSON always writes the three lists, empty rather than null.
func (c TableChangeSet) MarshalJSON() ([]byte, error) {
	type wire TableChangeSet
	w := wire(c)
	if w.Created == nil {
		w.Created = []raw.Dirty{}
	}
	if w.Updated == nil {
		w.Updated = []raw.Dirty{}
	}
	if w.Deleted == nil {
		w.Deleted = []string{}
	}
	return json.Marshal(w)
}

// WithoutLocalMetadata returns a copy with _status and _changed stripped
// from every record.
func (c TableChangeSet) WithoutLocalMetadata() TableChangeSet {
	out := TableChangeSet{
		Created: make([]raw.Dirty, 0, len(c.Created)),
		Updated: make([]raw.Dirty, 0, len(c.Updated)),
		Deleted: append([]string{}, c.Deleted...),
	}
	for _, d := range c.Created {
		out.Created = append(out.Created, d.WithoutLocalMetadata())
	}
	for _, d := range c.Updated {
		out.Updated = append(out.Updated, d.WithoutLocalMetadata())
	}
	return out
}

// DatabaseChangeSet maps table name to that table's delta. It is the
// literal shape exchanged with a remote peer.
type DatabaseChangeSet map[string]TableChangeSet

// IsEmpty reports whether no table carries changes.
func (c DatabaseChangeSet) IsEmpty() bool {
	for _, t := range c {
		if !t.IsEmpty() {
			return false
		}
	}
	return true
}

// Tables returns the table names in sorted order.
func (c DatabaseChangeSet) Tables() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithoutLocalMetadata prepares a local change set for the wire.
func (c DatabaseChangeSet) WithoutLocalMetadata() DatabaseChangeSet {
	out := make(DatabaseChangeSet, len(c))
	for name, t := range c {
		out[name] = t.WithoutLocalMetadata()
	}
	return out
}
