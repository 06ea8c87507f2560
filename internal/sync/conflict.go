package sync

import (
	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/schema"
)

// ResolveConflict merges a remote record into a local one column by column.
//
// Columns in local.Changed keep the local value. Every other column the
// remote carries takes the remote value, sanitized to the column type.
// Columns the remote omits are left alone. The local status and changed set
// are kept, so a dirty record stays dirty until it is pushed and marked as
// synced. A locally deleted raw is returned unchanged.
func ResolveConflict(t *schema.TableSchema, local raw.Raw, remote raw.Dirty) raw.Raw {
	out := local.Clone()
	if local.Status == raw.StatusDeleted {
		return out
	}

	for _, c := range t.Columns() {
		if local.Changed.Has(c.Name) {
			continue
		}
		v, ok := remote[c.Name]
		if !ok {
			continue
		}
		out.Fields[c.Name] = c.Sanitize(v)
	}
	return out
}
