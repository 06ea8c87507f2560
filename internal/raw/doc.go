// Package raw provides the storage-level representation of records.
//
// This package contains value and record types only. It imports nothing
// internal, so schema, adapters, the record model and sync can all share
// it without cycles.
//
// Two shapes exist for a record:
//   - Raw: the typed form (id, status, changed set, column values) used by
//     the record model and adapters
//   - Dirty: an untyped column → value map, used on the sync wire and for
//     snapshots that must be compared structurally later
//
// Column values are restricted to Null, String, Number and Bool. Nested
// arrays and objects are rejected at decode time.
package raw
