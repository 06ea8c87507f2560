package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/driftdb/internal/adapter/memory"
	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/schema"
)

// Schema returns the fixture schema used across packages:
//
//	tasks:    name, position (indexed), done, note (optional), created_at, updated_at
//	projects: name, archived
func Schema(t testing.TB) *schema.AppSchema {
	t.Helper()
	tasks, err := schema.NewTableSchema("tasks", []schema.ColumnSchema{
		{Name: "name", Type: schema.TypeString},
		{Name: "position", Type: schema.TypeNumber, IsIndexed: true},
		{Name: "done", Type: schema.TypeBoolean},
		{Name: "note", Type: schema.TypeString, IsOptional: true},
		{Name: schema.ColumnCreatedAt, Type: schema.TypeNumber},
		{Name: schema.ColumnUpdatedAt, Type: schema.TypeNumber},
	})
	require.NoError(t, err)
	projects, err := schema.NewTableSchema("projects", []schema.ColumnSchema{
		{Name: "name", Type: schema.TypeString},
		{Name: "archived", Type: schema.TypeBoolean},
	})
	require.NoError(t, err)
	s, err := schema.NewAppSchema(1, tasks, projects)
	require.NoError(t, err)
	return s
}

// MemoryAdapter opens a set-up-ready in-memory adapter for s.
func MemoryAdapter(t testing.TB, s *schema.AppSchema, opts ...memory.Option) *memory.Adapter {
	t.Helper()
	a, err := memory.New(s, opts...)
	require.NoError(t, err)
	return a
}

// Dirty builds a remote raw from alternating column/value pairs. Values
// are converted with raw.FromAny.
//
//	Dirty(t, "id", "t1", "name", "x", "done", true)
func Dirty(t testing.TB, kv ...any) raw.Dirty {
	t.Helper()
	require.True(t, len(kv)%2 == 0, "Dirty needs column/value pairs")
	d := make(raw.Dirty, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		col, ok := kv[i].(string)
		require.True(t, ok, "column name at %d is not a string", i)
		v, err := raw.FromAny(kv[i+1])
		require.NoError(t, err)
		d[col] = v
	}
	return d
}
