// Package adaptertest is a conformance suite every adapter.Adapter
// implementation runs from its own tests.
package adaptertest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/driftdb/internal/adapter"
	"github.com/roach88/driftdb/internal/dberr"
	"github.com/roach88/driftdb/internal/query"
	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/schema"
)

// OpenFunc opens a fresh, set-up adapter for s.
type OpenFunc func(t *testing.T, s *schema.AppSchema) adapter.Adapter

// Schema is the schema the suite runs against.
func Schema(t *testing.T) *schema.AppSchema {
	t.Helper()
	tasks, err := schema.NewTableSchema("tasks", []schema.ColumnSchema{
		{Name: "name", Type: schema.TypeString},
		{Name: "position", Type: schema.TypeNumber, IsIndexed: true},
		{Name: "done", Type: schema.TypeBoolean},
		{Name: "note", Type: schema.TypeString, IsOptional: true},
	})
	require.NoError(t, err)
	projects, err := schema.NewTableSchema("projects", []schema.ColumnSchema{
		{Name: "name", Type: schema.TypeString},
	})
	require.NoError(t, err)
	s, err := schema.NewAppSchema(1, tasks, projects)
	require.NoError(t, err)
	return s
}

// Task builds a task raw.
func Task(id string, status raw.Status, name string, position float64) raw.Raw {
	return raw.Raw{
		ID:     id,
		Status: status,
		Fields: map[string]raw.Value{
			"name":     raw.String(name),
			"position": raw.Number(position),
			"done":     raw.Bool(false),
			"note":     raw.Null{},
		},
	}
}

func create(table string, r raw.Raw) adapter.Operation {
	return adapter.Operation{Type: adapter.OpCreate, Table: table, Raw: r}
}

// Run executes the suite.
func Run(t *testing.T, open OpenFunc) {
	ctx := context.Background()

	t.Run("create and find", func(t *testing.T) {
		a := open(t, Schema(t))
		r := Task("t1", raw.StatusCreated, "write docs", 1)
		r.Fields["note"] = raw.String("soon")
		r.Fields["done"] = raw.Bool(true)
		require.NoError(t, a.Batch(ctx, []adapter.Operation{create("tasks", r)}))

		got, ok, err := a.Find(ctx, "tasks", "t1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "t1", got.ID)
		assert.Equal(t, raw.StatusCreated, got.Status)
		assert.Equal(t, 0, got.Changed.Len())
		assert.Equal(t, raw.String("write docs"), got.Get("name"))
		assert.Equal(t, raw.Number(1), got.Get("position"))
		assert.Equal(t, raw.Bool(true), got.Get("done"))
		assert.Equal(t, raw.String("soon"), got.Get("note"))

		_, ok, err = a.Find(ctx, "tasks", "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("update preserves changed set order", func(t *testing.T) {
		a := open(t, Schema(t))
		require.NoError(t, a.Batch(ctx, []adapter.Operation{create("tasks", Task("t1", raw.StatusSynced, "a", 1))}))

		upd := Task("t1", raw.StatusUpdated, "b", 2)
		upd.Changed = raw.NewChangedSet("position", "name")
		require.NoError(t, a.Batch(ctx, []adapter.Operation{{Type: adapter.OpUpdate, Table: "tasks", Raw: upd}}))

		got, ok, err := a.Find(ctx, "tasks", "t1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, raw.StatusUpdated, got.Status)
		assert.Equal(t, []string{"position", "name"}, got.Changed.Columns())
		assert.Equal(t, raw.String("b"), got.Get("name"))
		assert.Equal(t, raw.Null{}, got.Get("note"))
	})

	t.Run("query and count", func(t *testing.T) {
		a := open(t, Schema(t))
		require.NoError(t, a.Batch(ctx, []adapter.Operation{
			create("tasks", Task("c", raw.StatusSynced, "x", 3)),
			create("tasks", Task("a", raw.StatusCreated, "x", 1)),
			create("tasks", Task("b", raw.StatusUpdated, "y", 2)),
			create("projects", raw.Raw{ID: "p1", Status: raw.StatusSynced, Fields: map[string]raw.Value{"name": raw.String("p")}}),
		}))

		all, err := a.Query(ctx, query.New("tasks"))
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"a", "b", "c"}, ids(all))

		xs, err := a.Query(ctx, query.New("tasks", query.Eq{Column: "name", Value: raw.String("x")}))
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, ids(xs))

		dirty, err := a.Query(ctx, query.NotSynced("tasks"))
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids(dirty))

		byID, err := a.Query(ctx, query.ByIDs("tasks", []string{"c", "zz"}))
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, ids(byID))

		none, err := a.Query(ctx, query.ByIDs("tasks", nil))
		require.NoError(t, err)
		assert.Empty(t, none)

		nullNote, err := a.Query(ctx, query.New("tasks", query.Eq{Column: "note", Value: raw.Null{}}))
		require.NoError(t, err)
		assert.Len(t, nullNote, 3)

		n, err := a.Count(ctx, query.New("tasks", query.NotEq{Column: "name", Value: raw.String("x")}))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = a.Count(ctx, query.New("projects"))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("batch is all or nothing", func(t *testing.T) {
		a := open(t, Schema(t))
		require.NoError(t, a.Batch(ctx, []adapter.Operation{create("tasks", Task("t1", raw.StatusSynced, "a", 1))}))

		err := a.Batch(ctx, []adapter.Operation{
			create("tasks", Task("t2", raw.StatusCreated, "b", 2)),
			create("tasks", Task("t1", raw.StatusCreated, "dup", 3)),
		})
		require.Error(t, err)
		assert.True(t, dberr.IsAdapter(err))

		_, ok, err := a.Find(ctx, "tasks", "t2")
		require.NoError(t, err)
		assert.False(t, ok, "first op of a failed batch must not be visible")

		got, _, err := a.Find(ctx, "tasks", "t1")
		require.NoError(t, err)
		assert.Equal(t, raw.String("a"), got.Get("name"))
	})

	t.Run("update of missing record fails", func(t *testing.T) {
		a := open(t, Schema(t))
		err := a.Batch(ctx, []adapter.Operation{{Type: adapter.OpUpdate, Table: "tasks", Raw: Task("nope", raw.StatusUpdated, "x", 0)}})
		assert.True(t, dberr.IsAdapter(err))
	})

	t.Run("tombstone round trip", func(t *testing.T) {
		a := open(t, Schema(t))
		require.NoError(t, a.Batch(ctx, []adapter.Operation{
			create("tasks", Task("t1", raw.StatusSynced, "a", 1)),
			create("tasks", Task("t2", raw.StatusSynced, "b", 2)),
		}))
		require.NoError(t, a.Batch(ctx, []adapter.Operation{
			{Type: adapter.OpMarkAsDeleted, Table: "tasks", Raw: raw.Raw{ID: "t1"}},
			{Type: adapter.OpDestroyPermanently, Table: "tasks", Raw: raw.Raw{ID: "t2"}},
		}))

		deleted, err := a.GetDeletedRecords(ctx, "tasks")
		require.NoError(t, err)
		assert.Equal(t, []string{"t1"}, deleted)

		got, ok, err := a.Find(ctx, "tasks", "t1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, raw.StatusDeleted, got.Status)

		_, ok, err = a.Find(ctx, "tasks", "t2")
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := a.Count(ctx, query.New("tasks"))
		require.NoError(t, err)
		assert.Equal(t, 0, n, "deleted records never match queries")

		require.NoError(t, a.DestroyDeletedRecords(ctx, "tasks", []string{"t1", "unknown"}))
		deleted, err = a.GetDeletedRecords(ctx, "tasks")
		require.NoError(t, err)
		assert.Empty(t, deleted)

		_, ok, err = a.Find(ctx, "tasks", "t1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("destroy deleted records ignores live records", func(t *testing.T) {
		a := open(t, Schema(t))
		require.NoError(t, a.Batch(ctx, []adapter.Operation{create("tasks", Task("t1", raw.StatusSynced, "a", 1))}))
		require.NoError(t, a.DestroyDeletedRecords(ctx, "tasks", []string{"t1"}))

		_, ok, err := a.Find(ctx, "tasks", "t1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("local storage", func(t *testing.T) {
		a := open(t, Schema(t))
		_, ok, err := a.GetLocal(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, a.SetLocal(ctx, "k", "v1"))
		require.NoError(t, a.SetLocal(ctx, "k", "v2"))
		v, ok, err := a.GetLocal(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v2", v)

		require.NoError(t, a.RemoveLocal(ctx, "k"))
		require.NoError(t, a.RemoveLocal(ctx, "k"))
		_, ok, err = a.GetLocal(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unsafe reset", func(t *testing.T) {
		a := open(t, Schema(t))
		require.NoError(t, a.Batch(ctx, []adapter.Operation{create("tasks", Task("t1", raw.StatusSynced, "a", 1))}))
		require.NoError(t, a.SetLocal(ctx, "k", "v"))

		require.NoError(t, a.UnsafeResetDatabase(ctx))

		n, err := a.Count(ctx, query.New("tasks"))
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		_, ok, err := a.GetLocal(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, a.Batch(ctx, []adapter.Operation{create("tasks", Task("t1", raw.StatusCreated, "again", 1))}))
	})

	t.Run("unknown table", func(t *testing.T) {
		a := open(t, Schema(t))
		_, err := a.Query(ctx, query.New("nope"))
		require.Error(t, err)
		assert.True(t, dberr.IsAdapter(err))

		err = a.Batch(ctx, []adapter.Operation{create("nope", Task("x", raw.StatusCreated, "", 0))})
		assert.True(t, dberr.IsAdapter(err))
		var de *dberr.Error
		assert.True(t, errors.As(err, &de))
	})
}

func ids(rs []raw.Raw) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
