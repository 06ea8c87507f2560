package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/driftdb/internal/adapter"
	"github.com/roach88/driftdb/internal/adapter/adaptertest"
	"github.com/roach88/driftdb/internal/dberr"
	"github.com/roach88/driftdb/internal/query"
	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/schema"
)

func openTestAdapter(t *testing.T, s *schema.AppSchema, opts ...Option) *Adapter {
	t.Helper()
	a, err := New(s, opts...)
	require.NoError(t, err)
	require.NoError(t, a.SetUp(context.Background()))
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAdapterConformance(t *testing.T) {
	adaptertest.Run(t, func(t *testing.T, s *schema.AppSchema) adapter.Adapter {
		return openTestAdapter(t, s)
	})
}

func TestSetUp_WritesSchemaVersion(t *testing.T) {
	a := openTestAdapter(t, adaptertest.Schema(t))
	v, ok, err := a.GetLocal(context.Background(), SchemaVersionKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestSetUp_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	s := adaptertest.Schema(t)

	a := openTestAdapter(t, s, WithStore(store))
	require.NoError(t, a.Batch(ctx, []adapter.Operation{{Type: adapter.OpCreate, Table: "tasks", Raw: adaptertest.Task("t1", raw.StatusSynced, "a", 1)}}))

	b := openTestAdapter(t, s, WithStore(store))
	_, ok, err := b.Find(ctx, "tasks", "t1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetUp_Migrates(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	v1 := adaptertest.Schema(t)
	a := openTestAdapter(t, v1, WithStore(store))
	require.NoError(t, a.Batch(ctx, []adapter.Operation{{Type: adapter.OpCreate, Table: "tasks", Raw: adaptertest.Task("t1", raw.StatusSynced, "a", 1)}}))

	addPriority, err := schema.AddColumns("tasks", []schema.ColumnSchema{
		{Name: "priority", Type: schema.TypeNumber},
		{Name: "label", Type: schema.TypeString, IsOptional: true},
	})
	require.NoError(t, err)
	createTags, err := schema.CreateTable("tags", []schema.ColumnSchema{{Name: "name", Type: schema.TypeString}})
	require.NoError(t, err)
	migrations, err := schema.BuildMigrations(
		schema.Migration{Version: 2, Steps: []schema.Step{addPriority, createTags}},
	)
	require.NoError(t, err)

	v2, err := schema.Apply(v1, 2, []schema.Step{addPriority, createTags})
	require.NoError(t, err)

	b := openTestAdapter(t, v2, WithStore(store), WithMigrations(migrations))

	got, ok, err := b.Find(ctx, "tasks", "t1")
	require.NoError(t, err)
	require.True(t, ok, "migration keeps existing rows")
	assert.Equal(t, raw.Number(0), got.Get("priority"))
	assert.Equal(t, raw.Null{}, got.Get("label"))

	n, err := b.Count(ctx, query.New("tags"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	ver, _, err := b.GetLocal(ctx, SchemaVersionKey)
	require.NoError(t, err)
	assert.Equal(t, "2", ver)
}

func TestSetUp_ResetsWithoutPath(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	v1 := adaptertest.Schema(t)
	a := openTestAdapter(t, v1, WithStore(store))
	require.NoError(t, a.Batch(ctx, []adapter.Operation{{Type: adapter.OpCreate, Table: "tasks", Raw: adaptertest.Task("t1", raw.StatusSynced, "a", 1)}}))

	v3, err := schema.NewAppSchema(3, v1.Tables()...)
	require.NoError(t, err)
	b := openTestAdapter(t, v3, WithStore(store))

	_, ok, err := b.Find(ctx, "tasks", "t1")
	require.NoError(t, err)
	assert.False(t, ok, "no migrations means reset")
}

func TestSetUp_ResetsNewerStorage(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	v1 := adaptertest.Schema(t)
	v2, err := schema.NewAppSchema(2, v1.Tables()...)
	require.NoError(t, err)

	a := openTestAdapter(t, v2, WithStore(store))
	require.NoError(t, a.Batch(ctx, []adapter.Operation{{Type: adapter.OpCreate, Table: "tasks", Raw: adaptertest.Task("t1", raw.StatusSynced, "a", 1)}}))

	b := openTestAdapter(t, v1, WithStore(store))
	_, ok, err := b.Find(ctx, "tasks", "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNew_RejectsMigrationsNewerThanSchema(t *testing.T) {
	m, err := schema.BuildMigrations(schema.Migration{Version: 2, Steps: []schema.Step{}})
	require.NoError(t, err)
	_, err = New(adaptertest.Schema(t), WithMigrations(m))
	assert.True(t, dberr.IsConfiguration(err))
}

func TestFailNextBatch(t *testing.T) {
	ctx := context.Background()
	a := openTestAdapter(t, adaptertest.Schema(t))
	boom := errors.New("boom")
	a.FailNextBatch(boom)

	err := a.Batch(ctx, []adapter.Operation{{Type: adapter.OpCreate, Table: "tasks", Raw: adaptertest.Task("t1", raw.StatusCreated, "a", 1)}})
	require.ErrorIs(t, err, boom)
	assert.True(t, dberr.IsAdapter(err))

	n, err := a.Count(ctx, query.New("tasks"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, a.Batch(ctx, []adapter.Operation{{Type: adapter.OpCreate, Table: "tasks", Raw: adaptertest.Task("t1", raw.StatusCreated, "a", 1)}}))
}
