package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/driftdb/internal/action"
	"github.com/roach88/driftdb/internal/adapter/memory"
	"github.com/roach88/driftdb/internal/dberr"
	"github.com/roach88/driftdb/internal/query"
	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/record"
	"github.com/roach88/driftdb/internal/testutil"
)

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("id-%02d", i+1)
	}
	return out
}

func openDB(t *testing.T, opts ...Option) (*Database, *memory.Adapter) {
	t.Helper()
	a := testutil.MemoryAdapter(t, testutil.Schema(t))
	clock := testutil.NewStepClock(time.Second)
	base := []Option{
		WithNow(clock.Now),
		WithIDGenerator(record.NewFixedGenerator(ids(50)...)),
	}
	db, err := Open(context.Background(), a, append(base, opts...)...)
	require.NoError(t, err)
	return db, a
}

// inAction runs fn as an action and requires it to succeed.
func inAction(t *testing.T, db *Database, fn func(ctx context.Context) error) {
	t.Helper()
	err := db.Action(context.Background(), t.Name(), func(ctx context.Context, _ *action.Handle) error {
		return fn(ctx)
	})
	require.NoError(t, err)
}

func tasks(t *testing.T, db *Database) *Collection {
	t.Helper()
	c, err := db.Collection("tasks")
	require.NoError(t, err)
	return c
}

func createTask(t *testing.T, db *Database, name string) *record.Record {
	t.Helper()
	var r *record.Record
	inAction(t, db, func(ctx context.Context) error {
		var err error
		r, err = tasks(t, db).Create(ctx, func(u *record.Updater) { u.SetAny("name", name) })
		return err
	})
	return r
}

// createSynced stores a record as if it came from the server.
func createSynced(t *testing.T, db *Database, id, name string) *record.Record {
	t.Helper()
	r, err := tasks(t, db).PrepareCreateFromDirty(testutil.Dirty(t, "id", id, "name", name))
	require.NoError(t, err)
	inAction(t, db, func(ctx context.Context) error { return db.Batch(ctx, r) })
	return r
}

func TestOpen_RunsSetUp(t *testing.T) {
	db, _ := openDB(t)

	v, ok, err := db.GetLocal(context.Background(), memory.SchemaVersionKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", v)
	assert.True(t, db.ActionsEnabled())
	assert.Len(t, db.Collections(), 2)
}

func TestOpen_RequiresAdapter(t *testing.T) {
	_, err := Open(context.Background(), nil)
	assert.True(t, dberr.IsConfiguration(err))
}

func TestCollection_UnknownTable(t *testing.T) {
	db, _ := openDB(t)
	_, err := db.Collection("nope")
	assert.True(t, dberr.IsInvalidOperation(err))
}

func TestCreate_FindReturnsCachedInstance(t *testing.T) {
	db, _ := openDB(t)
	r := createTask(t, db, "write docs")

	assert.Equal(t, "id-01", r.ID())
	assert.Equal(t, raw.StatusCreated, r.Status())
	assert.False(t, r.IsNew())
	assert.Equal(t, raw.Number(float64(testutil.Epoch.UnixMilli())), r.Get("created_at"))
	assert.Equal(t, raw.Number(float64(testutil.Epoch.UnixMilli())), r.Get("updated_at"))

	found, ok, err := tasks(t, db).Find(context.Background(), "id-01")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, r, found)

	_, ok, err = tasks(t, db).Find(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFind_LoadsFromAdapterOnce(t *testing.T) {
	db, a := openDB(t)
	createSynced(t, db, "remote", "from server")

	// A second database over the same store starts with an empty cache.
	db2, err := Open(context.Background(), a)
	require.NoError(t, err)
	c := tasks(t, db2)
	assert.Equal(t, 0, c.CacheLen())

	first, ok, err := c.Find(context.Background(), "remote")
	require.NoError(t, err)
	require.True(t, ok)
	second, _, err := c.Find(context.Background(), "remote")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, c.CacheLen())
}

func TestBatch_OutsideActionRejected(t *testing.T) {
	db, _ := openDB(t)
	r, err := tasks(t, db).PrepareCreate(nil)
	require.NoError(t, err)

	err = db.Batch(context.Background(), r)
	require.Error(t, err)
	assert.True(t, dberr.IsInvalidOperation(err))
	assert.False(t, r.HasPendingChange())
}

func TestBatch_ActionsDisabled(t *testing.T) {
	db, _ := openDB(t, WithActionsEnabled(false))
	r, err := tasks(t, db).PrepareCreate(func(u *record.Updater) { u.SetAny("name", "free") })
	require.NoError(t, err)

	require.NoError(t, db.Batch(context.Background(), r))
	n, err := tasks(t, db).Count(context.Background(), query.New("tasks"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBatch_Empty(t *testing.T) {
	db, _ := openDB(t)
	inAction(t, db, func(ctx context.Context) error { return db.Batch(ctx) })
}

func TestBatch_AllOrNothing(t *testing.T) {
	db, a := openDB(t)
	c := tasks(t, db)

	var deliveries []CollectionChanges
	unsubscribe := c.Subscribe(func(cc CollectionChanges) { deliveries = append(deliveries, cc) })
	defer unsubscribe()

	r1, err := c.PrepareCreate(func(u *record.Updater) { u.SetAny("name", "one") })
	require.NoError(t, err)
	r2, err := c.PrepareCreate(func(u *record.Updater) { u.SetAny("name", "two") })
	require.NoError(t, err)

	boom := errors.New("disk full")
	a.FailNextBatch(boom)
	err = db.Action(context.Background(), "fails", func(ctx context.Context, _ *action.Handle) error {
		return db.Batch(ctx, r1, r2)
	})
	require.Error(t, err)
	assert.True(t, dberr.IsAdapter(err))
	assert.ErrorIs(t, err, boom)

	assert.False(t, r1.HasPendingChange())
	assert.False(t, r2.HasPendingChange())
	assert.True(t, r1.IsNew())
	assert.Equal(t, 0, c.CacheLen())

	n, err := c.Count(context.Background(), query.New("tasks"))
	require.NoError(t, err)
	assert.Zero(t, n)

	require.Len(t, deliveries, 1, "only the initial delivery")
	assert.Empty(t, deliveries[0].Changes)
	assert.Equal(t, int64(0), deliveries[0].Seq)
}

func TestBatch_RejectsInvalidRecords(t *testing.T) {
	db, _ := openDB(t)
	r := createTask(t, db, "committed")

	err := db.Action(context.Background(), "unprepared", func(ctx context.Context, _ *action.Handle) error {
		return db.Batch(ctx, r)
	})
	require.Error(t, err)
	assert.True(t, dberr.IsInvalidOperation(err))
	assert.Contains(t, err.Error(), "no prepared change")

	require.NoError(t, r.PrepareUpdate(time.Now(), func(u *record.Updater) { u.SetAny("name", "x") }))
	err = db.Action(context.Background(), "duplicate", func(ctx context.Context, _ *action.Handle) error {
		return db.Batch(ctx, r, r)
	})
	require.Error(t, err)
	assert.True(t, dberr.IsInvalidOperation(err))
	assert.False(t, r.HasPendingChange(), "failed batch discards staged changes")
	assert.Equal(t, raw.String("committed"), r.Get("name"))
}

func TestBatch_EmitsOneDeliveryPerBatch(t *testing.T) {
	db, _ := openDB(t)
	c := tasks(t, db)

	var deliveries []CollectionChanges
	c.Subscribe(func(cc CollectionChanges) { deliveries = append(deliveries, cc) })

	inAction(t, db, func(ctx context.Context) error {
		r1, err := c.PrepareCreate(func(u *record.Updater) { u.SetAny("name", "a") })
		if err != nil {
			return err
		}
		r2, err := c.PrepareCreate(func(u *record.Updater) { u.SetAny("name", "b") })
		if err != nil {
			return err
		}
		return db.Batch(ctx, r1, r2)
	})

	require.Len(t, deliveries, 2)
	got := deliveries[1]
	assert.Equal(t, "tasks", got.Table)
	assert.Equal(t, int64(1), got.Seq)
	require.Len(t, got.Changes, 2)
	assert.Equal(t, ChangeCreated, got.Changes[0].Type)
	assert.Equal(t, "id-01", got.Changes[0].Record.ID())
	assert.Equal(t, "id-02", got.Changes[1].Record.ID())
}

func TestBatch_ConcurrentBatchesDeliverInCommitOrder(t *testing.T) {
	db, _ := openDB(t)
	c := tasks(t, db)

	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
		seqs     []int64
	)
	c.Subscribe(func(cc CollectionChanges) {
		if cc.Seq == 0 {
			return
		}
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		seqs = append(seqs, cc.Seq)
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
	})

	inAction(t, db, func(ctx context.Context) error {
		recs := make([]*record.Record, 4)
		for i := range recs {
			r, err := c.PrepareCreate(func(u *record.Updater) { u.SetAny("name", fmt.Sprintf("t%d", i)) })
			if err != nil {
				return err
			}
			recs[i] = r
		}
		var wg sync.WaitGroup
		errs := make([]error, len(recs))
		for i, r := range recs {
			wg.Add(1)
			go func(i int, r *record.Record) {
				defer wg.Done()
				errs[i] = db.Batch(ctx, r)
			}(i, r)
		}
		wg.Wait()
		return errors.Join(errs...)
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, []int64{1, 2, 3, 4}, seqs)
}

func TestUpdate_TracksChangedColumns(t *testing.T) {
	db, _ := openDB(t)
	r := createSynced(t, db, "s1", "before")
	require.Equal(t, raw.StatusSynced, r.Status())

	inAction(t, db, func(ctx context.Context) error {
		return tasks(t, db).Update(ctx, r, func(u *record.Updater) { u.SetAny("name", "after") })
	})

	assert.Equal(t, raw.StatusUpdated, r.Status())
	assert.Equal(t, []string{"name", "updated_at"}, r.Changed().Columns())

	stored, ok, err := db.Adapter().Find(context.Background(), "tasks", "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, raw.String("after"), stored.Get("name"))
	assert.Equal(t, "name,updated_at", stored.Changed.String())
}

func TestUpdate_WrongCollection(t *testing.T) {
	db, _ := openDB(t)
	r := createTask(t, db, "task")
	projects, err := db.Collection("projects")
	require.NoError(t, err)

	err = db.Action(context.Background(), "wrong", func(ctx context.Context, _ *action.Handle) error {
		return projects.Update(ctx, r, func(*record.Updater) {})
	})
	assert.True(t, dberr.IsInvalidOperation(err))
}

func TestMarkAsDeleted_NeverSyncedLeavesNoTombstone(t *testing.T) {
	db, _ := openDB(t)
	c := tasks(t, db)
	r := createTask(t, db, "local only")

	var events []Change
	c.ObserveRecord(r.ID(), func(ch Change) { events = append(events, ch) })

	inAction(t, db, func(ctx context.Context) error { return c.MarkAsDeleted(ctx, r) })

	assert.True(t, r.IsDestroyed())
	deleted, err := db.Adapter().GetDeletedRecords(context.Background(), "tasks")
	require.NoError(t, err)
	assert.Empty(t, deleted)

	_, ok, err := c.Find(context.Background(), r.ID())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.CacheLen())

	require.Len(t, events, 1)
	assert.Equal(t, ChangeDestroyed, events[0].Type)
}

func TestMarkAsDeleted_SyncedLeavesTombstone(t *testing.T) {
	db, _ := openDB(t)
	c := tasks(t, db)
	r := createSynced(t, db, "s1", "synced")

	inAction(t, db, func(ctx context.Context) error { return c.MarkAsDeleted(ctx, r) })

	deleted, err := db.Adapter().GetDeletedRecords(context.Background(), "tasks")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, deleted)

	_, ok, err := c.Find(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, ok, "tombstones are not found")

	err = db.Action(context.Background(), "again", func(ctx context.Context, _ *action.Handle) error {
		return c.Update(ctx, r, func(*record.Updater) {})
	})
	assert.True(t, dberr.IsInvalidOperation(err))
}

func TestDestroyPermanently(t *testing.T) {
	db, _ := openDB(t)
	c := tasks(t, db)
	r := createSynced(t, db, "s1", "gone")

	inAction(t, db, func(ctx context.Context) error { return c.DestroyPermanently(ctx, r) })

	deleted, err := db.Adapter().GetDeletedRecords(context.Background(), "tasks")
	require.NoError(t, err)
	assert.Empty(t, deleted)
	_, ok, err := db.Adapter().Find(context.Background(), "tasks", "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestObserveRecord(t *testing.T) {
	db, _ := openDB(t)
	c := tasks(t, db)
	r := createSynced(t, db, "s1", "v1")
	other := createSynced(t, db, "s2", "other")

	var events []ChangeType
	c.ObserveRecord("s1", func(ch Change) { events = append(events, ch.Type) })

	inAction(t, db, func(ctx context.Context) error {
		if err := c.Update(ctx, other, func(u *record.Updater) { u.SetAny("name", "x") }); err != nil {
			return err
		}
		if err := c.Update(ctx, r, func(u *record.Updater) { u.SetAny("name", "v2") }); err != nil {
			return err
		}
		return c.MarkAsDeleted(ctx, r)
	})

	assert.Equal(t, []ChangeType{ChangeUpdated, ChangeDestroyed}, events)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	db, _ := openDB(t)
	c := tasks(t, db)

	calls := 0
	unsubscribe := c.Subscribe(func(CollectionChanges) { calls++ })
	assert.Equal(t, 1, calls)

	unsubscribe()
	unsubscribe()
	createTask(t, db, "unheard")
	assert.Equal(t, 1, calls)
}

func TestSubscribeTables_FiltersTables(t *testing.T) {
	db, _ := openDB(t)

	var got []TableChanges
	unsubscribe, err := db.SubscribeTables([]string{"projects"}, func(tc TableChanges) { got = append(got, tc) })
	require.NoError(t, err)
	defer unsubscribe()
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Changes)

	createTask(t, db, "not a project")
	assert.Len(t, got, 1)

	projects, err := db.Collection("projects")
	require.NoError(t, err)
	inAction(t, db, func(ctx context.Context) error {
		_, err := projects.Create(ctx, func(u *record.Updater) { u.SetAny("name", "p") })
		return err
	})
	require.Len(t, got, 2)
	assert.Contains(t, got[1].Changes, "projects")
	assert.NotContains(t, got[1].Changes, "tasks")

	_, err = db.SubscribeTables([]string{"nope"}, func(TableChanges) {})
	assert.True(t, dberr.IsInvalidOperation(err))
}

func TestQuery_ReturnsCachedInstances(t *testing.T) {
	db, _ := openDB(t)
	c := tasks(t, db)
	r1 := createTask(t, db, "a")
	r2 := createTask(t, db, "b")

	got, err := c.Query(context.Background(), query.New("", query.Eq{Column: "done", Value: raw.Bool(false)}))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Same(t, r1, got[0])
	assert.Same(t, r2, got[1])

	_, err = c.Query(context.Background(), query.New("", query.Eq{Column: "bogus", Value: raw.Null{}}))
	assert.Error(t, err)
}

func TestUnsafeResetDatabase(t *testing.T) {
	db, _ := openDB(t)
	c := tasks(t, db)
	createTask(t, db, "doomed")
	require.NoError(t, db.SetLocal(context.Background(), "k", "v"))

	assert.True(t, dberr.IsInvalidOperation(db.UnsafeResetDatabase(context.Background())))

	inAction(t, db, func(ctx context.Context) error { return db.UnsafeResetDatabase(ctx) })

	assert.Equal(t, 0, c.CacheLen())
	n, err := c.Count(context.Background(), query.New("tasks"))
	require.NoError(t, err)
	assert.Zero(t, n)
	_, ok, err := db.GetLocal(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStorage(t *testing.T) {
	db, _ := openDB(t)
	ctx := context.Background()

	require.NoError(t, db.SetLocal(ctx, "theme", "dark"))
	v, ok, err := db.GetLocal(ctx, "theme")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dark", v)

	require.NoError(t, db.RemoveLocal(ctx, "theme"))
	_, ok, err = db.GetLocal(ctx, "theme")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentReadsDuringBatches(t *testing.T) {
	db, _ := openDB(t)
	c := tasks(t, db)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := c.Query(context.Background(), query.New("tasks"))
				if !assert.NoError(t, err) {
					return
				}
				assert.GreaterOrEqual(t, len(got), last)
				last = len(got)
			}
		}()
	}

	for i := 0; i < 10; i++ {
		createTask(t, db, fmt.Sprintf("task %d", i))
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, 10, c.CacheLen())
}

func TestClock(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}
