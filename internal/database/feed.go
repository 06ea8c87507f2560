package database

import (
	"sync"

	"github.com/roach88/driftdb/internal/record"
)

// ChangeType is the kind of a committed record change.
type ChangeType string

const (
	ChangeCreated   ChangeType = "created"
	ChangeUpdated   ChangeType = "updated"
	ChangeDestroyed ChangeType = "destroyed"
)

// Change is one committed record change.
type Change struct {
	Type   ChangeType
	Record *record.Record
}

// CollectionChanges is what a collection subscriber receives. The first
// delivery after subscribing has Seq 0 and no changes: it marks the
// current state, and every later delivery is a delta.
type CollectionChanges struct {
	Table   string
	Seq     int64
	Changes []Change
}

// TableChanges is what a multi-table subscriber receives: the changes of
// one batch, keyed by table, limited to the subscribed tables.
type TableChanges struct {
	Seq     int64
	Changes map[string][]Change
}

// feed is a subscriber list with synchronous, in-order dispatch.
type feed[T any] struct {
	mu     sync.Mutex
	nextID int
	ids    []int
	subs   map[int]func(T)
}

func newFeed[T any]() *feed[T] {
	return &feed[T]{subs: make(map[int]func(T))}
}

// subscribe registers fn and returns a function that removes it.
func (f *feed[T]) subscribe(fn func(T)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.ids = append(f.ids, id)
	f.subs[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
			for i, v := range f.ids {
				if v == id {
					f.ids = append(f.ids[:i], f.ids[i+1:]...)
					break
				}
			}
		})
	}
}

// publish calls every subscriber in subscription order. Subscribers run
// outside the feed lock, so they may subscribe or unsubscribe.
func (f *feed[T]) publish(v T) {
	f.mu.Lock()
	fns := make([]func(T), 0, len(f.ids))
	for _, id := range f.ids {
		fns = append(fns, f.subs[id])
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (f *feed[T]) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}
