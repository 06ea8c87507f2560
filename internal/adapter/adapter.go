// Package adapter defines the storage contract driftdb's core depends on.
//
// An Adapter is the only component that touches durable storage. Two
// implementations live in subpackages: memory (indexed maps) and sqlite
// (mattn/go-sqlite3). The core never imports either directly.
//
// All writes go through Batch, which is all-or-nothing. Failures are
// reported as ADAPTER errors from internal/dberr with the backend error
// reachable via errors.Is.
package adapter

import (
	"context"
	"fmt"

	"github.com/roach88/driftdb/internal/query"
	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/schema"
)

// OpType is the kind of a batch operation.
type OpType string

const (
	OpCreate             OpType = "create"
	OpUpdate             OpType = "update"
	OpMarkAsDeleted      OpType = "markAsDeleted"
	OpDestroyPermanently OpType = "destroyPermanently"
)

// Operation is one write within a batch. For OpMarkAsDeleted and
// OpDestroyPermanently only Raw.ID is used.
type Operation struct {
	Type  OpType
	Table string
	Raw   raw.Raw
}

func (o Operation) String() string {
	return fmt.Sprintf("%s %s#%s", o.Type, o.Table, o.Raw.ID)
}

// Adapter is the storage contract.
type Adapter interface {
	// Schema returns the app schema the adapter was opened with.
	Schema() *schema.AppSchema

	// SetUp prepares storage for the current schema, migrating or resetting
	// as Decide prescribes. It must run before any other call.
	SetUp(ctx context.Context) error

	// Find returns the record with id, including deleted records.
	Find(ctx context.Context, table, id string) (raw.Raw, bool, error)

	// Query returns matching non-deleted records ordered by id.
	Query(ctx context.Context, q query.Query) ([]raw.Raw, error)

	// Count returns the number of matching non-deleted records.
	Count(ctx context.Context, q query.Query) (int, error)

	// Batch applies every operation or none.
	Batch(ctx context.Context, ops []Operation) error

	// GetDeletedRecords returns the tombstone ids of table.
	GetDeletedRecords(ctx context.Context, table string) ([]string, error)

	// DestroyDeletedRecords purges tombstones. Ids that are not tombstones
	// are ignored.
	DestroyDeletedRecords(ctx context.Context, table string, ids []string) error

	// UnsafeResetDatabase drops all data and recreates the current schema.
	UnsafeResetDatabase(ctx context.Context) error

	// GetLocal returns a local storage value.
	GetLocal(ctx context.Context, key string) (string, bool, error)

	// SetLocal stores a local storage value.
	SetLocal(ctx context.Context, key, value string) error

	// RemoveLocal deletes a local storage value. Missing keys are ignored.
	RemoveLocal(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}
