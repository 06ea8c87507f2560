// Package sync implements the three-phase synchronization protocol between
// a local database and a remote source of truth:
//
//  1. FetchLocalChanges collects unsynced records and tombstones.
//  2. ApplyRemoteChanges merges a pulled change set, resolving per-column
//     conflicts in favour of local edits.
//  3. MarkLocalChangesAsSynced marks pushed records as synced.
//
// Each phase is a single action on the database queue, so it never
// interleaves with other writes. Synchronize runs a whole cycle against a
// Remote. Transport is the caller's concern.
package sync

import (
	"context"
	"strconv"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/driftdb/internal/database"
	"github.com/roach88/driftdb/internal/dberr"
)

// LastPulledAtKey is the local-storage key holding the last pull timestamp.
const LastPulledAtKey = "__watermelon_last_pulled_at"

// GetLastPulledAt returns the timestamp of the last successful pull. A
// missing, unparsable or zero value means never pulled.
func GetLastPulledAt(ctx context.Context, db *database.Database) (int64, bool, error) {
	v, ok, err := db.GetLocal(ctx, LastPulledAtKey)
	if err != nil || !ok {
		return 0, false, err
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ts == 0 {
		return 0, false, nil
	}
	return ts, true, nil
}

// SetLastPulledAt stores the timestamp of a successful pull.
func SetLastPulledAt(ctx context.Context, db *database.Database, ts int64) error {
	return db.SetLocal(ctx, LastPulledAtKey, strconv.FormatInt(ts, 10))
}

func ensureActionsEnabled(db *database.Database) error {
	if !db.ActionsEnabled() {
		return dberr.InvalidOperation("sync requires actions to be enabled on the database")
	}
	return nil
}

// PullResult is what a Remote returns from a pull.
type PullResult struct {
	Changes   DatabaseChangeSet `json:"changes"`
	Timestamp int64             `json:"timestamp"`
}

// Remote is the server side of a sync cycle.
type Remote interface {
	// Pull returns the changes since lastPulledAt (0 when never pulled)
	// and the server timestamp they are current as of.
	Pull(ctx context.Context, lastPulledAt int64) (PullResult, error)

	// Push sends local changes, stripped of local metadata.
	Push(ctx context.Context, changes DatabaseChangeSet, lastPulledAt int64) error
}

// Option configures Synchronize.
type Option func(*options)

type options struct {
	newBackOff func() backoff.BackOff
}

// WithRetry retries failed Pull and Push calls with the back-off policy
// returned by newBackOff. By default remote calls are not retried.
//
//	sync.WithRetry(func() backoff.BackOff {
//		return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
//	})
func WithRetry(newBackOff func() backoff.BackOff) Option {
	return func(o *options) {
		if newBackOff != nil {
			o.newBackOff = newBackOff
		}
	}
}

// Synchronize runs one full cycle: pull, apply, record the pull timestamp,
// fetch local changes, push them and mark them as synced. Nothing is pushed
// when there are no local changes.
func Synchronize(ctx context.Context, db *database.Database, remote Remote, opts ...Option) error {
	if err := ensureActionsEnabled(db); err != nil {
		return err
	}
	o := options{newBackOff: func() backoff.BackOff { return &backoff.StopBackOff{} }}
	for _, opt := range opts {
		opt(&o)
	}
	log := db.Logger()

	lastPulledAt, _, err := GetLastPulledAt(ctx, db)
	if err != nil {
		return err
	}

	var pulled PullResult
	err = o.retry(ctx, func() error {
		var err error
		pulled, err = remote.Pull(ctx, lastPulledAt)
		return err
	})
	if err != nil {
		return err
	}
	if err := ApplyRemoteChanges(ctx, db, pulled.Changes); err != nil {
		return err
	}
	if err := SetLastPulledAt(ctx, db, pulled.Timestamp); err != nil {
		return err
	}
	log.Info("pulled remote changes", "since", lastPulledAt, "timestamp", pulled.Timestamp)

	local, err := FetchLocalChanges(ctx, db)
	if err != nil {
		return err
	}
	if local.Changes.IsEmpty() {
		log.Info("no local changes to push")
		return nil
	}

	wire := local.Changes.WithoutLocalMetadata()
	err = o.retry(ctx, func() error {
		return remote.Push(ctx, wire, pulled.Timestamp)
	})
	if err != nil {
		return err
	}
	if err := MarkLocalChangesAsSynced(ctx, db, local); err != nil {
		return err
	}
	log.Info("pushed local changes", "records", len(local.Affected))
	return nil
}

func (o options) retry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if dberr.IsProtocol(err) || dberr.IsInvalidOperation(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(o.newBackOff(), ctx))
}
