// Package sqlite implements adapter.Adapter on SQLite via mattn/go-sqlite3.
//
// Layout per table: "id" primary key, "_changed" (comma-delimited changed
// set), "_status", then one column per schema column. Booleans are stored
// as 1/0. The stored schema version is PRAGMA user_version.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/driftdb/internal/adapter"
	"github.com/roach88/driftdb/internal/dberr"
	"github.com/roach88/driftdb/internal/schema"
)

// Adapter stores records in a SQLite database file.
type Adapter struct {
	db         *sql.DB
	schema     *schema.AppSchema
	migrations *schema.Migrations
	logger     *slog.Logger
	openWait   time.Duration
}

var _ adapter.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithMigrations sets the migrations used by SetUp.
func WithMigrations(m *schema.Migrations) Option {
	return func(a *Adapter) { a.migrations = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithOpenTimeout bounds how long Open retries a busy database.
func WithOpenTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.openWait = d }
}

// Open creates or opens the database at path and applies pragmas.
// Call SetUp before use.
//
// The connection is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - a single open connection, since SQLite allows one writer
//
// A database locked by another process is retried with exponential
// backoff until the open timeout elapses.
func Open(ctx context.Context, path string, s *schema.AppSchema, opts ...Option) (*Adapter, error) {
	a := &Adapter{schema: s, logger: slog.Default(), openWait: 10 * time.Second}
	for _, opt := range opts {
		opt(a)
	}
	if a.migrations != nil {
		if err := a.migrations.CheckAgainst(s); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, dberr.Adapter("open", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = a.openWait

	err = backoff.Retry(func() error {
		if err := db.PingContext(ctx); err != nil {
			return retryable(err)
		}
		return retryable(applyPragmas(ctx, db))
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		db.Close()
		return nil, dberr.Adapter("open", err)
	}

	a.db = db
	return a, nil
}

// retryable marks every error except SQLITE_BUSY and SQLITE_LOCKED as
// permanent so backoff stops immediately.
func retryable(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return err
	}
	return backoff.Permanent(err)
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Schema returns the app schema.
func (a *Adapter) Schema() *schema.AppSchema { return a.schema }

// Close closes the database connection.
func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// SetUp migrates or resets the database to the current schema version.
func (a *Adapter) SetUp(ctx context.Context) error {
	stored, err := a.userVersion(ctx)
	if err != nil {
		return dberr.Adapter("set up", err)
	}

	plan := adapter.Decide(stored, a.schema, a.migrations)
	switch plan.Kind {
	case adapter.SetUpNone:
		return nil
	case adapter.SetUpCreate:
		a.logger.Info("creating database", "version", plan.To)
		return dberr.Adapter("set up", a.reset(ctx))
	case adapter.SetUpReset:
		a.logger.Warn("resetting database", "reason", plan.Reason)
		return dberr.Adapter("set up", a.reset(ctx))
	default:
		a.logger.Info("migrating database", "from", plan.From, "to", plan.To, "steps", len(plan.Steps))
		return dberr.Adapter("migrate", a.migrate(ctx, plan.Steps, plan.To))
	}
}

func (a *Adapter) userVersion(ctx context.Context) (int, error) {
	var v int
	if err := a.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return v, nil
}

func (a *Adapter) migrate(ctx context.Context, steps []schema.Step, to int) error {
	script, err := encodeMigrationSteps(steps)
	if err != nil {
		return err
	}
	return a.inTx(ctx, func(tx *sql.Tx) error {
		if script != "" {
			if _, err := tx.ExecContext(ctx, script); err != nil {
				return fmt.Errorf("apply migration steps: %w", err)
			}
		}
		return setUserVersion(ctx, tx, to)
	})
}

// reset drops every table and recreates the current schema.
func (a *Adapter) reset(ctx context.Context) error {
	return a.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "select name from sqlite_master where type = 'table' and name not like 'sqlite_%'")
		if err != nil {
			return fmt.Errorf("list tables: %w", err)
		}
		var tables []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return fmt.Errorf("scan table name: %w", err)
			}
			tables = append(tables, name)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("list tables: %w", err)
		}

		for _, name := range tables {
			if _, err := tx.ExecContext(ctx, "drop table if exists "+quote(name)); err != nil {
				return fmt.Errorf("drop table %s: %w", name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, encodeSchema(a.schema)); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		return setUserVersion(ctx, tx, a.schema.Version())
	})
}

func setUserVersion(ctx context.Context, tx *sql.Tx, v int) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (a *Adapter) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (a *Adapter) table(name string) (*schema.TableSchema, error) {
	t, ok := a.schema.Table(name)
	if !ok {
		return nil, fmt.Errorf("unknown table %q", name)
	}
	return t, nil
}

// UnsafeResetDatabase drops all data, including local storage.
func (a *Adapter) UnsafeResetDatabase(ctx context.Context) error {
	return dberr.Adapter("unsafe reset database", a.reset(ctx))
}

// GetLocal returns a local storage value.
func (a *Adapter) GetLocal(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := a.db.QueryRowContext(ctx, `select "value" from "local_storage" where "key" = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, dberr.Adapter("get local", err)
	}
	return v, true, nil
}

// SetLocal stores a local storage value.
func (a *Adapter) SetLocal(ctx context.Context, key, value string) error {
	_, err := a.db.ExecContext(ctx, `insert or replace into "local_storage" ("key", "value") values (?, ?)`, key, value)
	return dberr.Adapter("set local", err)
}

// RemoveLocal deletes a local storage value.
func (a *Adapter) RemoveLocal(ctx context.Context, key string) error {
	_, err := a.db.ExecContext(ctx, `delete from "local_storage" where "key" = ?`, key)
	return dberr.Adapter("remove local", err)
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (a *Adapter) verifyPragma(name, expected string) error {
	var value string
	if err := a.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
