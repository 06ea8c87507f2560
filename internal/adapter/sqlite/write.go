package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/driftdb/internal/adapter"
	"github.com/roach88/driftdb/internal/dberr"
	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/schema"
)

// Batch applies ops in one transaction.
func (a *Adapter) Batch(ctx context.Context, ops []adapter.Operation) error {
	err := a.inTx(ctx, func(tx *sql.Tx) error {
		for _, op := range ops {
			t, err := a.table(op.Table)
			if err != nil {
				return err
			}
			if err := execOp(ctx, tx, t, op); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
		return nil
	})
	return dberr.Adapter("batch", err)
}

func execOp(ctx context.Context, tx *sql.Tx, t *schema.TableSchema, op adapter.Operation) error {
	switch op.Type {
	case adapter.OpCreate:
		return insertRaw(ctx, tx, t, op.Raw)
	case adapter.OpUpdate:
		return updateRaw(ctx, tx, t, op.Raw)
	case adapter.OpMarkAsDeleted:
		stmt := fmt.Sprintf("update %s set %s = 'deleted' where %s = ?",
			quote(t.Name()), quote(raw.ColumnStatus), quote(raw.ColumnID))
		return execOne(ctx, tx, stmt, op.Raw.ID)
	case adapter.OpDestroyPermanently:
		stmt := fmt.Sprintf("delete from %s where %s = ?", quote(t.Name()), quote(raw.ColumnID))
		_, err := tx.ExecContext(ctx, stmt, op.Raw.ID)
		return err
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}

func insertRaw(ctx context.Context, tx *sql.Tx, t *schema.TableSchema, r raw.Raw) error {
	cols := t.Columns()
	names := []string{quote(raw.ColumnID), quote(raw.ColumnStatus), quote(raw.ColumnChanged)}
	params := []any{r.ID, string(r.Status), r.Changed.String()}
	for _, c := range cols {
		names = append(names, quote(c.Name))
		params = append(params, toParam(r.Get(c.Name)))
	}

	stmt := fmt.Sprintf("insert into %s (%s) values (%s)",
		quote(t.Name()), strings.Join(names, ", "), placeholders(len(names)))
	_, err := tx.ExecContext(ctx, stmt, params...)
	return err
}

func updateRaw(ctx context.Context, tx *sql.Tx, t *schema.TableSchema, r raw.Raw) error {
	cols := t.Columns()
	sets := []string{quote(raw.ColumnStatus) + " = ?", quote(raw.ColumnChanged) + " = ?"}
	params := []any{string(r.Status), r.Changed.String()}
	for _, c := range cols {
		sets = append(sets, quote(c.Name)+" = ?")
		params = append(params, toParam(r.Get(c.Name)))
	}
	params = append(params, r.ID)

	stmt := fmt.Sprintf("update %s set %s where %s = ?",
		quote(t.Name()), strings.Join(sets, ", "), quote(raw.ColumnID))
	return execOne(ctx, tx, stmt, params...)
}

// execOne runs stmt and fails unless exactly one row was affected.
func execOne(ctx context.Context, tx *sql.Tx, stmt string, params ...any) error {
	res, err := tx.ExecContext(ctx, stmt, params...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("record not found")
	}
	return nil
}

// DestroyDeletedRecords purges tombstones among ids.
func (a *Adapter) DestroyDeletedRecords(ctx context.Context, table string, ids []string) error {
	t, err := a.table(table)
	if err != nil {
		return dberr.Adapter("destroy deleted records", err)
	}
	if len(ids) == 0 {
		return nil
	}

	params := make([]any, len(ids))
	for i, id := range ids {
		params[i] = id
	}
	stmt := fmt.Sprintf("delete from %s where %s = 'deleted' and %s in (%s)",
		quote(t.Name()), quote(raw.ColumnStatus), quote(raw.ColumnID), placeholders(len(ids)))
	_, err = a.db.ExecContext(ctx, stmt, params...)
	return dberr.Adapter("destroy deleted records", err)
}
