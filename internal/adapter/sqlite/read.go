package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/driftdb/internal/dberr"
	"github.com/roach88/driftdb/internal/query"
	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/schema"
)

type scanner interface {
	Scan(dest ...any) error
}

// scanRaw reads one row laid out by selectColumns.
func scanRaw(t *schema.TableSchema, row scanner) (raw.Raw, error) {
	cols := t.Columns()
	var (
		id, status string
		changed    sql.NullString
	)
	values := make([]any, len(cols))
	dest := []any{&id, &status, &changed}
	for i := range values {
		dest = append(dest, &values[i])
	}
	if err := row.Scan(dest...); err != nil {
		return raw.Raw{}, err
	}

	st, err := raw.ParseStatus(status)
	if err != nil {
		return raw.Raw{}, fmt.Errorf("record %s#%s: %w", t.Name(), id, err)
	}
	r := raw.Raw{
		ID:      id,
		Status:  st,
		Changed: raw.ParseChangedSet(changed.String),
		Fields:  make(map[string]raw.Value, len(cols)),
	}
	for i, c := range cols {
		r.Fields[c.Name] = fromColumn(c, values[i])
	}
	return r, nil
}

// Find returns a record by id, including deleted records.
func (a *Adapter) Find(ctx context.Context, table, id string) (raw.Raw, bool, error) {
	t, err := a.table(table)
	if err != nil {
		return raw.Raw{}, false, dberr.Adapter("find", err)
	}

	stmt := fmt.Sprintf("select %s from %s where %s = ? limit 1", selectColumns(t), quote(t.Name()), quote(raw.ColumnID))
	r, err := scanRaw(t, a.db.QueryRowContext(ctx, stmt, id))
	if errors.Is(err, sql.ErrNoRows) {
		return raw.Raw{}, false, nil
	}
	if err != nil {
		return raw.Raw{}, false, dberr.Adapter("find", err)
	}
	return r, true, nil
}

// Query returns matching non-deleted records ordered by id.
func (a *Adapter) Query(ctx context.Context, q query.Query) ([]raw.Raw, error) {
	t, err := a.table(q.Table)
	if err != nil {
		return nil, dberr.Adapter("query", err)
	}
	stmt, params, err := encodeQuery(t, q, false)
	if err != nil {
		return nil, dberr.Adapter("query", err)
	}

	rows, err := a.db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, dberr.Adapter("query", err)
	}
	defer rows.Close()

	out := []raw.Raw{}
	for rows.Next() {
		r, err := scanRaw(t, rows)
		if err != nil {
			return nil, dberr.Adapter("query", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.Adapter("query", err)
	}
	return out, nil
}

// Count returns the number of matching non-deleted records.
func (a *Adapter) Count(ctx context.Context, q query.Query) (int, error) {
	t, err := a.table(q.Table)
	if err != nil {
		return 0, dberr.Adapter("count", err)
	}
	stmt, params, err := encodeQuery(t, q, true)
	if err != nil {
		return 0, dberr.Adapter("count", err)
	}

	var n int
	if err := a.db.QueryRowContext(ctx, stmt, params...).Scan(&n); err != nil {
		return 0, dberr.Adapter("count", err)
	}
	return n, nil
}

// GetDeletedRecords returns tombstone ids ordered by id.
func (a *Adapter) GetDeletedRecords(ctx context.Context, table string) ([]string, error) {
	t, err := a.table(table)
	if err != nil {
		return nil, dberr.Adapter("get deleted records", err)
	}

	stmt := fmt.Sprintf("select %s from %s where %s = 'deleted' order by %s asc collate binary",
		quote(raw.ColumnID), quote(t.Name()), quote(raw.ColumnStatus), quote(raw.ColumnID))
	rows, err := a.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, dberr.Adapter("get deleted records", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dberr.Adapter("get deleted records", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.Adapter("get deleted records", err)
	}
	return ids, nil
}
