package sqlite

import (
	"fmt"
	"strings"

	"github.com/roach88/driftdb/internal/query"
	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/schema"
)

const localStorageTable = "local_storage"

const commonSchema = `create table "local_storage" ("key" varchar(16) primary key not null, "value" text not null);` +
	`create index "local_storage_key_index" on "local_storage" ("key");`

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// encodeSchema renders the DDL that creates every table of s from scratch.
func encodeSchema(s *schema.AppSchema) string {
	var b strings.Builder
	b.WriteString(commonSchema)
	for _, t := range s.Tables() {
		encodeTable(&b, t.Name(), t.Columns())
	}
	return b.String()
}

func encodeTable(b *strings.Builder, table string, cols []schema.ColumnSchema) {
	names := []string{quote(raw.ColumnID) + " primary key", quote(raw.ColumnChanged), quote(raw.ColumnStatus)}
	for _, c := range cols {
		names = append(names, quote(c.Name))
	}
	fmt.Fprintf(b, "create table %s (%s);", quote(table), strings.Join(names, ", "))

	for _, c := range cols {
		if c.IsIndexed {
			encodeIndex(b, table, c.Name)
		}
	}
	encodeIndex(b, table, raw.ColumnStatus)
}

func encodeIndex(b *strings.Builder, table, col string) {
	fmt.Fprintf(b, "create index %s on %s (%s);", quote(table+"_"+col), quote(table), quote(col))
}

// encodeMigrationSteps renders the SQL that applies steps in order.
func encodeMigrationSteps(steps []schema.Step) (string, error) {
	var b strings.Builder
	for _, step := range steps {
		switch s := step.(type) {
		case schema.CreateTableStep:
			encodeTable(&b, s.Name, s.Columns)
		case schema.AddColumnsStep:
			for _, c := range s.Columns {
				fmt.Fprintf(&b, "alter table %s add %s;", quote(s.Table), quote(c.Name))
				fmt.Fprintf(&b, "update %s set %s = %s;", quote(s.Table), quote(c.Name), encodeDefault(c))
				if c.IsIndexed {
					encodeIndex(&b, s.Table, c.Name)
				}
			}
		case schema.SQLStep:
			b.WriteString(s.Query)
		default:
			return "", fmt.Errorf("unsupported migration step %T", step)
		}
	}
	return b.String(), nil
}

func encodeDefault(c schema.ColumnSchema) string {
	switch v := c.DefaultValue().(type) {
	case raw.String:
		return "'" + strings.ReplaceAll(string(v), "'", "''") + "'"
	case raw.Number:
		return raw.Format(v)
	case raw.Bool:
		if v {
			return "1"
		}
		return "0"
	default:
		return "null"
	}
}

// toParam converts a value to a driver parameter. Booleans are stored as 1/0.
func toParam(v raw.Value) any {
	switch val := v.(type) {
	case raw.String:
		return string(val)
	case raw.Number:
		return float64(val)
	case raw.Bool:
		if val {
			return int64(1)
		}
		return int64(0)
	default:
		return nil
	}
}

// fromColumn converts a scanned driver value back to a typed value.
func fromColumn(col schema.ColumnSchema, v any) raw.Value {
	switch val := v.(type) {
	case nil:
		return col.Sanitize(raw.Null{})
	case string:
		return col.Sanitize(raw.String(val))
	case []byte:
		return col.Sanitize(raw.String(val))
	case int64:
		if col.Type == schema.TypeBoolean {
			return raw.Bool(val != 0)
		}
		return col.Sanitize(raw.Number(val))
	case float64:
		if col.Type == schema.TypeBoolean {
			return raw.Bool(val != 0)
		}
		return col.Sanitize(raw.Number(val))
	case bool:
		return col.Sanitize(raw.Bool(val))
	default:
		return col.DefaultValue()
	}
}

// selectColumns lists the physical columns read for t, in scan order.
func selectColumns(t *schema.TableSchema) string {
	names := []string{quote(raw.ColumnID), quote(raw.ColumnStatus), quote(raw.ColumnChanged)}
	for _, c := range t.Columns() {
		names = append(names, quote(c.Name))
	}
	return strings.Join(names, ", ")
}

// encodeQuery compiles q into a parameterized statement.
// Every select is ordered by id for deterministic results, and deleted
// records are always excluded. count selects count(*) instead of rows.
func encodeQuery(t *schema.TableSchema, q query.Query, count bool) (string, []any, error) {
	where := []string{quote(raw.ColumnStatus) + " is not 'deleted'"}
	var params []any

	for _, c := range q.Where {
		sql, p, err := encodeClause(c)
		if err != nil {
			return "", nil, err
		}
		where = append(where, sql)
		params = append(params, p...)
	}

	cols := selectColumns(t)
	if count {
		cols = "count(*)"
	}
	sql := fmt.Sprintf("select %s from %s where %s", cols, quote(t.Name()), strings.Join(where, " and "))
	if !count {
		sql += " order by " + quote(raw.ColumnID) + " asc collate binary"
	}
	return sql, params, nil
}

func encodeClause(c query.Clause) (string, []any, error) {
	switch cl := c.(type) {
	case query.Eq:
		return quote(cl.Column) + " is ?", []any{toParam(cl.Value)}, nil
	case query.NotEq:
		return quote(cl.Column) + " is not ?", []any{toParam(cl.Value)}, nil
	case query.OneOf:
		if len(cl.Values) == 0 {
			return "0 = 1", nil, nil
		}
		parts := make([]string, len(cl.Values))
		params := make([]any, len(cl.Values))
		for i, v := range cl.Values {
			parts[i] = quote(cl.Column) + " is ?"
			params[i] = toParam(v)
		}
		return "(" + strings.Join(parts, " or ") + ")", params, nil
	default:
		return "", nil, fmt.Errorf("unsupported clause type %T", c)
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
