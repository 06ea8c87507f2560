// Package query describes the small filter language adapters must support.
//
// A Query names one table and a conjunction of clauses. Adapters compile it
// into their own form (parameterized SQL, map scans); the core never builds
// backend-specific queries itself.
//
// Clause types:
//   - Eq: column = value
//   - NotEq: column != value
//   - OneOf: column IN (values...)
//
// Deleted records never match any query; adapters exclude them
// unconditionally.
package query

import (
	"fmt"

	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/schema"
)

// Clause is a filter condition.
//
// This is a sealed interface: only types in this package implement it, so
// adapter compilers can switch exhaustively.
type Clause interface {
	clauseNode()
}

// Eq matches records whose column equals Value. A Null value matches null.
type Eq struct {
	Column string
	Value  raw.Value
}

func (Eq) clauseNode() {}

// NotEq matches records whose column differs from Value.
type NotEq struct {
	Column string
	Value  raw.Value
}

func (NotEq) clauseNode() {}

// OneOf matches records whose column equals any of Values.
// An empty list matches nothing.
type OneOf struct {
	Column string
	Values []raw.Value
}

func (OneOf) clauseNode() {}

// Query selects records of one table.
type Query struct {
	Table string
	Where []Clause
}

// New builds a query over table.
func New(table string, where ...Clause) Query {
	return Query{Table: table, Where: where}
}

// ByIDs matches the given record ids.
func ByIDs(table string, ids []string) Query {
	vals := make([]raw.Value, len(ids))
	for i, id := range ids {
		vals[i] = raw.String(id)
	}
	return New(table, OneOf{Column: raw.ColumnID, Values: vals})
}

// NotSynced matches records with local changes that have not been pushed.
func NotSynced(table string) Query {
	return New(table, NotEq{Column: raw.ColumnStatus, Value: raw.String(raw.StatusSynced)})
}

// Validate checks that q only references columns the table declares, or
// the id and _status columns.
func Validate(q Query, t *schema.TableSchema) error {
	if q.Table != t.Name() {
		return fmt.Errorf("query table %q does not match schema table %q", q.Table, t.Name())
	}
	for i, c := range q.Where {
		col, err := clauseColumn(c)
		if err != nil {
			return fmt.Errorf("clause %d: %w", i, err)
		}
		switch col {
		case raw.ColumnID, raw.ColumnStatus:
			continue
		}
		if _, ok := t.Column(col); !ok {
			return fmt.Errorf("clause %d: unknown column %q in table %q", i, col, q.Table)
		}
	}
	return nil
}

func clauseColumn(c Clause) (string, error) {
	switch cl := c.(type) {
	case Eq:
		return cl.Column, nil
	case NotEq:
		return cl.Column, nil
	case OneOf:
		return cl.Column, nil
	default:
		return "", fmt.Errorf("unsupported clause type %T", c)
	}
}

// Matches evaluates q against r in memory. Deleted records never match.
func Matches(q Query, r raw.Raw) bool {
	if r.Status == raw.StatusDeleted {
		return false
	}
	for _, c := range q.Where {
		if !matchClause(c, r) {
			return false
		}
	}
	return true
}

func matchClause(c Clause, r raw.Raw) bool {
	switch cl := c.(type) {
	case Eq:
		return valueEqual(columnValue(r, cl.Column), cl.Value)
	case NotEq:
		return !valueEqual(columnValue(r, cl.Column), cl.Value)
	case OneOf:
		v := columnValue(r, cl.Column)
		for _, want := range cl.Values {
			if valueEqual(v, want) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func columnValue(r raw.Raw, col string) raw.Value {
	switch col {
	case raw.ColumnID:
		return raw.String(r.ID)
	case raw.ColumnStatus:
		return raw.String(r.Status)
	case raw.ColumnChanged:
		return raw.String(r.Changed.String())
	default:
		return r.Get(col)
	}
}

func valueEqual(a, b raw.Value) bool {
	if raw.IsNull(a) || raw.IsNull(b) {
		return raw.IsNull(a) && raw.IsNull(b)
	}
	return a == b
}
