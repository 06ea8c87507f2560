// Package schema holds the versioned table definitions and the migration
// set that evolves persisted data from one schema version to the next.
//
// Every constructor validates its input and returns a CONFIGURATION error
// from internal/dberr on failure. Built values are immutable: accessors
// return copies so callers cannot mutate a registered schema.
package schema

import (
	"github.com/roach88/driftdb/internal/dberr"
	"github.com/roach88/driftdb/internal/raw"
)

// ColumnType is the storage type of a column.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeNumber  ColumnType = "number"
	TypeBoolean ColumnType = "boolean"
)

// Valid reports whether t is a recognized column type.
func (t ColumnType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean:
		return true
	default:
		return false
	}
}

// Timestamp columns. A table that declares one of these as a number column
// gets it maintained automatically by the record model.
const (
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
)

// ColumnSchema describes one column.
type ColumnSchema struct {
	Name       string     `yaml:"name" json:"name"`
	Type       ColumnType `yaml:"type" json:"type"`
	IsOptional bool       `yaml:"optional,omitempty" json:"optional,omitempty"`
	IsIndexed  bool       `yaml:"indexed,omitempty" json:"indexed,omitempty"`
}

// DefaultValue is the value a column takes when none was supplied:
// null for optional columns, otherwise the zero value of the type.
func (c ColumnSchema) DefaultValue() raw.Value {
	if c.IsOptional {
		return raw.Null{}
	}
	switch c.Type {
	case TypeString:
		return raw.String("")
	case TypeNumber:
		return raw.Number(0)
	case TypeBoolean:
		return raw.Bool(false)
	default:
		return raw.Null{}
	}
}

// Sanitize returns v if it fits the column, else DefaultValue.
func (c ColumnSchema) Sanitize(v raw.Value) raw.Value {
	switch v.(type) {
	case raw.String:
		if c.Type == TypeString {
			return v
		}
	case raw.Number:
		if c.Type == TypeNumber {
			return v
		}
	case raw.Bool:
		if c.Type == TypeBoolean {
			return v
		}
	}
	return c.DefaultValue()
}

// IsReservedColumn reports whether name is managed by driftdb itself.
func IsReservedColumn(name string) bool {
	switch name {
	case raw.ColumnID, raw.ColumnStatus, raw.ColumnChanged:
		return true
	default:
		return false
	}
}

// validateColumns checks a column list in the context of owner (a table name).
func validateColumns(owner string, cols []ColumnSchema) error {
	seen := make(map[string]bool, len(cols))
	for i, c := range cols {
		if c.Name == "" {
			return dberr.Configuration("table %q: column %d has no name", owner, i)
		}
		if IsReservedColumn(c.Name) {
			return dberr.Configuration("table %q: column name %q is reserved", owner, c.Name)
		}
		if seen[c.Name] {
			return dberr.Configuration("table %q: duplicate column %q", owner, c.Name)
		}
		if !c.Type.Valid() {
			return dberr.Configuration("table %q: column %q has invalid type %q", owner, c.Name, c.Type)
		}
		seen[c.Name] = true
	}
	return nil
}

// TableSchema is an immutable table definition.
type TableSchema struct {
	name    string
	columns []ColumnSchema
	byName  map[string]int

	// HasCreatedAt is true when the table declares a numeric created_at column.
	HasCreatedAt bool

	// HasUpdatedAt is true when the table declares a numeric updated_at column.
	HasUpdatedAt bool
}

// NewTableSchema validates and builds a table definition.
func NewTableSchema(name string, columns []ColumnSchema) (*TableSchema, error) {
	if name == "" {
		return nil, dberr.Configuration("table name is required")
	}
	if err := validateColumns(name, columns); err != nil {
		return nil, err
	}

	t := &TableSchema{
		name:    name,
		columns: make([]ColumnSchema, len(columns)),
		byName:  make(map[string]int, len(columns)),
	}
	copy(t.columns, columns)
	for i, c := range t.columns {
		t.byName[c.Name] = i
		if c.Type != TypeNumber {
			continue
		}
		switch c.Name {
		case ColumnCreatedAt:
			t.HasCreatedAt = true
		case ColumnUpdatedAt:
			t.HasUpdatedAt = true
		}
	}
	return t, nil
}

// Name returns the table name.
func (t *TableSchema) Name() string { return t.name }

// Columns returns the columns in declaration order.
func (t *TableSchema) Columns() []ColumnSchema {
	out := make([]ColumnSchema, len(t.columns))
	copy(out, t.columns)
	return out
}

// Column looks up a column by name.
func (t *TableSchema) Column(name string) (ColumnSchema, bool) {
	i, ok := t.byName[name]
	if !ok {
		return ColumnSchema{}, false
	}
	return t.columns[i], true
}

// withColumns returns a copy of t extended by cols.
func (t *TableSchema) withColumns(cols []ColumnSchema) (*TableSchema, error) {
	return NewTableSchema(t.name, append(t.Columns(), cols...))
}

// AppSchema is the full, versioned set of tables.
type AppSchema struct {
	version int
	tables  []*TableSchema
	byName  map[string]*TableSchema
}

// NewAppSchema validates and builds an application schema.
func NewAppSchema(version int, tables ...*TableSchema) (*AppSchema, error) {
	if version < 1 {
		return nil, dberr.Configuration("schema version must be at least 1, got %d", version)
	}

	s := &AppSchema{
		version: version,
		tables:  make([]*TableSchema, 0, len(tables)),
		byName:  make(map[string]*TableSchema, len(tables)),
	}
	for _, t := range tables {
		if t == nil {
			return nil, dberr.Configuration("schema version %d: nil table", version)
		}
		if _, dup := s.byName[t.name]; dup {
			return nil, dberr.Configuration("schema version %d: duplicate table %q", version, t.name)
		}
		s.tables = append(s.tables, t)
		s.byName[t.name] = t
	}
	return s, nil
}

// Version returns the schema version.
func (s *AppSchema) Version() int { return s.version }

// Tables returns the tables in declaration order.
func (s *AppSchema) Tables() []*TableSchema {
	out := make([]*TableSchema, len(s.tables))
	copy(out, s.tables)
	return out
}

// TableNames returns the table names in declaration order.
func (s *AppSchema) TableNames() []string {
	names := make([]string, len(s.tables))
	for i, t := range s.tables {
		names[i] = t.name
	}
	return names
}

// Table looks up a table by name.
func (s *AppSchema) Table(name string) (*TableSchema, bool) {
	t, ok := s.byName[name]
	return t, ok
}
