package schema

import (
	"slices"

	"github.com/roach88/driftdb/internal/dberr"
)

// Step is one migration step.
//
// This is a sealed interface: only CreateTableStep, AddColumnsStep and
// SQLStep implement it, so adapters can switch exhaustively.
type Step interface {
	migrationStep()
}

// CreateTableStep adds a new table.
type CreateTableStep struct {
	Name    string
	Columns []ColumnSchema
}

func (CreateTableStep) migrationStep() {}

// TableSchema builds the table definition the step creates.
func (s CreateTableStep) TableSchema() (*TableSchema, error) {
	return NewTableSchema(s.Name, s.Columns)
}

// AddColumnsStep appends columns to an existing table.
type AddColumnsStep struct {
	Table   string
	Columns []ColumnSchema
}

func (AddColumnsStep) migrationStep() {}

// SQLStep is an opaque statement. Only SQL-speaking adapters execute it;
// other adapters skip it.
type SQLStep struct {
	Query string
}

func (SQLStep) migrationStep() {}

// CreateTable builds a validated create-table step.
func CreateTable(name string, columns []ColumnSchema) (CreateTableStep, error) {
	s := CreateTableStep{Name: name, Columns: slices.Clone(columns)}
	if err := validateStep(s); err != nil {
		return CreateTableStep{}, err
	}
	return s, nil
}

// AddColumns builds a validated add-columns step.
func AddColumns(table string, columns []ColumnSchema) (AddColumnsStep, error) {
	s := AddColumnsStep{Table: table, Columns: slices.Clone(columns)}
	if err := validateStep(s); err != nil {
		return AddColumnsStep{}, err
	}
	return s, nil
}

// UnsafeExecuteSQL builds an opaque SQL step.
func UnsafeExecuteSQL(query string) SQLStep {
	return SQLStep{Query: query}
}

func validateStep(step Step) error {
	switch s := step.(type) {
	case CreateTableStep:
		if s.Name == "" {
			return dberr.Configuration("invalid migration step: create_table requires a name")
		}
		return validateColumns(s.Name, s.Columns)
	case AddColumnsStep:
		if s.Table == "" {
			return dberr.Configuration("invalid migration step: add_columns requires a table")
		}
		if len(s.Columns) == 0 {
			return dberr.Configuration("invalid migration step: add_columns on %q requires columns", s.Table)
		}
		return validateColumns(s.Table, s.Columns)
	case SQLStep:
		if s.Query == "" {
			return dberr.Configuration("invalid migration step: sql step requires a query")
		}
		return nil
	default:
		return dberr.Configuration("invalid migration step: unknown step type %T", step)
	}
}

// Migration upgrades the schema to Version. A nil Steps slice means the
// entry is incomplete; use an empty slice for a version with no changes.
type Migration struct {
	Version int
	Steps   []Step
}

// Migrations is a validated, ascending migration set.
type Migrations struct {
	sorted    []Migration
	byVersion map[int]int

	// MinVersion is the lowest version the set can migrate from.
	MinVersion int

	// MaxVersion is the highest version the set migrates to.
	MaxVersion int
}

// BuildMigrations validates entries, which must be listed newest first with
// strictly decreasing versions. Gaps between versions are allowed.
func BuildMigrations(entries ...Migration) (*Migrations, error) {
	for i, e := range entries {
		if e.Version == 0 || e.Steps == nil {
			return nil, dberr.Configuration("invalid migration at position %d: version and steps are required", i)
		}
		if e.Version < 2 {
			return nil, dberr.Configuration("invalid migration version %d: minimum migration version is 2", e.Version)
		}
		if i > 0 && e.Version >= entries[i-1].Version {
			return nil, dberr.Configuration(
				"migration version %d listed after %d: migrations must be listed in reverse chronological order",
				e.Version, entries[i-1].Version)
		}
		for _, step := range e.Steps {
			if err := validateStep(step); err != nil {
				return nil, err
			}
		}
	}

	m := &Migrations{
		sorted:     make([]Migration, len(entries)),
		byVersion:  make(map[int]int, len(entries)),
		MinVersion: 1,
		MaxVersion: 1,
	}
	for i, e := range entries {
		m.sorted[len(entries)-1-i] = Migration{Version: e.Version, Steps: slices.Clone(e.Steps)}
	}
	for i, e := range m.sorted {
		m.byVersion[e.Version] = i
	}
	if len(m.sorted) > 0 {
		m.MinVersion = m.sorted[0].Version - 1
		m.MaxVersion = m.sorted[len(m.sorted)-1].Version
	}
	return m, nil
}

// Len returns the number of migration entries.
func (m *Migrations) Len() int {
	if m == nil {
		return 0
	}
	return len(m.sorted)
}

// Versions returns the listed versions in ascending order.
func (m *Migrations) Versions() []int {
	if m == nil {
		return nil
	}
	out := make([]int, len(m.sorted))
	for i, e := range m.sorted {
		out[i] = e.Version
	}
	return out
}

// Steps returns the steps listed for version.
func (m *Migrations) Steps(version int) ([]Step, bool) {
	if m == nil {
		return nil, false
	}
	i, ok := m.byVersion[version]
	if !ok {
		return nil, false
	}
	return slices.Clone(m.sorted[i].Steps), true
}

// CheckAgainst verifies the set can be applied to schema.
func (m *Migrations) CheckAgainst(s *AppSchema) error {
	if m.Len() == 0 {
		return nil
	}
	if m.MaxVersion > s.Version() {
		return dberr.Configuration(
			"migrations cover versions %d to %d but the schema is version %d: migrations can't be newer than the schema",
			m.MinVersion, m.MaxVersion, s.Version())
	}
	return nil
}

// StepsForMigration returns the steps that upgrade from to to, in ascending
// version order. Every version in (from, to] must have an entry; otherwise
// there is no path and ok is false. from == to yields an empty path.
func StepsForMigration(m *Migrations, from, to int) (steps []Step, ok bool) {
	if from > to {
		return nil, false
	}

	steps = []Step{}
	for v := from + 1; v <= to; v++ {
		if m == nil {
			return nil, false
		}
		i, found := m.byVersion[v]
		if !found {
			return nil, false
		}
		steps = append(steps, m.sorted[i].Steps...)
	}
	return steps, true
}

// Apply returns s upgraded by steps, at version to. SQL steps do not change
// the table definitions.
func Apply(s *AppSchema, to int, steps []Step) (*AppSchema, error) {
	tables := s.Tables()
	index := make(map[string]int, len(tables))
	for i, t := range tables {
		index[t.name] = i
	}

	for _, step := range steps {
		switch st := step.(type) {
		case CreateTableStep:
			t, err := st.TableSchema()
			if err != nil {
				return nil, err
			}
			if _, exists := index[t.name]; exists {
				return nil, dberr.Configuration("migration creates table %q which already exists", t.name)
			}
			index[t.name] = len(tables)
			tables = append(tables, t)
		case AddColumnsStep:
			i, exists := index[st.Table]
			if !exists {
				return nil, dberr.Configuration("migration adds columns to unknown table %q", st.Table)
			}
			t, err := tables[i].withColumns(st.Columns)
			if err != nil {
				return nil, err
			}
			tables[i] = t
		case SQLStep:
		default:
			return nil, dberr.Configuration("unknown migration step type %T", step)
		}
	}
	return NewAppSchema(to, tables...)
}
