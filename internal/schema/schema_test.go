package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/driftdb/internal/dberr"
	"github.com/roach88/driftdb/internal/raw"
)

func TestNewTableSchema(t *testing.T) {
	tbl, err := NewTableSchema("tasks", []ColumnSchema{
		{Name: "name", Type: TypeString},
		{Name: "position", Type: TypeNumber, IsIndexed: true},
		{Name: "created_at", Type: TypeNumber},
		{Name: "updated_at", Type: TypeString},
	})
	require.NoError(t, err)

	assert.Equal(t, "tasks", tbl.Name())
	assert.Len(t, tbl.Columns(), 4)
	assert.True(t, tbl.HasCreatedAt)
	assert.False(t, tbl.HasUpdatedAt, "updated_at must be a number column to count")

	col, ok := tbl.Column("position")
	require.True(t, ok)
	assert.True(t, col.IsIndexed)

	_, ok = tbl.Column("missing")
	assert.False(t, ok)
}

func TestNewTableSchema_ColumnsAreCopied(t *testing.T) {
	cols := []ColumnSchema{{Name: "name", Type: TypeString}}
	tbl, err := NewTableSchema("tasks", cols)
	require.NoError(t, err)

	cols[0].Name = "changed"
	got := tbl.Columns()
	got[0].Type = TypeBoolean

	col, ok := tbl.Column("name")
	require.True(t, ok)
	assert.Equal(t, TypeString, col.Type)
}

func TestNewTableSchema_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		table   string
		columns []ColumnSchema
		wantMsg string
	}{
		{"empty name", "", nil, "table name is required"},
		{"unnamed column", "t", []ColumnSchema{{Type: TypeString}}, "has no name"},
		{"reserved id", "t", []ColumnSchema{{Name: "id", Type: TypeString}}, "reserved"},
		{"reserved status", "t", []ColumnSchema{{Name: "_status", Type: TypeString}}, "reserved"},
		{"reserved changed", "t", []ColumnSchema{{Name: "_changed", Type: TypeString}}, "reserved"},
		{"bad type", "t", []ColumnSchema{{Name: "x", Type: "blah"}}, "invalid type"},
		{"duplicate", "t", []ColumnSchema{{Name: "x", Type: TypeString}, {Name: "x", Type: TypeNumber}}, "duplicate column"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTableSchema(tt.table, tt.columns)
			require.Error(t, err)
			assert.True(t, dberr.IsConfiguration(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestNewAppSchema(t *testing.T) {
	a, err := NewTableSchema("a", nil)
	require.NoError(t, err)
	b, err := NewTableSchema("b", nil)
	require.NoError(t, err)

	s, err := NewAppSchema(3, a, b)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Version())
	assert.Equal(t, []string{"a", "b"}, s.TableNames())

	got, ok := s.Table("b")
	require.True(t, ok)
	assert.Same(t, b, got)

	_, err = NewAppSchema(0, a)
	assert.True(t, dberr.IsConfiguration(err))

	_, err = NewAppSchema(1, a, a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate table")
}

func TestMigrationStepBuilders(t *testing.T) {
	_, err := CreateTable("", nil)
	assert.ErrorContains(t, err, "name")

	_, err = CreateTable("foo", []ColumnSchema{{Name: "x", Type: "blah"}})
	assert.ErrorContains(t, err, "type")

	_, err = AddColumns("", []ColumnSchema{{Name: "x", Type: TypeString}})
	assert.ErrorContains(t, err, "table")

	_, err = AddColumns("foo", nil)
	assert.ErrorContains(t, err, "columns")

	_, err = AddColumns("foo", []ColumnSchema{{Name: "x", Type: "blah"}})
	assert.ErrorContains(t, err, "type")

	step, err := AddColumns("foo", []ColumnSchema{{Name: "x", Type: TypeString}})
	require.NoError(t, err)
	assert.Equal(t, "foo", step.Table)
}

func TestBuildMigrations_Empty(t *testing.T) {
	m, err := BuildMigrations()
	require.NoError(t, err)
	assert.Equal(t, 1, m.MinVersion)
	assert.Equal(t, 1, m.MaxVersion)
	assert.Equal(t, 0, m.Len())
}

func TestBuildMigrations_Bounds(t *testing.T) {
	m, err := BuildMigrations(Migration{Version: 2, Steps: []Step{}})
	require.NoError(t, err)
	assert.Equal(t, 1, m.MinVersion)
	assert.Equal(t, 2, m.MaxVersion)

	m, err = BuildMigrations(Migration{Version: 4, Steps: []Step{}})
	require.NoError(t, err)
	assert.Equal(t, 3, m.MinVersion)
	assert.Equal(t, 4, m.MaxVersion)
}

func TestBuildMigrations_SortsAscending(t *testing.T) {
	m, err := BuildMigrations(
		Migration{Version: 6, Steps: []Step{}},
		Migration{Version: 5, Steps: []Step{}},
		Migration{Version: 3, Steps: []Step{}},
	)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5, 6}, m.Versions())
	assert.Equal(t, 2, m.MinVersion)
	assert.Equal(t, 6, m.MaxVersion)
}

func TestBuildMigrations_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		entries []Migration
		wantMsg string
	}{
		{"missing everything", []Migration{{}}, "version and steps are required"},
		{"missing steps", []Migration{{Version: 3}}, "version and steps are required"},
		{"version one", []Migration{{Version: 1, Steps: []Step{}}}, "minimum migration version is 2"},
		{"negative", []Migration{{Version: -4, Steps: []Step{}}}, "minimum migration version is 2"},
		{"duplicate", []Migration{{Version: 2, Steps: []Step{}}, {Version: 2, Steps: []Step{}}}, "reverse chronological order"},
		{"ascending", []Migration{{Version: 2, Steps: []Step{}}, {Version: 3, Steps: []Step{}}}, "reverse chronological order"},
		{"malformed step", []Migration{{Version: 2, Steps: []Step{AddColumnsStep{Table: "x"}}}}, "invalid migration step"},
		{"empty sql", []Migration{{Version: 2, Steps: []Step{SQLStep{}}}}, "invalid migration step"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildMigrations(tt.entries...)
			require.Error(t, err)
			assert.True(t, dberr.IsConfiguration(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestStepsForMigration(t *testing.T) {
	step1, err := AddColumns("posts", []ColumnSchema{
		{Name: "subtitle", Type: TypeString, IsOptional: true},
		{Name: "is_pinned", Type: TypeBoolean},
	})
	require.NoError(t, err)
	step2, err := AddColumns("posts", []ColumnSchema{{Name: "author_id", Type: TypeString, IsIndexed: true}})
	require.NoError(t, err)
	step3, err := CreateTable("comments", []ColumnSchema{
		{Name: "post_id", Type: TypeString, IsIndexed: true},
		{Name: "body", Type: TypeString},
	})
	require.NoError(t, err)

	m, err := BuildMigrations(
		Migration{Version: 5, Steps: []Step{step2, step3}},
		Migration{Version: 4, Steps: []Step{}},
		Migration{Version: 3, Steps: []Step{step1}},
	)
	require.NoError(t, err)

	tests := []struct {
		from, to int
		want     []Step
		wantOK   bool
	}{
		{2, 3, []Step{step1}, true},
		{2, 4, []Step{step1}, true},
		{2, 5, []Step{step1, step2, step3}, true},
		{3, 5, []Step{step2, step3}, true},
		{3, 4, []Step{}, true},
		{4, 5, []Step{step2, step3}, true},
		{5, 5, []Step{}, true},
		{1, 2, nil, false},
		{1, 3, nil, false},
		{1, 5, nil, false},
		{3, 6, nil, false},
		{5, 6, nil, false},
		{5, 4, nil, false},
	}
	for _, tt := range tests {
		got, ok := StepsForMigration(m, tt.from, tt.to)
		assert.Equal(t, tt.wantOK, ok, "%d→%d", tt.from, tt.to)
		assert.Equal(t, tt.want, got, "%d→%d", tt.from, tt.to)
	}

	empty, err := BuildMigrations()
	require.NoError(t, err)
	got, ok := StepsForMigration(empty, 1, 2)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestStepsForMigration_GapBreaksPath(t *testing.T) {
	s3 := UnsafeExecuteSQL("select 3")
	s5 := UnsafeExecuteSQL("select 5")

	gapped, err := BuildMigrations(
		Migration{Version: 5, Steps: []Step{s5}},
		Migration{Version: 3, Steps: []Step{s3}},
	)
	require.NoError(t, err)
	_, ok := StepsForMigration(gapped, 2, 5)
	assert.False(t, ok)

	filled, err := BuildMigrations(
		Migration{Version: 5, Steps: []Step{s5}},
		Migration{Version: 4, Steps: []Step{}},
		Migration{Version: 3, Steps: []Step{s3}},
	)
	require.NoError(t, err)
	got, ok := StepsForMigration(filled, 2, 5)
	require.True(t, ok)
	assert.Equal(t, []Step{s3, s5}, got)
}

func TestCheckAgainst(t *testing.T) {
	s, err := NewAppSchema(3)
	require.NoError(t, err)

	ok, err := BuildMigrations(Migration{Version: 3, Steps: []Step{}})
	require.NoError(t, err)
	assert.NoError(t, ok.CheckAgainst(s))

	newer, err := BuildMigrations(Migration{Version: 4, Steps: []Step{}})
	require.NoError(t, err)
	err = newer.CheckAgainst(s)
	assert.True(t, dberr.IsConfiguration(err))
	assert.Contains(t, err.Error(), "can't be newer")
}

func TestApply(t *testing.T) {
	posts, err := NewTableSchema("posts", []ColumnSchema{{Name: "title", Type: TypeString}})
	require.NoError(t, err)
	s, err := NewAppSchema(1, posts)
	require.NoError(t, err)

	add, err := AddColumns("posts", []ColumnSchema{{Name: "updated_at", Type: TypeNumber}})
	require.NoError(t, err)
	create, err := CreateTable("comments", []ColumnSchema{{Name: "body", Type: TypeString}})
	require.NoError(t, err)

	next, err := Apply(s, 2, []Step{add, create, UnsafeExecuteSQL("select 1")})
	require.NoError(t, err)
	assert.Equal(t, 2, next.Version())
	assert.Equal(t, []string{"posts", "comments"}, next.TableNames())

	p, _ := next.Table("posts")
	assert.True(t, p.HasUpdatedAt)
	assert.False(t, posts.HasUpdatedAt, "original schema is untouched")

	_, err = Apply(s, 2, []Step{AddColumnsStep{Table: "nope", Columns: []ColumnSchema{{Name: "x", Type: TypeString}}}})
	assert.ErrorContains(t, err, "unknown table")
}

func TestColumnSanitize(t *testing.T) {
	str := ColumnSchema{Name: "s", Type: TypeString}
	num := ColumnSchema{Name: "n", Type: TypeNumber}
	boolean := ColumnSchema{Name: "b", Type: TypeBoolean}
	optional := ColumnSchema{Name: "o", Type: TypeString, IsOptional: true}

	tests := []struct {
		name string
		col  ColumnSchema
		in   raw.Value
		want raw.Value
	}{
		{"string kept", str, raw.String("x"), raw.String("x")},
		{"string from number", str, raw.Number(1), raw.String("")},
		{"string from null", str, raw.Null{}, raw.String("")},
		{"number kept", num, raw.Number(2.5), raw.Number(2.5)},
		{"number from string", num, raw.String("2"), raw.Number(0)},
		{"bool kept", boolean, raw.Bool(true), raw.Bool(true)},
		{"bool from nil", boolean, nil, raw.Bool(false)},
		{"optional null", optional, raw.Null{}, raw.Null{}},
		{"optional wrong type", optional, raw.Bool(true), raw.Null{}},
		{"optional kept", optional, raw.String("y"), raw.String("y")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.col.Sanitize(tt.in))
		})
	}
}
