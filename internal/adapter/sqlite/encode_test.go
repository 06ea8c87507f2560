package sqlite

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/driftdb/internal/query"
	"github.com/roach88/driftdb/internal/raw"
	"github.com/roach88/driftdb/internal/schema"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// statementPerLine makes golden files readable.
func statementPerLine(sql string) []byte {
	return []byte(strings.ReplaceAll(sql, ";", ";\n"))
}

func encodeTestSchema(t *testing.T) *schema.AppSchema {
	t.Helper()
	tasks, err := schema.NewTableSchema("tasks", []schema.ColumnSchema{
		{Name: "author_id", Type: schema.TypeString, IsIndexed: true},
		{Name: "order", Type: schema.TypeNumber, IsOptional: true, IsIndexed: true},
		{Name: "created_at", Type: schema.TypeNumber},
	})
	require.NoError(t, err)
	comments, err := schema.NewTableSchema("comments", []schema.ColumnSchema{
		{Name: "is_ended", Type: schema.TypeBoolean},
		{Name: "reactions", Type: schema.TypeNumber},
	})
	require.NoError(t, err)
	s, err := schema.NewAppSchema(1, tasks, comments)
	require.NoError(t, err)
	return s
}

func TestEncodeSchema(t *testing.T) {
	g := newGoldie(t)
	g.Assert(t, "encode_schema", statementPerLine(encodeSchema(encodeTestSchema(t))))
}

func TestEncodeMigrationSteps(t *testing.T) {
	addSubtitle, err := schema.AddColumns("posts", []schema.ColumnSchema{
		{Name: "subtitle", Type: schema.TypeString, IsOptional: true},
	})
	require.NoError(t, err)
	createComments, err := schema.CreateTable("comments", []schema.ColumnSchema{
		{Name: "post_id", Type: schema.TypeString, IsIndexed: true},
		{Name: "body", Type: schema.TypeString},
	})
	require.NoError(t, err)
	addAuthor, err := schema.AddColumns("posts", []schema.ColumnSchema{
		{Name: "author_id", Type: schema.TypeString, IsIndexed: true},
		{Name: "is_pinned", Type: schema.TypeBoolean, IsIndexed: true},
	})
	require.NoError(t, err)

	sql, err := encodeMigrationSteps([]schema.Step{addSubtitle, createComments, addAuthor})
	require.NoError(t, err)

	g := newGoldie(t)
	g.Assert(t, "encode_migration_steps", statementPerLine(sql))
}

func TestEncodeMigrationSteps_UnsafeSQL(t *testing.T) {
	sql, err := encodeMigrationSteps([]schema.Step{schema.UnsafeExecuteSQL("boop;")})
	require.NoError(t, err)
	assert.Equal(t, "boop;", sql)
}

func TestEncodeQuery(t *testing.T) {
	s := encodeTestSchema(t)
	tasks, _ := s.Table("tasks")
	cols := `"id", "_status", "_changed", "author_id", "order", "created_at"`

	tests := []struct {
		name       string
		q          query.Query
		count      bool
		wantSQL    string
		wantParams []any
	}{
		{
			name:    "all",
			q:       query.New("tasks"),
			wantSQL: `select ` + cols + ` from "tasks" where "_status" is not 'deleted' order by "id" asc collate binary`,
		},
		{
			name:       "eq and not eq",
			q:          query.New("tasks", query.Eq{Column: "author_id", Value: raw.String("a1")}, query.NotEq{Column: "order", Value: raw.Null{}}),
			wantSQL:    `select ` + cols + ` from "tasks" where "_status" is not 'deleted' and "author_id" is ? and "order" is not ? order by "id" asc collate binary`,
			wantParams: []any{"a1", nil},
		},
		{
			name:       "one of",
			q:          query.ByIDs("tasks", []string{"x", "y"}),
			wantSQL:    `select ` + cols + ` from "tasks" where "_status" is not 'deleted' and ("id" is ? or "id" is ?) order by "id" asc collate binary`,
			wantParams: []any{"x", "y"},
		},
		{
			name:    "empty one of",
			q:       query.ByIDs("tasks", nil),
			count:   true,
			wantSQL: `select count(*) from "tasks" where "_status" is not 'deleted' and 0 = 1`,
		},
		{
			name:       "bool param",
			q:          query.New("tasks", query.Eq{Column: "order", Value: raw.Bool(true)}),
			count:      true,
			wantSQL:    `select count(*) from "tasks" where "_status" is not 'deleted' and "order" is ?`,
			wantParams: []any{int64(1)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := encodeQuery(tasks, tt.q, tt.count)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantParams, params)
		})
	}
}

func TestQuoteEscapes(t *testing.T) {
	assert.Equal(t, `"a""b"`, quote(`a"b`))
}
