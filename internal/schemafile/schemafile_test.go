package schemafile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/driftdb/internal/dberr"
	"github.com/roach88/driftdb/internal/schema"
)

func assertExampleSchema(t *testing.T, res *Result) {
	t.Helper()
	s := res.Schema
	assert.Equal(t, 3, s.Version())
	assert.Equal(t, []string{"tasks", "projects"}, s.TableNames())

	tasks, ok := s.Table("tasks")
	require.True(t, ok)
	pos, ok := tasks.Column("position")
	require.True(t, ok)
	assert.Equal(t, schema.TypeNumber, pos.Type)
	assert.True(t, pos.IsIndexed)
	note, ok := tasks.Column("note")
	require.True(t, ok)
	assert.True(t, note.IsOptional)

	require.NotNil(t, res.Migrations)
	assert.Equal(t, []int{2, 3}, res.Migrations.Versions())
	steps, ok := schema.StepsForMigration(res.Migrations, 1, 3)
	require.True(t, ok)
	require.Len(t, steps, 3)
	assert.IsType(t, schema.AddColumnsStep{}, steps[0])
	assert.Equal(t, schema.SQLStep{Query: "update tasks set position = 0"}, steps[1])
	assert.IsType(t, schema.CreateTableStep{}, steps[2])
}

func TestLoad_YAML(t *testing.T) {
	res, err := Load(filepath.Join("testdata", "schema.yaml"))
	require.NoError(t, err)
	assertExampleSchema(t, res)
}

func TestLoad_CUE(t *testing.T) {
	res, err := Load(filepath.Join("testdata", "schema.cue"))
	require.NoError(t, err)
	assertExampleSchema(t, res)
}

func TestLoad_CUEPackageDir(t *testing.T) {
	res, err := Load(filepath.Join("testdata", "cuepkg"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Schema.Version())
	assert.Equal(t, []string{"tasks"}, res.Schema.TableNames())
	assert.Nil(t, res.Migrations)
}

func TestLoad_CUETypeError(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "bad_type.cue"))
	require.Error(t, err)
	assert.True(t, dberr.IsConfiguration(err))
	assert.Contains(t, err.Error(), "bad_type.cue")
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	tests := []struct {
		name string
		path string
		msg  string
	}{
		{"missing file", filepath.Join(dir, "nope.yaml"), "schema file"},
		{"unsupported extension", write("schema.json", "{}"), "unsupported extension"},
		{"unknown field", write("typo.yaml", "version: 1\ntable: []\n"), "field table not found"},
		{"reserved column", write("reserved.yaml", "version: 1\ntables:\n  - name: t\n    columns:\n      - {name: _status, type: string}\n"), "reserved"},
		{"zero version", write("v0.yaml", "version: 0\ntables: []\n"), "version"},
		{"two step kinds", write("two.yaml", "version: 2\ntables: []\nmigrations:\n  - version: 2\n    steps:\n      - sql: select 1\n        add_columns: {table: t, columns: []}\n"), "exactly one"},
		{"migration order", write("order.yaml", "version: 3\ntables: []\nmigrations:\n  - {version: 2, steps: []}\n  - {version: 3, steps: []}\n"), "reverse chronological order"},
		{"migration newer than schema", write("newer.yaml", "version: 2\ntables: []\nmigrations:\n  - {version: 3, steps: []}\n"), "can't be newer"},
		{"bad cue syntax", write("broken.cue", "version: {\n"), "broken.cue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			require.Error(t, err)
			assert.True(t, dberr.IsConfiguration(err), "got %v", err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestFromSchema_RoundTrip(t *testing.T) {
	res, err := Load(filepath.Join("testdata", "schema.yaml"))
	require.NoError(t, err)

	out, err := EncodeYAML(FromSchema(res.Schema, res.Migrations))
	require.NoError(t, err)

	doc, err := DecodeYAML(out)
	require.NoError(t, err)
	again, err := doc.Build()
	require.NoError(t, err)
	assertExampleSchema(t, again)
}

func TestFromSchema_NoMigrations(t *testing.T) {
	res, err := Load(filepath.Join("testdata", "cuepkg"))
	require.NoError(t, err)

	doc := FromSchema(res.Schema, nil)
	assert.Empty(t, doc.Migrations)
	assert.Equal(t, "tasks", doc.Tables[0].Name)
}
