// Package schemafile loads an app schema and its migrations from a YAML or
// CUE document:
//
//	version: 2
//	tables:
//	  - name: tasks
//	    columns:
//	      - {name: title, type: string}
//	      - {name: position, type: number, indexed: true}
//	migrations:
//	  - version: 2
//	    steps:
//	      - add_columns: {table: tasks, columns: [{name: position, type: number, indexed: true}]}
//
// A .cue file, or a directory holding a CUE package, is unified with the
// #Document definition before decoding, so type errors carry CUE positions.
package schemafile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/driftdb/internal/dberr"
	"github.com/roach88/driftdb/internal/schema"
)

// Document is the file form of a schema.
type Document struct {
	Version    int         `yaml:"version" json:"version"`
	Tables     []Table     `yaml:"tables" json:"tables"`
	Migrations []Migration `yaml:"migrations,omitempty" json:"migrations,omitempty"`
}

// Table declares one table.
type Table struct {
	Name    string                `yaml:"name" json:"name"`
	Columns []schema.ColumnSchema `yaml:"columns" json:"columns"`
}

// Migration lists the steps that bring the schema to Version. Migrations
// are listed newest first.
type Migration struct {
	Version int    `yaml:"version" json:"version"`
	Steps   []Step `yaml:"steps" json:"steps"`
}

// Step holds exactly one of its fields.
type Step struct {
	CreateTable *Table      `yaml:"create_table,omitempty" json:"create_table,omitempty"`
	AddColumns  *AddColumns `yaml:"add_columns,omitempty" json:"add_columns,omitempty"`
	SQL         string      `yaml:"sql,omitempty" json:"sql,omitempty"`
}

// AddColumns is the body of an add_columns step.
type AddColumns struct {
	Table   string                `yaml:"table" json:"table"`
	Columns []schema.ColumnSchema `yaml:"columns" json:"columns"`
}

// Result is a loaded schema. Migrations is nil when the document declares
// none.
type Result struct {
	Schema     *schema.AppSchema
	Migrations *schema.Migrations
}

// Load reads path, choosing the format by extension. A directory is loaded
// as a CUE package.
func Load(path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, dberr.Configuration("schema file: %v", err)
	}

	var doc *Document
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case info.IsDir():
		doc, err = decodeCUEDir(path)
	case ext == ".yaml" || ext == ".yml":
		var data []byte
		if data, err = os.ReadFile(path); err == nil {
			doc, err = DecodeYAML(data)
		}
	case ext == ".cue":
		var data []byte
		if data, err = os.ReadFile(path); err == nil {
			doc, err = DecodeCUE(path, data)
		}
	default:
		return nil, dberr.Configuration("schema file %s: unsupported extension %q (want .yaml, .yml or .cue)", path, ext)
	}
	if err != nil {
		if dberr.IsConfiguration(err) {
			return nil, err
		}
		return nil, dberr.Configuration("schema file %s: %v", path, err)
	}
	return doc.Build()
}

// DecodeYAML parses a YAML document. Unknown fields are rejected.
func DecodeYAML(data []byte) (*Document, error) {
	var doc Document
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, dberr.Configuration("parse schema YAML: %v", err)
	}
	return &doc, nil
}

// EncodeYAML renders doc as YAML.
func EncodeYAML(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode schema YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode schema YAML: %w", err)
	}
	return buf.Bytes(), nil
}

// Build validates doc and turns it into a schema and migrations.
func (doc *Document) Build() (*Result, error) {
	tables := make([]*schema.TableSchema, 0, len(doc.Tables))
	for _, t := range doc.Tables {
		ts, err := schema.NewTableSchema(t.Name, t.Columns)
		if err != nil {
			return nil, err
		}
		tables = append(tables, ts)
	}
	s, err := schema.NewAppSchema(doc.Version, tables...)
	if err != nil {
		return nil, err
	}

	res := &Result{Schema: s}
	if len(doc.Migrations) == 0 {
		return res, nil
	}

	entries := make([]schema.Migration, 0, len(doc.Migrations))
	for _, m := range doc.Migrations {
		steps := make([]schema.Step, 0, len(m.Steps))
		for i, st := range m.Steps {
			step, err := st.build()
			if err != nil {
				return nil, dberr.Configuration("migration to version %d, step %d: %v", m.Version, i+1, err)
			}
			steps = append(steps, step)
		}
		entries = append(entries, schema.Migration{Version: m.Version, Steps: steps})
	}
	migrations, err := schema.BuildMigrations(entries...)
	if err != nil {
		return nil, err
	}
	if err := migrations.CheckAgainst(s); err != nil {
		return nil, err
	}
	res.Migrations = migrations
	return res, nil
}

func (st Step) build() (schema.Step, error) {
	set := 0
	if st.CreateTable != nil {
		set++
	}
	if st.AddColumns != nil {
		set++
	}
	if st.SQL != "" {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("step must set exactly one of create_table, add_columns, sql")
	}

	switch {
	case st.CreateTable != nil:
		return schema.CreateTable(st.CreateTable.Name, st.CreateTable.Columns)
	case st.AddColumns != nil:
		return schema.AddColumns(st.AddColumns.Table, st.AddColumns.Columns)
	default:
		return schema.UnsafeExecuteSQL(st.SQL), nil
	}
}

// FromSchema renders a schema and its migrations back into a document.
// Migrations are listed newest first, the order Build expects.
func FromSchema(s *schema.AppSchema, m *schema.Migrations) *Document {
	doc := &Document{Version: s.Version()}
	for _, t := range s.Tables() {
		doc.Tables = append(doc.Tables, Table{Name: t.Name(), Columns: t.Columns()})
	}

	versions := m.Versions()
	for i := len(versions) - 1; i >= 0; i-- {
		steps, _ := m.Steps(versions[i])
		mig := Migration{Version: versions[i], Steps: []Step{}}
		for _, st := range steps {
			switch st := st.(type) {
			case schema.CreateTableStep:
				mig.Steps = append(mig.Steps, Step{CreateTable: &Table{Name: st.Name, Columns: st.Columns}})
			case schema.AddColumnsStep:
				mig.Steps = append(mig.Steps, Step{AddColumns: &AddColumns{Table: st.Table, Columns: st.Columns}})
			case schema.SQLStep:
				mig.Steps = append(mig.Steps, Step{SQL: st.Query})
			}
		}
		doc.Migrations = append(doc.Migrations, mig)
	}
	return doc
}
