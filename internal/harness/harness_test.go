package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadInline(t *testing.T, body string) *Scenario {
	t.Helper()
	s, err := LoadScenario(writeScenario(t, body))
	require.NoError(t, err)
	return s
}

func TestRun_Passes(t *testing.T) {
	s := loadInline(t, `
name: passes
description: "create then push"
schema: notes.yaml
steps:
  - create: {table: notes, id: n1, set: {title: "a"}}
  - push: {}
assertions:
  - type: record
    table: notes
    id: n1
    expect: {title: "a", _status: synced}
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, TraceEvent{Seq: 1, Op: OpCreate, Table: "notes", ID: "n1"}, result.Trace[0])
	assert.Equal(t, OpPush, result.Trace[1].Op)
	require.Contains(t, result.Trace[1].Changes, "notes")
	assert.Len(t, result.Trace[1].Changes["notes"].Created, 1)

	require.Contains(t, result.State, "notes")
	assert.Len(t, result.State["notes"].Records, 1)
	assert.Empty(t, result.State["notes"].Deleted)
}

func TestRun_UnexpectedErrorFailsButContinues(t *testing.T) {
	s := loadInline(t, `
name: unexpected
description: "update of a missing record"
schema: notes.yaml
steps:
  - update: {table: notes, id: ghost, set: {title: "a"}}
  - create: {table: notes, id: n1, set: {title: "b"}}
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "steps[0] update")
	assert.Equal(t, "INVALID_OPERATION", result.Trace[0].Error)
	assert.Empty(t, result.Trace[1].Error)
	assert.Len(t, result.State["notes"].Records, 1)
}

func TestRun_ExpectedErrorChecks(t *testing.T) {
	t.Run("missing error", func(t *testing.T) {
		s := loadInline(t, `
name: missing_error
description: "a valid pull"
schema: notes.yaml
steps:
  - pull: {timestamp: 1}
    expect_error: PROTOCOL
`)
		result, err := Run(s)
		require.NoError(t, err)
		assert.False(t, result.Pass)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "expected PROTOCOL error, got none")
	})

	t.Run("wrong code", func(t *testing.T) {
		s := loadInline(t, `
name: wrong_code
description: "protocol error expected as adapter error"
schema: notes.yaml
steps:
  - pull:
      timestamp: 1
      changes:
        ghosts: {deleted: [g1]}
    expect_error: ADAPTER
`)
		result, err := Run(s)
		require.NoError(t, err)
		assert.False(t, result.Pass)
		assert.Equal(t, "PROTOCOL", result.Trace[0].Error)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "expected ADAPTER error")
	})
}

func TestRun_AssertionFailures(t *testing.T) {
	s := loadInline(t, `
name: failing_assertions
description: "every assertion type failing"
schema: notes.yaml
steps:
  - create: {table: notes, id: n1, set: {title: "a"}}
assertions:
  - type: record
    table: notes
    id: n1
    expect: {title: "b", _status: synced}
  - type: record
    table: notes
    id: absent
    expect: {title: "a"}
  - type: missing
    table: notes
    id: n1
  - type: tombstones
    table: notes
    ids: [n9]
  - type: count
    table: notes
    count: 3
  - type: last_pulled_at
    timestamp: 10
  - type: log_contains
    message: "never logged"
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 7)

	assert.Contains(t, result.Errors[0], "assertions[0]")
	assert.Contains(t, result.Errors[0], "_status=created (want synced)")
	assert.Contains(t, result.Errors[0], "title=a (want b)")
	assert.Contains(t, result.Errors[1], "not stored")
	assert.Contains(t, result.Errors[2], "record with status created")
	assert.Contains(t, result.Errors[3], "tombstones [n9]")
	assert.Contains(t, result.Errors[4], "1 records")
	assert.Contains(t, result.Errors[5], "never pulled")
	assert.Contains(t, result.Errors[6], `"never logged"`)
	assert.Contains(t, result.Errors[6], "[1] create notes#n1")
}

func TestRun_BadSchemaIsASetupError(t *testing.T) {
	s := &Scenario{
		Name:        "bad",
		Description: "schema path does not exist",
		Schema:      "testdata/schemas/missing.yaml",
		Steps:       []Step{{Push: &struct{}{}}},
	}
	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load schema")
}

func TestRun_ResetClearsEverything(t *testing.T) {
	s := loadInline(t, `
name: reset
description: "reset after a pull"
schema: notes.yaml
steps:
  - pull:
      timestamp: 7
      changes:
        notes:
          created: [{id: n1, title: "a"}]
  - reset: {}
assertions:
  - type: count
    table: notes
    count: 0
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, OpReset, result.Trace[1].Op)
	assert.Empty(t, result.State["notes"].Records)
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertCount,
		Expected: "2 records in notes",
		Actual:   "1 records",
		Trace: []TraceEvent{
			{Seq: 1, Op: OpCreate, Table: "notes", ID: "n1"},
			{Seq: 2, Op: OpPull, Error: "PROTOCOL"},
		},
	}
	assert.Equal(t, "Assertion failed: count\n"+
		"  Expected: 2 records in notes\n"+
		"  Actual: 1 records\n"+
		"\nFull trace:\n"+
		"  [1] create notes#n1\n"+
		"  [2] pull -> PROTOCOL\n", err.Error())
}
