package harness

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/driftdb/internal/database"
	"github.com/roach88/driftdb/internal/query"
	"github.com/roach88/driftdb/internal/raw"
	dbsync "github.com/roach88/driftdb/internal/sync"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s", ev.Seq, ev.Op)
		if ev.Table != "" {
			fmt.Fprintf(&buf, " %s#%s", ev.Table, ev.ID)
		}
		if ev.Error != "" {
			fmt.Fprintf(&buf, " -> %s", ev.Error)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// AssertionContext is what assertions read the final state from.
type AssertionContext struct {
	DB  *database.Database
	Ctx context.Context
	Log string
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertRecord:
			err = assertRecord(result.Trace, a, actx)
		case AssertMissing:
			err = assertMissing(result.Trace, a, actx)
		case AssertTombstones:
			err = assertTombstones(result.Trace, a, actx)
		case AssertCount:
			err = assertCount(result.Trace, a, actx)
		case AssertLastPulledAt:
			err = assertLastPulledAt(result.Trace, a, actx)
		case AssertLogContains:
			err = assertLogContains(result.Trace, a, actx)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertRecord compares the stored record, deleted or not, against the
// expected columns. _status and _changed compare as strings.
func assertRecord(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	row, ok, err := actx.DB.Adapter().Find(actx.Ctx, a.Table, a.ID)
	if err != nil {
		return err
	}
	if !ok {
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("record %s#%s", a.Table, a.ID),
			Actual:   "not stored",
			Trace:    trace,
		}
	}

	got := row.Dirty()
	var mismatches []string
	for _, col := range sortedKeys(a.Expect) {
		want, err := raw.FromAny(a.Expect[col])
		if err != nil {
			return fmt.Errorf("expect %q: %w", col, err)
		}
		have, ok := got[col]
		if !ok {
			have = raw.Null{}
		}
		if have != want {
			mismatches = append(mismatches, fmt.Sprintf("%s=%s (want %s)", col, raw.Format(have), raw.Format(want)))
		}
	}
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("record %s#%s with %v", a.Table, a.ID, a.Expect),
			Actual:   strings.Join(mismatches, ", "),
			Trace:    trace,
		}
	}
	return nil
}

func assertMissing(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	c, err := actx.DB.Collection(a.Table)
	if err != nil {
		return err
	}
	r, ok, err := c.Find(actx.Ctx, a.ID)
	if err != nil {
		return err
	}
	if ok {
		return &AssertionError{
			Type:     AssertMissing,
			Expected: fmt.Sprintf("no live record %s#%s", a.Table, a.ID),
			Actual:   fmt.Sprintf("record with status %s", r.Status()),
			Trace:    trace,
		}
	}
	return nil
}

func assertTombstones(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	got, err := actx.DB.Adapter().GetDeletedRecords(actx.Ctx, a.Table)
	if err != nil {
		return err
	}
	got = append([]string{}, got...)
	want := append([]string{}, a.IDs...)
	sort.Strings(got)
	sort.Strings(want)
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertTombstones,
			Expected: fmt.Sprintf("tombstones %v in %s", want, a.Table),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    trace,
		}
	}
	return nil
}

func assertCount(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	c, err := actx.DB.Collection(a.Table)
	if err != nil {
		return err
	}
	n, err := c.Count(actx.Ctx, query.New(a.Table))
	if err != nil {
		return err
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d records in %s", *a.Count, a.Table),
			Actual:   fmt.Sprintf("%d records", n),
			Trace:    trace,
		}
	}
	return nil
}

func assertLastPulledAt(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	ts, ok, err := dbsync.GetLastPulledAt(actx.Ctx, actx.DB)
	if err != nil {
		return err
	}
	if !ok || ts != a.Timestamp {
		actual := "never pulled"
		if ok {
			actual = fmt.Sprintf("%d", ts)
		}
		return &AssertionError{
			Type:     AssertLastPulledAt,
			Expected: fmt.Sprintf("%d", a.Timestamp),
			Actual:   actual,
			Trace:    trace,
		}
	}
	return nil
}

func assertLogContains(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	if !strings.Contains(actx.Log, a.Message) {
		return &AssertionError{
			Type:     AssertLogContains,
			Expected: fmt.Sprintf("log line containing %q", a.Message),
			Actual:   "not logged",
			Trace:    trace,
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
