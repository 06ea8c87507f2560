package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a sync scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is the path of a schemafile document. Relative paths are
	// resolved against the scenario file location by LoadScenario.
	Schema string `yaml:"schema"`

	// Adapter selects the storage adapter: "memory" (default) or "sqlite".
	Adapter string `yaml:"adapter,omitempty"`

	// Steps run in order against one database.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation. Exactly one of the operation fields is set.
type Step struct {
	Create  *WriteStep  `yaml:"create,omitempty"`
	Update  *WriteStep  `yaml:"update,omitempty"`
	Delete  *RecordRef  `yaml:"delete,omitempty"`
	Destroy *RecordRef  `yaml:"destroy,omitempty"`
	Pull    *RemoteStep `yaml:"pull,omitempty"`
	Fetch   *struct{}   `yaml:"fetch,omitempty"`
	Push    *struct{}   `yaml:"push,omitempty"`
	Sync    *RemoteStep `yaml:"sync,omitempty"`
	Reset   *struct{}   `yaml:"reset,omitempty"`

	// ExpectError is the error code the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// WriteStep creates or updates one record.
type WriteStep struct {
	Table string         `yaml:"table"`
	ID    string         `yaml:"id"`
	Set   map[string]any `yaml:"set,omitempty"`
}

// RecordRef names one record.
type RecordRef struct {
	Table string `yaml:"table"`
	ID    string `yaml:"id"`
}

// RemoteStep is what the remote returns from a pull. For a sync step,
// FailPush makes the remote reject the push.
type RemoteStep struct {
	Timestamp int64                  `yaml:"timestamp"`
	Changes   map[string]RemoteTable `yaml:"changes,omitempty"`
	FailPush  bool                   `yaml:"fail_push,omitempty"`
}

// RemoteTable is one table of a remote change set.
type RemoteTable struct {
	Created []map[string]any `yaml:"created,omitempty"`
	Updated []map[string]any `yaml:"updated,omitempty"`
	Deleted []string         `yaml:"deleted,omitempty"`
}

// Step operation names, as they appear in YAML and in the trace.
const (
	OpCreate  = "create"
	OpUpdate  = "update"
	OpDelete  = "delete"
	OpDestroy = "destroy"
	OpPull    = "pull"
	OpFetch   = "fetch"
	OpPush    = "push"
	OpSync    = "sync"
	OpReset   = "reset"
)

// Ops returns the names of the operation fields that are set.
func (s Step) Ops() []string {
	var ops []string
	add := func(set bool, name string) {
		if set {
			ops = append(ops, name)
		}
	}
	add(s.Create != nil, OpCreate)
	add(s.Update != nil, OpUpdate)
	add(s.Delete != nil, OpDelete)
	add(s.Destroy != nil, OpDestroy)
	add(s.Pull != nil, OpPull)
	add(s.Fetch != nil, OpFetch)
	add(s.Push != nil, OpPush)
	add(s.Sync != nil, OpSync)
	add(s.Reset != nil, OpReset)
	return ops
}

// Op returns the step's operation name. Valid only for validated steps.
func (s Step) Op() string {
	ops := s.Ops()
	if len(ops) != 1 {
		return ""
	}
	return ops[0]
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Table string `yaml:"table,omitempty"`
	ID    string `yaml:"id,omitempty"`

	// Expect holds expected column values (record). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// IDs is the exact tombstone set (tombstones).
	IDs []string `yaml:"ids,omitempty"`

	// Count is the expected number of live records (count).
	Count *int `yaml:"count,omitempty"`

	// Timestamp is the expected last pull timestamp (last_pulled_at).
	Timestamp int64 `yaml:"timestamp,omitempty"`

	// Message is a substring of the database log (log_contains).
	Message string `yaml:"message,omitempty"`
}

// Assertion type constants.
const (
	AssertRecord       = "record"
	AssertMissing      = "missing"
	AssertTombstones   = "tombstones"
	AssertCount        = "count"
	AssertLastPulledAt = "last_pulled_at"
	AssertLogContains  = "log_contains"
)

// Adapter names.
const (
	AdapterMemory = "memory"
	AdapterSQLite = "sqlite"
)

var errorCodes = map[string]bool{
	"PROTOCOL":          true,
	"INVALID_OPERATION": true,
	"ADAPTER":           true,
	"CONFIGURATION":     true,
	"ERROR":             true,
}

// LoadScenario reads and parses a scenario YAML file. The schema path is
// resolved relative to the scenario file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if _, err := os.Stat(s.Schema); err != nil {
		return fmt.Errorf("schema file not found: %s", s.Schema)
	}
	switch s.Adapter {
	case "", AdapterMemory, AdapterSQLite:
	default:
		return fmt.Errorf("unknown adapter %q", s.Adapter)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s Step) error {
	ops := s.Ops()
	if len(ops) != 1 {
		return fmt.Errorf("steps[%d]: exactly one operation is required, got %v", index, ops)
	}
	if s.ExpectError != "" && !errorCodes[s.ExpectError] {
		return fmt.Errorf("steps[%d]: unknown error code %q", index, s.ExpectError)
	}

	switch {
	case s.Create != nil:
		return validateWrite(index, OpCreate, s.Create)
	case s.Update != nil:
		return validateWrite(index, OpUpdate, s.Update)
	case s.Delete != nil:
		return validateRef(index, OpDelete, s.Delete)
	case s.Destroy != nil:
		return validateRef(index, OpDestroy, s.Destroy)
	case s.Pull != nil && s.Pull.FailPush:
		return fmt.Errorf("steps[%d]: fail_push is only valid for sync", index)
	}
	return nil
}

func validateWrite(index int, op string, w *WriteStep) error {
	if w.Table == "" {
		return fmt.Errorf("steps[%d].%s: table is required", index, op)
	}
	if w.ID == "" {
		return fmt.Errorf("steps[%d].%s: id is required", index, op)
	}
	return nil
}

func validateRef(index int, op string, r *RecordRef) error {
	if r.Table == "" {
		return fmt.Errorf("steps[%d].%s: table is required", index, op)
	}
	if r.ID == "" {
		return fmt.Errorf("steps[%d].%s: id is required", index, op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRecord:
		if a.Table == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: table and id are required for record", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for record", index)
		}
	case AssertMissing:
		if a.Table == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: table and id are required for missing", index)
		}
	case AssertTombstones:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for tombstones", index)
		}
	case AssertCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be set and non-negative", index)
		}
	case AssertLastPulledAt:
		if a.Timestamp <= 0 {
			return fmt.Errorf("assertions[%d]: timestamp must be positive for last_pulled_at", index)
		}
	case AssertLogContains:
		if a.Message == "" {
			return fmt.Errorf("assertions[%d]: message is required for log_contains", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
