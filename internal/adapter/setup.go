package adapter

import (
	"fmt"

	"github.com/roach88/driftdb/internal/schema"
)

// SetUpKind is what an adapter must do when opening storage.
type SetUpKind int

const (
	// SetUpNone means storage is already at the schema version.
	SetUpNone SetUpKind = iota

	// SetUpCreate means storage is empty and must be created from scratch.
	SetUpCreate

	// SetUpMigrate means Steps upgrade storage to the schema version.
	SetUpMigrate

	// SetUpReset means storage must be dropped and recreated. Reason says why.
	SetUpReset
)

func (k SetUpKind) String() string {
	switch k {
	case SetUpNone:
		return "none"
	case SetUpCreate:
		return "create"
	case SetUpMigrate:
		return "migrate"
	case SetUpReset:
		return "reset"
	default:
		return fmt.Sprintf("SetUpKind(%d)", int(k))
	}
}

// SetUpPlan is the outcome of Decide.
type SetUpPlan struct {
	Kind   SetUpKind
	From   int
	To     int
	Steps  []schema.Step
	Reason string
}

// Decide chooses how to bring storage at stored version up to s.
// stored is 0 for empty storage. m may be nil.
//
// Rules:
//   - stored == s.Version(): nothing to do
//   - stored == 0: create from scratch
//   - stored < s.Version(): migrate when a contiguous path exists, else reset
//   - stored > s.Version(): reset, since downgrades are not supported
func Decide(stored int, s *schema.AppSchema, m *schema.Migrations) SetUpPlan {
	plan := SetUpPlan{From: stored, To: s.Version()}

	switch {
	case stored == s.Version():
		plan.Kind = SetUpNone
	case stored == 0:
		plan.Kind = SetUpCreate
	case stored < s.Version():
		if m.Len() == 0 {
			plan.Kind = SetUpReset
			plan.Reason = fmt.Sprintf("storage is at version %d, schema is at version %d and no migrations are available", stored, s.Version())
			return plan
		}
		steps, ok := schema.StepsForMigration(m, stored, s.Version())
		if !ok {
			plan.Kind = SetUpReset
			plan.Reason = fmt.Sprintf("migrations cannot upgrade storage from version %d to %d", stored, s.Version())
			return plan
		}
		plan.Kind = SetUpMigrate
		plan.Steps = steps
	default:
		plan.Kind = SetUpReset
		plan.Reason = fmt.Sprintf("storage version %d is newer than schema version %d", stored, s.Version())
	}
	return plan
}
