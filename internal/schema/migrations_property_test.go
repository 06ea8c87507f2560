package schema

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// migrationsFromMask registers version v+2 for every set bit v of mask.
// Each entry carries one SQL step naming its version.
func migrationsFromMask(mask int) (*Migrations, map[int]bool) {
	present := make(map[int]bool)
	var entries []Migration
	for v := 10; v >= 2; v-- {
		if mask&(1<<(v-2)) == 0 {
			continue
		}
		present[v] = true
		entries = append(entries, Migration{
			Version: v,
			Steps:   []Step{UnsafeExecuteSQL(fmt.Sprintf("v%d", v))},
		})
	}
	m, err := BuildMigrations(entries...)
	if err != nil {
		panic(err)
	}
	return m, present
}

func TestProperty_StepsForMigrationContiguity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("path exists iff every version in (from, to] is registered", prop.ForAll(
		func(mask, from, span int) bool {
			m, present := migrationsFromMask(mask)
			to := from + span

			contiguous := true
			for v := from + 1; v <= to; v++ {
				if !present[v] {
					contiguous = false
				}
			}

			_, ok := StepsForMigration(m, from, to)
			return ok == contiguous
		},
		gen.IntRange(0, 511),
		gen.IntRange(1, 10),
		gen.IntRange(0, 4),
	))

	properties.Property("path steps are ascending and cover exactly (from, to]", prop.ForAll(
		func(from, span int) bool {
			m, _ := migrationsFromMask(511)
			to := from + span
			if to > 10 {
				to = 10
			}

			steps, ok := StepsForMigration(m, from, to)
			if !ok || len(steps) != to-from {
				return false
			}
			for i, s := range steps {
				sql, isSQL := s.(SQLStep)
				if !isSQL || sql.Query != fmt.Sprintf("v%d", from+1+i) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 9),
	))

	properties.TestingRun(t)
}
