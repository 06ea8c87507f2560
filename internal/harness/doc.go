// Package harness runs sync scenarios against a real database.
//
// A scenario opens a fresh database over the schema it names, executes a
// list of local writes and sync phases, then evaluates assertions against
// the final state. The trace and the final state can be snapshotted to a
// golden file.
//
// # Scenario Format
//
//	name: remote_delete_wins
//	description: "A remote delete removes a locally edited record"
//	schema: ../schemas/notes.yaml
//	adapter: memory            # or sqlite (in-memory database)
//	steps:
//	  - pull:
//	      timestamp: 100
//	      changes:
//	        notes:
//	          created: [{id: n1, title: "Draft"}]
//	  - update: {table: notes, id: n1, set: {title: "Mine"}}
//	  - pull:
//	      timestamp: 200
//	      changes:
//	        notes: {deleted: [n1]}
//	  - push: {}
//	assertions:
//	  - type: missing
//	    table: notes
//	    id: n1
//
// # Steps
//
// Each step names exactly one operation:
//
//   - create, update: write the set columns (create takes the id to assign)
//   - delete: mark a record as deleted, leaving a tombstone if it was synced
//   - destroy: delete a record without a tombstone
//   - pull: apply a remote change set and store its timestamp
//   - fetch: collect local changes without marking them
//   - push: collect local changes and mark them as synced
//   - sync: run a whole cycle against a scripted remote
//   - reset: wipe the database
//
// A step may set expect_error to the error code it must fail with
// (PROTOCOL, INVALID_OPERATION, ADAPTER, CONFIGURATION, or ERROR for
// anything else). An unexpected failure is recorded and the scenario
// continues.
//
// # Assertion Types
//
//   - record: the stored record (including _status and _changed) has the expected columns
//   - missing: no live record with the id exists
//   - tombstones: the table's tombstones are exactly ids
//   - count: the table holds count live records
//   - last_pulled_at: the stored pull timestamp equals timestamp
//   - log_contains: the database log contains message
//
// # Deterministic Testing
//
// Record ids come from the scenario, timestamps from a step clock starting
// at testutil.Epoch, so traces are identical across runs and adapters.
package harness
