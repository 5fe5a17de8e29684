// Package harness runs scripted ledger scenarios as executable contract tests.
//
// A scenario drives the ledger through a list of commands, then checks the
// resulting trace, aggregates and tables.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: minuet_progress
//	description: "Cumulative practice counts for one song"
//	quota: { max_sessions: 2 }
//	setup:
//	  - do: create_student
//	    args: { name: "Ada" }
//	    as: ada
//	flow:
//	  - do: record_play
//	    args: { song_id: "$minuet", session_id: "$s1", count: 3 }
//	  - do: redate_session
//	    args: { session_id: "$s1", day: "20 March" }
//	    expect: { case: validation }
//	assertions:
//	  - type: cumulative
//	    song: "$minuet"
//	    play_type: practice
//	    sequence: [3]
//
// Args use the JSON field names of the ledger commands. "$name" refers to
// the id bound by an earlier step's "as". A step without expect must
// succeed.
//
// # Assertion Types
//
//   - trace_contains: a step with the action and matching args ran
//   - trace_order: actions ran in the given order
//   - trace_count: an action ran exactly count times
//   - change_count: change events of kind and change named count ids
//   - final_state: one table row matches where and carries expect
//   - song_stats: song aggregates carry expect
//   - cumulative: a play type's cumulative sequence equals sequence
//   - deterministic: recomputing a song yields its cached aggregates
//   - summary: a student's practice summary carries expect
//   - partition: an entity lives in the named partition
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory SQLite store, sequential ids ("h-0001")
// and testutil.DeterministicClock, so traces and aggregates are stable
// enough for golden comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/quota.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
