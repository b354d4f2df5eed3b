// Package harness runs dispatch scenarios against a real engine.
//
// A scenario registers listeners on a fresh engine with the demo domain
// (users, guilds, channels, messages, reactions) installed, then submits
// events and checks what happened: which listeners ran and in what order,
// the involvement set, the DataBag, discards and failures.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	listeners:
//	  - name: audit
//	    on: message
//	    priority: 10
//	    owner: moderation
//	    to: ["user:alice"]
//	    action: discard
//	    reason: spam
//	steps:
//	  - submit: { kind: message, id: m1, author: alice, channel: general }
//	    expect:
//	      received: [audit]
//	      discarded: true
//	      reason: spam
//	      involved: ["user:alice", "channel:general"]
//	  - unregister_owner: moderation
//	assertions:
//	  - type: trace_count
//	    listener: audit
//	    count: 1
//
// Documents are checked against an embedded CUE schema (schema.cue) before
// they are decoded, and decoding rejects unknown fields.
//
// # Listener Actions
//
//   - record: store the event ref in the DataBag under the listener name
//   - discard: discard the event, with reason if given
//   - fail: return an error
//   - panic: panic
//   - spawn: start a child task that records under "<name>/child"
//   - spawn_fail: start a failing child task and wait for it
//   - await: suspend once, then record
//
// A listener with match_text only runs for messages whose text contains it,
// ignoring case and Unicode normalization form.
//
// # Assertion Types
//
//   - trace_contains: a listener was invoked, optionally for a given event
//   - trace_order: listeners were first invoked in the given order
//   - trace_count: a listener was invoked exactly N times
//   - final_listeners: the listeners still registered at the end
//
// # Deterministic Testing
//
// Submission IDs come from a sequence generator (id_prefix-1, id_prefix-2,
// ...), sequence numbers from a fresh logical clock, and steps run one at a
// time, so traces are identical across runs and can be compared against
// golden files with RunWithGolden.
package harness
