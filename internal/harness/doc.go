// Package harness runs scripted scenarios against a fresh runtime and
// checks the emitted batches and the final bot state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: greet_on_click
//	description: "Clicking a bot toasts its label"
//	runtime:
//	  energy: 50
//	  delayed_spaces: [shared]
//	world:
//	  b1:
//	    tags:
//	      label: hello
//	      onClick: '@toast(tags("label"))'
//	steps:
//	  - shout: onClick
//	    ids: [b1]
//	    expect:
//	      listeners: [b1]
//	  - advance: 250ms
//	  - resolve: { task: 1, value: ok }
//	assertions:
//	  - type: action_contains
//	    action: { type: host, name: toast, payload: { message: hello } }
//	  - type: tag_equals
//	    bot: b1
//	    tag: label
//	    value: hello
//
// A step carries exactly one of shout, delta, resolve, reject, perform,
// advance or delayed_spaces.
//
// # Assertion Types
//
//   - action_contains, rejected_contains: an action matching a subset
//   - action_order: actions matching each subset, in order
//   - action_count, batch_count: exact counts
//   - error_contains: a listener failed with a message
//   - tag_equals, bot_exists, bot_absent: final state
//
// # Deterministic Testing
//
// Every scenario runs with a virtual clock and sequential bot ids
// ("bot-1", "bot-2", ...), so the trace of a scenario is stable and can
// be snapshotted as a golden file (see RunWithGolden and RunSuite).
package harness
