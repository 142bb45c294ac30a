// Package agent drives session-aware model runs: bounded context assembly
// from workspace bootstrap files, memory, and skills; provider calls with
// retry; and a tool-execution cycle that ends when the model answers without
// requesting tools.
//
// Invariants:
//   - Runs are serialized per session lane by the message bus.
//   - Every provider call and tool execution is recorded as a session turn.
//   - History is elided from the model-facing window, never deleted.
package agent
