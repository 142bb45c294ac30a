// Package session persists conversation history as append-only JSONL files.
//
// Invariants:
//   - Session keys are validated and path-safe.
//   - Writes for the same session are serialized; appends are synced.
//   - History is never rewritten; unreadable state resets to empty with a
//     warning turn, preserving the damaged file alongside.
package session
