// Package scheduler keeps the process-wide job registry: one-off and daily
// triggers keyed by a deterministic id.
//
// The scheduler only triggers. When a job fires it is handed to an Executor
// (the task engine in production) and the registered Handler runs there.
// Registry state is in memory; callers rebuild it with CancelAll plus fresh
// Schedule calls whenever upstream calendar state may have drifted.
package scheduler
