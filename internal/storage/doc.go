// Package storage persists linked calendar accounts, backlog tasks and the
// job audit trail.
//
// Three backends share one Store interface:
//   - memory: maps, lost on restart (default)
//   - file: JSON snapshot plus an append-only journal, compacted periodically
//   - sqlite: a single database file via the pure-Go modernc driver
package storage
