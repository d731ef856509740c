// Package logx configures nova's structured logging.
//
// A small wrapper (logx.Logger) over zerolog keeps console output readable,
// file output JSON-structured, and optionally mirrors warnings into an operator
// Telegram chat (min-level plus rate limiting).
package logx
