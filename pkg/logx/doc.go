// Package logx configures atisbot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured and append-only
//   - An optional chat sink (min-level + rate limiting) for a separate log chat
package logx
