// Package logx configures procrastinator's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional rate-limited stderr sink for errors when console output is off
package logx
