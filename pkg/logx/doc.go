// Package logx configures flightwatch's structured logging.
//
// The wrapper (logx.Logger) sits on top of zerolog and keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional chat sink for warnings (min-level + rate limiting), used to
//     mirror operational problems into the Telegram log chat
package logx
