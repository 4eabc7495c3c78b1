// Package logx configures postbot's structured logging.
//
// Logger is a small value type over zerolog:
//   - console output keeps a short timestamp and file:line caller
//   - the optional file sink writes one JSON object per line
//   - the optional operator-chat sink forwards WARN+ records to Telegram,
//     rate limited so a failing delivery loop cannot flood the chat
package logx
