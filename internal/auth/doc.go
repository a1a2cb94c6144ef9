// Package auth authenticates API operators and authorises their requests.
//
// Operators are declared in config.yaml with an Argon2id PHC hash and one
// of three roles:
//   - viewer: console state, history and live events
//   - operator: also power and commands
//   - admin: also the audit trail and session diagnostics
//
// A successful login yields an HS256 JWT carrying the role. Tokens are
// validated by signature and expiry only.
package auth
