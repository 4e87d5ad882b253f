// Package accounts provides the authentication and authorization core for
// account-backed HTTP APIs: bearer token issuance and verification, password
// lifecycle, route guards, and role-based access control.
//
// Token model:
//   - Tokens are signed, time-bounded JWTs carrying the subject id and role.
//     They are never persisted; a token dies at expiry or when it fails the
//     staleness gate (issued before the subject's last password change).
//     The staleness comparison against PasswordChangedAt is the module's
//     substitute for a server-side revocation list.
//
// Account lifecycle:
//   - Users carry an AccountStatus persisted via Bun. AccountStateMachine
//     centralizes the transition graph; deactivation is terminal and there
//     is no reactivation transition.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by Auther, the
//     lifecycle commands, and the state machine to describe sign-up, login,
//     password change, and status events. Sinks run best-effort (errors are
//     logged) so you can forward to a database or queue without blocking
//     authentication.
package accounts
