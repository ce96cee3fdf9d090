// Package impersonate lets a privileged administrator temporarily act as
// another user without ever losing their own identity.
//
// Server side:
//   - Issuer authorizes a request against the IdentityStore and persists a
//     time-bounded ImpersonationSession. No credentials are minted here.
//   - Exchanger trades a valid session token for a CredentialBundle of the
//     target identity, minted by the TokenService with an actor claim that
//     points back to the administrator.
//   - Terminator ends a session. Ending twice is a no-op.
//   - AuditService stores AuditEntry records for a live session only.
//
// Client side:
//   - Controller is the state machine (idle, requesting, active, ending,
//     ended). It captures the administrator's bundle in a RecoveryRecord
//     before any identity swap, drives the countdown and liveness timers, and
//     restores the administrator on end or expiry.
//   - Recorder writes audit entries fire-and-forget, gated by the Controller
//     so nothing is written once ending has started.
//   - Backend abstracts the transport between the two halves: LocalBackend
//     calls the services in process, HTTPBackend talks to HTTPController.
//
// Activity sinks:
//   - ActivitySink receives lifecycle events (requested, denied, exchanged,
//     ended). Sinks run best-effort; errors are logged and swallowed.
package impersonate
