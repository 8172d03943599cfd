// Package authsession coordinates concurrent authentication against shared
// remote identity backends.
//
// Sessions and endpoints:
//   - A Session owns the authenticated identity for one backend endpoint. It
//     multiplexes subscriber callbacks, serializes login attempts, and reacts
//     to backend-pushed auth changes such as an external logout.
//   - The Registry hands out one Session per endpoint key, created lazily and
//     shared by every caller addressing that endpoint.
//
// Token exchange and materialization:
//   - The Coordinator turns a federated identity id into a backend session
//     token via a TokenMinter, logs in through its root Session, and on a
//     fresh login materializes a persisted user record through a RecordStore.
//     Resume skips the exchange entirely when the session is still live.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by Session and the
//     Coordinator to describe login, logout, resume, and materialization
//     events. Sinks run best-effort (errors are logged) so you can forward to
//     a database or queue without blocking authentication.
package authsession
