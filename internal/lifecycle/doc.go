// Package lifecycle owns the connection state machine of a remote session.
//
// A [Controller] binds one abstract transport to one remote target and
// drives the states idle → connecting → connected, with bounded-retry
// reconnection on failure:
//
//	Idle ──Connect──▶ Connecting ──success──▶ Connected
//	                      │ ▲                     │
//	              failure │ │ backoff elapsed     │ unexpected drop
//	                      ▼ │                     ▼
//	                   Reconnecting ◀─────────────┘
//	                      │
//	                      │ attempts exhausted
//	                      ▼
//	                    Failed
//
// An explicit Disconnect wins from any state and deterministically cancels
// pending retry timers: once Disconnect returns, no retry fires.
// Disconnected permits a fresh Connect (attempt counter reset); Failed is
// terminal until Reset.
//
// Backoff between attempts is exponential per [RetryPolicy]:
// min(base × multiplier^(n−1), max delay) before attempt n.
//
// All transitions are serialized under a single mutex, recorded in a ring
// buffer of the last 50 transitions for debugging, and published as
// [Event] values to registered observers. The controller knows nothing
// about rendering; a status display is just one more observer.
package lifecycle
