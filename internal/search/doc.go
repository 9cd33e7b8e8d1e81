// Package search finds text in scrollback snapshots and tracks a navigable
// cursor over the results.
//
// [Find] is the stateless engine: a pure function from a buffer snapshot
// and a [Query] to an ordered, non-overlapping list of [Match] positions.
// It supports literal and regex patterns, case folding, and whole-word
// bounding. Result ordering is ascending by (sequence number, offset), so
// navigation follows the output's arrival order.
//
// [Session] is the stateful layer a find overlay talks to: Start, Next,
// Previous (both with wraparound), Close. Because terminal output keeps
// arriving while the user searches, the orchestrator calls
// [Session.Invalidate] on every buffer change; the session re-runs its
// query against a fresh snapshot and moves the cursor to the match nearest
// the previously selected one. Consumers receive results-changed callbacks
// and decide themselves how matches are highlighted — this package only
// says which line and offset matched.
package search
