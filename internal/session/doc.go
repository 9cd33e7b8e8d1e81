// Package session glues the core pieces of a remote terminal session
// together: one lifecycle controller, one scrollback buffer, one search
// cursor.
//
// [Orchestrator] is the binding. It receives raw bytes from the transport
// (via the controller's data path), assembles them into lines, appends
// them to the scrollback, and re-validates the active search after every
// chunk so match results stay correct while output streams in. When the
// session reaches a terminal state the buffer is preserved by default —
// the user can still search the history of a dropped session — unless
// configured to clear.
//
// [Manager] is the registry: sessions are keyed by UUID, survive consumer
// detach (scrollback keeps filling while nobody is watching), and are
// reaped after a configurable idle timeout. CloseAll tears everything down
// at shutdown.
//
// Neither type renders anything. Status displays and find overlays
// subscribe to the controller's lifecycle events and the search session's
// results-changed callbacks.
package session
