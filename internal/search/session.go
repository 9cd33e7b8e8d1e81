package search

import (
	"fmt"
	"sync"

	"github.com/shellback/shellback/internal/scrollback"
)

// CursorNone means no match is currently selected.
const CursorNone = -1

// SnapshotFunc supplies the buffer snapshot a session queries against.
// Typically this is the bound scrollback buffer's Snapshot method.
type SnapshotFunc func() []scrollback.Line

// ResultsCallback is invoked whenever a session's result set changes
// (Start, Invalidate, Close). Callbacks are invoked synchronously —
// long-running handlers should spawn goroutines.
type ResultsCallback func(r Results)

// Results is an immutable summary of a session's current result set,
// delivered to results-changed callbacks and returned by navigation calls.
type Results struct {
	Query      Query   `json:"query"`
	Matches    []Match `json:"matches"`
	Cursor     int     `json:"cursor"` // index into Matches, or CursorNone
	InvalidPat bool    `json:"invalid_pattern"`
}

// Total returns the number of matches.
func (r Results) Total() int { return len(r.Matches) }

// Current returns the selected match and whether one is selected.
func (r Results) Current() (Match, bool) {
	if r.Cursor == CursorNone || r.Cursor >= len(r.Matches) {
		return Match{}, false
	}
	return r.Matches[r.Cursor], true
}

// Session is a stateful cursor over the results of one query. It stays
// valid while the underlying buffer keeps changing: the orchestrator calls
// Invalidate on every append or eviction and the session re-runs its query,
// keeping the cursor on the nearest surviving match.
//
// State machine: Empty → Start → Active(cursor=none) → Next/Previous →
// Active(cursor=k); Invalidate leaves it Active (or empties the result set);
// Close returns it to Empty.
type Session struct {
	mu        sync.Mutex
	snapshot  SnapshotFunc
	active    bool
	query     Query
	matches   []Match
	cursor    int
	callbacks map[int]ResultsCallback
	nextCbID  int
}

// NewSession creates a search session over the given snapshot source.
// Panics if snapshot is nil: a session without a buffer to query is a
// programming error, not an operational condition.
func NewSession(snapshot SnapshotFunc) *Session {
	if snapshot == nil {
		panic("search: NewSession called with nil snapshot source")
	}
	return &Session{
		snapshot:  snapshot,
		cursor:    CursorNone,
		callbacks: make(map[int]ResultsCallback),
	}
}

// OnResultsChanged registers a callback fired after every result-set
// change. The returned func removes the callback again.
func (s *Session) OnResultsChanged(cb ResultsCallback) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextCbID
	s.nextCbID++
	s.callbacks[id] = cb
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.callbacks, id)
	}
}

// Start runs the query against the current buffer snapshot, resets the
// cursor to "no match selected", and fires results-changed. An invalid
// regex pattern yields zero matches with the InvalidPat flag set; it is
// reported, never fatal.
func (s *Session) Start(q Query) Results {
	matches, err := Find(s.snapshot(), q)

	s.mu.Lock()
	s.active = true
	s.query = q
	s.matches = matches
	s.cursor = CursorNone
	r := s.resultsLocked()
	r.InvalidPat = err != nil
	cbs := s.callbacksLocked()
	s.mu.Unlock()

	fire(cbs, r)
	return r
}

// Next advances the cursor with wraparound: after the last match it returns
// to the first. With no matches it is a no-op reporting an empty result set.
// Before any navigation the cursor is unset, so the first Next selects the
// first match.
func (s *Session) Next() Results {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.matches) == 0 {
		return s.resultsLocked()
	}
	if s.cursor == CursorNone {
		s.cursor = 0
	} else {
		s.cursor = (s.cursor + 1) % len(s.matches)
	}
	return s.resultsLocked()
}

// Previous retreats the cursor with wraparound: before the first match it
// returns to the last. With no matches it is a no-op. Before any navigation
// the cursor is unset, so the first Previous selects the last match.
func (s *Session) Previous() Results {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.matches) == 0 {
		return s.resultsLocked()
	}
	if s.cursor == CursorNone {
		s.cursor = len(s.matches) - 1
	} else {
		s.cursor--
		if s.cursor < 0 {
			s.cursor = len(s.matches) - 1
		}
	}
	return s.resultsLocked()
}

// Invalidate re-runs the stored query against a fresh snapshot. The cursor
// keeps its relative position best-effort: the match nearest the previously
// selected match's sequence number is selected. Fires results-changed.
// No-op if no query is active.
func (s *Session) Invalidate() Results {
	s.mu.Lock()
	if !s.active {
		r := s.resultsLocked()
		s.mu.Unlock()
		return r
	}
	q := s.query
	prev, hadCursor := s.currentLocked()
	s.mu.Unlock()

	matches, err := Find(s.snapshot(), q)

	s.mu.Lock()
	if !s.active || s.query != q {
		// Closed or restarted while we were scanning; drop the stale result.
		r := s.resultsLocked()
		s.mu.Unlock()
		return r
	}
	s.matches = matches
	if hadCursor {
		s.cursor = nearestMatch(matches, prev)
	} else {
		s.cursor = CursorNone
	}
	r := s.resultsLocked()
	r.InvalidPat = err != nil
	cbs := s.callbacksLocked()
	s.mu.Unlock()

	fire(cbs, r)
	return r
}

// Close clears the query and result state and fires results-changed.
func (s *Session) Close() {
	s.mu.Lock()
	s.active = false
	s.query = Query{}
	s.matches = nil
	s.cursor = CursorNone
	r := s.resultsLocked()
	cbs := s.callbacksLocked()
	s.mu.Unlock()

	fire(cbs, r)
}

// Active reports whether a query is currently active.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Results returns the current result summary.
func (s *Session) Results() Results {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultsLocked()
}

// resultsLocked builds a Results value. Caller must hold s.mu.
func (s *Session) resultsLocked() Results {
	matches := make([]Match, len(s.matches))
	copy(matches, s.matches)
	return Results{Query: s.query, Matches: matches, Cursor: s.cursor}
}

// currentLocked returns the selected match, if any. Caller must hold s.mu.
func (s *Session) currentLocked() (Match, bool) {
	if s.cursor == CursorNone || s.cursor >= len(s.matches) {
		return Match{}, false
	}
	return s.matches[s.cursor], true
}

// callbacksLocked copies the callback list so it can be fired outside the
// lock. Caller must hold s.mu.
func (s *Session) callbacksLocked() []ResultsCallback {
	cbs := make([]ResultsCallback, 0, len(s.callbacks))
	for _, cb := range s.callbacks {
		cbs = append(cbs, cb)
	}
	return cbs
}

func fire(cbs []ResultsCallback, r Results) {
	for _, cb := range cbs {
		cb(r)
	}
}

// nearestMatch returns the index of the match whose sequence number is
// closest to prev's, preferring the earlier match on ties. Returns
// CursorNone for an empty match set.
func nearestMatch(matches []Match, prev Match) int {
	if len(matches) == 0 {
		return CursorNone
	}
	best := 0
	bestDist := seqDist(matches[0].Seq, prev.Seq)
	for i := 1; i < len(matches); i++ {
		d := seqDist(matches[i].Seq, prev.Seq)
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

func seqDist(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// String implements fmt.Stringer for log output ("match 3/17").
func (r Results) String() string {
	if r.Cursor == CursorNone {
		return fmt.Sprintf("match -/%d", len(r.Matches))
	}
	return fmt.Sprintf("match %d/%d", r.Cursor+1, len(r.Matches))
}
