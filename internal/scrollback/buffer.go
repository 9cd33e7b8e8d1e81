package scrollback

import (
	"sync"
	"unicode/utf8"
)

const (
	// DefaultCapacity is the default maximum number of retained lines.
	DefaultCapacity = 10000

	// MaxLineLength is the hard cap on a single line's length in bytes.
	// Longer lines are truncated at append time. This is lossy but never
	// an error; terminal output with pathological line lengths (e.g. a
	// binary dump without newlines) would otherwise defeat the capacity
	// bound.
	MaxLineLength = 8192
)

// Line is one line of terminal output. The sequence number is assigned at
// append time, increases monotonically per buffer, and is never reused even
// after the line is evicted. A Line is immutable once created.
type Line struct {
	Seq  uint64 `json:"seq"`
	Text string `json:"text"`
}

// Buffer is a bounded, thread-safe append log of terminal output lines.
// When the buffer exceeds its capacity, the oldest lines are evicted first.
// There is a single writer (the data-ingest path calling Append) and any
// number of concurrent readers via Snapshot; readers observe either the
// pre- or post-append state, never a partially written line.
type Buffer struct {
	mu       sync.RWMutex
	lines    []Line
	capacity int
	nextSeq  uint64
	notify   chan struct{} // signaled (non-blocking) when content changes
}

// NewBuffer creates a buffer that retains at most capacity lines.
// If capacity <= 0, DefaultCapacity is used.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		lines:    make([]Line, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Append assigns the next sequence number to text, stores the line, and
// evicts the oldest line if the capacity is exceeded. Text longer than
// MaxLineLength is truncated. Append always succeeds.
func (b *Buffer) Append(text string) Line {
	if len(text) > MaxLineLength {
		// Back the cut off to a rune boundary so a multi-byte rune is
		// never split.
		cut := MaxLineLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	b.mu.Lock()
	line := Line{Seq: b.nextSeq, Text: text}
	b.nextSeq++
	b.lines = append(b.lines, line)
	if len(b.lines) > b.capacity {
		// FIFO eviction. Reslice from the front; the backing array is
		// reallocated periodically by append growth, so this does not
		// pin evicted lines forever.
		b.lines = b.lines[len(b.lines)-b.capacity:]
	}
	b.mu.Unlock()

	// Non-blocking signal so a slow consumer never stalls the ingest path.
	select {
	case b.notify <- struct{}{}:
	default:
	}

	return line
}

// Snapshot returns a consistent point-in-time copy of the retained lines in
// append order. The copy is independent of the buffer; subsequent appends
// and evictions do not affect it.
func (b *Buffer) Snapshot() []Line {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Line, len(b.lines))
	copy(out, b.lines)
	return out
}

// Len returns the number of retained lines.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

// Capacity returns the maximum number of retained lines.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// NextSeq returns the sequence number the next Append will be assigned.
func (b *Buffer) NextSeq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}

// Clear drops all retained lines. Sequence numbering continues from where
// it left off so that lines appended after a Clear are still ordered after
// every line that came before.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.lines = b.lines[:0]
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Notify returns the channel that is signaled when the buffer content
// changes. Readers should select on this channel and then call Snapshot.
// The channel is a single one-slot signal shared by all callers: with more
// than one consumer selecting at once, each change wakes only one of them,
// and the others catch up on the next change. Consumers needing lockstep
// delivery should poll Snapshot instead.
func (b *Buffer) Notify() <-chan struct{} {
	return b.notify
}
