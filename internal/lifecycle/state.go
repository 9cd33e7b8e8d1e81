// state.go defines the connection state enum, retry policy, and the
// transition history ring buffer for the lifecycle package.

package lifecycle

import (
	"fmt"
	"time"
)

// State represents the current state of a session's connection.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
)

// String returns the string representation of a State.
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is one of the defined constants.
func (s State) IsValid() bool {
	switch s {
	case StateIdle, StateConnecting, StateConnected, StateReconnecting, StateDisconnected, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state ends the current connection cycle.
// Disconnected permits a fresh Connect; Failed requires an explicit Reset.
func (s State) IsTerminal() bool {
	return s == StateDisconnected || s == StateFailed
}

// RetryPolicy configures reconnection: how many attempts, and the
// exponential backoff between them. The delay before reconnect attempt n
// (1-based) is min(BaseDelay × Multiplier^(n-1), MaxDelay). Immutable once
// attached to a controller.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	Multiplier  float64       `json:"multiplier"`
	MaxDelay    time.Duration `json:"max_delay"`
}

// DefaultRetryPolicy matches the reconnection behavior used for SSH
// sessions: up to 10 attempts with 1s → 2s → 4s → … → 16s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 10,
		BaseDelay:   1 * time.Second,
		Multiplier:  2,
		MaxDelay:    16 * time.Second,
	}
}

// Validate checks the policy for construction-time configuration errors.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("retry policy: max attempts %d is negative", p.MaxAttempts)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("retry policy: base delay %s must be positive", p.BaseDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry policy: multiplier %g must be >= 1", p.Multiplier)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("retry policy: max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay)
	}
	return nil
}

// Delay returns the backoff delay before reconnect attempt n (1-based),
// clamped to MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.BaseDelay) * pow(p.Multiplier, attempt-1))
	if d > p.MaxDelay || d < 0 { // negative on float overflow
		d = p.MaxDelay
	}
	return d
}

// pow is integer exponentiation of a float base, enough for backoff
// multipliers without pulling in math.Pow's edge cases.
func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
		if result < 0 || result > 1e18 {
			return 1e18
		}
	}
	return result
}

// transitionBufferSize is the maximum number of state transitions stored
// per controller for debugging.
const transitionBufferSize = 50

// Transition records a single state change.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Attempt   int       `json:"attempt,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// transitionLog is a fixed-size ring buffer of transitions.
type transitionLog struct {
	entries [transitionBufferSize]Transition
	head    int // next write position
	count   int // total entries written, capped at buffer size for reads
}

func (l *transitionLog) record(tr Transition) {
	l.entries[l.head] = tr
	l.head = (l.head + 1) % transitionBufferSize
	if l.count < transitionBufferSize {
		l.count++
	}
}

// history returns the transitions in chronological order.
func (l *transitionLog) history() []Transition {
	if l.count == 0 {
		return nil
	}
	result := make([]Transition, l.count)
	if l.count < transitionBufferSize {
		copy(result, l.entries[:l.count])
	} else {
		// Buffer is full — head is the oldest entry.
		n := copy(result, l.entries[l.head:])
		copy(result[n:], l.entries[:l.head])
	}
	return result
}
