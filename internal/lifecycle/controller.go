package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shellback/shellback/internal/logutil"
	"github.com/shellback/shellback/internal/transport"
)

// ErrNeedsReset is returned by Connect when the controller is in the Failed
// state. Failed is terminal for the session instance; callers must call
// Reset before connecting again.
var ErrNeedsReset = errors.New("lifecycle: controller failed, reset required")

// Event is emitted to observers on every state transition. Attempt and
// MaxAttempts are meaningful while reconnecting; Message carries optional
// detail (e.g. the transport error that caused the transition).
type Event struct {
	SessionID   string    `json:"session_id"`
	State       State     `json:"state"`
	Attempt     int       `json:"attempt,omitempty"`
	MaxAttempts int       `json:"max_attempts,omitempty"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventCallback receives lifecycle events. Callbacks are invoked
// synchronously — long-running handlers should spawn goroutines.
type EventCallback func(e Event)

// DataHandler receives bytes from the transport while connected.
type DataHandler func(p []byte)

// Controller owns the connection state of one session and drives
// connect/disconnect/reconnect transitions against an abstract transport.
//
// All transitions are serialized under one mutex: a retry timer firing and
// a Disconnect call can never produce two transitions in flight. The
// controller never touches presentation; observers subscribe to the event
// stream via OnEvent.
type Controller struct {
	sessionID string
	tr        transport.Transport
	target    transport.Target
	policy    RetryPolicy
	data      DataHandler

	mu           sync.Mutex
	state        State
	attempt      int
	retryTimer   *time.Timer
	cancel       context.CancelFunc // cancels the in-flight transport dial
	droppedEarly bool               // drop reported before the dial returned
	dropMsg      string
	transitions  transitionLog
	callbacks    map[int]EventCallback
	nextCbID     int
}

// NewController creates a controller in the Idle state. The transport,
// target, and policy are validated here: a controller cannot exist in a
// not-yet-ready configuration.
func NewController(sessionID string, tr transport.Transport, target transport.Target, policy RetryPolicy, data DataHandler) (*Controller, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("lifecycle: session ID is empty")
	}
	if tr == nil {
		return nil, fmt.Errorf("lifecycle: transport is nil")
	}
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("lifecycle: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("lifecycle: %w", err)
	}
	if data == nil {
		data = func([]byte) {}
	}
	return &Controller{
		sessionID: sessionID,
		tr:        tr,
		target:    target,
		policy:    policy,
		data:      data,
		state:     StateIdle,
		callbacks: make(map[int]EventCallback),
	}, nil
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt returns the current reconnect attempt counter.
func (c *Controller) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Policy returns the controller's retry policy.
func (c *Controller) Policy() RetryPolicy {
	return c.policy
}

// Target returns the controller's remote target.
func (c *Controller) Target() transport.Target {
	return c.target
}

// Transitions returns the recorded state transition history in
// chronological order. Up to 50 transitions are retained.
func (c *Controller) Transitions() []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitions.history()
}

// OnEvent registers an observer for state transition events. The returned
// func removes the observer; transient consumers (a WebSocket feed) must
// call it on detach.
func (c *Controller) OnEvent(cb EventCallback) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextCbID
	c.nextCbID++
	c.callbacks[id] = cb
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.callbacks, id)
	}
}

// Connect starts connecting. While Connecting, Connected, or Reconnecting
// it is a no-op returning the current state — this prevents duplicate
// transport handles. From Failed it returns ErrNeedsReset; call Reset
// first. From Idle or Disconnected it transitions to Connecting with the
// attempt counter reset to zero and dials asynchronously.
func (c *Controller) Connect() (State, error) {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateConnected, StateReconnecting:
		s := c.state
		c.mu.Unlock()
		return s, nil
	case StateFailed:
		c.mu.Unlock()
		return StateFailed, ErrNeedsReset
	}

	c.attempt = 0
	ctx := c.beginDialLocked()
	fire := c.setStateLocked(StateConnecting, 0, fmt.Sprintf("connecting to %s", c.target.Addr()))
	c.mu.Unlock()
	fire()

	go c.dial(ctx)
	return StateConnecting, nil
}

// Disconnect transitions to Disconnected from any state, cancelling any
// pending retry timer and any in-flight dial before returning. After
// Disconnect returns, no retry will fire. Always wins over reconnection.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	prev := c.state
	var fire func()
	if prev != StateDisconnected {
		fire = c.setStateLocked(StateDisconnected, 0, "disconnect requested")
	}
	c.mu.Unlock()

	if prev == StateConnected || prev == StateConnecting {
		if err := c.tr.Disconnect(); err != nil {
			log.Printf("[lifecycle] session %s: transport disconnect: %v", logutil.SanitizeForLog(c.sessionID), err)
		}
	}
	if fire != nil {
		fire()
	}
}

// Reset returns a Failed controller to Idle so it can connect again.
// Returns an error in any other state.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.state != StateFailed {
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("lifecycle: reset in state %s, only failed controllers can be reset", s)
	}
	c.attempt = 0
	fire := c.setStateLocked(StateIdle, 0, "reset")
	c.mu.Unlock()
	fire()
	return nil
}

// HandleData implements transport.Sink: received bytes go to the data
// handler. Called from the transport's read goroutine.
func (c *Controller) HandleData(p []byte) {
	c.data(p)
}

// HandleDrop implements transport.Sink: an unexpected connection drop while
// Connected starts the reconnect cycle. The transport's read loop starts
// before Connect returns, so a remote that dies right after the handshake
// can report its drop while the controller is still Connecting; that drop
// is remembered and applied by dial instead of marking the dead connection
// Connected. Drops reported after a clean Disconnect are ignored.
func (c *Controller) HandleDrop(err error) {
	c.mu.Lock()
	msg := "connection dropped"
	if err != nil {
		msg = fmt.Sprintf("connection dropped: %v", err)
	}
	if c.state == StateConnecting {
		c.droppedEarly = true
		c.dropMsg = msg
		c.mu.Unlock()
		return
	}
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	fire := c.scheduleRetryLocked(msg)
	c.mu.Unlock()
	fire()
}

// dial runs one transport connect attempt. Runs on its own goroutine; the
// outcome is applied under the controller mutex and discarded if the
// controller moved out of Connecting while the dial was in flight.
func (c *Controller) dial(ctx context.Context) {
	err := c.tr.Connect(ctx, c.target, c)

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		// Disconnect raced the dial. If it succeeded anyway, close the
		// orphan handle so no duplicate connection lingers.
		if err == nil {
			c.tr.Disconnect()
		}
		return
	}

	var fire func()
	switch {
	case err != nil:
		fire = c.scheduleRetryLocked(fmt.Sprintf("connect failed: %v", err))
	case c.droppedEarly:
		// The connection died between the handshake and this point.
		fire = c.scheduleRetryLocked(c.dropMsg)
	default:
		c.attempt = 0
		fire = c.setStateLocked(StateConnected, 0, fmt.Sprintf("connected to %s", c.target.Addr()))
	}
	c.mu.Unlock()
	fire()
}

// scheduleRetryLocked handles a transport failure: either transitions to
// Reconnecting and arms the backoff timer, or to Failed when the attempt
// budget is already spent. Caller must hold c.mu; the returned func fires
// events and must be called after unlocking.
func (c *Controller) scheduleRetryLocked(msg string) func() {
	if c.attempt >= c.policy.MaxAttempts {
		return c.setStateLocked(StateFailed, c.attempt, fmt.Sprintf("%s; gave up after %d attempt(s)", msg, c.attempt))
	}

	c.attempt++
	delay := c.policy.Delay(c.attempt)
	c.retryTimer = time.AfterFunc(delay, c.retryFired)
	return c.setStateLocked(StateReconnecting, c.attempt,
		fmt.Sprintf("%s; retry %d/%d in %s", msg, c.attempt, c.policy.MaxAttempts, delay))
}

// retryFired runs when the backoff timer elapses. A controller that was
// disconnected in the meantime is left alone; one whose attempt budget is
// exhausted fails; otherwise the next dial begins.
func (c *Controller) retryFired() {
	c.mu.Lock()
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.retryTimer = nil

	if c.attempt >= c.policy.MaxAttempts {
		fire := c.setStateLocked(StateFailed, c.attempt, fmt.Sprintf("gave up after %d attempt(s)", c.attempt))
		c.mu.Unlock()
		fire()
		return
	}

	ctx := c.beginDialLocked()
	fire := c.setStateLocked(StateConnecting, c.attempt, fmt.Sprintf("retry %d/%d", c.attempt, c.policy.MaxAttempts))
	c.mu.Unlock()
	fire()

	go c.dial(ctx)
}

// beginDialLocked replaces the dial context and clears any drop left over
// from a previous attempt. Caller must hold c.mu.
func (c *Controller) beginDialLocked() context.Context {
	c.droppedEarly = false
	c.dropMsg = ""
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	return ctx
}

// setStateLocked applies a transition, records it, and returns a func that
// fires observer callbacks. Caller must hold c.mu and invoke the returned
// func after unlocking, so observers never run under the controller lock.
func (c *Controller) setStateLocked(to State, attempt int, msg string) func() {
	from := c.state
	c.state = to

	now := time.Now()
	c.transitions.record(Transition{From: from, To: to, Attempt: attempt, Message: msg, Timestamp: now})

	event := Event{
		SessionID:   c.sessionID,
		State:       to,
		Attempt:     attempt,
		MaxAttempts: c.policy.MaxAttempts,
		Message:     msg,
		Timestamp:   now,
	}
	cbs := make([]EventCallback, 0, len(c.callbacks))
	for _, cb := range c.callbacks {
		cbs = append(cbs, cb)
	}

	log.Printf("[lifecycle] session %s: %s -> %s (%s)",
		logutil.SanitizeForLog(c.sessionID), from, to, logutil.SanitizeForLog(logutil.Truncate(msg, 200)))

	return func() {
		for _, cb := range cbs {
			cb(event)
		}
	}
}
