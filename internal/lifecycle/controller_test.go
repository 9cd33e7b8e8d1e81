package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shellback/shellback/internal/transport"
)

// fakeTransport scripts connect outcomes for controller tests. Calls beyond
// the script succeed.
type fakeTransport struct {
	mu          sync.Mutex
	script      []error
	calls       int
	disconnects int
	sink        transport.Sink
	block       chan struct{} // when non-nil, Connect waits on it
}

func (f *fakeTransport) Connect(ctx context.Context, target transport.Target, sink transport.Sink) error {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	block := f.block
	f.sink = sink
	var result error
	if idx < len(f.script) {
		result = f.script[idx]
	}
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return result
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeTransport) connectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testTarget() transport.Target {
	return transport.Target{Host: "localhost", Port: 22, User: "root"}
}

func newTestController(t *testing.T, tr transport.Transport, policy RetryPolicy) (*Controller, <-chan Event) {
	t.Helper()
	c, err := NewController("test-session", tr, testTarget(), policy, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	events := make(chan Event, 64)
	c.OnEvent(func(e Event) { events <- e })
	return c, events
}

// waitEvent waits for the next event with the given state, failing the test
// if it does not arrive in time.
func waitEvent(t *testing.T, events <-chan Event, state State, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-events:
			if e.State == state {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", state)
		}
	}
}

// --- constructor validation ---

func TestNewControllerValidation(t *testing.T) {
	tr := &fakeTransport{}
	policy := DefaultRetryPolicy()

	tests := []struct {
		name      string
		sessionID string
		tr        transport.Transport
		target    transport.Target
		policy    RetryPolicy
	}{
		{"empty session id", "", tr, testTarget(), policy},
		{"nil transport", "s", nil, testTarget(), policy},
		{"empty host", "s", tr, transport.Target{Port: 22}, policy},
		{"bad port", "s", tr, transport.Target{Host: "h", Port: 0}, policy},
		{"bad policy", "s", tr, testTarget(), RetryPolicy{MaxAttempts: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewController(tt.sessionID, tt.tr, tt.target, tt.policy, nil); err == nil {
				t.Error("NewController accepted invalid configuration")
			}
		})
	}
}

func TestNewControllerStartsIdle(t *testing.T) {
	c, _ := newTestController(t, &fakeTransport{}, DefaultRetryPolicy())
	if got := c.State(); got != StateIdle {
		t.Errorf("initial state = %s, want idle", got)
	}
}

// --- happy path ---

func TestConnectSuccess(t *testing.T) {
	tr := &fakeTransport{}
	c, events := newTestController(t, tr, DefaultRetryPolicy())

	state, err := c.Connect()
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if state != StateConnecting {
		t.Errorf("Connect returned %s, want connecting", state)
	}

	waitEvent(t, events, StateConnecting, time.Second)
	waitEvent(t, events, StateConnected, time.Second)

	if got := c.State(); got != StateConnected {
		t.Errorf("state = %s, want connected", got)
	}
	if got := c.Attempt(); got != 0 {
		t.Errorf("attempt after success = %d, want 0", got)
	}
}

func TestConnectOverlapIsNoOp(t *testing.T) {
	block := make(chan struct{})
	tr := &fakeTransport{block: block}
	c, events := newTestController(t, tr, DefaultRetryPolicy())

	if _, err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitEvent(t, events, StateConnecting, time.Second)

	// A second Connect while Connecting must not start a second dial.
	state, err := c.Connect()
	if err != nil {
		t.Fatalf("overlapping Connect returned error: %v", err)
	}
	if state != StateConnecting {
		t.Errorf("overlapping Connect returned %s, want connecting", state)
	}

	close(block)
	waitEvent(t, events, StateConnected, time.Second)

	if calls := tr.connectCalls(); calls != 1 {
		t.Errorf("transport dialed %d times, want 1", calls)
	}

	// Connect while Connected is also a no-op.
	state, err = c.Connect()
	if err != nil || state != StateConnected {
		t.Errorf("Connect while connected = (%s, %v), want (connected, nil)", state, err)
	}
	if calls := tr.connectCalls(); calls != 1 {
		t.Errorf("transport dialed %d times after no-op Connect, want 1", calls)
	}
}

func TestDisconnectFromConnected(t *testing.T) {
	tr := &fakeTransport{}
	c, events := newTestController(t, tr, DefaultRetryPolicy())

	c.Connect()
	waitEvent(t, events, StateConnected, time.Second)

	c.Disconnect()
	if got := c.State(); got != StateDisconnected {
		t.Errorf("state = %s, want disconnected", got)
	}
	tr.mu.Lock()
	disconnects := tr.disconnects
	tr.mu.Unlock()
	if disconnects != 1 {
		t.Errorf("transport disconnected %d times, want 1", disconnects)
	}

	// A drop delivered after the clean disconnect must be ignored.
	tr.sink.HandleDrop(errors.New("late drop"))
	if got := c.State(); got != StateDisconnected {
		t.Errorf("state after late drop = %s, want disconnected", got)
	}
}

func TestReconnectAfterDisconnect(t *testing.T) {
	tr := &fakeTransport{}
	c, events := newTestController(t, tr, DefaultRetryPolicy())

	c.Connect()
	waitEvent(t, events, StateConnected, time.Second)
	c.Disconnect()
	waitEvent(t, events, StateDisconnected, time.Second)

	// Disconnected permits a fresh Connect with the attempt counter reset.
	state, err := c.Connect()
	if err != nil || state != StateConnecting {
		t.Fatalf("Connect after disconnect = (%s, %v), want (connecting, nil)", state, err)
	}
	waitEvent(t, events, StateConnected, time.Second)
}

// --- retry and backoff ---

func TestRetrySequenceExhaustsToFailed(t *testing.T) {
	// Three consecutive failures with {max=3, base=100ms, ×2} must drive
	// connecting → reconnecting(1) → connecting → reconnecting(2) →
	// connecting → reconnecting(3) → failed, with no fourth dial.
	tr := &fakeTransport{script: []error{
		errors.New("refused"), errors.New("refused"), errors.New("refused"),
	}}
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	c, events := newTestController(t, tr, policy)

	start := time.Now()
	c.Connect()

	wantSequence := []struct {
		state   State
		attempt int
	}{
		{StateConnecting, 0},
		{StateReconnecting, 1},
		{StateConnecting, 1},
		{StateReconnecting, 2},
		{StateConnecting, 2},
		{StateReconnecting, 3},
		{StateFailed, 3},
	}
	for i, want := range wantSequence {
		e := waitEvent(t, events, want.state, 5*time.Second)
		if e.Attempt != want.attempt {
			t.Errorf("event %d (%s): attempt = %d, want %d", i, want.state, e.Attempt, want.attempt)
		}
		if e.MaxAttempts != 3 {
			t.Errorf("event %d: maxAttempts = %d, want 3", i, e.MaxAttempts)
		}
	}

	// Backoff delays 100ms + 200ms + 400ms must all have elapsed.
	if elapsed := time.Since(start); elapsed < 700*time.Millisecond {
		t.Errorf("failure sequence completed in %s, want >= 700ms of backoff", elapsed)
	}

	if calls := tr.connectCalls(); calls != 3 {
		t.Errorf("transport dialed %d times, want 3 (no fourth retry)", calls)
	}
	if got := c.State(); got != StateFailed {
		t.Errorf("final state = %s, want failed", got)
	}
}

func TestRetryRecoversOnSuccess(t *testing.T) {
	tr := &fakeTransport{script: []error{errors.New("refused"), nil}}
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 20 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	c, events := newTestController(t, tr, policy)

	c.Connect()
	e := waitEvent(t, events, StateReconnecting, time.Second)
	if e.Attempt != 1 {
		t.Errorf("reconnecting attempt = %d, want 1", e.Attempt)
	}
	waitEvent(t, events, StateConnected, 2*time.Second)

	if got := c.Attempt(); got != 0 {
		t.Errorf("attempt after recovery = %d, want 0", got)
	}
}

func TestDropFromConnectedReconnects(t *testing.T) {
	tr := &fakeTransport{}
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 20 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	c, events := newTestController(t, tr, policy)

	c.Connect()
	waitEvent(t, events, StateConnected, time.Second)

	tr.sink.HandleDrop(errors.New("broken pipe"))

	e := waitEvent(t, events, StateReconnecting, time.Second)
	if e.Attempt != 1 {
		t.Errorf("reconnecting attempt after drop = %d, want 1", e.Attempt)
	}
	waitEvent(t, events, StateConnected, 2*time.Second)
	if calls := tr.connectCalls(); calls != 2 {
		t.Errorf("transport dialed %d times, want 2", calls)
	}
}

// earlyDropTransport reports a drop from its read loop before Connect
// returns, mimicking a remote that dies right after the handshake.
type earlyDropTransport struct {
	fakeTransport
	drops int
}

func (f *earlyDropTransport) Connect(ctx context.Context, target transport.Target, sink transport.Sink) error {
	f.mu.Lock()
	f.calls++
	drop := f.drops > 0
	if drop {
		f.drops--
	}
	f.mu.Unlock()

	if drop {
		sink.HandleDrop(errors.New("remote closed"))
	}
	return nil
}

func TestDropBeforeConnectReturnsSchedulesRetry(t *testing.T) {
	tr := &earlyDropTransport{drops: 1}
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 80 * time.Millisecond}
	c, events := newTestController(t, tr, policy)

	c.Connect()

	// The first dial's connection is already dead; the controller must
	// not settle in Connected on it.
	e := waitEvent(t, events, StateReconnecting, time.Second)
	if e.Attempt != 1 {
		t.Errorf("reconnecting attempt after early drop = %d, want 1", e.Attempt)
	}
	waitEvent(t, events, StateConnected, 2*time.Second)
	if got := c.State(); got != StateConnected {
		t.Errorf("state after retry = %s, want %s", got, StateConnected)
	}
	if calls := tr.connectCalls(); calls != 2 {
		t.Errorf("transport dialed %d times, want 2", calls)
	}
}

func TestDisconnectCancelsPendingRetry(t *testing.T) {
	tr := &fakeTransport{script: []error{errors.New("refused")}}
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	c, events := newTestController(t, tr, policy)

	c.Connect()
	waitEvent(t, events, StateReconnecting, time.Second)

	// Disconnect while the retry timer is armed. No retry may fire after
	// this call returns.
	c.Disconnect()
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", got)
	}
	callsAtDisconnect := tr.connectCalls()

	time.Sleep(300 * time.Millisecond)

	if calls := tr.connectCalls(); calls != callsAtDisconnect {
		t.Errorf("retry fired after Disconnect: %d dials, want %d", calls, callsAtDisconnect)
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("state after retry window = %s, want disconnected", got)
	}
}

func TestZeroAttemptsFailsImmediately(t *testing.T) {
	tr := &fakeTransport{script: []error{errors.New("refused")}}
	policy := RetryPolicy{MaxAttempts: 0, BaseDelay: 20 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	c, events := newTestController(t, tr, policy)

	c.Connect()
	waitEvent(t, events, StateFailed, time.Second)

	if calls := tr.connectCalls(); calls != 1 {
		t.Errorf("transport dialed %d times, want 1", calls)
	}
}

// --- failed state and reset ---

func TestFailedRequiresReset(t *testing.T) {
	tr := &fakeTransport{script: []error{errors.New("refused")}}
	policy := RetryPolicy{MaxAttempts: 0, BaseDelay: 20 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	c, events := newTestController(t, tr, policy)

	c.Connect()
	waitEvent(t, events, StateFailed, time.Second)

	state, err := c.Connect()
	if !errors.Is(err, ErrNeedsReset) {
		t.Fatalf("Connect from failed: err = %v, want ErrNeedsReset", err)
	}
	if state != StateFailed {
		t.Errorf("Connect from failed returned %s, want failed", state)
	}

	if err := c.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := c.State(); got != StateIdle {
		t.Errorf("state after Reset = %s, want idle", got)
	}

	// Fresh attempts succeed (script exhausted → success).
	c.Connect()
	waitEvent(t, events, StateConnected, time.Second)
}

func TestResetOnlyFromFailed(t *testing.T) {
	c, _ := newTestController(t, &fakeTransport{}, DefaultRetryPolicy())
	if err := c.Reset(); err == nil {
		t.Error("Reset from idle succeeded, want error")
	}
}

// --- data path and history ---

func TestHandleDataForwarded(t *testing.T) {
	tr := &fakeTransport{}
	var mu sync.Mutex
	var received []byte

	c, err := NewController("data-session", tr, testTarget(), DefaultRetryPolicy(), func(p []byte) {
		mu.Lock()
		received = append(received, p...)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	c.HandleData([]byte("hello "))
	c.HandleData([]byte("world"))

	mu.Lock()
	got := string(received)
	mu.Unlock()
	if got != "hello world" {
		t.Errorf("data handler received %q, want %q", got, "hello world")
	}
}

func TestTransitionsRecorded(t *testing.T) {
	tr := &fakeTransport{}
	c, events := newTestController(t, tr, DefaultRetryPolicy())

	c.Connect()
	waitEvent(t, events, StateConnected, time.Second)
	c.Disconnect()

	h := c.Transitions()
	if len(h) != 3 {
		t.Fatalf("transition history len = %d, want 3: %v", len(h), h)
	}
	wantPath := []State{StateConnecting, StateConnected, StateDisconnected}
	for i, want := range wantPath {
		if h[i].To != want {
			t.Errorf("transition %d: to = %s, want %s", i, h[i].To, want)
		}
	}
	if h[0].From != StateIdle {
		t.Errorf("first transition from = %s, want idle", h[0].From)
	}
}

func TestEventsCarrySessionID(t *testing.T) {
	tr := &fakeTransport{}
	c, err := NewController("session-abc", tr, testTarget(), DefaultRetryPolicy(), nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	events := make(chan Event, 8)
	c.OnEvent(func(e Event) { events <- e })

	c.Connect()
	e := waitEvent(t, events, StateConnecting, time.Second)
	if e.SessionID != "session-abc" {
		t.Errorf("event session ID = %q, want %q", e.SessionID, "session-abc")
	}
	if e.Timestamp.IsZero() {
		t.Error("event timestamp is zero")
	}
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	// Hammer the controller from multiple goroutines; transitions must stay
	// serialized (no panic, and the final state must be a defined one).
	tr := &fakeTransport{script: func() []error {
		var s []error
		for i := 0; i < 50; i++ {
			s = append(s, fmt.Errorf("fail %d", i))
		}
		return s
	}()}
	policy := RetryPolicy{MaxAttempts: 100, BaseDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	c, err := NewController("hammer-session", tr, testTarget(), policy, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if n%2 == 0 {
					c.Connect()
				} else {
					c.Disconnect()
				}
				time.Sleep(time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	c.Disconnect()
	if got := c.State(); got != StateDisconnected {
		t.Errorf("final state = %s, want disconnected", got)
	}
	time.Sleep(50 * time.Millisecond)
	if got := c.State(); got != StateDisconnected {
		t.Errorf("state drifted after final Disconnect: %s", got)
	}
}
