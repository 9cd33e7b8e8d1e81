package session

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shellback/shellback/internal/lifecycle"
	"github.com/shellback/shellback/internal/scrollback"
	"github.com/shellback/shellback/internal/search"
	"github.com/shellback/shellback/internal/transport"
)

// Config controls per-session behavior.
type Config struct {
	// ScrollbackLines bounds the output buffer; 0 means the scrollback
	// package default.
	ScrollbackLines int
	// ClearOnDisconnect drops the buffer when the session ends. Off by
	// default so the user can still search the history of a dropped
	// session.
	ClearOnDisconnect bool
}

// Orchestrator binds one lifecycle controller to one scrollback buffer and
// one search session. Transport data is appended to the buffer line by
// line; while a search is active every buffer change re-validates it.
// Lifecycle and search events flow outward to registered observers; the
// orchestrator itself never touches presentation.
type Orchestrator struct {
	id      string
	profile string
	tr      transport.Transport
	buffer  *scrollback.Buffer
	search  *search.Session
	ctrl    *lifecycle.Controller

	mu            sync.Mutex
	partial       bytes.Buffer // incomplete trailing line from the transport
	linesReceived uint64
	attachCount   int
	lastActivity  time.Time
	createdAt     time.Time
	closed        bool
}

// New creates a session orchestrator for the given transport and target.
// profile is a display name carried into events and history records.
func New(profile string, tr transport.Transport, target transport.Target, policy lifecycle.RetryPolicy, cfg Config) (*Orchestrator, error) {
	o := &Orchestrator{
		id:           uuid.NewString(),
		profile:      profile,
		tr:           tr,
		buffer:       scrollback.NewBuffer(cfg.ScrollbackLines),
		createdAt:    time.Now(),
		lastActivity: time.Now(),
	}
	o.search = search.NewSession(o.buffer.Snapshot)

	ctrl, err := lifecycle.NewController(o.id, tr, target, policy, o.ingest)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	o.ctrl = ctrl

	clearOnEnd := cfg.ClearOnDisconnect
	ctrl.OnEvent(func(e lifecycle.Event) {
		if e.State.IsTerminal() {
			o.flushPartial()
			if clearOnEnd {
				o.buffer.Clear()
			}
		}
	})

	return o, nil
}

// ID returns the session's unique identifier.
func (o *Orchestrator) ID() string { return o.id }

// Profile returns the display name of the host profile this session uses.
func (o *Orchestrator) Profile() string { return o.profile }

// CreatedAt returns the session creation time.
func (o *Orchestrator) CreatedAt() time.Time { return o.createdAt }

// Buffer returns the session's scrollback buffer.
func (o *Orchestrator) Buffer() *scrollback.Buffer { return o.buffer }

// Search returns the session's search cursor.
func (o *Orchestrator) Search() *search.Session { return o.search }

// Controller returns the session's lifecycle controller.
func (o *Orchestrator) Controller() *lifecycle.Controller { return o.ctrl }

// Connect delegates to the lifecycle controller.
func (o *Orchestrator) Connect() (lifecycle.State, error) {
	o.touch()
	return o.ctrl.Connect()
}

// Disconnect delegates to the lifecycle controller.
func (o *Orchestrator) Disconnect() {
	o.touch()
	o.ctrl.Disconnect()
}

// OnEvent registers a lifecycle event observer for this session. The
// returned func removes the observer.
func (o *Orchestrator) OnEvent(cb lifecycle.EventCallback) func() {
	return o.ctrl.OnEvent(cb)
}

// Write forwards input bytes to the remote shell. Returns an error when
// the transport does not accept input.
func (o *Orchestrator) Write(p []byte) (int, error) {
	w, ok := o.tr.(transport.InputWriter)
	if !ok {
		return 0, fmt.Errorf("session: transport does not accept input")
	}
	o.touch()
	return w.Write(p)
}

// Resize adjusts the remote PTY dimensions when the transport supports it;
// otherwise it is a no-op.
func (o *Orchestrator) Resize(cols, rows uint16) error {
	rs, ok := o.tr.(transport.Resizer)
	if !ok {
		return nil
	}
	return rs.Resize(cols, rows)
}

func (o *Orchestrator) touch() {
	o.mu.Lock()
	o.lastActivity = time.Now()
	o.mu.Unlock()
}

// LinesReceived returns how many complete lines have been ingested.
func (o *Orchestrator) LinesReceived() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.linesReceived
}

// ingest is the transport data path: split the byte stream into lines,
// append each to the buffer, and re-validate the active search once per
// chunk. An incomplete trailing line is held back until its newline (or
// the session's end) arrives.
func (o *Orchestrator) ingest(p []byte) {
	o.mu.Lock()
	o.partial.Write(p)
	var appended int
	for {
		data := o.partial.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(data[:i], "\r"))
		o.partial.Next(i + 1)
		o.buffer.Append(line)
		appended++
	}
	o.linesReceived += uint64(appended)
	o.lastActivity = time.Now()
	o.mu.Unlock()

	if appended > 0 && o.search.Active() {
		o.search.Invalidate()
	}
}

// flushPartial appends any held-back incomplete line. Called when the
// session reaches a terminal state so the tail of the output is
// searchable.
func (o *Orchestrator) flushPartial() {
	o.mu.Lock()
	var flushed bool
	if o.partial.Len() > 0 {
		o.buffer.Append(strings.TrimRight(o.partial.String(), "\r"))
		o.partial.Reset()
		o.linesReceived++
		flushed = true
	}
	o.mu.Unlock()

	if flushed && o.search.Active() {
		o.search.Invalidate()
	}
}

// Attach registers a consumer (e.g. a WebSocket) with this session.
// Attachments are counted, so one consumer detaching does not mark the
// session idle while another is still connected.
func (o *Orchestrator) Attach() {
	o.mu.Lock()
	o.attachCount++
	o.lastActivity = time.Now()
	o.mu.Unlock()
}

// Detach releases one attachment. Once the last consumer detaches the
// connection and scrollback stay alive; the idle cleanup loop may close
// the session after the configured timeout.
func (o *Orchestrator) Detach() {
	o.mu.Lock()
	if o.attachCount > 0 {
		o.attachCount--
	}
	o.lastActivity = time.Now()
	o.mu.Unlock()
}

// Attached reports whether at least one consumer is currently attached.
func (o *Orchestrator) Attached() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attachCount > 0
}

// LastActivity returns the time of the last data arrival or state change.
func (o *Orchestrator) LastActivity() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastActivity
}

// Close ends the session: disconnects, closes the search session, and
// marks the orchestrator closed. Idempotent.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.ctrl.Disconnect()
	o.search.Close()
}

// Closed reports whether Close has been called.
func (o *Orchestrator) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
