package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/shellback/shellback/internal/lifecycle"
	"github.com/shellback/shellback/internal/scrollback"
	"github.com/shellback/shellback/internal/search"
)

// feedRateLimit defines the maximum number of input messages allowed per
// second per WebSocket connection. Messages beyond this rate are dropped.
const feedRateLimit = 200

// feedRateBurst is the token bucket burst size, allowing short bursts of
// rapid input (e.g., paste operations) before rate limiting kicks in.
const feedRateBurst = 200

// maxInputMessageSize bounds a single input frame.
const maxInputMessageSize = 32 * 1024

// maxResizeCols and maxResizeRows clamp client-requested PTY dimensions.
const (
	maxResizeCols = 1000
	maxResizeRows = 1000
)

type feedLinesMsg struct {
	Type  string           `json:"type"` // "lines"
	Lines []scrollbackLine `json:"lines"`
}

type feedStateMsg struct {
	Type string `json:"type"` // "state"
	lifecycle.Event
}

type feedSearchMsg struct {
	Type string `json:"type"` // "search"
	searchResponse
}

type feedControlMsg struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// SessionFeed handles the WebSocket feed for one session: scrollback lines
// and lifecycle/search events stream out; terminal input and resize
// requests stream in.
//
// Query parameters:
//   - since: (optional) replay buffered lines starting at this sequence
//     number. Omitted means the full scrollback is replayed.
//
// Outbound frames are JSON text messages tagged with a "type" field
// ("lines", "state", "search"). Inbound binary frames are raw terminal
// input; inbound text frames are control messages (currently only
// "resize").
func SessionFeed(w http.ResponseWriter, r *http.Request) {
	o, err := SessionMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	var since uint64
	if q := r.URL.Query().Get("since"); q != "" {
		since, err = strconv.ParseUint(q, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since parameter")
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[handlers] accept feed websocket: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1024 * 1024)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	o.Attach()
	defer o.Detach()
	log.Printf("[handlers] feed attached: session=%s", o.ID())
	defer log.Printf("[handlers] feed detached: session=%s", o.ID())

	out := make(chan []byte, 256)
	push := func(v interface{}) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		select {
		case out <- data:
		default:
			// Slow consumer; the client can re-sync from the scrollback
			// endpoint.
		}
	}

	unsubEvents := o.OnEvent(func(e lifecycle.Event) {
		push(feedStateMsg{Type: "state", Event: e})
	})
	defer unsubEvents()

	unsubSearch := o.Search().OnResultsChanged(func(res search.Results) {
		push(feedSearchMsg{Type: "search", searchResponse: toSearchResponse(res)})
	})
	defer unsubSearch()

	// Single writer: all outbound frames funnel through out.
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case data := <-out:
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					return
				}
			}
		}
	}()

	// Scrollback pump: replay from since, then follow appends. Notify is
	// a shared one-slot signal, so with several feeds on one session a
	// pump may wake on a later append than the one that produced its
	// lines; linesSince keeps each pump consistent regardless.
	go func() {
		defer cancel()
		next := since
		notify := o.Buffer().Notify()
		for {
			lines := linesSince(o.Buffer(), next)
			if len(lines) > 0 {
				next = lines[len(lines)-1].Seq + 1
				push(feedLinesMsg{Type: "lines", Lines: lines})
			}
			select {
			case <-ctx.Done():
				return
			case <-notify:
			}
		}
	}()

	limiter := newTokenBucket(feedRateBurst, feedRateLimit)

	// Client -> remote shell input.
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			break
		}

		// Rate limit: drop messages that exceed the allowed rate
		if !limiter.allow() {
			continue
		}

		if msgType == websocket.MessageBinary {
			if len(data) > maxInputMessageSize {
				log.Printf("[handlers] feed input too large: session=%s size=%d limit=%d", o.ID(), len(data), maxInputMessageSize)
				continue
			}
			if _, err := o.Write(data); err != nil {
				// Not connected yet (or transport without input); drop.
				continue
			}
		} else {
			var msg feedControlMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == "resize" && msg.Cols > 0 && msg.Rows > 0 {
				cols, rows := msg.Cols, msg.Rows
				if cols > maxResizeCols {
					cols = maxResizeCols
				}
				if rows > maxResizeRows {
					rows = maxResizeRows
				}
				o.Resize(cols, rows)
			}
		}
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

// linesSince returns buffered lines with sequence numbers >= since.
func linesSince(b *scrollback.Buffer, since uint64) []scrollbackLine {
	snapshot := b.Snapshot()
	var lines []scrollbackLine
	for _, l := range snapshot {
		if l.Seq < since {
			continue
		}
		lines = append(lines, scrollbackLine{Seq: l.Seq, Text: l.Text})
	}
	return lines
}

// tokenBucket implements a simple token bucket rate limiter for feed
// input messages.
type tokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int // tokens added per second
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate int) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// allow checks if a message is allowed and consumes a token.
func (tb *tokenBucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.lastRefill = now

	tb.tokens += int(elapsed.Seconds() * float64(tb.refillRate))
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}

	if tb.tokens <= 0 {
		return false
	}
	tb.tokens--
	return true
}
