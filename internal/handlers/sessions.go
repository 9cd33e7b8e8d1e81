package handlers

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shellback/shellback/internal/config"
	"github.com/shellback/shellback/internal/database"
	"github.com/shellback/shellback/internal/lifecycle"
	"github.com/shellback/shellback/internal/logutil"
	"github.com/shellback/shellback/internal/secrets"
	"github.com/shellback/shellback/internal/session"
	"github.com/shellback/shellback/internal/sshtransport"
	"github.com/shellback/shellback/internal/transport"
)

// SessionMgr is set from main.go during init.
var SessionMgr *session.Manager

// NewTransport builds the transport for a fresh session. Tests override it
// to avoid real SSH dials.
var NewTransport = func() transport.Transport { return sshtransport.New() }

type sessionResponse struct {
	ID            string `json:"id"`
	Profile       string `json:"profile"`
	State         string `json:"state"`
	Attempt       int    `json:"attempt"`
	MaxAttempts   int    `json:"max_attempts"`
	LinesReceived uint64 `json:"lines_received"`
	BufferLines   int    `json:"buffer_lines"`
	Attached      bool   `json:"attached"`
	CreatedAt     string `json:"created_at"`
}

func toSessionResponse(o *session.Orchestrator) sessionResponse {
	ctrl := o.Controller()
	return sessionResponse{
		ID:            o.ID(),
		Profile:       o.Profile(),
		State:         ctrl.State().String(),
		Attempt:       ctrl.Attempt(),
		MaxAttempts:   ctrl.Policy().MaxAttempts,
		LinesReceived: o.LinesReceived(),
		BufferLines:   o.Buffer().Len(),
		Attached:      o.Attached(),
		CreatedAt:     o.CreatedAt().UTC().Format(time.RFC3339),
	}
}

type openSessionRequest struct {
	Profile string `json:"profile"`
}

// OpenSession creates a session for a stored host profile and starts
// connecting.
func OpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeJSON(r, &req); err != nil || req.Profile == "" {
		writeError(w, http.StatusBadRequest, "profile is required")
		return
	}

	p, err := database.GetProfileByName(req.Profile)
	if err != nil {
		writeError(w, http.StatusNotFound, "Profile not found")
		return
	}

	passphrase := ""
	if p.Passphrase != "" {
		passphrase, err = secrets.Decrypt(p.Passphrase)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to decrypt passphrase")
			return
		}
	}

	target := transport.Target{
		Host:       p.Host,
		Port:       p.Port,
		User:       p.User,
		KeyPath:    p.KeyPath,
		Passphrase: passphrase,
	}

	policy := lifecycle.RetryPolicy{
		MaxAttempts: config.Cfg.RetryMaxAttempts,
		BaseDelay:   config.Cfg.RetryBaseDelay,
		Multiplier:  config.Cfg.RetryMultiplier,
		MaxDelay:    config.Cfg.RetryMaxDelay,
	}
	if p.MaxAttempts > 0 {
		policy.MaxAttempts = p.MaxAttempts
	}

	cfg := session.Config{
		ScrollbackLines:   config.Cfg.ScrollbackLines,
		ClearOnDisconnect: config.Cfg.ClearOnDisconnect,
	}
	if p.Scrollback > 0 {
		cfg.ScrollbackLines = p.Scrollback
	}

	o, err := session.New(p.Name, NewTransport(), target, policy, cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	SessionMgr.Add(o)

	rec := &database.SessionRecord{
		SessionID: o.ID(),
		ProfileID: p.ID,
		Host:      p.Host,
		StartedAt: time.Now(),
	}
	if err := database.RecordSessionStart(rec); err != nil {
		log.Printf("[handlers] record session start %s: %v", o.ID(), err)
	}

	if _, err := o.Connect(); err != nil {
		log.Printf("[handlers] connect %s (%s): %v", o.ID(), logutil.SanitizeForLog(p.Name), err)
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(o))
}

func ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := SessionMgr.List()
	resp := make([]sessionResponse, len(sessions))
	for i, o := range sessions {
		resp[i] = toSessionResponse(o)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": resp})
}

func GetSession(w http.ResponseWriter, r *http.Request) {
	o, err := SessionMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(o))
}

// GetSessionTransitions returns the session's recent lifecycle history.
func GetSessionTransitions(w http.ResponseWriter, r *http.Request) {
	o, err := SessionMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transitions": o.Controller().Transitions(),
	})
}

func ConnectSession(w http.ResponseWriter, r *http.Request) {
	o, err := SessionMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if _, err := o.Connect(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(o))
}

func DisconnectSession(w http.ResponseWriter, r *http.Request) {
	o, err := SessionMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	o.Disconnect()
	writeJSON(w, http.StatusOK, toSessionResponse(o))
}

// ResetSession acknowledges a failed session so it can connect again.
func ResetSession(w http.ResponseWriter, r *http.Request) {
	o, err := SessionMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err := o.Controller().Reset(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(o))
}

func CloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := SessionMgr.Close(id); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

type scrollbackLine struct {
	Seq  uint64 `json:"seq"`
	Text string `json:"text"`
}

// GetScrollback returns buffered lines, optionally starting at a sequence
// number (?since=) and capped at ?limit= lines.
func GetScrollback(w http.ResponseWriter, r *http.Request) {
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
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	snapshot := o.Buffer().Snapshot()
	lines := make([]scrollbackLine, 0, len(snapshot))
	for _, l := range snapshot {
		if l.Seq < since {
			continue
		}
		lines = append(lines, scrollbackLine{Seq: l.Seq, Text: l.Text})
	}
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lines":    lines,
		"next_seq": o.Buffer().NextSeq(),
	})
}

// GetSessionHistory returns past session records from the database.
func GetSessionHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	recs, err := database.ListSessionRecords(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": recs})
}
