package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shellback/shellback/internal/search"
)

type searchResponse struct {
	Pattern        string         `json:"pattern"`
	Matches        []search.Match `json:"matches"`
	Total          int            `json:"total"`
	Cursor         int            `json:"cursor"` // -1 when no match is selected
	InvalidPattern bool           `json:"invalid_pattern"`
}

func toSearchResponse(r search.Results) searchResponse {
	matches := r.Matches
	if matches == nil {
		matches = []search.Match{}
	}
	return searchResponse{
		Pattern:        r.Query.Pattern,
		Matches:        matches,
		Total:          r.Total(),
		Cursor:         r.Cursor,
		InvalidPattern: r.InvalidPat,
	}
}

// StartSearch begins (or restarts) a search over the session's scrollback.
func StartSearch(w http.ResponseWriter, r *http.Request) {
	o, err := SessionMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	var q search.Query
	if err := decodeJSON(r, &q); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if q.Pattern == "" {
		writeError(w, http.StatusBadRequest, "pattern is required")
		return
	}

	writeJSON(w, http.StatusOK, toSearchResponse(o.Search().Start(q)))
}

// GetSearch returns the current result set without moving the cursor.
func GetSearch(w http.ResponseWriter, r *http.Request) {
	o, err := SessionMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if !o.Search().Active() {
		writeError(w, http.StatusNotFound, "No active search")
		return
	}
	writeJSON(w, http.StatusOK, toSearchResponse(o.Search().Results()))
}

// NextMatch advances the cursor, wrapping past the last match.
func NextMatch(w http.ResponseWriter, r *http.Request) {
	o, err := SessionMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if !o.Search().Active() {
		writeError(w, http.StatusNotFound, "No active search")
		return
	}
	writeJSON(w, http.StatusOK, toSearchResponse(o.Search().Next()))
}

// PreviousMatch moves the cursor back, wrapping before the first match.
func PreviousMatch(w http.ResponseWriter, r *http.Request) {
	o, err := SessionMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if !o.Search().Active() {
		writeError(w, http.StatusNotFound, "No active search")
		return
	}
	writeJSON(w, http.StatusOK, toSearchResponse(o.Search().Previous()))
}

// CloseSearch ends the active search.
func CloseSearch(w http.ResponseWriter, r *http.Request) {
	o, err := SessionMgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	o.Search().Close()
	w.WriteHeader(http.StatusNoContent)
}
