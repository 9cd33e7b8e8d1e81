package handlers

import "net/http"

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	sessions := 0
	if SessionMgr != nil {
		sessions = SessionMgr.Count()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": sessions,
	})
}
