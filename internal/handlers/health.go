package handlers

import "net/http"

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"sessions":  SessionMgr.Count(),
		"suspended": SessionMgr.SuspendedCount(),
	})
}
