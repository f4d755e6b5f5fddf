package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/termgate/termgate/internal/database"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// userCanAccess checks connection access for a user already resolved from
// the request. Admins see everything; others need an assignment.
func userCanAccess(user *database.User, connectionID uint) bool {
	if user == nil {
		return false
	}
	if user.Role == "admin" {
		return true
	}
	return database.IsUserAssignedToConnection(user.ID, connectionID)
}
