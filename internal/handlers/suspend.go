package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/termgate/termgate/internal/middleware"
	"github.com/termgate/termgate/internal/session"
)

// SessionMgr is set from main.go during init.
var SessionMgr *session.Manager

// ListSuspendedSessions returns the caller's suspend entries. The same data
// is available in-band as suspend:list; this endpoint serves page loads
// before the socket is up.
func ListSuspendedSessions(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": SessionMgr.ListSuspended(user.ID),
	})
}

// RemoveSuspendedSession force-terminates one suspend entry.
func RemoveSuspendedSession(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	suspendID := chi.URLParam(r, "suspendId")
	if suspendID == "" {
		writeError(w, http.StatusBadRequest, "Suspend session ID required")
		return
	}

	if err := SessionMgr.TerminateSuspended(suspendID, user.ID); err != nil {
		if errors.Is(err, session.ErrSuspendEntryNotFound) {
			writeError(w, http.StatusNotFound, "Suspended session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to remove suspended session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
