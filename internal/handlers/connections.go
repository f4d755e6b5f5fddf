package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/termgate/termgate/internal/database"
	"github.com/termgate/termgate/internal/middleware"
)

type connectionBody struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (b *connectionBody) validate() string {
	if b.Name == "" {
		return "Name is required"
	}
	switch b.Kind {
	case "ssh", "rdp", "vnc", "docker":
	default:
		return "Kind must be ssh, rdp, vnc or docker"
	}
	if b.Host == "" {
		return "Host is required"
	}
	if b.Port <= 0 || b.Port > 65535 {
		return "Port must be 1..65535"
	}
	return ""
}

// ListConnections returns the connection profiles visible to the caller.
func ListConnections(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	conns, err := database.ListConnectionsForUser(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"connections": conns})
}

func GetConnection(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid connection ID")
		return
	}
	if !userCanAccess(middleware.GetUser(r), uint(id)) {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}
	conn, err := database.GetConnectionByID(uint(id))
	if err != nil {
		writeError(w, http.StatusNotFound, "Connection not found")
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// CreateConnection stores a new backend host profile. Admin only.
func CreateConnection(w http.ResponseWriter, r *http.Request) {
	var body connectionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := body.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	conn := database.Connection{
		Name:     body.Name,
		Kind:     body.Kind,
		Host:     body.Host,
		Port:     body.Port,
		Username: body.Username,
		Password: body.Password,
	}
	if err := database.DB.Create(&conn).Error; err != nil {
		writeError(w, http.StatusConflict, "Connection name already exists")
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func UpdateConnection(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid connection ID")
		return
	}
	conn, err := database.GetConnectionByID(uint(id))
	if err != nil {
		writeError(w, http.StatusNotFound, "Connection not found")
		return
	}

	var body connectionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := body.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	conn.Name = body.Name
	conn.Kind = body.Kind
	conn.Host = body.Host
	conn.Port = body.Port
	conn.Username = body.Username
	if body.Password != "" {
		conn.Password = body.Password
	}
	if err := database.DB.Save(conn).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update connection")
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func DeleteConnection(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid connection ID")
		return
	}
	if err := database.DB.Delete(&database.Connection{}, id).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete connection")
		return
	}
	database.DB.Where("connection_id = ?", id).Delete(&database.UserConnection{})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
