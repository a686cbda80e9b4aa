package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/carrick-labs/doorman-core/internal/visitor"
)

// createVisitorRequest is the request body for POST /visitors, the camera
// snapshot upload callback. Authenticated with the device credential, not a
// user JWT: cameras never hold dashboard tokens.
type createVisitorRequest struct {
	SnapshotURL string `json:"snapshot_url"`
	DoorESPID   string `json:"door_esp_id,omitempty"`
}

// handleCreateVisitor opens a pending visitor log for an uploaded snapshot.
func (s *Server) handleCreateVisitor(w http.ResponseWriter, r *http.Request) {
	espID := r.Header.Get("X-ESP-ID")
	token := r.Header.Get("X-Device-Token")
	if espID == "" || token == "" {
		writeUnauthorized(w, "device credentials required")
		return
	}

	cam, err := s.registry.Authenticate(r.Context(), espID, token)
	if err != nil {
		writeUnauthorized(w, "device authentication failed")
		return
	}

	var req createVisitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SnapshotURL == "" {
		writeBadRequest(w, "snapshot_url is required")
		return
	}

	log, err := s.visitors.Create(r.Context(), visitor.CreateRequest{
		CameraID:    cam.ID,
		CameraESPID: cam.ESPID,
		DoorESPID:   req.DoorESPID,
		SnapshotURL: req.SnapshotURL,
	})
	if err != nil {
		writeInternalError(w, "failed to create visitor log")
		return
	}
	writeJSON(w, http.StatusCreated, log)
}

// handleListVisitors returns visitor logs, newest first. An optional limit
// query parameter bounds the result.
func (s *Server) handleListVisitors(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	logs, err := s.visitors.List(r.Context(), limit)
	if err != nil {
		writeInternalError(w, "failed to list visitor logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"visitors": logs,
		"count":    len(logs),
	})
}

// handleListPendingVisitors returns undecided visitor logs.
func (s *Server) handleListPendingVisitors(w http.ResponseWriter, r *http.Request) {
	logs, err := s.visitors.ListPending(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list pending visitors")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"visitors": logs,
		"count":    len(logs),
	})
}

// handleGetVisitor returns a single visitor log.
func (s *Server) handleGetVisitor(w http.ResponseWriter, r *http.Request) {
	log, err := s.visitors.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, "visitor log not found")
		return
	}
	writeJSON(w, http.StatusOK, log)
}

// decideVisitorRequest is the optional body for the decision endpoints.
// Approve carries note, deny carries reason; both land in the log's note
// field.
type decideVisitorRequest struct {
	Note   string `json:"note,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// handleApproveVisitor grants a pending visitor.
func (s *Server) handleApproveVisitor(w http.ResponseWriter, r *http.Request) {
	s.decideVisitor(w, r, visitor.StatusGranted)
}

// handleDenyVisitor denies a pending visitor.
func (s *Server) handleDenyVisitor(w http.ResponseWriter, r *http.Request) {
	s.decideVisitor(w, r, visitor.StatusDenied)
}

// decideVisitor funnels both REST decision endpoints through the same
// engine call the socket path uses, so concurrent decisions from either
// entry point resolve to exactly one winner. A decision on an
// already-terminal log returns the existing terminal state, not an error.
func (s *Server) decideVisitor(w http.ResponseWriter, r *http.Request, decision visitor.Status) {
	claims := claimsFrom(r)
	if claims == nil || !claims.Role.CanDecideVisitors() {
		writeForbidden(w, "operator role required")
		return
	}

	var req decideVisitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	note := req.Note
	if note == "" {
		note = req.Reason
	}

	id := chi.URLParam(r, "id")
	log, err := s.visitors.Decide(r.Context(), id, decision, claims.Subject, note)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, log)
	case errors.Is(err, visitor.ErrAlreadyDecided):
		existing, getErr := s.visitors.Get(r.Context(), id)
		if getErr != nil {
			writeNotFound(w, "visitor log not found")
			return
		}
		writeJSON(w, http.StatusOK, existing)
	case errors.Is(err, visitor.ErrNotFound):
		writeNotFound(w, "visitor log not found")
	default:
		writeInternalError(w, "failed to decide visitor")
	}
}
