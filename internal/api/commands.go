package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carrick-labs/doorman-core/internal/command"
)

// sendCommandRequest is the request body for POST /commands.
type sendCommandRequest struct {
	DeviceID string         `json:"device_id"`
	Command  string         `json:"command"`
	Params   map[string]any `json:"params,omitempty"`
}

// handleSendCommand dispatches a command to a device. Acceptance is
// synchronous; resolution arrives later as a command_status event keyed by
// the returned command id.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if claims == nil || !claims.Role.CanDecideVisitors() {
		writeForbidden(w, "operator role required")
		return
	}
	if s.commands == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeBridgeDown, "command dispatch not available")
		return
	}

	var req sendCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev, err := s.registry.Get(r.Context(), req.DeviceID)
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}

	cmd, err := s.commands.Dispatch(r.Context(), command.Request{
		DeviceID: dev.ID,
		ESPID:    dev.ESPID,
		Name:     req.Command,
		Params:   req.Params,
		IssuedBy: claims.Subject,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, cmd)
	case errors.Is(err, command.ErrBridgeUnavailable):
		// The command is tracked in failed state; return it so the caller
		// can show the failure instead of an indefinite spinner.
		writeJSON(w, http.StatusBadGateway, cmd)
	case errors.Is(err, command.ErrInvalidCommand):
		writeBadRequest(w, err.Error())
	default:
		writeInternalError(w, "failed to dispatch command")
	}
}

// handleListCommands returns every tracked command, pending and recently
// resolved.
func (s *Server) handleListCommands(w http.ResponseWriter, _ *http.Request) {
	if s.commands == nil {
		writeJSON(w, http.StatusOK, map[string]any{"commands": []command.Command{}, "count": 0})
		return
	}
	cmds := s.commands.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"commands": cmds,
		"count":    len(cmds),
	})
}

// handleGetCommand returns one tracked command by id.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeNotFound(w, "command not found")
		return
	}
	cmd, err := s.commands.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, "command not found")
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}
