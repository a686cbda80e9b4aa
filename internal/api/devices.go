package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carrick-labs/doorman-core/internal/device"
)

// handleListDevices returns all registered devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.List(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// createDeviceRequest is the request body for POST /devices.
type createDeviceRequest struct {
	ESPID  string            `json:"esp_id"`
	Name   string            `json:"name"`
	Room   string            `json:"room"`
	Type   device.DeviceType `json:"type"`
	Config map[string]any    `json:"config,omitempty"`
}

// handleCreateDevice registers a new device. The device starts inactive; the
// response carries the one-time activation token for the QR label.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if claims == nil || !claims.Role.CanManage() {
		writeForbidden(w, "admin role required")
		return
	}

	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev := &device.Device{
		ESPID:  req.ESPID,
		Name:   req.Name,
		Room:   req.Room,
		Type:   req.Type,
		Config: req.Config,
	}
	if err := s.registry.Create(r.Context(), dev); err != nil {
		switch {
		case errors.Is(err, device.ErrExists):
			writeConflict(w, "device with this esp_id already exists")
		case errors.Is(err, device.ErrInvalid):
			writeBadRequest(w, err.Error())
		default:
			writeInternalError(w, "failed to create device")
		}
		return
	}

	// ActivationToken is excluded from the Device JSON; this response is
	// the only place it ever appears.
	writeJSON(w, http.StatusCreated, map[string]any{
		"device":           dev,
		"activation_token": dev.ActivationToken,
	})
}

// updateDeviceRequest is the request body for PATCH /devices/{id}.
// Pointer fields distinguish "not provided" from zero values.
type updateDeviceRequest struct {
	Name   *string            `json:"name,omitempty"`
	Room   *string            `json:"room,omitempty"`
	Type   *device.DeviceType `json:"type,omitempty"`
	Status *device.Status     `json:"status,omitempty"`
	Config map[string]any     `json:"config,omitempty"`
}

// handleUpdateDevice applies a partial update to a device.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if claims == nil || !claims.Role.CanManage() {
		writeForbidden(w, "admin role required")
		return
	}

	var req updateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev, err := s.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}

	if req.Name != nil {
		dev.Name = *req.Name
	}
	if req.Room != nil {
		dev.Room = *req.Room
	}
	if req.Type != nil {
		dev.Type = *req.Type
	}
	if req.Status != nil {
		dev.Status = *req.Status
	}
	if req.Config != nil {
		dev.Config = req.Config
	}

	if err := s.registry.Update(r.Context(), dev); err != nil {
		if errors.Is(err, device.ErrInvalid) {
			writeBadRequest(w, err.Error())
		} else {
			writeInternalError(w, "failed to update device")
		}
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleDeleteDevice removes a device from the registry.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if claims == nil || !claims.Role.CanManage() {
		writeForbidden(w, "admin role required")
		return
	}

	if err := s.registry.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleDeviceStats returns registry counts by type and status.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetStats())
}

// activateRequest is the request body for POST /devices/activate.
type activateRequest struct {
	ActivationToken string `json:"activation_token"`
}

// handleActivateDevice exchanges a one-time activation token for the device
// credential. The raw token is returned exactly once; only its hash is
// stored.
func (s *Server) handleActivateDevice(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ActivationToken == "" {
		writeBadRequest(w, "activation_token is required")
		return
	}

	dev, token, err := s.registry.Activate(r.Context(), req.ActivationToken)
	if err != nil {
		// A used or unknown token gets the same response, so the endpoint
		// cannot be probed for valid tokens.
		writeUnauthorized(w, "invalid activation token")
		return
	}

	s.logger.Info("device activated", "device_id", dev.ID, "esp_id", dev.ESPID)
	writeJSON(w, http.StatusOK, map[string]any{
		"device":       dev,
		"device_token": token,
	})
}
