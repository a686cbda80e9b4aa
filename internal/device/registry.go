package device

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/carrick-labs/doorman-core/internal/auth"
)

// Logger is the minimal logging surface the Registry needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards everything. Used until SetLogger is called.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry wraps a Repository with an in-memory cache keyed by device ID,
// plus a secondary ESP ID index for the connection hot path.
//
// RefreshCache fills the cache at startup; every mutating method keeps it
// in sync afterwards. Safe for concurrent use.
type Registry struct {
	repo     Repository
	cache    map[string]*Device // cached devices by ID
	espIndex map[string]string  // ESP ID -> device ID
	cacheMu  sync.RWMutex
	logger   Logger
}

// NewRegistry returns a registry backed by repo with an empty cache.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:     repo,
		cache:    make(map[string]*Device),
		espIndex: make(map[string]string),
		logger:   noopLogger{},
	}
}

// SetLogger replaces the registry's logger.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache replaces the cache with the repository's current contents.
// Called once during startup before the registry serves requests.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	r.espIndex = make(map[string]string, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = d.DeepCopy()
		r.espIndex[d.ESPID] = d.ID
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Get returns the device with the given ID, or ErrNotFound. Callers
// receive a deep copy and may mutate it freely.
func (r *Registry) Get(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}

	// Cache miss: the device may have been created by another path.
	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[device.ID] = device.DeepCopy()
	r.espIndex[device.ESPID] = device.ID
	r.cacheMu.Unlock()

	return device, nil
}

// GetByESPID returns the device with the given hardware identifier,
// resolved through the ESP index when cached. Returns a deep copy.
func (r *Registry) GetByESPID(ctx context.Context, espID string) (*Device, error) {
	r.cacheMu.RLock()
	id, ok := r.espIndex[espID]
	var cached *Device
	if ok {
		cached = r.cache[id]
	}
	r.cacheMu.RUnlock()

	if cached != nil {
		return cached.DeepCopy(), nil
	}

	device, err := r.repo.GetByESPID(ctx, espID)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[device.ID] = device.DeepCopy()
	r.espIndex[device.ESPID] = device.ID
	r.cacheMu.Unlock()

	return device, nil
}

// List returns every known device as deep copies, served from the cache
// when it is populated.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			devices = append(devices, *d.DeepCopy())
		}
		return devices, nil
	}

	return r.repo.List(ctx)
}

// ListByStatus returns every device currently in the given connectivity
// state.
func (r *Registry) ListByStatus(ctx context.Context, status Status) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.Status == status {
				devices = append(devices, *d.DeepCopy())
			}
		}
		return devices, nil
	}

	return r.repo.ListByStatus(ctx, status)
}

// Create registers a new device. It validates the device, generates the ID
// and activation token if needed, and persists it. New devices start
// inactive and offline until firmware completes the activation exchange.
func (r *Registry) Create(ctx context.Context, device *Device) error {
	if device.ID == "" {
		device.ID = GenerateID()
	}
	if device.Status == "" {
		device.Status = StatusOffline
	}
	if device.ActivationToken == "" && !device.Active {
		token, err := GenerateActivationToken()
		if err != nil {
			return err
		}
		device.ActivationToken = token
	}

	if err := ValidateDevice(device); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[device.ID] = device.DeepCopy()
	r.espIndex[device.ESPID] = device.ID
	r.cacheMu.Unlock()

	r.logger.Info("device created", "id", device.ID, "esp_id", device.ESPID, "name", device.Name)
	return nil
}

// Update modifies an existing device.
func (r *Registry) Update(ctx context.Context, device *Device) error {
	existing, err := r.Get(ctx, device.ID)
	if err != nil {
		return err
	}

	if err := ValidateDevice(device); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if existing.ESPID != device.ESPID {
		delete(r.espIndex, existing.ESPID)
	}
	r.cache[device.ID] = device.DeepCopy()
	r.espIndex[device.ESPID] = device.ID
	r.cacheMu.Unlock()

	r.logger.Info("device updated", "id", device.ID, "name", device.Name)
	return nil
}

// Delete removes a device.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		delete(r.espIndex, cached.ESPID)
	}
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// Authenticate verifies a device credential presented during the WebSocket
// handshake. Returns the device on success, ErrAuthFailed on a bad token,
// ErrInactive for devices that have not completed activation.
func (r *Registry) Authenticate(ctx context.Context, espID, token string) (*Device, error) {
	device, err := r.GetByESPID(ctx, espID)
	if err != nil {
		return nil, ErrAuthFailed
	}

	if !device.Active {
		return nil, ErrInactive
	}

	// Constant-time compare of hashes. The stored value is already a
	// digest, so a length mismatch here never leaks token material.
	candidate := auth.HashToken(token)
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(device.TokenHash)) != 1 {
		return nil, ErrAuthFailed
	}

	return device, nil
}

// Activate exchanges a one-time activation token for a permanent device
// credential. Returns the raw device token exactly once; only its hash is
// stored. The exchange is single-use: a second call with the same
// activation token fails with ErrActivationInvalid.
func (r *Registry) Activate(ctx context.Context, activationToken string) (*Device, string, error) {
	device, err := r.repo.GetByActivationToken(ctx, activationToken)
	if err != nil {
		return nil, "", err
	}

	rawToken, err := GenerateDeviceToken()
	if err != nil {
		return nil, "", err
	}

	if err := r.repo.Activate(ctx, device.ID, auth.HashToken(rawToken)); err != nil {
		return nil, "", err
	}

	device.Active = true
	device.TokenHash = auth.HashToken(rawToken)
	device.ActivationToken = ""

	r.cacheMu.Lock()
	r.cache[device.ID] = device.DeepCopy()
	r.espIndex[device.ESPID] = device.ID
	r.cacheMu.Unlock()

	r.logger.Info("device activated", "id", device.ID, "esp_id", device.ESPID)
	return device, rawToken, nil
}

// SetStatus updates the connectivity status of a device.
// Driven by the connection hub on connect/disconnect.
func (r *Registry) SetStatus(ctx context.Context, id string, status Status) error {
	now := time.Now().UTC()
	if err := r.repo.UpdateStatus(ctx, id, status, now); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.Status = status
		updated.LastSeen = &now
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device status updated", "id", id, "status", status)
	return nil
}

// RecordHeartbeat stores the battery and signal readings from a heartbeat
// and refreshes the last seen timestamp.
func (r *Registry) RecordHeartbeat(ctx context.Context, id string, battery, rssi int) error {
	now := time.Now().UTC()
	if err := r.repo.UpdateHealth(ctx, id, battery, rssi, now); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.Battery = &battery
		updated.RSSI = &rssi
		updated.LastSeen = &now
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device heartbeat recorded", "id", id, "battery", battery, "rssi", rssi)
	return nil
}

// Count reports how many devices the cache currently holds.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats summarizes the cached fleet for health endpoints.
type Stats struct {
	TotalDevices int
	ByType       map[DeviceType]int
	ByStatus     map[Status]int
}

// GetStats counts cached devices grouped by type and status.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByType:       make(map[DeviceType]int),
		ByStatus:     make(map[Status]int),
	}

	for _, d := range r.cache {
		stats.ByType[d.Type]++
		stats.ByStatus[d.Status]++
	}

	return stats
}
