package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/carrick-labs/doorman-core/internal/auth"
	"github.com/carrick-labs/doorman-core/internal/command"
	"github.com/carrick-labs/doorman-core/internal/device"
	"github.com/carrick-labs/doorman-core/internal/infrastructure/config"
	"github.com/carrick-labs/doorman-core/internal/infrastructure/logging"
	"github.com/carrick-labs/doorman-core/internal/visitor"
)

const testJWTSecret = "test-secret-key-at-least-32-characters-long"

// mockUnlocker records unlock dispatches for the visitor engine.
type mockUnlocker struct {
	mu      sync.Mutex
	unlocks []string // door ESP IDs
	err     error
}

func (m *mockUnlocker) UnlockDoor(_ context.Context, doorESPID, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.unlocks = append(m.unlocks, doorESPID)
	return nil
}

// mockBridge records control payloads for the command dispatcher.
type mockBridge struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (m *mockBridge) SendCommand(_ string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.payloads = append(m.payloads, payload)
	return nil
}

// testEnv bundles the backing stores the handlers operate on.
type testEnv struct {
	db       *sql.DB
	registry *device.Registry
	users    *auth.SQLiteUserRepository
	tokens   *auth.SQLiteTokenRepository
	engine   *visitor.Engine
	unlocker *mockUnlocker
	bridge   *mockBridge
	commands *command.Dispatcher
}

// setupTestDB creates a temporary SQLite database with the full schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "api-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			esp_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			room TEXT,
			type TEXT NOT NULL,
			token_hash TEXT,
			activation_token TEXT,
			active INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'offline',
			last_seen TEXT,
			battery INTEGER,
			rssi INTEGER,
			config TEXT NOT NULL DEFAULT '{}',
			firmware_version TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;
		CREATE INDEX idx_devices_status ON devices(status);
		CREATE UNIQUE INDEX idx_devices_activation ON devices(activation_token)
			WHERE activation_token IS NOT NULL;

		CREATE TABLE users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'viewer',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;
		CREATE INDEX idx_users_role ON users(role);

		CREATE TABLE refresh_tokens (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			token_hash TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			revoked INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		) STRICT;
		CREATE INDEX idx_refresh_tokens_user ON refresh_tokens(user_id);
		CREATE INDEX idx_refresh_tokens_expires ON refresh_tokens(expires_at);

		CREATE TABLE visitor_logs (
			id TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			camera_esp_id TEXT NOT NULL,
			door_esp_id TEXT,
			snapshot_url TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			decided_by TEXT,
			note TEXT,
			decided_at TEXT,
			unlock_error TEXT,
			created_at TEXT NOT NULL
		) STRICT;
		CREATE INDEX idx_visitor_logs_status ON visitor_logs(status);
		CREATE INDEX idx_visitor_logs_created ON visitor_logs(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("applying schema: %v", err)
	}

	return db
}

// testServer creates a Server backed by real SQLite repositories and mock
// hardware bridges.
func testServer(t *testing.T) (*Server, *testEnv) {
	t.Helper()

	db := setupTestDB(t)

	registry := device.NewRegistry(device.NewSQLiteRepository(db))
	if err := registry.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}

	unlocker := &mockUnlocker{}
	engine := visitor.NewEngine(visitor.NewSQLiteRepository(db), unlocker)

	bridge := &mockBridge{}
	dispatcher := command.NewDispatcher(bridge, 5*time.Second, time.Minute)

	env := &testEnv{
		db:       db,
		registry: registry,
		users:    auth.NewUserRepository(db),
		tokens:   auth.NewTokenRepository(db),
		engine:   engine,
		unlocker: unlocker,
		bridge:   bridge,
		commands: dispatcher,
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.ServerConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.ServerTimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{
				Secret:          testJWTSecret,
				AccessTokenTTL:  15,
				RefreshTokenTTL: 1440,
			},
		},
		Logger:   log,
		Registry: registry,
		Users:    env.users,
		Tokens:   env.tokens,
		Visitors: engine,
		Commands: dispatcher,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return srv, env
}

// seedUser inserts an active user with password "test-password".
func seedUser(t *testing.T, env *testEnv, username string, role auth.Role) *auth.User {
	t.Helper()

	hash, err := auth.HashPassword("test-password")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	u := &auth.User{
		ID:           "user-" + username,
		Username:     username,
		DisplayName:  "Test " + username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := env.users.Create(context.Background(), u); err != nil {
		t.Fatalf("seeding user %s: %v", username, err)
	}
	return u
}

// bearerFor returns an Authorization header value for the user.
func bearerFor(t *testing.T, user *auth.User) string {
	t.Helper()

	token, err := auth.GenerateAccessToken(user, testJWTSecret, 15)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	return "Bearer " + token
}

// seedCamera registers and activates a camera, returning it with its raw
// device token.
func seedCamera(t *testing.T, env *testEnv, espID string) (*device.Device, string) {
	t.Helper()

	dev := &device.Device{
		ESPID: espID,
		Name:  "Camera " + espID,
		Room:  "entrance",
		Type:  device.TypeCamera,
	}
	if err := env.registry.Create(context.Background(), dev); err != nil {
		t.Fatalf("creating camera: %v", err)
	}
	activated, token, err := env.registry.Activate(context.Background(), dev.ActivationToken)
	if err != nil {
		t.Fatalf("activating camera: %v", err)
	}
	return activated, token
}

// seedLock registers and activates a door lock, returning it with its raw
// device token.
func seedLock(t *testing.T, env *testEnv, espID string) (*device.Device, string) {
	t.Helper()

	dev := &device.Device{
		ESPID: espID,
		Name:  "Lock " + espID,
		Room:  "entrance",
		Type:  device.TypeDoorLock,
	}
	if err := env.registry.Create(context.Background(), dev); err != nil {
		t.Fatalf("creating lock: %v", err)
	}
	activated, token, err := env.registry.Activate(context.Background(), dev.ActivationToken)
	if err != nil {
		t.Fatalf("activating lock: %v", err)
	}
	return activated, token
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestHealth_ContentType(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestProtectedRoute_RequiresToken(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/devices"},
		{http.MethodGet, "/api/v1/visitors"},
		{http.MethodGet, "/api/v1/commands"},
		{http.MethodGet, "/api/v1/auth/me"},
	}

	for _, p := range paths {
		req := httptest.NewRequest(p.method, p.path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want %d", p.method, p.path, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestProtectedRoute_RejectsGarbageToken(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestErrorBody_Structured(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var apiErr Error
	if err := json.Unmarshal(w.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("error status field = %d, want %d", apiErr.Status, http.StatusUnauthorized)
	}
	if apiErr.Code != ErrCodeUnauthorized {
		t.Errorf("error code = %q, want %q", apiErr.Code, ErrCodeUnauthorized)
	}
	if apiErr.Message == "" {
		t.Error("expected a non-empty error message")
	}
}
