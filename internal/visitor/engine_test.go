package visitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// mockRepository is an in-memory Repository. Decide mirrors the SQLite
// implementation's pending-status guard so race tests are faithful.
type mockRepository struct {
	mu   sync.Mutex
	logs map[string]*Log
}

func newMockRepository() *mockRepository {
	return &mockRepository{logs: make(map[string]*Log)}
}

func (m *mockRepository) Create(_ context.Context, log *Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.Status == "" {
		log.Status = StatusPending
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	m.logs[log.ID] = log.Clone()
	return nil
}

func (m *mockRepository) GetByID(_ context.Context, id string) (*Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.logs[id]; ok {
		return l.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *mockRepository) List(_ context.Context, _ int) ([]Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Log, 0, len(m.logs))
	for _, l := range m.logs {
		out = append(out, *l.Clone())
	}
	return out, nil
}

func (m *mockRepository) ListPending(_ context.Context) ([]Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Log
	for _, l := range m.logs {
		if l.Status == StatusPending {
			out = append(out, *l.Clone())
		}
	}
	return out, nil
}

func (m *mockRepository) Decide(_ context.Context, id string, decision Status, decidedBy, note string, decidedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return ErrNotFound
	}
	if l.Status != StatusPending {
		return ErrAlreadyDecided
	}
	l.Status = decision
	l.DecidedBy = decidedBy
	l.Note = note
	l.DecidedAt = &decidedAt
	return nil
}

func (m *mockRepository) SetUnlockError(_ context.Context, id, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return ErrNotFound
	}
	l.UnlockError = detail
	return nil
}

// mockUnlocker records unlock dispatches and can simulate hardware failure.
type mockUnlocker struct {
	mu        sync.Mutex
	unlocks   []string // doorESPID values
	unlockErr error
}

func (m *mockUnlocker) UnlockDoor(_ context.Context, doorESPID, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unlockErr != nil {
		return m.unlockErr
	}
	m.unlocks = append(m.unlocks, doorESPID)
	return nil
}

func (m *mockUnlocker) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.unlocks)
}

// mockNotifier collects workflow events.
type mockNotifier struct {
	mu        sync.Mutex
	created   []*Log
	processed []*Log
}

func (m *mockNotifier) NewVisitor(log *Log) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, log)
}

func (m *mockNotifier) VisitorProcessed(log *Log) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed = append(m.processed, log)
}

func newTestEngine() (*Engine, *mockRepository, *mockUnlocker, *mockNotifier) {
	repo := newMockRepository()
	unlocker := &mockUnlocker{}
	notifier := &mockNotifier{}
	e := NewEngine(repo, unlocker)
	e.SetNotifier(notifier)
	return e, repo, unlocker, notifier
}

func testCreateRequest() CreateRequest {
	return CreateRequest{
		CameraID:    "dev-cam-1",
		CameraESPID: "esp-cam-front",
		DoorESPID:   "esp-lock-front",
		SnapshotURL: "/snapshots/v-123.jpg",
	}
}

func TestEngine_Create(t *testing.T) {
	e, _, _, notifier := newTestEngine()

	log, err := e.Create(context.Background(), testCreateRequest())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if log.ID == "" {
		t.Error("Create() should assign a log ID")
	}
	if log.Status != StatusPending {
		t.Errorf("Status = %q, want pending", log.Status)
	}
	if len(notifier.created) != 1 {
		t.Errorf("NewVisitor notified %d times, want 1", len(notifier.created))
	}
}

func TestEngine_Grant(t *testing.T) {
	e, _, unlocker, notifier := newTestEngine()
	log, _ := e.Create(context.Background(), testCreateRequest())

	decided, err := e.Decide(context.Background(), log.ID, StatusGranted, "usr-001", "expected courier")
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decided.Status != StatusGranted {
		t.Errorf("Status = %q, want granted", decided.Status)
	}
	if decided.DecidedBy != "usr-001" {
		t.Errorf("DecidedBy = %q, want usr-001", decided.DecidedBy)
	}
	if decided.Note != "expected courier" {
		t.Errorf("Note = %q, want expected courier", decided.Note)
	}
	if decided.DecidedAt == nil {
		t.Error("DecidedAt should be set")
	}
	if unlocker.count() != 1 {
		t.Errorf("unlock dispatched %d times, want 1", unlocker.count())
	}
	if len(notifier.processed) != 1 {
		t.Errorf("VisitorProcessed notified %d times, want 1", len(notifier.processed))
	}
}

func TestEngine_Deny(t *testing.T) {
	e, _, unlocker, _ := newTestEngine()
	log, _ := e.Create(context.Background(), testCreateRequest())

	decided, err := e.Decide(context.Background(), log.ID, StatusDenied, "usr-002", "unknown face")
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decided.Status != StatusDenied {
		t.Errorf("Status = %q, want denied", decided.Status)
	}
	if decided.Note != "unknown face" {
		t.Errorf("Note = %q, want unknown face", decided.Note)
	}
	if unlocker.count() != 0 {
		t.Error("deny must not dispatch an unlock")
	}
}

func TestEngine_DecideIdempotent(t *testing.T) {
	e, _, unlocker, _ := newTestEngine()
	log, _ := e.Create(context.Background(), testCreateRequest())

	if _, err := e.Decide(context.Background(), log.ID, StatusGranted, "usr-001", ""); err != nil {
		t.Fatalf("first Decide() error = %v", err)
	}

	// Repeat and conflicting decisions both fail the same way
	if _, err := e.Decide(context.Background(), log.ID, StatusGranted, "usr-001", ""); !errors.Is(err, ErrAlreadyDecided) {
		t.Errorf("repeat Decide() error = %v, want ErrAlreadyDecided", err)
	}
	if _, err := e.Decide(context.Background(), log.ID, StatusDenied, "usr-002", ""); !errors.Is(err, ErrAlreadyDecided) {
		t.Errorf("conflicting Decide() error = %v, want ErrAlreadyDecided", err)
	}

	if unlocker.count() != 1 {
		t.Errorf("unlock dispatched %d times, want exactly 1", unlocker.count())
	}
}

func TestEngine_ConcurrentDecisions(t *testing.T) {
	e, _, unlocker, _ := newTestEngine()
	log, _ := e.Create(context.Background(), testCreateRequest())

	const racers = 16
	var wg sync.WaitGroup
	var wins, losses int
	var mu sync.Mutex

	for i := 0; i < racers; i++ {
		decision := StatusGranted
		if i%2 == 1 {
			decision = StatusDenied
		}
		wg.Add(1)
		go func(d Status) {
			defer wg.Done()
			_, err := e.Decide(context.Background(), log.ID, d, "racer", "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrAlreadyDecided):
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(decision)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if losses != racers-1 {
		t.Errorf("losses = %d, want %d", losses, racers-1)
	}
	if unlocker.count() > 1 {
		t.Errorf("unlock dispatched %d times, want at most 1", unlocker.count())
	}
}

func TestEngine_GrantWithUnlockFailure(t *testing.T) {
	e, repo, unlocker, notifier := newTestEngine()
	unlocker.unlockErr = errors.New("broker unreachable")

	log, _ := e.Create(context.Background(), testCreateRequest())
	decided, err := e.Decide(context.Background(), log.ID, StatusGranted, "usr-001", "")
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	// The grant stands despite the hardware failure
	if decided.Status != StatusGranted {
		t.Errorf("Status = %q, want granted", decided.Status)
	}
	if decided.UnlockError == "" {
		t.Error("UnlockError should carry the failure detail")
	}

	stored, _ := repo.GetByID(context.Background(), log.ID)
	if stored.UnlockError == "" {
		t.Error("unlock error should be persisted")
	}
	if len(notifier.processed) != 1 {
		t.Fatalf("VisitorProcessed notified %d times, want 1", len(notifier.processed))
	}
	if notifier.processed[0].UnlockError == "" {
		t.Error("processed notification should carry the unlock error")
	}
}

func TestEngine_GrantWithoutDoor(t *testing.T) {
	e, repo, unlocker, _ := newTestEngine()

	req := testCreateRequest()
	req.DoorESPID = ""
	log, _ := e.Create(context.Background(), req)

	decided, err := e.Decide(context.Background(), log.ID, StatusGranted, "usr-001", "")
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decided.Status != StatusGranted {
		t.Errorf("Status = %q, want granted", decided.Status)
	}
	if unlocker.count() != 0 {
		t.Error("no unlock should be dispatched without a paired door")
	}

	stored, _ := repo.GetByID(context.Background(), log.ID)
	if stored.UnlockError == "" {
		t.Error("missing door should be recorded as an unlock error")
	}
}

func TestEngine_DecideValidation(t *testing.T) {
	e, _, _, _ := newTestEngine()
	log, _ := e.Create(context.Background(), testCreateRequest())

	if _, err := e.Decide(context.Background(), log.ID, StatusPending, "usr-001", ""); !errors.Is(err, ErrInvalidDecision) {
		t.Errorf("Decide(pending) error = %v, want ErrInvalidDecision", err)
	}
	if _, err := e.Decide(context.Background(), "missing", StatusGranted, "usr-001", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Decide(missing) error = %v, want ErrNotFound", err)
	}
}
