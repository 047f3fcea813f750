package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"biosync/internal/bootstrap/config"
	"biosync/internal/infrastructure/persistence/sqlite/model"
	sqliterepo "biosync/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "biosync/internal/infrastructure/persistence/sqlite/uow"
	settingsinfra "biosync/internal/infrastructure/settings"
	"biosync/internal/ports"
	syncuc "biosync/internal/usecase/sync"
)

type stubDialer struct{}

func (stubDialer) Dial(context.Context, string, int, time.Duration) (ports.TerminalClient, error) {
	return nil, context.DeadlineExceeded
}

type stubGateway struct{}

func (stubGateway) Authenticate(context.Context, string, string) (ports.PayrollSession, error) {
	return ports.PayrollSession{Token: "tok"}, nil
}

func (stubGateway) SubmitBatch(context.Context, string, []ports.PayrollEntry) (ports.BatchResult, error) {
	return ports.BatchResult{}, nil
}

func setupGateway(t *testing.T) (*Server, *syncuc.Service, *httptest.Server) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "ledger.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&model.Employee{},
		&model.AttendanceEvent{},
		&model.Terminal{},
		&model.SyncRun{},
		&model.SettingKV{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	if err := db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_terminals_live_addr ON terminals(host, port) WHERE deleted_at IS NULL",
	).Error; err != nil {
		t.Fatalf("create terminal index: %v", err)
	}

	cfg := config.Config{
		Terminal:  config.TerminalConfig{ConnectTimeoutSeconds: 1, DefaultPort: 4370},
		Scheduler: config.SchedulerConfig{RetentionDays: 60},
		Gateway:   config.GatewayConfig{Enabled: true, Addr: "127.0.0.1:0"},
	}
	svc := syncuc.NewService(
		cfg,
		sqliterepo.NewLedgerRepository(db),
		sqliteuow.NewUnitOfWork(db),
		settingsinfra.NewStore(db),
		stubDialer{},
		stubGateway{},
	)
	sched := syncuc.NewScheduler(cfg, svc)

	server := NewServer(cfg.Gateway, svc, sched, svc.Ledger())
	testServer := httptest.NewServer(server.http.Handler)
	t.Cleanup(testServer.Close)

	return server, svc, testServer
}

func TestStatsEndpoint(t *testing.T) {
	_, _, ts := setupGateway(t)

	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET /api/stats error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	for _, key := range []string{"total", "synced", "pending", "errored", "terminals", "loggedIn"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("stats missing %q: %v", key, body)
		}
	}
}

func TestTerminalEndpoints(t *testing.T) {
	_, _, ts := setupGateway(t)

	payload := []byte(`{"name":"lobby","host":"10.0.0.5"}`)
	resp, err := http.Post(ts.URL+"/api/terminals", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /api/terminals error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}

	// Duplicate address conflicts.
	resp, err = http.Post(ts.URL+"/api/terminals", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST duplicate error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/terminals")
	if err != nil {
		t.Fatalf("GET /api/terminals error = %v", err)
	}
	defer resp.Body.Close()

	var terminals []ports.Terminal
	if err := json.NewDecoder(resp.Body).Decode(&terminals); err != nil {
		t.Fatalf("decode terminals: %v", err)
	}
	if len(terminals) != 1 || terminals[0].Host != "10.0.0.5" || terminals[0].Port != 4370 {
		t.Fatalf("terminals = %+v", terminals)
	}
}

func TestTriggerEndpointAccepts(t *testing.T) {
	_, svc, ts := setupGateway(t)

	resp, err := http.Post(ts.URL+"/api/sync/pull", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/sync/pull error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("trigger status = %d, want 202", resp.StatusCode)
	}

	// With no terminals the triggered run completes as a no-op success.
	deadline := time.Now().Add(2 * time.Second)
	for {
		runs, err := svc.Ledger().ListRuns(context.Background(), ports.RunKindPull, 1)
		if err != nil {
			t.Fatalf("ListRuns() error = %v", err)
		}
		if len(runs) == 1 && runs[0].Status == ports.RunStatusSuccess {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("triggered run never completed: %v", runs)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestProgressSocketStreamsEvents(t *testing.T) {
	_, svc, ts := setupGateway(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	// Give the server a moment to register the subscription.
	time.Sleep(50 * time.Millisecond)
	svc.Progress().Publish(syncuc.ProgressEvent{
		Kind:    ports.RunKindPush,
		Stage:   syncuc.StageStarted,
		Message: "hello",
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event syncuc.ProgressEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read progress event: %v", err)
	}
	if event.Kind != ports.RunKindPush || event.Stage != syncuc.StageStarted || event.Message != "hello" {
		t.Fatalf("event = %+v", event)
	}
}
