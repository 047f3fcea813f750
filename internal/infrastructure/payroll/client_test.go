package payroll

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"biosync/internal/bootstrap/config"
	"biosync/internal/ports"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(config.PayrollConfig{
		BaseURL:            server.URL,
		AuthTimeoutSeconds: 5,
		SyncTimeoutSeconds: 5,
	})
	return client, server
}

func TestAuthenticateSuccess(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode auth request: %v", err)
		}
		if body.Username != "operator" || body.Password != "secret" {
			t.Errorf("auth request = %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"token":     "tok-123",
			"principal": "Operator One",
			"org":       "ACME",
		})
	}))

	session, err := client.Authenticate(context.Background(), "operator", "secret")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if session.Token != "tok-123" || session.Principal != "Operator One" || session.Org != "ACME" {
		t.Fatalf("session = %+v", session)
	}
}

func TestAuthenticateRejectedCredentials(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "bad password"})
	}))

	_, err := client.Authenticate(context.Background(), "operator", "wrong")
	if !errors.Is(err, ports.ErrPayrollCredentials) {
		t.Fatalf("Authenticate() error = %v, want ErrPayrollCredentials", err)
	}
}

func TestSubmitBatchCarriesTokenAndFlags(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sync" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("authorization header = %q", got)
		}
		var body struct {
			FromBiometrics    bool                 `json:"fromBiometrics"`
			FromLegacyMapping bool                 `json:"fromLegacyMapping"`
			Entries           []ports.PayrollEntry `json:"entries"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode sync request: %v", err)
		}
		if !body.FromBiometrics || !body.FromLegacyMapping {
			t.Errorf("source flags = %+v", body)
		}
		if len(body.Entries) != 2 || body.Entries[0].Direction != "IN" {
			t.Errorf("entries = %+v", body.Entries)
		}
		_ = json.NewEncoder(w).Encode(ports.BatchResult{
			AcceptedIDs: []uint64{1},
			Rejected:    []ports.RejectedEntry{{ID: 2, Reason: "duplicate"}},
		})
	}))

	result, err := client.SubmitBatch(context.Background(), "tok-123", []ports.PayrollEntry{
		{ID: 1, EmployeeCode: "E001", Time: "08:30:00", Direction: "IN", SyncID: "ZK_1_E001_20260314083000", Date: "2026-03-14"},
		{ID: 2, EmployeeCode: "E002", Time: "17:00:00", Direction: "OUT", SyncID: "ZK_1_E002_20260314170000", Date: "2026-03-14"},
	})
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if len(result.AcceptedIDs) != 1 || result.AcceptedIDs[0] != 1 {
		t.Fatalf("accepted = %v", result.AcceptedIDs)
	}
	if len(result.Rejected) != 1 || result.Rejected[0].Reason != "duplicate" {
		t.Fatalf("rejected = %v", result.Rejected)
	}
}

func TestSubmitBatchUnauthorized(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.SubmitBatch(context.Background(), "stale", []ports.PayrollEntry{{ID: 1}})
	if !errors.Is(err, ports.ErrPayrollUnauthorized) {
		t.Fatalf("SubmitBatch() error = %v, want ErrPayrollUnauthorized", err)
	}
}

func TestSubmitBatchPartialAcceptOn400(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(ports.BatchResult{
			AcceptedIDs: []uint64{1},
			Rejected:    []ports.RejectedEntry{{ID: 2, Reason: "malformed"}},
		})
	}))

	result, err := client.SubmitBatch(context.Background(), "tok", []ports.PayrollEntry{{ID: 1}, {ID: 2}})
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v, a 400 with accepted ids is a partial success", err)
	}
	if len(result.AcceptedIDs) != 1 || len(result.Rejected) != 1 {
		t.Fatalf("result = %+v", result)
	}
}

func TestSubmitBatchPlain400IsBatchFailure(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "schema mismatch"})
	}))

	_, err := client.SubmitBatch(context.Background(), "tok", []ports.PayrollEntry{{ID: 1}})
	if err == nil {
		t.Fatalf("SubmitBatch() expected batch-level error")
	}
	if errors.Is(err, ports.ErrPayrollUnauthorized) {
		t.Fatalf("SubmitBatch() error = %v, must not look like a token rejection", err)
	}
}

func TestServerErrorIsBatchFailure(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	if _, err := client.SubmitBatch(context.Background(), "tok", []ports.PayrollEntry{{ID: 1}}); err == nil {
		t.Fatalf("SubmitBatch() expected error on 502")
	}
}
