package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/carebook/carebook-backend/pkg/logging"
)

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	Health()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %q, want ok", body["status"])
	}
}

func TestReadinessAllHealthy(t *testing.T) {
	handler := Readiness(logging.Default(), map[string]ReadyCheck{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return nil },
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ready" {
		t.Fatalf("status field = %q, want ready", body.Status)
	}
	if body.Components["postgres"] != "ok" || body.Components["redis"] != "ok" {
		t.Fatalf("components = %v", body.Components)
	}
}

func TestReadinessDegraded(t *testing.T) {
	handler := Readiness(logging.Default(), map[string]ReadyCheck{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" {
		t.Fatalf("status field = %q, want degraded", body.Status)
	}
	if body.Components["redis"] != "unavailable" {
		t.Fatalf("redis component = %q, want unavailable", body.Components["redis"])
	}
	if body.Components["postgres"] != "ok" {
		t.Fatalf("postgres component = %q, want ok", body.Components["postgres"])
	}
}
