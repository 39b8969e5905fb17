package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/carebook/carebook-backend/internal/security"
	"github.com/carebook/carebook-backend/pkg/logging"
)

type recordedEvents struct {
	events []*security.Event
}

func (r *recordedEvents) Record(_ context.Context, event *security.Event) error {
	r.events = append(r.events, event)
	return nil
}

func newTestHandler(t *testing.T) (*Handler, pgxmock.PgxPoolIface, *recordedEvents) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	trail := &recordedEvents{}
	svc := NewService(NewStore(mock), trail, logging.Default())
	return NewHandler(svc, logging.Default()), mock, trail
}

func TestRegisterHandlerCreated(t *testing.T) {
	handler, mock, trail := newTestHandler(t)

	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO providers").
		WithArgs(pgxmock.AnyArg(), "Dana", "Reyes", "dana.reyes@example.com",
			"+15551234567", pgxmock.AnyArg(), "Cardiology", "MD12345", 12,
			"500 Harbor Ave", "Seattle", "WA", "98116", true).
		WillReturnRows(mock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	body, _ := json.Marshal(map[string]any{
		"first_name":          "Dana",
		"last_name":           "Reyes",
		"email":               "Dana.Reyes@Example.com",
		"phone_number":        "+15551234567",
		"password":            "correcthorse1",
		"confirm_password":    "correcthorse1",
		"specialization":      "Cardiology",
		"license_number":      "md12345",
		"years_of_experience": 12,
		"clinic_address": map[string]string{
			"street": "500 Harbor Ave",
			"city":   "Seattle",
			"state":  "WA",
			"zip":    "98116",
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/provider/register", bytes.NewReader(body))
	req.Header.Set("User-Agent", "carebook-test/1")
	w := httptest.NewRecorder()

	handler.Register(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success  bool      `json:"success"`
		Provider *Provider `json:"provider"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatal("expected success envelope")
	}
	if resp.Provider.Email != "dana.reyes@example.com" {
		t.Fatalf("email not case-folded: %q", resp.Provider.Email)
	}
	if resp.Provider.LicenseNumber != "MD12345" {
		t.Fatalf("license not uppercased: %q", resp.Provider.LicenseNumber)
	}
	if strings.Contains(w.Body.String(), "argon2id") {
		t.Fatal("response leaked the password hash")
	}

	if len(trail.events) != 1 || trail.events[0].Kind != security.EventRegistration {
		t.Fatalf("expected one registration event, got %+v", trail.events)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRegisterHandlerValidationSkipsDatabase(t *testing.T) {
	handler, mock, _ := newTestHandler(t)

	body, _ := json.Marshal(map[string]any{
		"first_name": "Dana",
		"email":      "not-an-email",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/provider/register", bytes.NewReader(body))
	w := httptest.NewRecorder()

	handler.Register(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp struct {
		Success bool                `json:"success"`
		Errors  map[string][]string `json:"errors"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success {
		t.Fatal("expected failure envelope")
	}
	if _, ok := resp.Errors["email"]; !ok {
		t.Fatalf("expected email violation, got %+v", resp.Errors)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("database should not have been touched: %v", err)
	}
}

func TestRegisterHandlerDuplicateEmail(t *testing.T) {
	handler, mock, _ := newTestHandler(t)

	mock.ExpectQuery("INSERT INTO providers").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "providers_email_key"})

	body, _ := json.Marshal(validRegisterRequest())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/provider/register", bytes.NewReader(body))
	w := httptest.NewRecorder()

	handler.Register(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error_code"] != "conflict" {
		t.Fatalf("unexpected error code %v", resp["error_code"])
	}
}

func TestRegisterHandlerInvalidJSON(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/provider/register", strings.NewReader("{"))
	w := httptest.NewRecorder()

	handler.Register(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
