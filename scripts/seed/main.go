// Seeds a running carebook API with demo data: one provider, one
// patient, and a published availability window a week out.
//
// Usage:
//
//	API_BASE_URL=http://localhost:8080 go run scripts/seed/main.go
//
// Reruns are safe: existing accounts and overlapping windows are
// reported and skipped.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	providerEmail    = "dr.okafor@carebook.example"
	providerPassword = "SeedProvider2026!"
	patientEmail     = "dana.hart@carebook.example"
	patientPassword  = "SeedPatient2026!"
)

var (
	apiBase string
	client  = &http.Client{Timeout: 30 * time.Second}
)

func main() {
	apiBase = os.Getenv("API_BASE_URL")
	if apiBase == "" {
		apiBase = "http://localhost:8080"
	}
	fmt.Printf("Seeding %s\n", apiBase)

	seedProvider()
	seedPatient()

	token := loginProvider()
	publishAvailability(token)

	fmt.Println("Done.")
}

func seedProvider() {
	status, body := post("/api/v1/provider/register", map[string]any{
		"first_name":          "Maya",
		"last_name":           "Okafor",
		"email":               providerEmail,
		"phone_number":        "+15550100001",
		"password":            providerPassword,
		"confirm_password":    providerPassword,
		"specialization":      "Cardiology",
		"license_number":      "MD884200",
		"years_of_experience": 12,
		"clinic_address": map[string]any{
			"street": "200 Harbor Ave",
			"city":   "Portland",
			"state":  "OR",
			"zip":    "97209",
		},
	}, "")

	switch status {
	case http.StatusCreated:
		fmt.Printf("Provider registered: %s\n", providerEmail)
	case http.StatusConflict:
		fmt.Printf("Provider already exists: %s\n", providerEmail)
	default:
		fail("provider registration", status, body)
	}
}

func seedPatient() {
	status, body := post("/api/v1/patient/register", map[string]any{
		"first_name":       "Dana",
		"last_name":        "Hart",
		"email":            patientEmail,
		"phone":            "+15550100002",
		"password":         patientPassword,
		"confirm_password": patientPassword,
		"date_of_birth":    "1991-07-14",
		"gender":           "female",
		"address": map[string]any{
			"street": "77 Cedar St",
			"city":   "Portland",
			"state":  "OR",
			"zip":    "97214",
		},
		"medical_history": []string{"asthma"},
		"consents": map[string]any{
			"hipaa":          true,
			"marketing":      false,
			"data_retention": true,
		},
	}, "")

	switch status {
	case http.StatusCreated:
		fmt.Printf("Patient registered: %s (verification token is in the server log)\n", patientEmail)
	case http.StatusConflict:
		fmt.Printf("Patient already exists: %s\n", patientEmail)
	default:
		fail("patient registration", status, body)
	}
}

func loginProvider() string {
	status, body := post("/api/v1/provider/login", map[string]any{
		"identifier": providerEmail,
		"password":   providerPassword,
	}, "")
	if status != http.StatusOK {
		fail("provider login", status, body)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		fmt.Println("Error: login response carried no access token")
		os.Exit(1)
	}
	return token
}

func publishAvailability(token string) {
	date := time.Now().AddDate(0, 0, 7).Format("2006-01-02")
	status, body := post("/api/v1/provider/availability", map[string]any{
		"date":                   date,
		"start_time":             "09:00",
		"end_time":               "12:00",
		"timezone":               "America/Los_Angeles",
		"slot_duration_minutes":  30,
		"break_duration_minutes": 0,
		"appointment_type":       "consultation",
		"location": map[string]any{
			"type":    "clinic",
			"address": "200 Harbor Ave, Portland OR",
			"room":    "2B",
		},
		"pricing": map[string]any{
			"base_fee_cents":     15000,
			"insurance_accepted": true,
			"currency":           "USD",
		},
	}, token)

	switch status {
	case http.StatusCreated:
		pretty, _ := json.MarshalIndent(body, "", "  ")
		fmt.Printf("Availability published for %s:\n%s\n", date, string(pretty))
	case http.StatusConflict:
		fmt.Printf("Availability for %s already published, skipping\n", date)
	default:
		fail("availability publish", status, body)
	}
}

func post(path string, payload map[string]any, bearer string) (int, map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		fmt.Printf("Error encoding %s payload: %v\n", path, err)
		os.Exit(1)
	}
	req, err := http.NewRequest(http.MethodPost, apiBase+path, bytes.NewReader(raw))
	if err != nil {
		fmt.Printf("Error creating request for %s: %v\n", path, err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error calling %s: %v (is the server running?)\n", path, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var out map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			out = map[string]any{"raw": string(body)}
		}
	}
	return resp.StatusCode, out
}

func fail(step string, status int, body map[string]any) {
	pretty, _ := json.MarshalIndent(body, "", "  ")
	fmt.Printf("Error: %s returned HTTP %d\n%s\n", step, status, string(pretty))
	os.Exit(1)
}
