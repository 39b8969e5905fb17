package bootstrap

import (
	"context"
	"testing"

	appconfig "github.com/carebook/carebook-backend/internal/config"
	"github.com/carebook/carebook-backend/pkg/logging"
)

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(context.Background(), nil, logging.Default()); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNewRequiresDatabaseURL(t *testing.T) {
	cfg := &appconfig.Config{}
	if _, err := New(context.Background(), cfg, logging.Default()); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestBuildMailerNeverReturnsNil(t *testing.T) {
	ctx := context.Background()
	providers := []string{"", "stub", "sendgrid", "carrier-pigeon"}
	for _, p := range providers {
		cfg := &appconfig.Config{EmailProvider: p}
		if svc := BuildMailer(ctx, cfg, logging.Default()); svc == nil {
			t.Fatalf("provider %q: expected a mailer", p)
		}
	}

	// A configured key builds the real sender without dialing out.
	cfg := &appconfig.Config{
		EmailProvider:    "sendgrid",
		SendGridAPIKey:   "SG.test",
		EmailFromAddress: "care@carebook.example",
		EmailFromName:    "CareBook",
	}
	if svc := BuildMailer(ctx, cfg, logging.Default()); svc == nil {
		t.Fatal("expected a mailer for configured sendgrid")
	}

	// Twilio with partial credentials falls back to the stub; complete
	// credentials build the real sender. Neither nils the service.
	for _, cfg := range []*appconfig.Config{
		{SMSProvider: "twilio"},
		{SMSProvider: "twilio", TwilioAccountSID: "AC0", TwilioAuthToken: "tok", TwilioFromNumber: "+15550001111"},
	} {
		if svc := BuildMailer(ctx, cfg, logging.Default()); svc == nil {
			t.Fatalf("sms provider %q: expected a mailer", cfg.SMSProvider)
		}
	}
}
