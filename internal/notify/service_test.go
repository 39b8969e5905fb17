package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type capturedEmail struct {
	messages []EmailMessage
	err      error
}

func (c *capturedEmail) Send(_ context.Context, msg EmailMessage) error {
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, msg)
	return nil
}

type capturedSMS struct {
	to   []string
	body []string
	err  error
}

func (c *capturedSMS) SendSMS(_ context.Context, to, body string) error {
	if c.err != nil {
		return c.err
	}
	c.to = append(c.to, to)
	c.body = append(c.body, body)
	return nil
}

func TestSendEmailVerification(t *testing.T) {
	email := &capturedEmail{}
	svc := NewService(email, nil, "https://app.carebook.example", nil)

	err := svc.SendEmailVerification(context.Background(), "pat@example.com", "Pat", "tok-123")
	if err != nil {
		t.Fatalf("SendEmailVerification: %v", err)
	}
	if len(email.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(email.messages))
	}
	msg := email.messages[0]
	if msg.To != "pat@example.com" {
		t.Errorf("unexpected recipient %q", msg.To)
	}
	if !strings.Contains(msg.Body, "https://app.carebook.example/verify-email?token=tok-123") {
		t.Errorf("body missing verification link: %s", msg.Body)
	}
	if msg.HTML == "" {
		t.Error("expected an HTML body")
	}
}

func TestSendEmailVerificationEscapesToken(t *testing.T) {
	email := &capturedEmail{}
	svc := NewService(email, nil, "https://app.carebook.example", nil)

	if err := svc.SendEmailVerification(context.Background(), "pat@example.com", "Pat", "a b&c"); err != nil {
		t.Fatalf("SendEmailVerification: %v", err)
	}
	if !strings.Contains(email.messages[0].Body, "token=a+b%26c") {
		t.Errorf("token not query-escaped: %s", email.messages[0].Body)
	}
}

func TestSendEmailVerificationNoSenderConfigured(t *testing.T) {
	svc := NewService(nil, nil, "https://app.carebook.example", nil)
	if err := svc.SendEmailVerification(context.Background(), "pat@example.com", "Pat", "tok"); err != nil {
		t.Fatalf("missing sender should be a no-op, got %v", err)
	}
}

func TestSendEmailVerificationWrapsSendError(t *testing.T) {
	email := &capturedEmail{err: errors.New("gateway down")}
	svc := NewService(email, nil, "https://app.carebook.example", nil)

	err := svc.SendEmailVerification(context.Background(), "pat@example.com", "Pat", "tok")
	if err == nil || !strings.Contains(err.Error(), "verification email failed") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestSendPhoneVerification(t *testing.T) {
	sms := &capturedSMS{}
	svc := NewService(nil, sms, "", nil)

	if err := svc.SendPhoneVerification(context.Background(), "+15551234567", "042931"); err != nil {
		t.Fatalf("SendPhoneVerification: %v", err)
	}
	if len(sms.body) != 1 || !strings.Contains(sms.body[0], "042931") {
		t.Fatalf("code missing from SMS: %+v", sms.body)
	}
	if sms.to[0] != "+15551234567" {
		t.Fatalf("unexpected SMS recipient %q", sms.to[0])
	}
}

func TestRedactPhone(t *testing.T) {
	if got := RedactPhone("+15551234567"); got != "****4567" {
		t.Errorf("RedactPhone = %q", got)
	}
	if got := RedactPhone("123"); got != "****" {
		t.Errorf("short numbers should fully mask, got %q", got)
	}
}

func TestStubSendersNeverFail(t *testing.T) {
	if err := NewStubEmailSender(nil).Send(context.Background(), EmailMessage{To: "a@b.co"}); err != nil {
		t.Errorf("stub email: %v", err)
	}
	if err := NewStubSMSSender(nil).SendSMS(context.Background(), "+15551234567", "hi"); err != nil {
		t.Errorf("stub sms: %v", err)
	}
}

func TestSimpleSMSSender(t *testing.T) {
	var gotTo, gotFrom, gotBody string
	sender := NewSimpleSMSSender("+15550001111", func(_ context.Context, to, from, body string) error {
		gotTo, gotFrom, gotBody = to, from, body
		return nil
	}, nil)

	if err := sender.SendSMS(context.Background(), "+15551234567", "code 1"); err != nil {
		t.Fatalf("SendSMS: %v", err)
	}
	if gotTo != "+15551234567" || gotFrom != "+15550001111" || gotBody != "code 1" {
		t.Fatalf("unexpected call %q %q %q", gotTo, gotFrom, gotBody)
	}

	unconfigured := NewSimpleSMSSender("", nil, nil)
	if err := unconfigured.SendSMS(context.Background(), "+15551234567", "x"); err != nil {
		t.Fatalf("unconfigured sender should no-op, got %v", err)
	}
}
