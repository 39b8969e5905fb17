package notify

import (
	"context"
	"fmt"
	"net/url"

	"github.com/carebook/carebook-backend/pkg/logging"
)

// SMSSender sends text messages. The stub implementation is the default;
// a real gateway slots in without touching callers.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Service builds and delivers the verification messages patients receive
// after registration. Delivery is best-effort: callers log failures and
// move on, they never fail the business flow.
type Service struct {
	email   EmailSender
	sms     SMSSender
	baseURL string
	logger  *logging.Logger
}

// NewService wires the message service. baseURL is the public web origin
// verification links point at.
func NewService(email EmailSender, sms SMSSender, baseURL string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:   email,
		sms:     sms,
		baseURL: baseURL,
		logger:  logger,
	}
}

// SendEmailVerification delivers the verify-your-address email carrying
// the single-use token.
func (s *Service) SendEmailVerification(ctx context.Context, to, toName, token string) error {
	if s.email == nil {
		s.logger.Debug("notify: email sender not configured, skipping verification email", "to", to)
		return nil
	}

	link := fmt.Sprintf("%s/verify-email?token=%s", s.baseURL, url.QueryEscape(token))
	body := fmt.Sprintf(`Hi %s,

Welcome to Carebook. Please confirm your email address so you can sign in
and book appointments:

%s

The link expires in 24 hours. If you didn't create this account you can
ignore this message.

— Carebook`, toName, link)

	html := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2>Welcome to Carebook</h2>
<p>Hi %s, please confirm your email address so you can sign in and book appointments.</p>
<p style="margin: 24px 0;">
  <a href="%s" style="background: #2563eb; color: #fff; padding: 12px 20px; border-radius: 8px; text-decoration: none;">Verify email</a>
</p>
<p style="color: #6b7280; font-size: 13px;">The link expires in 24 hours. If you didn't create this account you can ignore this message.</p>
</div>`, toName, link)

	msg := EmailMessage{
		To:      to,
		ToName:  toName,
		Subject: "Verify your Carebook email",
		Body:    body,
		HTML:    html,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: verification email failed: %w", err)
	}
	s.logger.Info("verification email sent", "to", to)
	return nil
}

// SendPhoneVerification delivers the one-time code by SMS.
func (s *Service) SendPhoneVerification(ctx context.Context, to, code string) error {
	if s.sms == nil {
		s.logger.Debug("notify: SMS sender not configured, skipping verification code", "to", to)
		return nil
	}
	body := fmt.Sprintf("Your Carebook verification code is %s. It expires in 5 minutes.", code)
	if err := s.sms.SendSMS(ctx, to, body); err != nil {
		return fmt.Errorf("notify: verification SMS failed: %w", err)
	}
	s.logger.Info("verification code sent", "to", RedactPhone(to))
	return nil
}

// RedactPhone keeps the last four digits for logs.
func RedactPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}

// SimpleSMSSender adapts a bare send function into an SMSSender, useful
// for wiring gateway SDKs without a dedicated type.
type SimpleSMSSender struct {
	sendFunc func(ctx context.Context, to, from, body string) error
	from     string
	logger   *logging.Logger
}

// NewSimpleSMSSender creates an SMS sender with a custom send function.
func NewSimpleSMSSender(from string, sendFunc func(ctx context.Context, to, from, body string) error, logger *logging.Logger) *SimpleSMSSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &SimpleSMSSender{
		sendFunc: sendFunc,
		from:     from,
		logger:   logger,
	}
}

// SendSMS sends an SMS message.
func (s *SimpleSMSSender) SendSMS(ctx context.Context, to, body string) error {
	if s.sendFunc == nil {
		s.logger.Warn("notify: SMS sender not configured")
		return nil
	}
	return s.sendFunc(ctx, to, s.from, body)
}

// StubSMSSender is a no-op sender for development and tests.
type StubSMSSender struct {
	logger *logging.Logger
}

// NewStubSMSSender creates a stub SMS sender.
func NewStubSMSSender(logger *logging.Logger) *StubSMSSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubSMSSender{logger: logger}
}

// SendSMS logs but doesn't send.
func (s *StubSMSSender) SendSMS(ctx context.Context, to, body string) error {
	s.logger.Info("stub SMS sender: would send", "to", RedactPhone(to), "body_preview", truncate(body, 50))
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Ensure interface compliance
var _ SMSSender = (*SimpleSMSSender)(nil)
var _ SMSSender = (*StubSMSSender)(nil)
