package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/carebook/carebook-backend/internal/booking"
)

var _ booking.ConfirmationSender = (*Service)(nil)

// SendBookingConfirmation delivers the booked-appointment email. Times
// render in UTC; the appointment payload in the API response carries the
// instants for clients that localize.
func (s *Service) SendBookingConfirmation(ctx context.Context, c booking.Confirmation) error {
	if s.email == nil {
		s.logger.Debug("notify: email sender not configured, skipping booking confirmation", "reference", c.Reference)
		return nil
	}

	kind := strings.ReplaceAll(c.Type, "_", " ")
	when := c.StartAt.UTC().Format("Monday, January 2, 2006 at 15:04 MST")
	until := c.EndAt.UTC().Format("15:04 MST")

	body := fmt.Sprintf(`Hi %s,

Your %s appointment is confirmed for %s (until %s).

Booking reference: %s

Keep the reference handy if you need to cancel. You can review your
appointments any time from your Carebook account.

— Carebook`, c.ToName, kind, when, until, c.Reference)

	html := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2>Appointment confirmed</h2>
<p>Hi %s, your %s appointment is confirmed for <strong>%s</strong> (until %s).</p>
<p style="margin: 24px 0; font-size: 15px;">Booking reference: <strong>%s</strong></p>
<p style="color: #6b7280; font-size: 13px;">Keep the reference handy if you need to cancel. You can review your appointments any time from your Carebook account.</p>
</div>`, c.ToName, kind, when, until, c.Reference)

	msg := EmailMessage{
		To:      c.To,
		ToName:  c.ToName,
		Subject: "Your Carebook appointment is confirmed",
		Body:    body,
		HTML:    html,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: booking confirmation failed: %w", err)
	}
	s.logger.Info("booking confirmation sent", "reference", c.Reference)
	return nil
}
