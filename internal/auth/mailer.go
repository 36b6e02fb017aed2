package auth

import (
	"context"
	"log/slog"
)

// Mailer delivers outbound account emails.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, link string) error
}

// LogMailer writes messages to the structured log instead of sending them.
type LogMailer struct{}

// SendPasswordReset logs the reset link for the given recipient.
func (LogMailer) SendPasswordReset(_ context.Context, to, link string) error {
	slog.Info("password reset requested", "to", to, "link", link)
	return nil
}
