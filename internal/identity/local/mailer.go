package local

import (
	"context"
	"log/slog"
)

// Mailer delivers password-reset codes.
type Mailer interface {
	SendResetCode(ctx context.Context, email, code string) error
}

// LogMailer writes reset codes to the structured log instead of sending
// mail. It is the development default.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendResetCode(ctx context.Context, email, code string) error {
	m.logger.InfoContext(ctx, "password reset code issued",
		slog.String("email", email),
		slog.String("code", code),
	)
	return nil
}
