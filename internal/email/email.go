package email

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Receipt records that a provider accepted a message for delivery. It says
// nothing about whether the message reached the inbox.
type Receipt struct {
	ID         string
	Provider   string
	AcceptedAt time.Time
}

// Sender hands a message to an outbound email provider.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) (Receipt, error)
}

// LogSender accepts every message and logs its envelope. It is used when no
// provider is configured. Bodies carry bearer links and are never logged.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to, subject, htmlBody string) (Receipt, error) {
	id := uuid.NewString()
	s.logger.InfoContext(ctx, "email not sent: no provider configured",
		"message_id", id, "to", to, "subject", subject, "body_bytes", len(htmlBody))
	return Receipt{ID: id, Provider: "log", AcceptedAt: time.Now().UTC()}, nil
}
