package notify

import (
	"context"

	"github.com/rs/zerolog"

	"btcalert/internal/threshold"
)

// Surface is the platform notification channel.
type Surface interface {
	Show(ctx context.Context, payload threshold.Payload) error
}

// LogSurface writes notifications to the log only.
type LogSurface struct {
	logger zerolog.Logger
}

// NewLogSurface constructs a log-only surface.
func NewLogSurface(logger zerolog.Logger) *LogSurface {
	return &LogSurface{logger: logger.With().Str("component", "notify_log").Logger()}
}

// Show logs the payload at warn level so it stands out.
func (l *LogSurface) Show(ctx context.Context, payload threshold.Payload) error {
	l.logger.Warn().Str("title", payload.Title).Str("body", payload.Body).Msg("notification")
	return nil
}

var _ Surface = (*LogSurface)(nil)
