package notifier

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender writes notices to the log instead of delivering them. Used
// when no bot transport is configured, and in development.
type LogSender struct {
	logger *zerolog.Logger
}

func NewLogSender(logger *zerolog.Logger) *LogSender {
	log := logger.With().Str("channel", "notification_log").Logger()
	return &LogSender{logger: &log}
}

func (s *LogSender) Send(_ context.Context, ownerID int64, text string) error {
	s.logger.Info().Int64("owner_id", ownerID).Str("text", text).Msg("notice")
	return nil
}
