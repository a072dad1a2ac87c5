package push

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender writes notifications to the log instead of delivering them.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "push").Logger()}
}

func (s *LogSender) Send(_ context.Context, token, title, body string, data map[string]string) error {
	if err := validate(token); err != nil {
		return err
	}
	evt := s.logger.Info().
		Str("token_suffix", tokenSuffix(token)).
		Str("title", title).
		Str("body", body)
	for k, v := range data {
		evt = evt.Str("data_"+k, v)
	}
	evt.Msg("push notification (log transport)")
	return nil
}

func (s *LogSender) Close() error { return nil }

// tokenSuffix keeps device tokens out of logs.
func tokenSuffix(token string) string {
	if len(token) <= 6 {
		return token
	}
	return "..." + token[len(token)-6:]
}
