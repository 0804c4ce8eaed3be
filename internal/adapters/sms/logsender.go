package sms

import (
	"context"

	"github.com/rs/zerolog"

	"schoolpay/internal/domain"
)

// LogSender writes messages to the log instead of a gateway. It stands in for
// the provider in local runs where no SMS gateway is configured.
type LogSender struct {
	Log zerolog.Logger
}

func (s LogSender) Send(ctx context.Context, recipients []string, message string) error {
	s.Log.Info().Strs("recipients", recipients).Str("message", message).Msg("sms (log only)")
	return nil
}

var _ domain.SMSSender = LogSender{}
