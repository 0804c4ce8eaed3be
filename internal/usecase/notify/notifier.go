// Package notify consumes instruction jobs and delivers manual payment
// instructions over SMS.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"schoolpay/internal/domain"
)

type Notifier struct {
	log   zerolog.Logger
	queue domain.InstructionQueue
	sms   domain.SMSSender
}

func NewNotifier(log zerolog.Logger, queue domain.InstructionQueue, sms domain.SMSSender) *Notifier {
	return &Notifier{
		log:   log.With().Str("component", "notifier").Logger(),
		queue: queue,
		sms:   sms,
	}
}

// Run consumes jobs until ctx is cancelled. A failed delivery is logged and
// the loop keeps going; instructions are advisory and the payment flow does
// not depend on them.
func (n *Notifier) Run(ctx context.Context) error {
	n.log.Info().Msg("worker started")
	for {
		job, err := n.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				n.log.Info().Msg("worker stopped")
				return nil
			}
			return fmt.Errorf("pop job: %w", err)
		}
		if err := n.sms.Send(ctx, []string{job.Phone}, RenderInstructions(job)); err != nil {
			n.log.Error().Err(err).
				Str("phone", job.Phone).
				Str("reference", job.Reference).
				Msg("deliver instructions failed")
			continue
		}
		n.log.Info().Str("phone", job.Phone).Str("reference", job.Reference).Msg("instructions delivered")
	}
}

// RenderInstructions builds the manual payment message for a job.
func RenderInstructions(job domain.InstructionJob) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Send GHS %s to complete your purchase.", job.Amount.StringFixed(2))
	if job.DialCode != "" {
		fmt.Fprintf(&b, " Dial %s on your %s line and choose merchant payment.", job.DialCode, strings.ToUpper(job.Provider))
	}
	fmt.Fprintf(&b, " Use reference %s.", job.Reference)
	return b.String()
}
