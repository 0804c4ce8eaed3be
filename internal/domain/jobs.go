package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// InstructionJob asks the notifier to deliver manual payment instructions for
// a pending invoice. Delivery is out-of-band and does not affect the payment
// state machine.
type InstructionJob struct {
	Phone       string          `json:"phone"`
	Provider    string          `json:"provider"`
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	DialCode    string          `json:"dial_code"`
	RequestedAt time.Time       `json:"requested_at"`
}

// InstructionQueue transports instruction jobs between the API and the
// notifier worker.
type InstructionQueue interface {
	Enqueue(ctx context.Context, job InstructionJob) error
	// Pop blocks until a job is available or ctx is cancelled.
	Pop(ctx context.Context) (InstructionJob, error)
}
