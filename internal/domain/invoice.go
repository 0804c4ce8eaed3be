package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle state of a payment attempt.
type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "PENDING"
	InvoicePaid    InvoiceStatus = "PAID"
	InvoiceFailed  InvoiceStatus = "FAILED"
	InvoiceExpired InvoiceStatus = "EXPIRED"
)

// Terminal reports whether no further status transition is possible.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoicePaid || s == InvoiceFailed || s == InvoiceExpired
}

// Invoice is a short-lived record of one payment attempt. The store exclusively
// owns Status; the wizard and its polling loop only read it.
type Invoice struct {
	ID          string          `json:"id"`
	PayToken    string          `json:"pay_token"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
	DialCode    string          `json:"dial_code"`
	Status      InvoiceStatus   `json:"status"`
	ExpiresAt   time.Time       `json:"expires_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
}

type CreateInvoiceParams struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
}

// InvoiceStore keeps invoice state. Implementations must support concurrent
// Create/Get without corrupting other invoices; status is single-writer per
// invoice (the maturation timer or the provider webhook).
type InvoiceStore interface {
	Create(ctx context.Context, params CreateInvoiceParams) (Invoice, error)
	Get(ctx context.Context, id string) (Invoice, error)
	// MarkStatus applies a terminal status. It is a no-op when the invoice
	// already left PENDING, so a late timer cannot overwrite a webhook result.
	MarkStatus(ctx context.Context, id string, status InvoiceStatus) (Invoice, error)
}
