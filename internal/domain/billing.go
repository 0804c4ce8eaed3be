package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseType selects how a finalized purchase mutates the billing record.
type PurchaseType string

const (
	PurchaseTypeSMS          PurchaseType = "sms"
	PurchaseTypeSubscription PurchaseType = "subscription"
)

// BillingRecord is the single per-tenant record of plan and prepaid credits.
type BillingRecord struct {
	TenantID    string          `json:"tenant_id"`
	CurrentPlan string          `json:"current_plan"`
	SMSBalance  decimal.Decimal `json:"sms_balance"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type ApplyPurchaseParams struct {
	TenantID     string
	InvoiceID    string
	PurchaseType PurchaseType
	Credits      decimal.Decimal
	Plan         string
}

// Billing mutates the billing record. ApplyPurchase must run as one atomic
// read-modify-write: two concurrent sms purchases must both land in the final
// balance, and a replayed invoice id must fail with ErrAlreadyFinalized
// without touching the record.
type Billing interface {
	GetRecord(ctx context.Context, tenantID string) (BillingRecord, error)
	ApplyPurchase(ctx context.Context, params ApplyPurchaseParams) (BillingRecord, error)
}
