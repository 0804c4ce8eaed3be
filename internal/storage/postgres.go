package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"schoolpay/internal/domain"
)

const queryTimeout = 5 * time.Second

// Postgres is the production invoice store and billing repository. Status
// transitions and billing mutations ride on row-level guarantees: guarded
// updates for invoices, SELECT ... FOR UPDATE plus a unique finalization
// insert for the billing record.
type Postgres struct {
	pool     *pgxpool.Pool
	ttl      time.Duration
	dialCode string
}

type PostgresOption func(*Postgres)

// WithPostgresInvoiceTTL sets how far in the future expires_at is stamped.
func WithPostgresInvoiceTTL(ttl time.Duration) PostgresOption {
	return func(p *Postgres) { p.ttl = ttl }
}

// WithPostgresDialCode sets the informational dial code shown on invoices.
func WithPostgresDialCode(code string) PostgresOption {
	return func(p *Postgres) { p.dialCode = code }
}

// NewPostgres creates the store.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) *Postgres {
	p := &Postgres{pool: pool, ttl: 15 * time.Minute}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Postgres) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), queryTimeout)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, queryTimeout)
}

// Create registers a PENDING invoice. A repeated reference returns the
// existing invoice.
func (p *Postgres) Create(ctx context.Context, params domain.CreateInvoiceParams) (domain.Invoice, error) {
	if params.Amount.LessThanOrEqual(decimal.Zero) {
		return domain.Invoice{}, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	if params.Reference == "" {
		return domain.Invoice{}, fmt.Errorf("%w: reference is required", domain.ErrValidation)
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	row := p.pool.QueryRow(ctx, `
INSERT INTO invoices (id, pay_token, amount, description, reference, dial_code, expires_at)
VALUES ($1, $2, $3, NULLIF($4,''), $5, $6, now() + $7)
ON CONFLICT (reference) DO NOTHING
RETURNING id, pay_token, amount, description, reference, dial_code, status, expires_at, created_at, updated_at, paid_at
`, uuid.NewString(), uuid.NewString(), params.Amount, params.Description, params.Reference, p.dialCode, p.ttl)
	invoice, err := scanInvoice(row)
	if err == nil {
		return invoice, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Invoice{}, err
	}
	return p.getByReference(ctx, params.Reference)
}

// Get returns the invoice or domain.ErrInvoiceNotFound.
func (p *Postgres) Get(ctx context.Context, id string) (domain.Invoice, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	row := p.pool.QueryRow(ctx, `
SELECT id, pay_token, amount, description, reference, dial_code, status, expires_at, created_at, updated_at, paid_at
FROM invoices
WHERE id = $1
`, id)
	invoice, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Invoice{}, domain.ErrInvoiceNotFound
		}
		return domain.Invoice{}, err
	}
	return invoice, nil
}

// MarkStatus moves a PENDING invoice to a terminal status; anything already
// terminal is left untouched and returned as stored.
func (p *Postgres) MarkStatus(ctx context.Context, id string, status domain.InvoiceStatus) (domain.Invoice, error) {
	if !status.Terminal() {
		return domain.Invoice{}, fmt.Errorf("%w: status %q is not terminal", domain.ErrValidation, status)
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	row := p.pool.QueryRow(ctx, `
UPDATE invoices
SET status = $2,
    paid_at = CASE WHEN $2 = 'PAID' THEN now() ELSE paid_at END,
    updated_at = now()
WHERE id = $1 AND status = 'PENDING'
RETURNING id, pay_token, amount, description, reference, dial_code, status, expires_at, created_at, updated_at, paid_at
`, id, string(status))
	invoice, err := scanInvoice(row)
	if err == nil {
		return invoice, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Invoice{}, err
	}
	return p.Get(ctx, id)
}

func (p *Postgres) getByReference(ctx context.Context, reference string) (domain.Invoice, error) {
	row := p.pool.QueryRow(ctx, `
SELECT id, pay_token, amount, description, reference, dial_code, status, expires_at, created_at, updated_at, paid_at
FROM invoices
WHERE reference = $1
`, reference)
	invoice, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Invoice{}, domain.ErrInvoiceNotFound
		}
		return domain.Invoice{}, err
	}
	return invoice, nil
}

// GetRecord returns the tenant's billing record or ErrBillingRecordNotFound.
func (p *Postgres) GetRecord(ctx context.Context, tenantID string) (domain.BillingRecord, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	row := p.pool.QueryRow(ctx, `
SELECT tenant_id, current_plan, sms_balance, created_at, updated_at
FROM billing_records
WHERE tenant_id = $1
`, tenantID)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BillingRecord{}, domain.ErrBillingRecordNotFound
		}
		return domain.BillingRecord{}, err
	}
	return record, nil
}

// ApplyPurchase runs the read-modify-write as one transaction: the unique
// finalization insert rejects replays, the row lock serializes concurrent
// balance increments.
func (p *Postgres) ApplyPurchase(ctx context.Context, params domain.ApplyPurchaseParams) (domain.BillingRecord, error) {
	if params.TenantID == "" || params.InvoiceID == "" {
		return domain.BillingRecord{}, fmt.Errorf("%w: tenant id and invoice id are required", domain.ErrValidation)
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.BillingRecord{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var finalizedID string
	err = tx.QueryRow(ctx, `
INSERT INTO purchase_finalizations (invoice_id, tenant_id, purchase_type, credits)
VALUES ($1, $2, $3, $4)
ON CONFLICT (invoice_id) DO NOTHING
RETURNING invoice_id
`, params.InvoiceID, params.TenantID, string(params.PurchaseType), params.Credits).Scan(&finalizedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = domain.ErrAlreadyFinalized
		}
		return domain.BillingRecord{}, err
	}

	_, err = tx.Exec(ctx, `
INSERT INTO billing_records (tenant_id)
VALUES ($1)
ON CONFLICT (tenant_id) DO NOTHING
`, params.TenantID)
	if err != nil {
		return domain.BillingRecord{}, err
	}

	row := tx.QueryRow(ctx, `
SELECT tenant_id, current_plan, sms_balance, created_at, updated_at
FROM billing_records
WHERE tenant_id = $1
FOR UPDATE
`, params.TenantID)
	record, err := scanRecord(row)
	if err != nil {
		return domain.BillingRecord{}, err
	}

	if params.PurchaseType == domain.PurchaseTypeSubscription {
		plan := params.Plan
		if plan == "" {
			plan = params.Credits.String()
		}
		record.CurrentPlan = plan
		_, err = tx.Exec(ctx, `
UPDATE billing_records SET current_plan = $2, updated_at = now() WHERE tenant_id = $1
`, params.TenantID, plan)
	} else {
		record.SMSBalance = record.SMSBalance.Add(params.Credits)
		_, err = tx.Exec(ctx, `
UPDATE billing_records SET sms_balance = sms_balance + $2, updated_at = now() WHERE tenant_id = $1
`, params.TenantID, params.Credits)
	}
	if err != nil {
		return domain.BillingRecord{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return domain.BillingRecord{}, err
	}
	return record, nil
}

func scanInvoice(row pgx.Row) (domain.Invoice, error) {
	var (
		invoice     domain.Invoice
		description *string
		status      string
	)
	err := row.Scan(&invoice.ID, &invoice.PayToken, &invoice.Amount, &description, &invoice.Reference,
		&invoice.DialCode, &status, &invoice.ExpiresAt, &invoice.CreatedAt, &invoice.UpdatedAt, &invoice.PaidAt)
	if err != nil {
		return domain.Invoice{}, err
	}
	if description != nil {
		invoice.Description = *description
	}
	invoice.Status = domain.InvoiceStatus(status)
	return invoice, nil
}

func scanRecord(row pgx.Row) (domain.BillingRecord, error) {
	var (
		record domain.BillingRecord
		plan   *string
	)
	err := row.Scan(&record.TenantID, &plan, &record.SMSBalance, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return domain.BillingRecord{}, err
	}
	if plan != nil {
		record.CurrentPlan = *plan
	}
	return record, nil
}

var (
	_ domain.InvoiceStore = (*Postgres)(nil)
	_ domain.Billing      = (*Postgres)(nil)
)
