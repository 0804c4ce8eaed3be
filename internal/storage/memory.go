package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"schoolpay/internal/domain"
)

// Memory keeps invoices and billing records in process memory. It backs tests
// and the simulated environment, where a one-shot timer matures each invoice
// from PENDING to PAID.
type Memory struct {
	mu         sync.RWMutex
	invoices   map[string]domain.Invoice
	records    map[string]domain.BillingRecord
	finalized  map[string]struct{}
	timers     map[string]*time.Timer
	ttl        time.Duration
	dialCode   string
	matureIn   time.Duration
	nowFn      func() time.Time
}

type MemoryOption func(*Memory)

// WithMaturation schedules the simulated PENDING→PAID transition after delay.
func WithMaturation(delay time.Duration) MemoryOption {
	return func(m *Memory) { m.matureIn = delay }
}

// WithInvoiceTTL sets how far in the future expires_at is stamped.
func WithInvoiceTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) { m.ttl = ttl }
}

// WithDialCode sets the informational dial code shown on invoices.
func WithDialCode(code string) MemoryOption {
	return func(m *Memory) { m.dialCode = code }
}

// NewMemory creates the store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		invoices:  make(map[string]domain.Invoice),
		records:   make(map[string]domain.BillingRecord),
		finalized: make(map[string]struct{}),
		timers:    make(map[string]*time.Timer),
		ttl:       15 * time.Minute,
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a PENDING invoice. A repeated reference returns the
// existing invoice unchanged, so one purchase attempt maps to one invoice.
func (m *Memory) Create(ctx context.Context, params domain.CreateInvoiceParams) (domain.Invoice, error) {
	if params.Amount.LessThanOrEqual(decimal.Zero) {
		return domain.Invoice{}, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	if params.Reference == "" {
		return domain.Invoice{}, fmt.Errorf("%w: reference is required", domain.ErrValidation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, inv := range m.invoices {
		if inv.Reference == params.Reference {
			return inv, nil
		}
	}

	now := m.nowFn()
	invoice := domain.Invoice{
		ID:          uuid.NewString(),
		PayToken:    uuid.NewString(),
		Amount:      params.Amount,
		Description: params.Description,
		Reference:   params.Reference,
		DialCode:    m.dialCode,
		Status:      domain.InvoicePending,
		ExpiresAt:   now.Add(m.ttl),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.invoices[invoice.ID] = invoice

	if m.matureIn > 0 {
		id := invoice.ID
		m.timers[id] = time.AfterFunc(m.matureIn, func() {
			_, _ = m.MarkStatus(context.Background(), id, domain.InvoicePaid)
		})
	}
	return invoice, nil
}

// Get returns the invoice or domain.ErrInvoiceNotFound.
func (m *Memory) Get(ctx context.Context, id string) (domain.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	invoice, ok := m.invoices[id]
	if !ok {
		return domain.Invoice{}, domain.ErrInvoiceNotFound
	}
	return invoice, nil
}

// MarkStatus moves a PENDING invoice to a terminal status. Invoices that
// already left PENDING are returned as-is, which makes the simulated timer
// and a provider webhook safe to race.
func (m *Memory) MarkStatus(ctx context.Context, id string, status domain.InvoiceStatus) (domain.Invoice, error) {
	if !status.Terminal() {
		return domain.Invoice{}, fmt.Errorf("%w: status %q is not terminal", domain.ErrValidation, status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	invoice, ok := m.invoices[id]
	if !ok {
		return domain.Invoice{}, domain.ErrInvoiceNotFound
	}
	if invoice.Status != domain.InvoicePending {
		return invoice, nil
	}

	now := m.nowFn()
	invoice.Status = status
	invoice.UpdatedAt = now
	if status == domain.InvoicePaid {
		paidAt := now
		invoice.PaidAt = &paidAt
	}
	m.invoices[id] = invoice

	if timer, ok := m.timers[id]; ok {
		timer.Stop()
		delete(m.timers, id)
	}
	return invoice, nil
}

// Close cancels outstanding maturation timers.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
}

// GetRecord returns the tenant's billing record or ErrBillingRecordNotFound.
func (m *Memory) GetRecord(ctx context.Context, tenantID string) (domain.BillingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[tenantID]
	if !ok {
		return domain.BillingRecord{}, domain.ErrBillingRecordNotFound
	}
	return record, nil
}

// ApplyPurchase mutates the billing record under the store lock. One
// finalization per invoice id; replays fail without touching the record.
func (m *Memory) ApplyPurchase(ctx context.Context, params domain.ApplyPurchaseParams) (domain.BillingRecord, error) {
	if params.TenantID == "" || params.InvoiceID == "" {
		return domain.BillingRecord{}, fmt.Errorf("%w: tenant id and invoice id are required", domain.ErrValidation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.finalized[params.InvoiceID]; ok {
		return domain.BillingRecord{}, domain.ErrAlreadyFinalized
	}

	now := m.nowFn()
	record, ok := m.records[params.TenantID]
	if !ok {
		record = domain.BillingRecord{TenantID: params.TenantID, CreatedAt: now}
	}

	if params.PurchaseType == domain.PurchaseTypeSubscription {
		plan := params.Plan
		if plan == "" {
			plan = params.Credits.String()
		}
		record.CurrentPlan = plan
	} else {
		record.SMSBalance = record.SMSBalance.Add(params.Credits)
	}
	record.UpdatedAt = now

	m.records[params.TenantID] = record
	m.finalized[params.InvoiceID] = struct{}{}
	return record, nil
}

var (
	_ domain.InvoiceStore = (*Memory)(nil)
	_ domain.Billing      = (*Memory)(nil)
)
