package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"schoolpay/internal/domain"
)

func createInvoice(t *testing.T, store *Memory, amount, reference string) domain.Invoice {
	t.Helper()
	invoice, err := store.Create(context.Background(), domain.CreateInvoiceParams{
		Amount:      decimal.RequireFromString(amount),
		Description: "Test",
		Reference:   reference,
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return invoice
}

func TestCreateStartsPending(t *testing.T) {
	store := NewMemory()
	defer store.Close()

	invoice := createInvoice(t, store, "100", "ref-1")
	if invoice.Status != domain.InvoicePending {
		t.Fatalf("want PENDING, got %s", invoice.Status)
	}
	if invoice.ID == "" || invoice.PayToken == "" {
		t.Fatal("expected generated id and pay token")
	}
	if !invoice.ExpiresAt.After(invoice.CreatedAt) {
		t.Fatal("expected expires_at after created_at")
	}
}

func TestCreateIdempotentOnReference(t *testing.T) {
	store := NewMemory()
	defer store.Close()

	first := createInvoice(t, store, "100", "ref-1")
	second := createInvoice(t, store, "100", "ref-1")
	if first.ID != second.ID {
		t.Fatalf("same reference should map to one invoice, got %s and %s", first.ID, second.ID)
	}
}

func TestCreateRejectsInvalidParams(t *testing.T) {
	store := NewMemory()
	defer store.Close()

	_, err := store.Create(context.Background(), domain.CreateInvoiceParams{
		Amount:    decimal.Zero,
		Reference: "ref-1",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation for zero amount, got %v", err)
	}
	_, err = store.Create(context.Background(), domain.CreateInvoiceParams{
		Amount: decimal.NewFromInt(10),
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation for missing reference, got %v", err)
	}
}

func TestGetUnknownInvoice(t *testing.T) {
	store := NewMemory()
	defer store.Close()

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrInvoiceNotFound) {
		t.Fatalf("want ErrInvoiceNotFound, got %v", err)
	}
}

func TestMaturationMarksPaid(t *testing.T) {
	store := NewMemory(WithMaturation(20 * time.Millisecond))
	defer store.Close()

	invoice := createInvoice(t, store, "100", "ref-1")

	deadline := time.After(2 * time.Second)
	for {
		got, err := store.Get(context.Background(), invoice.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status == domain.InvoicePaid {
			if got.PaidAt == nil {
				t.Fatal("expected paid_at to be set")
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("invoice never matured, status %s", got.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestMarkStatusIdempotent(t *testing.T) {
	store := NewMemory()
	defer store.Close()

	invoice := createInvoice(t, store, "100", "ref-1")

	first, err := store.MarkStatus(context.Background(), invoice.ID, domain.InvoicePaid)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	paidAt := first.PaidAt

	second, err := store.MarkStatus(context.Background(), invoice.ID, domain.InvoicePaid)
	if err != nil {
		t.Fatalf("second mark paid: %v", err)
	}
	if second.Status != domain.InvoicePaid {
		t.Fatalf("want PAID, got %s", second.Status)
	}
	if second.PaidAt == nil || !second.PaidAt.Equal(*paidAt) {
		t.Fatal("second transition must not re-stamp paid_at")
	}
}

func TestMarkStatusNeverLeavesTerminal(t *testing.T) {
	store := NewMemory()
	defer store.Close()

	invoice := createInvoice(t, store, "100", "ref-1")
	if _, err := store.MarkStatus(context.Background(), invoice.ID, domain.InvoicePaid); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	got, err := store.MarkStatus(context.Background(), invoice.ID, domain.InvoiceFailed)
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if got.Status != domain.InvoicePaid {
		t.Fatalf("terminal status must not change, got %s", got.Status)
	}
}

func TestMarkStatusRejectsPending(t *testing.T) {
	store := NewMemory()
	defer store.Close()

	invoice := createInvoice(t, store, "100", "ref-1")
	if _, err := store.MarkStatus(context.Background(), invoice.ID, domain.InvoicePending); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation for non-terminal status, got %v", err)
	}
}

func TestConcurrentCreateAndRead(t *testing.T) {
	store := NewMemory()
	defer store.Close()

	var wg sync.WaitGroup
	ids := make([]string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			invoice := createInvoice(t, store, "10", fmt.Sprintf("ref-%d", i))
			ids[i] = invoice.ID
			if _, err := store.Get(context.Background(), invoice.ID); err != nil {
				t.Errorf("get %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate invoice id %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestApplyPurchaseAdditive(t *testing.T) {
	store := NewMemory()
	defer store.Close()

	var wg sync.WaitGroup
	for _, credits := range []int64{10, 15} {
		wg.Add(1)
		go func(credits int64) {
			defer wg.Done()
			_, err := store.ApplyPurchase(context.Background(), domain.ApplyPurchaseParams{
				TenantID:     "school-1",
				InvoiceID:    fmt.Sprintf("inv-%d", credits),
				PurchaseType: domain.PurchaseTypeSMS,
				Credits:      decimal.NewFromInt(credits),
			})
			if err != nil {
				t.Errorf("apply %d: %v", credits, err)
			}
		}(credits)
	}
	wg.Wait()

	record, err := store.GetRecord(context.Background(), "school-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if !record.SMSBalance.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("want balance 25, got %s", record.SMSBalance)
	}
}

func TestApplyPurchaseSubscriptionReplaces(t *testing.T) {
	store := NewMemory()
	defer store.Close()

	_, err := store.ApplyPurchase(context.Background(), domain.ApplyPurchaseParams{
		TenantID:     "school-1",
		InvoiceID:    "inv-1",
		PurchaseType: domain.PurchaseTypeSubscription,
		Credits:      decimal.NewFromInt(500),
		Plan:         "premium",
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	_, err = store.ApplyPurchase(context.Background(), domain.ApplyPurchaseParams{
		TenantID:     "school-1",
		InvoiceID:    "inv-2",
		PurchaseType: domain.PurchaseTypeSubscription,
		Credits:      decimal.NewFromInt(1000),
	})
	if err != nil {
		t.Fatalf("apply second: %v", err)
	}

	record, err := store.GetRecord(context.Background(), "school-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.CurrentPlan != "1000" {
		t.Fatalf("plan must be replaced, got %q", record.CurrentPlan)
	}
}

func TestApplyPurchaseRejectsReplay(t *testing.T) {
	store := NewMemory()
	defer store.Close()

	params := domain.ApplyPurchaseParams{
		TenantID:     "school-1",
		InvoiceID:    "inv-1",
		PurchaseType: domain.PurchaseTypeSMS,
		Credits:      decimal.NewFromInt(10),
	}
	if _, err := store.ApplyPurchase(context.Background(), params); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := store.ApplyPurchase(context.Background(), params); !errors.Is(err, domain.ErrAlreadyFinalized) {
		t.Fatalf("want ErrAlreadyFinalized, got %v", err)
	}

	record, err := store.GetRecord(context.Background(), "school-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if !record.SMSBalance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("replay must not change balance, got %s", record.SMSBalance)
	}
}
