package finalize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"schoolpay/internal/domain"
	"schoolpay/internal/storage"
)

type fakeOTP struct {
	code string
}

func (f *fakeOTP) Generate(ctx context.Context, phone string) error { return nil }

func (f *fakeOTP) Verify(ctx context.Context, phone, code string) error {
	if code != f.code {
		return fmt.Errorf("%w: code mismatch", domain.ErrInvalidOTP)
	}
	return nil
}

func newService(t *testing.T) (*Service, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	t.Cleanup(store.Close)
	return NewService(zerolog.Nop(), &fakeOTP{code: "123456"}, store), store
}

func smsParams(invoiceID string, credits int64) Params {
	return Params{
		TenantID:     "school-1",
		Phone:        "+233200000000",
		OTP:          "123456",
		InvoiceID:    invoiceID,
		PurchaseType: domain.PurchaseTypeSMS,
		Credits:      decimal.NewFromInt(credits),
	}
}

func TestFinalizeAddsCredits(t *testing.T) {
	svc, _ := newService(t)

	record, err := svc.Finalize(context.Background(), smsParams("inv-1", 100))
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !record.SMSBalance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("want balance 100, got %s", record.SMSBalance)
	}
}

func TestFinalizeRejectedOTPLeavesRecordUntouched(t *testing.T) {
	svc, store := newService(t)

	if _, err := svc.Finalize(context.Background(), smsParams("inv-1", 100)); err != nil {
		t.Fatalf("seed finalize: %v", err)
	}

	params := smsParams("inv-2", 50)
	params.OTP = "000000"
	if _, err := svc.Finalize(context.Background(), params); !errors.Is(err, domain.ErrInvalidOTP) {
		t.Fatalf("want ErrInvalidOTP, got %v", err)
	}

	record, err := store.GetRecord(context.Background(), "school-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if !record.SMSBalance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("rejected code must not mutate the record, got %s", record.SMSBalance)
	}
}

func TestFinalizeConcurrentPurchasesAreAdditive(t *testing.T) {
	svc, store := newService(t)

	var wg sync.WaitGroup
	for i, credits := range []int64{10, 15} {
		wg.Add(1)
		go func(i int, credits int64) {
			defer wg.Done()
			if _, err := svc.Finalize(context.Background(), smsParams(fmt.Sprintf("inv-%d", i), credits)); err != nil {
				t.Errorf("finalize %d: %v", i, err)
			}
		}(i, credits)
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

func TestFinalizeSubscriptionReplacesPlan(t *testing.T) {
	svc, store := newService(t)

	params := Params{
		TenantID:     "school-1",
		Phone:        "+233200000000",
		OTP:          "123456",
		InvoiceID:    "inv-1",
		PurchaseType: domain.PurchaseTypeSubscription,
		Credits:      decimal.NewFromInt(500),
		Plan:         "premium",
	}
	if _, err := svc.Finalize(context.Background(), params); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	record, err := store.GetRecord(context.Background(), "school-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.CurrentPlan != "premium" {
		t.Fatalf("want plan premium, got %q", record.CurrentPlan)
	}
}

func TestFinalizeRejectsReplay(t *testing.T) {
	svc, _ := newService(t)

	if _, err := svc.Finalize(context.Background(), smsParams("inv-1", 100)); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := svc.Finalize(context.Background(), smsParams("inv-1", 100)); !errors.Is(err, domain.ErrAlreadyFinalized) {
		t.Fatalf("want ErrAlreadyFinalized, got %v", err)
	}
}

func TestFinalizeRejectsInvalidParams(t *testing.T) {
	svc, _ := newService(t)

	params := smsParams("inv-1", 100)
	params.Credits = decimal.Zero
	if _, err := svc.Finalize(context.Background(), params); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation for zero credits, got %v", err)
	}

	params = smsParams("inv-1", 100)
	params.PurchaseType = "coupon"
	if _, err := svc.Finalize(context.Background(), params); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation for unknown type, got %v", err)
	}
}
