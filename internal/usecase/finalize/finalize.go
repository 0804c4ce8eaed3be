// Package finalize applies a paid purchase to the tenant's billing record
// behind an OTP check.
package finalize

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"schoolpay/internal/domain"
	"schoolpay/internal/infra/metrics"
)

type Service struct {
	log     zerolog.Logger
	otp     domain.OTPProvider
	billing domain.Billing
}

func NewService(log zerolog.Logger, otp domain.OTPProvider, billing domain.Billing) *Service {
	return &Service{
		log:     log.With().Str("component", "finalize").Logger(),
		otp:     otp,
		billing: billing,
	}
}

type Params struct {
	TenantID     string
	Phone        string
	OTP          string
	InvoiceID    string
	PurchaseType domain.PurchaseType
	Credits      decimal.Decimal
	Plan         string
}

func (p Params) validate() error {
	switch {
	case p.TenantID == "":
		return fmt.Errorf("%w: tenant id is required", domain.ErrValidation)
	case p.Phone == "":
		return fmt.Errorf("%w: phone is required", domain.ErrValidation)
	case p.OTP == "":
		return fmt.Errorf("%w: otp is required", domain.ErrValidation)
	case p.InvoiceID == "":
		return fmt.Errorf("%w: invoice id is required", domain.ErrValidation)
	case p.PurchaseType != domain.PurchaseTypeSMS && p.PurchaseType != domain.PurchaseTypeSubscription:
		return fmt.Errorf("%w: unknown purchase type %q", domain.ErrValidation, p.PurchaseType)
	case p.Credits.LessThanOrEqual(decimal.Zero):
		return fmt.Errorf("%w: credits must be positive", domain.ErrValidation)
	}
	return nil
}

// Finalize verifies the code and then applies the purchase. The code check
// comes first: a rejected code leaves the billing record untouched. The
// billing layer enforces one finalization per invoice.
func (s *Service) Finalize(ctx context.Context, params Params) (domain.BillingRecord, error) {
	if err := params.validate(); err != nil {
		return domain.BillingRecord{}, err
	}

	if err := s.otp.Verify(ctx, params.Phone, params.OTP); err != nil {
		metrics.Finalizations.WithLabelValues("otp_rejected").Inc()
		return domain.BillingRecord{}, err
	}

	record, err := s.billing.ApplyPurchase(ctx, domain.ApplyPurchaseParams{
		TenantID:     params.TenantID,
		InvoiceID:    params.InvoiceID,
		PurchaseType: params.PurchaseType,
		Credits:      params.Credits,
		Plan:         params.Plan,
	})
	if err != nil {
		metrics.Finalizations.WithLabelValues("rejected").Inc()
		return domain.BillingRecord{}, err
	}

	metrics.Finalizations.WithLabelValues("applied").Inc()
	s.log.Info().
		Str("tenant", params.TenantID).
		Str("invoice", params.InvoiceID).
		Str("type", string(params.PurchaseType)).
		Msg("purchase finalized")
	return record, nil
}
