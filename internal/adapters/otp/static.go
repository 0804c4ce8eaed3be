package otp

import (
	"context"
	"fmt"

	"schoolpay/internal/domain"
)

// Static accepts one fixed code. It stands in for the provider in local runs
// where no OTP gateway is configured.
type Static struct {
	Code string
}

func (s Static) Generate(ctx context.Context, phone string) error { return nil }

func (s Static) Verify(ctx context.Context, phone, code string) error {
	if code != s.Code {
		return fmt.Errorf("%w: code mismatch", domain.ErrInvalidOTP)
	}
	return nil
}

var _ domain.OTPProvider = Static{}
