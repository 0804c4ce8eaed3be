package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WizardStep is the purchase wizard position. Steps follow the original flow:
// method selection, details + OTP, manual instructions, status polling, success.
type WizardStep int

const (
	StepSelectMethod       WizardStep = 1
	StepEnterDetails       WizardStep = 2
	StepManualInstructions WizardStep = 3
	StepPolling            WizardStep = 4
	StepSuccess            WizardStep = 5
)

// PaymentMethod is how the user chooses to pay the invoice.
type PaymentMethod string

const (
	MethodQR          PaymentMethod = "qr"
	MethodMobileMoney PaymentMethod = "momo"
)

// Bundle is what the user is buying: a credit top-up or a subscription plan.
type Bundle struct {
	Name    string          `json:"name"`
	Credits decimal.Decimal `json:"credits"`
	Price   decimal.Decimal `json:"price"`
	Type    PurchaseType    `json:"type"`
}

// PurchaseIntent is the wizard-held state for one purchase attempt. It is
// serialized under the session token so a client that lost local state can
// resume with the token alone.
type PurchaseIntent struct {
	Token     string        `json:"token"`
	TenantID  string        `json:"tenant_id"`
	Bundle    Bundle        `json:"bundle"`
	Step      WizardStep    `json:"step"`
	Method    PaymentMethod `json:"method,omitempty"`
	Provider  string        `json:"provider,omitempty"`
	Phone     string        `json:"phone,omitempty"`
	OTPSent   bool          `json:"otp_sent"`
	InvoiceID string        `json:"invoice_id,omitempty"`
	Reference string        `json:"reference,omitempty"`
	QRPayload string        `json:"qr_payload,omitempty"`
	Aborted   bool          `json:"aborted"`
	LastError string        `json:"last_error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
