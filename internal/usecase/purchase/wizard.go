// Package purchase drives the multi-step purchase wizard: method selection,
// payer details with OTP, manual payment instructions, and invoice polling.
package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"schoolpay/internal/domain"
	"schoolpay/internal/ghqr"
	"schoolpay/internal/infra/metrics"
)

// Wizard owns purchase sessions. Each session is a serialized PurchaseIntent
// in the session cache, so any instance holding the token can continue the
// flow; the polling goroutine is the only in-process state.
type Wizard struct {
	log      zerolog.Logger
	invoices domain.InvoiceStore
	otp      domain.OTPProvider
	queue    domain.InstructionQueue
	sessions domain.SessionCache
	encoder  ghqr.Encoder

	pollInterval time.Duration
	pollTimeout  time.Duration
	sessionTTL   time.Duration
	dialCode     string

	mu      sync.Mutex
	pollGen uint64
	pollers map[string]pollerRef
}

// pollerRef ties a registered poller to the generation that created it, so a
// cancelled predecessor can never tear down its replacement's registration.
type pollerRef struct {
	gen    uint64
	cancel context.CancelFunc
}

type Config struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	SessionTTL   time.Duration
	MerchantName string
	DialCode     string
}

func NewWizard(
	log zerolog.Logger,
	invoices domain.InvoiceStore,
	otp domain.OTPProvider,
	queue domain.InstructionQueue,
	sessions domain.SessionCache,
	cfg Config,
) *Wizard {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Minute
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	return &Wizard{
		log:          log.With().Str("component", "purchase_wizard").Logger(),
		invoices:     invoices,
		otp:          otp,
		queue:        queue,
		sessions:     sessions,
		encoder:      ghqr.Encoder{MerchantName: cfg.MerchantName},
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		sessionTTL:   cfg.SessionTTL,
		dialCode:     cfg.DialCode,
		pollers:      make(map[string]pollerRef),
	}
}

// Start opens a session for a bundle at step 1.
func (w *Wizard) Start(ctx context.Context, tenantID string, bundle domain.Bundle) (domain.PurchaseIntent, error) {
	if tenantID == "" {
		return domain.PurchaseIntent{}, fmt.Errorf("%w: tenant id is required", domain.ErrValidation)
	}
	if bundle.Price.LessThanOrEqual(decimal.Zero) {
		return domain.PurchaseIntent{}, fmt.Errorf("%w: bundle price must be positive", domain.ErrValidation)
	}
	if bundle.Type != domain.PurchaseTypeSMS && bundle.Type != domain.PurchaseTypeSubscription {
		return domain.PurchaseIntent{}, fmt.Errorf("%w: unknown bundle type %q", domain.ErrValidation, bundle.Type)
	}

	now := time.Now()
	intent := domain.PurchaseIntent{
		Token:     uuid.NewString(),
		TenantID:  tenantID,
		Bundle:    bundle,
		Step:      domain.StepSelectMethod,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := w.save(ctx, intent); err != nil {
		return domain.PurchaseIntent{}, err
	}
	metrics.WizardTransitions.WithLabelValues(stepLabel(intent.Step)).Inc()
	w.log.Info().Str("token", intent.Token).Str("tenant", tenantID).Msg("session started")
	return intent, nil
}

// Resume returns the stored session so a client that lost local state can
// pick up where it left off. A live polling session gets its poller back if
// this instance lost it.
func (w *Wizard) Resume(ctx context.Context, token string) (domain.PurchaseIntent, error) {
	intent, err := w.load(ctx, token)
	if err != nil {
		return domain.PurchaseIntent{}, err
	}
	if intent.Step == domain.StepPolling && !intent.Aborted {
		w.ensurePolling(intent.Token)
	}
	return intent, nil
}

// ChooseMethod advances from step 1. The QR path creates the invoice
// immediately and jumps straight to polling; mobile money collects payer
// details first.
func (w *Wizard) ChooseMethod(ctx context.Context, token string, method domain.PaymentMethod) (domain.PurchaseIntent, error) {
	intent, err := w.load(ctx, token)
	if err != nil {
		return domain.PurchaseIntent{}, err
	}
	if err := requireStep(intent, domain.StepSelectMethod); err != nil {
		return domain.PurchaseIntent{}, err
	}

	switch method {
	case domain.MethodQR:
		intent.Method = method
		intent.Reference = newReference(intent.Token)
		invoice, err := w.createInvoice(ctx, &intent)
		if err != nil {
			return domain.PurchaseIntent{}, err
		}
		payload, err := w.encoder.Encode(invoice.Amount.StringFixed(2), intent.Reference)
		if err != nil {
			return domain.PurchaseIntent{}, err
		}
		intent.QRPayload = payload
		intent.Step = domain.StepPolling
		if err := w.transition(ctx, intent); err != nil {
			return domain.PurchaseIntent{}, err
		}
		w.startPolling(intent.Token)
		return intent, nil

	case domain.MethodMobileMoney:
		intent.Method = method
		intent.Reference = newReference(intent.Token)
		if _, err := w.createInvoice(ctx, &intent); err != nil {
			return domain.PurchaseIntent{}, err
		}
		intent.Step = domain.StepEnterDetails
		if err := w.transition(ctx, intent); err != nil {
			return domain.PurchaseIntent{}, err
		}
		return intent, nil

	default:
		return domain.PurchaseIntent{}, fmt.Errorf("%w: unknown payment method %q", domain.ErrValidation, method)
	}
}

// SubmitDetails records the payer's provider and phone and requests an OTP.
// The session stays on step 2 until the code is verified.
func (w *Wizard) SubmitDetails(ctx context.Context, token, provider, phone string) (domain.PurchaseIntent, error) {
	intent, err := w.load(ctx, token)
	if err != nil {
		return domain.PurchaseIntent{}, err
	}
	if err := requireStep(intent, domain.StepEnterDetails); err != nil {
		return domain.PurchaseIntent{}, err
	}
	if provider == "" {
		return domain.PurchaseIntent{}, fmt.Errorf("%w: provider is required", domain.ErrValidation)
	}
	if !validPhone(phone) {
		return domain.PurchaseIntent{}, fmt.Errorf("%w: phone number %q is not valid", domain.ErrValidation, phone)
	}

	if err := w.otp.Generate(ctx, phone); err != nil {
		return domain.PurchaseIntent{}, err
	}

	intent.Provider = provider
	intent.Phone = phone
	intent.OTPSent = true
	if err := w.save(ctx, intent); err != nil {
		return domain.PurchaseIntent{}, err
	}
	w.log.Info().Str("token", intent.Token).Str("provider", provider).Msg("otp requested")
	return intent, nil
}

// VerifyOTP checks the code and, on success, advances to the manual
// instructions and enqueues their out-of-band delivery. A failed check keeps
// the session on step 2.
func (w *Wizard) VerifyOTP(ctx context.Context, token, code string) (domain.PurchaseIntent, error) {
	intent, err := w.load(ctx, token)
	if err != nil {
		return domain.PurchaseIntent{}, err
	}
	if err := requireStep(intent, domain.StepEnterDetails); err != nil {
		return domain.PurchaseIntent{}, err
	}
	if !intent.OTPSent {
		return domain.PurchaseIntent{}, fmt.Errorf("%w: no pending code for this session", domain.ErrInvalidStep)
	}

	if err := w.otp.Verify(ctx, intent.Phone, code); err != nil {
		return domain.PurchaseIntent{}, err
	}

	job := domain.InstructionJob{
		Phone:       intent.Phone,
		Provider:    intent.Provider,
		Reference:   intent.Reference,
		Amount:      intent.Bundle.Price,
		DialCode:    w.dialCode,
		RequestedAt: time.Now(),
	}
	if err := w.queue.Enqueue(ctx, job); err != nil {
		// Instructions are advisory; the reference is shown on step 3 anyway.
		w.log.Error().Err(err).Str("token", intent.Token).Msg("enqueue instructions failed")
	}

	intent.Step = domain.StepManualInstructions
	if err := w.transition(ctx, intent); err != nil {
		return domain.PurchaseIntent{}, err
	}
	return intent, nil
}

// ConfirmSent is the user's "I have paid" acknowledgement on step 3; it moves
// the session into polling.
func (w *Wizard) ConfirmSent(ctx context.Context, token string) (domain.PurchaseIntent, error) {
	intent, err := w.load(ctx, token)
	if err != nil {
		return domain.PurchaseIntent{}, err
	}
	if err := requireStep(intent, domain.StepManualInstructions); err != nil {
		return domain.PurchaseIntent{}, err
	}

	intent.Step = domain.StepPolling
	if err := w.transition(ctx, intent); err != nil {
		return domain.PurchaseIntent{}, err
	}
	w.startPolling(intent.Token)
	return intent, nil
}

// Back steps the session one step towards the start. Leaving step 2 or
// returning to it always clears the OTP sub-state, so a changed phone number
// needs a fresh code.
func (w *Wizard) Back(ctx context.Context, token string) (domain.PurchaseIntent, error) {
	intent, err := w.load(ctx, token)
	if err != nil {
		return domain.PurchaseIntent{}, err
	}
	if intent.Aborted {
		return domain.PurchaseIntent{}, fmt.Errorf("%w: session is aborted", domain.ErrInvalidStep)
	}

	switch intent.Step {
	case domain.StepEnterDetails:
		intent.Step = domain.StepSelectMethod
		intent.Method = ""
		intent.Provider = ""
		intent.Phone = ""
		intent.OTPSent = false
	case domain.StepManualInstructions:
		intent.Step = domain.StepEnterDetails
		intent.OTPSent = false
	default:
		return domain.PurchaseIntent{}, fmt.Errorf("%w: cannot go back from step %d", domain.ErrInvalidStep, intent.Step)
	}

	if err := w.transition(ctx, intent); err != nil {
		return domain.PurchaseIntent{}, err
	}
	return intent, nil
}

// Abandon aborts the session and stops its poller. The aborted intent stays
// stored so a resume shows the terminal state.
func (w *Wizard) Abandon(ctx context.Context, token string) error {
	intent, err := w.load(ctx, token)
	if err != nil {
		return err
	}
	w.stopPolling(token)
	if intent.Aborted || intent.Step == domain.StepSuccess {
		return nil
	}
	intent.Aborted = true
	intent.LastError = "abandoned"
	metrics.WizardAborts.WithLabelValues("abandoned").Inc()
	return w.save(ctx, intent)
}

// Close stops all pollers.
func (w *Wizard) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for token, ref := range w.pollers {
		ref.cancel()
		delete(w.pollers, token)
	}
}

func (w *Wizard) createInvoice(ctx context.Context, intent *domain.PurchaseIntent) (domain.Invoice, error) {
	invoice, err := w.invoices.Create(ctx, domain.CreateInvoiceParams{
		Amount:      intent.Bundle.Price,
		Description: intent.Bundle.Name,
		Reference:   intent.Reference,
	})
	if err != nil {
		return domain.Invoice{}, err
	}
	intent.InvoiceID = invoice.ID
	metrics.InvoicesCreated.WithLabelValues(string(intent.Method)).Inc()
	return invoice, nil
}

// startPolling launches the status poller for the session. At most one poller
// per token: a restart cancels its predecessor.
func (w *Wizard) startPolling(token string) {
	ctx, cancel := context.WithCancel(context.Background())

	w.mu.Lock()
	if prev, ok := w.pollers[token]; ok {
		prev.cancel()
	}
	w.pollGen++
	gen := w.pollGen
	w.pollers[token] = pollerRef{gen: gen, cancel: cancel}
	w.mu.Unlock()

	go w.poll(ctx, token, gen)
}

// ensurePolling starts a poller only when none is registered for the token.
func (w *Wizard) ensurePolling(token string) {
	w.mu.Lock()
	if _, ok := w.pollers[token]; ok {
		w.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.pollGen++
	gen := w.pollGen
	w.pollers[token] = pollerRef{gen: gen, cancel: cancel}
	w.mu.Unlock()

	go w.poll(ctx, token, gen)
}

func (w *Wizard) stopPolling(token string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ref, ok := w.pollers[token]; ok {
		ref.cancel()
		delete(w.pollers, token)
	}
}

// releasePoller is the poller's own cleanup. It only removes the registration
// it still owns; after a restart the token maps to a newer generation, which
// must stay registered and running.
func (w *Wizard) releasePoller(token string, gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ref, ok := w.pollers[token]; ok && ref.gen == gen {
		ref.cancel()
		delete(w.pollers, token)
	}
}

func (w *Wizard) poll(ctx context.Context, token string, gen uint64) {
	defer w.releasePoller(token, gen)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(w.pollTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			w.abortSession(token, "timeout", domain.ErrPollTimeout)
			return
		case <-ticker.C:
			metrics.InvoiceStatusPolls.Inc()
			intent, err := w.load(ctx, token)
			if err != nil {
				if errors.Is(err, domain.ErrSessionNotFound) {
					w.log.Warn().Str("token", token).Msg("poll: session gone")
					return
				}
				// Transient cache failure; keep polling.
				w.log.Error().Err(err).Str("token", token).Msg("poll: load session")
				continue
			}
			if intent.Aborted || intent.Step != domain.StepPolling {
				return
			}
			invoice, err := w.invoices.Get(ctx, intent.InvoiceID)
			if err != nil {
				w.log.Error().Err(err).Str("token", token).Msg("poll: get invoice")
				continue
			}
			switch invoice.Status {
			case domain.InvoicePaid:
				intent.Step = domain.StepSuccess
				if err := w.transition(ctx, intent); err != nil {
					w.log.Error().Err(err).Str("token", token).Msg("poll: save success")
				}
				w.log.Info().Str("token", token).Str("invoice", invoice.ID).Msg("invoice paid")
				return
			case domain.InvoiceFailed, domain.InvoiceExpired:
				cause := strings.ToLower(string(invoice.Status))
				w.abortSession(token, cause, fmt.Errorf("invoice %s", cause))
				return
			}
		}
	}
}

func (w *Wizard) abortSession(token, cause string, reason error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	intent, err := w.load(ctx, token)
	if err != nil {
		w.log.Error().Err(err).Str("token", token).Msg("abort: load session")
		return
	}
	if intent.Aborted || intent.Step == domain.StepSuccess {
		return
	}
	intent.Aborted = true
	intent.LastError = reason.Error()
	metrics.WizardAborts.WithLabelValues(cause).Inc()
	if err := w.save(ctx, intent); err != nil {
		w.log.Error().Err(err).Str("token", token).Msg("abort: save session")
	}
	w.log.Warn().Str("token", token).Str("cause", cause).Msg("session aborted")
}

func (w *Wizard) transition(ctx context.Context, intent domain.PurchaseIntent) error {
	if err := w.save(ctx, intent); err != nil {
		return err
	}
	metrics.WizardTransitions.WithLabelValues(stepLabel(intent.Step)).Inc()
	return nil
}

func (w *Wizard) save(ctx context.Context, intent domain.PurchaseIntent) error {
	intent.UpdatedAt = time.Now()
	raw, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return w.sessions.Set(ctx, sessionKey(intent.Token), raw, w.sessionTTL)
}

func (w *Wizard) load(ctx context.Context, token string) (domain.PurchaseIntent, error) {
	if token == "" {
		return domain.PurchaseIntent{}, fmt.Errorf("%w: session token is required", domain.ErrValidation)
	}
	raw, err := w.sessions.Get(ctx, sessionKey(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.PurchaseIntent{}, domain.ErrSessionNotFound
		}
		return domain.PurchaseIntent{}, err
	}
	var intent domain.PurchaseIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return domain.PurchaseIntent{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return intent, nil
}

func requireStep(intent domain.PurchaseIntent, step domain.WizardStep) error {
	if intent.Aborted {
		return fmt.Errorf("%w: session is aborted", domain.ErrInvalidStep)
	}
	if intent.Step != step {
		return fmt.Errorf("%w: expected step %d, session is on step %d", domain.ErrInvalidStep, step, intent.Step)
	}
	return nil
}

func sessionKey(token string) string {
	return "purchase:session:" + token
}

func newReference(token string) string {
	return "PUR-" + strings.ToUpper(strings.ReplaceAll(token, "-", "")[:12])
}

func stepLabel(step domain.WizardStep) string {
	return strconv.Itoa(int(step))
}

func validPhone(phone string) bool {
	if len(phone) < 9 || len(phone) > 15 {
		return false
	}
	for i, r := range phone {
		if r == '+' && i == 0 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
