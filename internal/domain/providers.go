package domain

import (
	"context"
	"time"
)

// OTPProvider issues and verifies one-time codes for a phone number.
type OTPProvider interface {
	Generate(ctx context.Context, phone string) error
	// Verify returns ErrInvalidOTP when the code does not match and
	// ErrProvider when the upstream call itself failed.
	Verify(ctx context.Context, phone, code string) error
}

// SMSSender delivers a message to one or more recipients.
type SMSSender interface {
	Send(ctx context.Context, recipients []string, message string) error
}

// SessionCache persists serialized purchase intents under their token.
type SessionCache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns ErrSessionNotFound for an unknown key.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
