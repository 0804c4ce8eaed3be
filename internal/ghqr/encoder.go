// Package ghqr builds GH-QR merchant payment payloads: an ordered
// tag-length-value string terminated by a CRC16-CCITT checksum triple.
package ghqr

import (
	"fmt"
	"strings"

	"schoolpay/internal/domain"
)

const (
	tagPayloadFormat      = "00"
	tagInitiationMethod   = "01"
	tagMerchantCategory   = "52"
	tagCurrency           = "53"
	tagAmount             = "54"
	tagCountryCode        = "58"
	tagMerchantName       = "59"
	tagAdditionalData     = "62"
	tagAdditionalDataRef  = "01"
	tagChecksum           = "63"
	valuePayloadFormat    = "01"
	valueInitiationMethod = "12" // dynamic QR
	valueMerchantCategory = "8249"
	valueCurrency         = "936" // GHS
	valueCountryCode      = "GH"
)

// maxFieldLen is the largest value a 2-digit decimal length field can carry.
const maxFieldLen = 99

// Encoder builds payloads for a single configured merchant.
type Encoder struct {
	MerchantName string
}

// Encode produces the full payload string for an amount and a transaction
// reference. The amount must be pre-formatted by the caller (this layer does
// not enforce decimal places) and non-zero. Deterministic and side-effect free.
func (e Encoder) Encode(amount, referenceID string) (string, error) {
	if e.MerchantName == "" {
		return "", fmt.Errorf("%w: merchant name is not configured", domain.ErrInvalidArgument)
	}
	if amount == "" || isZeroAmount(amount) {
		return "", fmt.Errorf("%w: amount must be positive", domain.ErrInvalidArgument)
	}
	if referenceID == "" {
		return "", fmt.Errorf("%w: reference id is required", domain.ErrInvalidArgument)
	}

	reference, err := field(tagAdditionalDataRef, referenceID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, f := range []struct{ tag, value string }{
		{tagPayloadFormat, valuePayloadFormat},
		{tagInitiationMethod, valueInitiationMethod},
		{tagMerchantCategory, valueMerchantCategory},
		{tagCurrency, valueCurrency},
		{tagAmount, amount},
		{tagCountryCode, valueCountryCode},
		{tagMerchantName, e.MerchantName},
		{tagAdditionalData, reference},
	} {
		encoded, err := field(f.tag, f.value)
		if err != nil {
			return "", err
		}
		b.WriteString(encoded)
	}

	// The checksum covers everything before its own triple.
	crc := crc16CCITT([]byte(b.String()))
	b.WriteString(fmt.Sprintf("%s04%04X", tagChecksum, crc))
	return b.String(), nil
}

func field(tag, value string) (string, error) {
	n := len(value)
	if n == 0 {
		return "", fmt.Errorf("%w: field %s is empty", domain.ErrInvalidArgument, tag)
	}
	if n > maxFieldLen {
		return "", fmt.Errorf("%w: field %s exceeds %d bytes", domain.ErrInvalidArgument, tag, maxFieldLen)
	}
	return fmt.Sprintf("%s%02d%s", tag, n, value), nil
}

func isZeroAmount(amount string) bool {
	for _, r := range amount {
		switch r {
		case '0', '.', ',', ' ':
		default:
			return false
		}
	}
	return true
}
