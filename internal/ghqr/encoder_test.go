package ghqr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"schoolpay/internal/domain"
)

type tlvField struct {
	tag   string
	value string
}

// parseTLV splits a payload into its top-level tag/value pairs.
func parseTLV(t *testing.T, payload string) []tlvField {
	t.Helper()
	var fields []tlvField
	for i := 0; i < len(payload); {
		if i+4 > len(payload) {
			t.Fatalf("truncated header at offset %d", i)
		}
		tag := payload[i : i+2]
		length, err := strconv.Atoi(payload[i+2 : i+4])
		if err != nil {
			t.Fatalf("bad length for tag %s: %v", tag, err)
		}
		if i+4+length > len(payload) {
			t.Fatalf("value of tag %s overruns payload", tag)
		}
		fields = append(fields, tlvField{tag: tag, value: payload[i+4 : i+4+length]})
		i += 4 + length
	}
	return fields
}

func mustEncode(t *testing.T, amount, reference string) string {
	t.Helper()
	payload, err := Encoder{MerchantName: "Brightfield School"}.Encode(amount, reference)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return payload
}

func TestEncodeRoundTrip(t *testing.T) {
	payload := mustEncode(t, "50.00", "cf-sms-abcd1234")
	fields := parseTLV(t, payload)

	want := map[string]string{
		"00": "01",
		"01": "12",
		"52": "8249",
		"53": "936",
		"54": "50.00",
		"58": "GH",
		"59": "Brightfield School",
	}
	got := make(map[string]string)
	for _, f := range fields {
		got[f.tag] = f.value
	}
	for tag, value := range want {
		if got[tag] != value {
			t.Fatalf("tag %s: want %q, got %q", tag, value, got[tag])
		}
	}

	nested := parseTLV(t, got["62"])
	if len(nested) != 1 || nested[0].tag != "01" || nested[0].value != "cf-sms-abcd1234" {
		t.Fatalf("unexpected additional data template: %+v", nested)
	}
}

func TestEncodeChecksum(t *testing.T) {
	payload := mustEncode(t, "50.00", "cf-sms-abcd1234")
	idx := strings.LastIndex(payload, "6304")
	if idx != len(payload)-8 {
		t.Fatalf("checksum triple not at payload tail: %q", payload)
	}
	want := fmt.Sprintf("%04X", crc16CCITT([]byte(payload[:idx])))
	if got := payload[idx+4:]; got != want {
		t.Fatalf("checksum: want %s, got %s", want, got)
	}
}

func TestEncodeKnownSubstrings(t *testing.T) {
	payload := mustEncode(t, "50.00", "cf-sms-abcd1234")
	if !strings.HasPrefix(payload, "000201") {
		t.Fatalf("payload does not start with 000201: %q", payload)
	}
	// The amount value is length-prefixed: 5405 + "50.00".
	if !strings.Contains(payload, "540550.00") {
		t.Fatalf("payload missing length-prefixed amount: %q", payload)
	}
	if !strings.Contains(payload, "5802GH") {
		t.Fatalf("payload missing country code: %q", payload)
	}
	tail := payload[len(payload)-8:]
	if !strings.HasPrefix(tail, "6304") {
		t.Fatalf("payload does not end with checksum triple: %q", tail)
	}
	for _, r := range tail[4:] {
		isHex := (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F')
		if !isHex {
			t.Fatalf("checksum contains non-hex rune %q", r)
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	first := mustEncode(t, "1234.56", "cf-sub-00ff00ff")
	second := mustEncode(t, "1234.56", "cf-sub-00ff00ff")
	if first != second {
		t.Fatalf("encoding is not deterministic:\n%s\n%s", first, second)
	}
}

func TestEncodeRejectsBadInput(t *testing.T) {
	enc := Encoder{MerchantName: "Brightfield School"}
	cases := []struct {
		name      string
		amount    string
		reference string
	}{
		{"empty amount", "", "ref-1"},
		{"zero amount", "0.00", "ref-1"},
		{"empty reference", "10.00", ""},
		{"oversized reference", "10.00", strings.Repeat("x", 100)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := enc.Encode(tc.amount, tc.reference); !errors.Is(err, domain.ErrInvalidArgument) {
				t.Fatalf("want ErrInvalidArgument, got %v", err)
			}
		})
	}
	if _, err := (Encoder{}).Encode("10.00", "ref-1"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument for unset merchant, got %v", err)
	}
}

func TestCRC16CCITTVector(t *testing.T) {
	// Standard CCITT-FALSE check value for "123456789".
	if got := crc16CCITT([]byte("123456789")); got != 0x29B1 {
		t.Fatalf("crc16 check value: want 0x29B1, got 0x%04X", got)
	}
}
