package sms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"schoolpay/internal/domain"
)

func TestSendForwardsSenderAndRecipients(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sms/send" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
	}))
	defer srv.Close()

	client, err := New(srv.URL, "key", "SchoolPay")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Send(context.Background(), []string{"+233200000000"}, "Dial *170# to pay"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Sender != "SchoolPay" {
		t.Fatalf("want sender forwarded, got %q", got.Sender)
	}
	if len(got.Recipients) != 1 || got.Recipients[0] != "+233200000000" {
		t.Fatalf("want recipients forwarded, got %v", got.Recipients)
	}
	if got.Message != "Dial *170# to pay" {
		t.Fatalf("want message forwarded, got %q", got.Message)
	}
}

func TestSendProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "insufficient credit"})
	}))
	defer srv.Close()

	client, err := New(srv.URL, "key", "SchoolPay")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = client.Send(context.Background(), []string{"+233200000000"}, "hello")
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("want ErrProvider, got %v", err)
	}
}

func TestSendRejectsEmptyInput(t *testing.T) {
	client, err := New("http://localhost:0", "key", "SchoolPay")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Send(context.Background(), nil, "hello"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation for empty recipients, got %v", err)
	}
	if err := client.Send(context.Background(), []string{"+233"}, ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation for empty message, got %v", err)
	}
}
