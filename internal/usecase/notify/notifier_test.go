package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"schoolpay/internal/domain"
	"schoolpay/internal/infra/queue"
)

type recordingSender struct {
	mu       sync.Mutex
	messages []string
	fail     bool
}

func (s *recordingSender) Send(ctx context.Context, recipients []string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		s.fail = false
		return errors.New("provider down")
	}
	s.messages = append(s.messages, message)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func testJob(reference string) domain.InstructionJob {
	return domain.InstructionJob{
		Phone:       "+233200000000",
		Provider:    "mtn",
		Reference:   reference,
		Amount:      decimal.RequireFromString("50.00"),
		DialCode:    "*170#",
		RequestedAt: time.Now(),
	}
}

func TestRenderInstructions(t *testing.T) {
	msg := RenderInstructions(testJob("PUR-ABC123"))
	for _, want := range []string{"GHS 50.00", "*170#", "MTN", "PUR-ABC123"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}

func TestRunDeliversAndStops(t *testing.T) {
	q := queue.NewMemoryInstructionQueue(8)
	sender := &recordingSender{}
	notifier := NewNotifier(zerolog.Nop(), q, sender)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- notifier.Run(ctx) }()

	if err := q.Enqueue(ctx, testJob("PUR-1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for sender.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never delivered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestRunSurvivesDeliveryFailure(t *testing.T) {
	q := queue.NewMemoryInstructionQueue(8)
	sender := &recordingSender{fail: true}
	notifier := NewNotifier(zerolog.Nop(), q, sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = notifier.Run(ctx) }()

	if err := q.Enqueue(ctx, testJob("PUR-1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, testJob("PUR-2")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for sender.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("worker did not recover after a failed delivery")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
