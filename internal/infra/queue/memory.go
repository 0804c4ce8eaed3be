package queue

import (
	"context"

	"schoolpay/internal/domain"
)

// MemoryInstructionQueue is a channel-backed queue for single-process runs
// where no broker is configured.
type MemoryInstructionQueue struct {
	jobs chan domain.InstructionJob
}

// NewMemoryInstructionQueue creates a queue with a fixed buffer.
func NewMemoryInstructionQueue(size int) *MemoryInstructionQueue {
	if size <= 0 {
		size = 128
	}
	return &MemoryInstructionQueue{jobs: make(chan domain.InstructionJob, size)}
}

// Enqueue publishes a job; it blocks while the buffer is full.
func (q *MemoryInstructionQueue) Enqueue(ctx context.Context, job domain.InstructionJob) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop blocks until a job is available or ctx is cancelled.
func (q *MemoryInstructionQueue) Pop(ctx context.Context) (domain.InstructionJob, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return domain.InstructionJob{}, ctx.Err()
	}
}

var _ domain.InstructionQueue = (*MemoryInstructionQueue)(nil)
