package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"schoolpay/internal/domain"
)

const consumePollInterval = time.Second

// AMQPInstructionQueue implements the instruction queue on RabbitMQ.
type AMQPInstructionQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

// NewAMQPInstructionQueue dials the broker and declares a durable queue.
func NewAMQPInstructionQueue(amqpURL, queue string) (*AMQPInstructionQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &AMQPInstructionQueue{conn: conn, channel: channel, queue: queue}, nil
}

// Enqueue publishes a job.
func (q *AMQPInstructionQueue) Enqueue(ctx context.Context, job domain.InstructionJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	err = q.channel.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Pop blocks until a job is available or ctx is cancelled.
func (q *AMQPInstructionQueue) Pop(ctx context.Context) (domain.InstructionJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.InstructionJob{}, err
		}
		delivery, ok, err := q.channel.Get(q.queue, true)
		if err != nil {
			return domain.InstructionJob{}, fmt.Errorf("get message: %w", err)
		}
		if !ok {
			select {
			case <-ctx.Done():
				return domain.InstructionJob{}, ctx.Err()
			case <-time.After(consumePollInterval):
			}
			continue
		}
		var job domain.InstructionJob
		if err := json.Unmarshal(delivery.Body, &job); err != nil {
			return domain.InstructionJob{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}

// Close releases the channel and connection.
func (q *AMQPInstructionQueue) Close() error {
	if err := q.channel.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}

var _ domain.InstructionQueue = (*AMQPInstructionQueue)(nil)
