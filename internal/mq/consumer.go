package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// JobHandler обрабатывает job.ready. Ошибка означает, что job надо
// попробовать ещё раз: сообщение возвращается в очередь один раз,
// повторная неудача отправляет его в DLQ.
type JobHandler func(ctx context.Context, msg JobReady) error

// ConsumerConfig — параметры JobConsumer.
type ConsumerConfig struct {
	Queue   Queue
	Handler JobHandler

	// Prefetch — сколько неподтверждённых сообщений держит воркер (default 1).
	Prefetch int
}

// JobConsumer читает job.ready из очереди и вызывает Handler.
type JobConsumer struct {
	conn   *Connection
	cfg    ConsumerConfig
	logger *slog.Logger
}

// NewConsumer создаёт JobConsumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *JobConsumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &JobConsumer{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With("queue", cfg.Queue),
	}
}

// Run потребляет сообщения до отмены ctx, переживая переподключения.
// Возвращает ctx.Err().
func (c *JobConsumer) Run(ctx context.Context) error {
	for {
		deliveries, err := c.subscribe(ctx)
		if err == nil {
			c.logger.Info("consumer started")
			c.drain(ctx, deliveries)
		} else {
			c.logger.Warn("subscribe failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.Reconnected():
			c.logger.Info("resubscribing after reconnect")
		}
	}
}

func (c *JobConsumer) subscribe(ctx context.Context) (<-chan amqp.Delivery, error) {
	var deliveries <-chan amqp.Delivery
	err := c.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}
		d, err := ch.ConsumeWithContext(ctx, string(c.cfg.Queue), "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
		}
		deliveries = d
		return nil
	})
	return deliveries, err
}

// drain обрабатывает доставки, пока канал открыт и ctx жив.
func (c *JobConsumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed")
				return
			}
			c.handle(ctx, d)
		}
	}
}

func (c *JobConsumer) handle(ctx context.Context, d amqp.Delivery) {
	msg, err := DecodeJobReady(d.Type, d.Body)
	if err == nil {
		err = c.cfg.Handler(ctx, msg)
	}

	var ackErr error
	switch disposition(err, d.Redelivered) {
	case ack:
		ackErr = d.Ack(false)
	case requeue:
		c.logger.Warn("job.ready failed, requeueing", "job_id", msg.JobID, "error", err)
		ackErr = d.Nack(false, true)
	case deadLetter:
		c.logger.Error("job.ready dead-lettered", "job_id", msg.JobID, "message_id", d.MessageId, "error", err)
		ackErr = d.Nack(false, false)
	}
	if ackErr != nil {
		c.logger.Warn("ack failed", "message_id", d.MessageId, "error", ackErr)
	}
}

// outcome — что сделать с доставкой после обработки.
type outcome int

const (
	ack outcome = iota
	requeue
	deadLetter
)

func disposition(err error, redelivered bool) outcome {
	switch {
	case err == nil:
		return ack
	case errors.Is(err, ErrMalformedMessage), redelivered:
		return deadLetter
	default:
		return requeue
	}
}
