package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConfirmed — брокер ответил nack на публикацию.
var ErrNotConfirmed = errors.New("publish not confirmed by broker")

// Publisher отправляет job.ready в foldflow.jobs.
// На соединении с WithConfirms каждая публикация ждёт подтверждения брокера.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{conn: conn, logger: logger}
}

// PublishJobReady будит воркеров: job jobID можно забирать.
func (p *Publisher) PublishJobReady(ctx context.Context, jobID uuid.UUID, name string) error {
	body, err := EncodeJobReady(JobReady{JobID: jobID, Name: name, SubmittedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Type:         string(MessageTypeJobReady),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	err = p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if !p.conn.confirms {
			return ch.PublishWithContext(ctx, string(ExchangeJobs), string(RoutingKeyReady), false, false, msg)
		}

		confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, string(ExchangeJobs), string(RoutingKeyReady), false, false, msg)
		if err != nil {
			return err
		}
		ok, err := confirm.WaitContext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotConfirmed
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish job.ready %s: %w", jobID, err)
	}

	p.logger.Debug("published job.ready", "job_id", jobID, "name", name, "message_id", msg.MessageId)
	return nil
}
