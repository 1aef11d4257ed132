package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Queue names.  Routing uses the default exchange, so routing key and
// queue name coincide.
const (
	OrderConfirmedQueue = "order.confirmed"
	PointsAwardedQueue  = "points.awarded"
)

// Publisher emits domain events to RabbitMQ.  Each publish dials a fresh
// connection; event volume is low and this keeps the publisher free of
// reconnect state.  Errors are logged and returned so callers can ignore
// failures without interrupting the request flow.
type Publisher struct {
	url string
	log *zap.Logger
}

// NewPublisher builds a Publisher.  With an empty url every publish is a
// logged no-op, which keeps local development broker-free.
func NewPublisher(url string, log *zap.Logger) *Publisher {
	return &Publisher{url: url, log: log}
}

// PublishOrderConfirmed emits ev to the order.confirmed queue.
func (p *Publisher) PublishOrderConfirmed(ctx context.Context, ev OrderConfirmedEvent) error {
	return p.publish(ctx, OrderConfirmedQueue, ev)
}

// PublishPointsAwarded emits ev to the points.awarded queue.
func (p *Publisher) PublishPointsAwarded(ctx context.Context, ev PointsAwardedEvent) error {
	return p.publish(ctx, PointsAwardedQueue, ev)
}

func (p *Publisher) publish(ctx context.Context, queueName string, event interface{}) error {
	if p.url == "" {
		p.log.Debug("amqp publish skipped, broker not configured", zap.String("queue", queueName))
		return nil
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.Warn("amqp dial failed", zap.String("queue", queueName), zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warn("amqp channel open failed", zap.String("queue", queueName), zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	// Idempotent; durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		p.log.Warn("amqp queue declare failed", zap.String("queue", queueName), zap.Error(err))
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queueName, false, false, pub); err != nil {
		p.log.Warn("amqp publish failed", zap.String("queue", queueName), zap.Error(err))
		return err
	}
	return nil
}
