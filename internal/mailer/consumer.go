package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Sender delivers one activation email. The default implementation only
// logs the delivery; real deployments plug in an SMTP or provider-backed
// sender.
type Sender interface {
	SendActivation(ctx context.Context, ev ActivationEmail) error
}

// LogSender records deliveries in the structured log instead of sending
// them. Useful for development and tests.
type LogSender struct{ Log *zap.Logger }

func (s LogSender) SendActivation(_ context.Context, ev ActivationEmail) error {
	s.Log.Info("activation email",
		zap.String("user_uuid", ev.UserUUID),
		zap.String("email", ev.Email),
		zap.String("code", ev.Code),
	)
	return nil
}

// Consumer drains the activation queue and hands each event to the
// sender. It reconnects with exponential backoff until the context is
// cancelled. Undecodable or undeliverable messages are rejected without
// requeue so a poison message cannot spin the loop.
type Consumer struct {
	url    string
	sender Sender
	log    *zap.Logger
}

func NewConsumer(url string, sender Sender, log *zap.Logger) *Consumer {
	return &Consumer{url: url, sender: sender, log: log}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("mailer consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := c.consume(ctx, conn); err != nil && ctx.Err() == nil {
			c.log.Warn("mailer consumer: loop ended", zap.Error(err))
		}
		_ = conn.Close()
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(20, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if _, err := ch.QueueDeclare(ActivationQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(ActivationQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			var ev ActivationEmail
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				c.log.Warn("mailer consumer: bad payload", zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			if err := c.sender.SendActivation(ctx, ev); err != nil {
				c.log.Warn("mailer consumer: send failed", zap.String("email", ev.Email), zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}
