package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher enqueues activation emails on RabbitMQ. It keeps one
// connection and reopens it on demand; publish failures are returned so
// callers can decide whether to surface or swallow them.
type Publisher struct {
	url string
	log *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewPublisher(url string, log *zap.Logger) *Publisher {
	return &Publisher{url: url, log: log}
}

// PublishActivation marshals the event and publishes it persistently to
// the activation queue, declaring the queue first so publish never races
// broker setup.
func (p *Publisher) PublishActivation(ctx context.Context, ev ActivationEmail) error {
	ch, err := p.channel()
	if err != nil {
		p.log.Warn("mailer: broker unavailable", zap.Error(err))
		return err
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(ActivationQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = ch.PublishWithContext(ctx, "", ActivationQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.log.Warn("mailer: publish failed", zap.String("queue", ActivationQueue), zap.Error(err))
		return err
	}
	return nil
}

// Close shuts the broker connection down.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("dial broker: %w", err)
		}
		p.conn = conn
	}
	return p.conn.Channel()
}
