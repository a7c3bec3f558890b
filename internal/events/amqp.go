package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// KitchenExchange is the topic exchange order events are published to.
// Routing keys look like "table.<table_id>.order.created".
const KitchenExchange = "table_orders_topic"

var ErrNack = errors.New("publish NACK from broker")

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	GetNextPublishSeqNo() uint64
	Close() error
}

// AMQPPublisher feeds order events to the kitchen over RabbitMQ. Group
// and snapshot events are surface-only and are skipped.
type AMQPPublisher struct {
	conn *amqp.Connection
	ch   amqpChannel
	acks <-chan amqp.Confirmation

	mu sync.Mutex
}

// DialAMQP connects, declares the exchange and enables publisher confirms.
func DialAMQP(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(KitchenExchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return &AMQPPublisher{conn: conn, ch: ch, acks: acks}, nil
}

func routingKey(e Event) string {
	return "table." + e.TableID + "." + e.Type
}

// Publish sends e and waits for the broker confirm or ctx cancellation.
// Confirms left over from earlier publishes that gave up waiting are
// discarded by delivery tag.
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	if !strings.HasPrefix(e.Type, "order.") {
		return nil
	}
	body, err := e.Payload()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tag := p.ch.GetNextPublishSeqNo()
	if err := p.ch.PublishWithContext(ctx, KitchenExchange, routingKey(e), false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}); err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}

	for {
		select {
		case conf, ok := <-p.acks:
			if !ok {
				return errors.New("amqp channel closed before confirm")
			}
			if conf.DeliveryTag < tag {
				continue
			}
			if !conf.Ack {
				return ErrNack
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *AMQPPublisher) Close() error {
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
