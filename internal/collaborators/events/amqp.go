package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const exchangeKind = "topic"

// channel is the slice of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialer opens a connection and a channel on it.
type dialer func(url string) (closer, channel, error)

type closer interface {
	Close() error
}

// Publisher is a Sink that publishes events to a topic exchange, routed by
// event kind. A broken channel is redialled on the next event.
type Publisher struct {
	url      string
	exchange string
	dial     dialer
	log      *zap.Logger

	mu   sync.Mutex
	conn closer
	ch   channel
}

// NewPublisher connects to url and declares exchange.
func NewPublisher(url, exchange string, log *zap.Logger) (*Publisher, error) {
	return newPublisher(url, exchange, dialAMQP, log)
}

func newPublisher(url, exchange string, dial dialer, log *zap.Logger) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("amqp url is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Publisher{url: url, exchange: exchange, dial: dial, log: log}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func dialAMQP(url string) (closer, channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// connect must be called with mu held.
func (p *Publisher) connect() error {
	conn, ch, err := p.dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to amqp: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, exchangeKind, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

// Name implements Sink.
func (p *Publisher) Name() string { return "amqp" }

// Deliver implements Sink.
func (p *Publisher) Deliver(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.At,
		Type:         string(ev.Kind),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		if err := p.connect(); err != nil {
			return err
		}
	}
	if err := p.ch.Publish(p.exchange, string(ev.Kind), false, false, msg); err != nil {
		p.log.Warn("amqp publish failed, reconnecting", zap.Error(err))
		p.reset()
		if err := p.connect(); err != nil {
			return err
		}
		return p.ch.Publish(p.exchange, string(ev.Kind), false, false, msg)
	}
	return nil
}

// reset must be called with mu held.
func (p *Publisher) reset() {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}
