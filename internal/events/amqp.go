package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const DefaultExchange = "genorch.jobs"

// AMQPPublisher publishes events to a durable topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   zerolog.Logger
	mu       sync.Mutex
}

// DialAMQP connects to url and declares the exchange.
func DialAMQP(url, exchange string, logger zerolog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	pub, err := NewAMQPPublisher(conn, exchange, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return pub, nil
}

func NewAMQPPublisher(conn *amqp.Connection, exchange string, logger zerolog.Logger) (*AMQPPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("amqp connection is nil")
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	logger.Info().Str("exchange", exchange).Msg("amqp exchange declared")
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

func (p *AMQPPublisher) PublishJobFinalized(ctx context.Context, ev JobFinalized) error {
	msg, err := encode(ev)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, RoutingKeyJobFinalized, false, false, msg); err != nil {
		p.logger.Error().Err(err).Str("job_id", ev.JobID).Msg("publish job.finalized failed")
		return fmt.Errorf("publish job.finalized: %w", err)
	}
	p.logger.Debug().Str("job_id", ev.JobID).Str("status", string(ev.Status)).Msg("job.finalized published")
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func encode(ev JobFinalized) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal job.finalized: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.JobID,
		Type:         RoutingKeyJobFinalized,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}, nil
}
