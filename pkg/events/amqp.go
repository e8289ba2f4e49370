package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type AMQPConfig struct {
	Host     string
	Port     int
	User     string
	Pass     string
	Exchange string
}

// DialAMQP connects to RabbitMQ, retrying with exponential backoff. The
// connection is closed when ctx is done.
func DialAMQP(ctx context.Context, cfg AMQPConfig) (*amqp.Connection, error) {
	connAddr := fmt.Sprintf("amqp://%s:%s@%s:%d/", cfg.User, cfg.Pass, cfg.Host, cfg.Port)

	operation := func() (*amqp.Connection, error) {
		conn, err := amqp.Dial(connAddr)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to connect to RabbitMQ, retrying")
			return nil, err
		}
		return conn, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	conn, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(5))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	zerolog.Ctx(ctx).Info().Msg("connected to RabbitMQ")
	go func() {
		<-ctx.Done()
		if err := conn.Close(); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to close RabbitMQ connection")
		}
	}()

	return conn, nil
}

// RoutingKey maps a topic path like room/{id}/queue to room.{id}.queue.
func RoutingKey(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

// AMQPClient publishes room events on a topic exchange.
type AMQPClient struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex
	ch *amqp.Channel
}

func NewAMQPClient(conn *amqp.Connection, exchange string) (*AMQPClient, error) {
	if exchange == "" {
		exchange = "worship_room_events"
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &AMQPClient{conn: conn, exchange: exchange, ch: ch}, nil
}

func (a *AMQPClient) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	err = a.ch.PublishWithContext(ctx, a.exchange, RoutingKey(event.Topic), false, false, amqp.Publishing{
		ContentType: "application/json",
		Type:        string(event.Type),
		Timestamp:   event.Timestamp,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Consume binds a private queue to every room key and hands events to
// handler until ctx is done.
func (a *AMQPClient) Consume(ctx context.Context, handler Handler) error {
	ch, err := a.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "room.#", a.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal(d.Body, &event); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("routing_key", d.RoutingKey).Msg("skipping malformed event")
				continue
			}
			if err := handler(event); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Str("room_id", event.RoomID).Msg("failed to handle event")
			}
		}
	}
}

func (a *AMQPClient) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ch.Close()
}
