package amqppub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/outreachpass/passhub/internal/domain/job"
	amqp "github.com/rabbitmq/amqp091-go"
)

const routingKeyQueued = "pass.job.queued"

// Publisher announces freshly queued jobs to interested consumers.
// The worker stays poll-driven; the nudge only lets downstreams react
// sooner, so a missing broker degrades to plain polling.
type Publisher interface {
	JobQueued(ctx context.Context, j job.Job) error
	Close() error
}

type queuedMessage struct {
	JobID      string `json:"jobId"`
	AttendeeID string `json:"attendeeId"`
	TenantID   string `json:"tenantId"`
}

type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func Dial(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	err = ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) JobQueued(ctx context.Context, j job.Job) error {
	body, err := json.Marshal(queuedMessage{
		JobID:      j.ID,
		AttendeeID: j.AttendeeID,
		TenantID:   j.TenantID,
	})
	if err != nil {
		return err
	}

	return p.ch.PublishWithContext(ctx, p.exchange, routingKeyQueued, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		p.ch.Close()
	}
	return p.conn.Close()
}

// NopPublisher is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) JobQueued(ctx context.Context, j job.Job) error { return nil }
func (NopPublisher) Close() error                                   { return nil }
