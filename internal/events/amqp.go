package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

// LedgerQueue is the durable queue ledger events are routed to.
const LedgerQueue = "ledger_events"

// AMQPPublisher sends events as persistent JSON messages to RabbitMQ.
type AMQPPublisher struct {
	conn    *amqp.Connection
	mu      sync.Mutex // amqp.Channel is not safe for concurrent publishing
	channel *amqp.Channel
	queue   string
}

func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		LedgerQueue, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	return &AMQPPublisher{conn: conn, channel: ch, queue: LedgerQueue}, nil
}

func (p *AMQPPublisher) Publish(_ context.Context, evs ...Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range evs {
		body, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		err = p.channel.Publish(
			"",      // exchange
			p.queue, // routing key
			false,   // mandatory
			false,   // immediate
			amqp.Publishing{
				DeliveryMode: amqp.Persistent,
				ContentType:  "application/json",
				Type:         string(ev.Type),
				Timestamp:    ev.At,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish %s: %w", ev.Type, err)
		}
	}
	return nil
}

func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
