package rabbitmq

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/genimage/internal/chat"
)

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	delay time.Duration
}

// ReconcileMessage asks the worker to check one pending chat against its provider.
type ReconcileMessage struct {
	ChatID  string `json:"chat_id"`
	Attempt int    `json:"attempt"`
}

func RetryQueue(queue string) string { return queue + ".retry" }

func DeadLetterQueue(queue string) string { return queue + ".dlq" }

// DeclareTopology declares the main, retry and dead-letter queues. Messages
// parked on the retry queue dead-letter back into the main queue once their
// TTL expires; rejected messages on the main queue go to the DLQ.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	mainQ := queue
	retryQ := RetryQueue(queue)
	dlqQ := DeadLetterQueue(queue)

	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		retryQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": mainQ,
		},
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	_, err := ch.QueueDeclare(
		mainQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	)
	return err
}

func NewPublisher(url, queue string, delay time.Duration) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if delay <= 0 {
		delay = 30 * time.Second
	}
	return &Publisher{conn: conn, ch: ch, queue: queue, delay: delay}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// ScheduleReconcile parks the message on the retry queue for the configured
// delay, after which it reaches the worker.
func (p *Publisher) ScheduleReconcile(ctx context.Context, chatID string, attempt int) error {
	msg, err := reconcilePublishing(chatID, attempt, p.delay)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",                  // default exchange
		RetryQueue(p.queue), // parked until TTL expiry
		false,
		false,
		msg,
	)
}

func reconcilePublishing(chatID string, attempt int, delay time.Duration) (amqp.Publishing, error) {
	body, err := json.Marshal(ReconcileMessage{ChatID: chatID, Attempt: attempt})
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Body:         body,
		Timestamp:    time.Now(),
	}, nil
}

var _ chat.ReconcileScheduler = (*Publisher)(nil)
