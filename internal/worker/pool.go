// Package worker consumes reconcile messages and checks pending chats
// against their provider.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/genimage/internal/chat"
	"github.com/suPer8Hu/genimage/internal/metrics"
	"github.com/suPer8Hu/genimage/internal/store/rabbitmq"
)

var ErrDeliveriesClosed = errors.New("delivery channel closed")

type Reconciler interface {
	Reconcile(ctx context.Context, chatID string, attempt int) (chat.ReconcileResult, error)
}

// Pool fans deliveries out to a fixed number of workers.
type Pool struct {
	rec         Reconciler
	concurrency int
	log         zerolog.Logger
}

func NewPool(rec Reconciler, concurrency int, log zerolog.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{rec: rec, concurrency: concurrency, log: log}
}

// Run dispatches deliveries until ctx is cancelled or msgs is closed, then
// waits for in-flight messages to finish.
func (p *Pool) Run(ctx context.Context, msgs <-chan amqp.Delivery) error {
	jobs := make(chan amqp.Delivery, p.concurrency*2)

	var wg sync.WaitGroup
	wg.Add(p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				p.handle(ctx, workerID, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("worker shutting down")
			close(jobs)
			wg.Wait()
			return nil

		case d, ok := <-msgs:
			if !ok {
				close(jobs)
				wg.Wait()
				return ErrDeliveriesClosed
			}
			jobs <- d
		}
	}
}

func (p *Pool) handle(ctx context.Context, workerID int, d amqp.Delivery) {
	log := p.log.With().Int("worker", workerID).Logger()

	var m rabbitmq.ReconcileMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.ChatID == "" {
		log.Warn().Err(err).Bytes("body", d.Body).Msg("bad reconcile message")
		metrics.RecordReconcile("malformed")
		_ = d.Nack(false, false)
		return
	}
	if m.Attempt <= 0 {
		m.Attempt = 1
	}
	log = log.With().Str("chat_id", m.ChatID).Int("attempt", m.Attempt).Logger()

	start := time.Now()
	res, err := p.rec.Reconcile(ctx, m.ChatID, m.Attempt)
	switch {
	case errors.Is(err, chat.ErrNotFound):
		log.Warn().Msg("reconcile target no longer exists")
		metrics.RecordReconcile(string(chat.ReconcileNotPending))
		_ = d.Ack(false)
		return
	case err != nil && ctx.Err() != nil:
		// interrupted by shutdown, hand it back to the broker
		_ = d.Nack(false, true)
		return
	case err != nil:
		log.Error().Err(err).Dur("cost", time.Since(start)).Msg("reconcile failed")
		metrics.RecordReconcile("error")
		_ = d.Nack(false, false)
		return
	}

	metrics.RecordReconcile(string(res))
	if time.Since(start) > 2*time.Second {
		log.Info().Str("result", string(res)).Dur("cost", time.Since(start)).Msg("slow reconcile")
	}
	if err := d.Ack(false); err != nil {
		log.Error().Err(err).Msg("ack failed")
	}
}
