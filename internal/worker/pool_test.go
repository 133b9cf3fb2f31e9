package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/genimage/internal/chat"
)

type ackRecord struct {
	tag     uint64
	acked   bool
	requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	records []ackRecord
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, ackRecord{tag: tag, acked: true})
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, ackRecord{tag: tag, requeue: requeue})
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func (f *fakeAcknowledger) byTag() map[uint64]ackRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uint64]ackRecord, len(f.records))
	for _, r := range f.records {
		out[r.tag] = r
	}
	return out
}

type call struct {
	chatID  string
	attempt int
}

type fakeReconciler struct {
	mu    sync.Mutex
	calls []call
	errs  map[string]error
}

func (f *fakeReconciler) Reconcile(ctx context.Context, chatID string, attempt int) (chat.ReconcileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{chatID: chatID, attempt: attempt})
	if err := f.errs[chatID]; err != nil {
		return "", err
	}
	return chat.ReconcileDone, nil
}

func delivery(ack amqp.Acknowledger, tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: []byte(body)}
}

func TestPool_AcksAndDeadLetters(t *testing.T) {
	ack := &fakeAcknowledger{}
	rec := &fakeReconciler{errs: map[string]error{
		"gone":   chat.ErrNotFound,
		"broken": errors.New("db down"),
	}}

	msgs := make(chan amqp.Delivery, 8)
	msgs <- delivery(ack, 1, `{"chat_id":"ok","attempt":3}`)
	msgs <- delivery(ack, 2, `{"chat_id":"gone","attempt":1}`)
	msgs <- delivery(ack, 3, `{"chat_id":"broken","attempt":1}`)
	msgs <- delivery(ack, 4, `not json`)
	msgs <- delivery(ack, 5, `{"chat_id":"legacy"}`)
	close(msgs)

	p := NewPool(rec, 2, zerolog.Nop())
	err := p.Run(context.Background(), msgs)
	require.ErrorIs(t, err, ErrDeliveriesClosed)

	got := ack.byTag()
	require.Len(t, got, 5)
	assert.True(t, got[1].acked)
	assert.True(t, got[2].acked, "missing chat is acked")
	assert.False(t, got[3].acked)
	assert.False(t, got[3].requeue, "failed reconcile goes to the DLQ")
	assert.False(t, got[4].acked)
	assert.False(t, got[4].requeue)
	assert.True(t, got[5].acked)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Contains(t, rec.calls, call{chatID: "ok", attempt: 3})
	assert.Contains(t, rec.calls, call{chatID: "legacy", attempt: 1})
	assert.Len(t, rec.calls, 4)
}

func TestPool_RequeuesWhenInterrupted(t *testing.T) {
	ack := &fakeAcknowledger{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &fakeReconciler{errs: map[string]error{"c1": context.Canceled}}
	p := NewPool(rec, 1, zerolog.Nop())
	p.handle(ctx, 0, delivery(ack, 7, `{"chat_id":"c1","attempt":2}`))

	got := ack.byTag()
	require.Contains(t, got, uint64(7))
	assert.False(t, got[7].acked)
	assert.True(t, got[7].requeue)
}

func TestPool_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	msgs := make(chan amqp.Delivery)

	done := make(chan error, 1)
	go func() { done <- NewPool(&fakeReconciler{}, 3, zerolog.Nop()).Run(ctx, msgs) }()
	cancel()
	assert.NoError(t, <-done)
}
