package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shopbot-service/internal/models"
)

type memoryWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *memoryWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memoryWriter) Close() error { return nil }

// memoryReader replays msgs, then blocks until ctx is done
type memoryReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
}

func (r *memoryReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *memoryReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *memoryReader) Close() error { return nil }

func encode(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	b, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func TestEventPublisherKeysByOrder(t *testing.T) {
	w := &memoryWriter{}
	pub := NewEventPublisher(&Producer{writer: w, logger: zap.NewNop()})

	err := pub.PublishOrderPlaced(context.Background(), &models.OrderPlacedEvent{
		BaseEvent:   models.BaseEvent{EventID: "e1", EventType: models.EventTypeOrderPlaced},
		OrderID:     "o-1",
		TotalAmount: decimal.NewFromInt(180),
	})
	require.NoError(t, err)
	require.NoError(t, pub.PublishOrderStatusChanged(context.Background(), &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{EventID: "e2", EventType: models.EventTypeOrderStatusChanged},
		OrderID:   "o-1",
		From:      models.OrderStatusPending,
		To:        models.OrderStatusCancelled,
	}))

	require.NoError(t, pub.PublishPaymentVerified(context.Background(), &models.PaymentVerifiedEvent{
		BaseEvent: models.BaseEvent{EventID: "e3", EventType: models.EventTypePaymentVerified},
		OrderID:   "o-2",
	}))

	require.Len(t, w.msgs, 3)
	assert.Equal(t, "order-o-1", string(w.msgs[0].Key))
	assert.Equal(t, "order-o-1", string(w.msgs[1].Key))
	assert.Equal(t, "order-o-2", string(w.msgs[2].Key))

	var decoded models.OrderPlacedEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.True(t, decimal.NewFromInt(180).Equal(decoded.TotalAmount))
}

func TestEventPublisherWriteError(t *testing.T) {
	w := &memoryWriter{err: errors.New("broker down")}
	pub := NewEventPublisher(&Producer{writer: w, logger: zap.NewNop()})

	err := pub.PublishOrderPlaced(context.Background(), &models.OrderPlacedEvent{OrderID: "o-1"})
	assert.ErrorContains(t, err, "broker down")
}

func TestHandleMessageRoutesByType(t *testing.T) {
	h := NewEventHandler()

	var verified *models.PaymentVerifiedEvent
	var changed *models.OrderStatusChangedEvent
	h.OnPaymentVerified(func(_ context.Context, e *models.PaymentVerifiedEvent) error {
		verified = e
		return nil
	})
	h.OnOrderStatusChanged(func(_ context.Context, e *models.OrderStatusChangedEvent) error {
		changed = e
		return nil
	})

	ctx := context.Background()
	require.NoError(t, h.HandleMessage(ctx, encode(t, models.PaymentVerifiedEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypePaymentVerified},
		OrderID:   "o-1",
		Success:   true,
		Amount:    decimal.NewFromInt(60),
	})))
	require.NotNil(t, verified)
	assert.Equal(t, "o-1", verified.OrderID)
	assert.True(t, verified.Success)

	require.NoError(t, h.HandleMessage(ctx, encode(t, models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{EventID: "e2", EventType: models.EventTypeOrderStatusChanged},
		OrderID:   "o-2",
		To:        models.OrderStatusInDelivery,
	})))
	require.NotNil(t, changed)
	assert.Equal(t, models.OrderStatusInDelivery, changed.To)

	// no handler registered for this type
	require.NoError(t, h.HandleMessage(ctx, encode(t, models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderPlaced},
	})))
	require.NoError(t, h.HandleMessage(ctx, encode(t, models.BaseEvent{EventType: "SOMETHING_ELSE"})))

	assert.Error(t, h.HandleMessage(ctx, kafka.Message{Value: []byte("not json")}))
}

func TestStartConsumingCommitsHandledMessages(t *testing.T) {
	r := &memoryReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte("ok")},
		{Offset: 2, Value: []byte("fail")},
		{Offset: 3, Value: []byte("ok")},
	}}
	c := &Consumer{reader: r, topic: "t", logger: zap.NewNop()}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	seen := 0
	err := c.StartConsuming(ctx, func(_ context.Context, msg kafka.Message) error {
		seen++
		if string(msg.Value) == "fail" {
			return errors.New("handler failed")
		}
		if seen == 3 {
			cancel()
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, seen)
	assert.Equal(t, []int64{1, 3}, r.committed)
}
