package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopbot-service/internal/broker"
	"shopbot-service/internal/models"
)

// replayConsumer hands its messages to the handler once
type replayConsumer struct {
	msgs   []kafka.Message
	closed bool
}

func (c *replayConsumer) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	for _, m := range c.msgs {
		if err := handler(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (c *replayConsumer) Close() error {
	c.closed = true
	return nil
}

type sentMessage struct{ storeID, userID, text string }

type recordingNotifier struct{ sent []sentMessage }

func (n *recordingNotifier) Notify(_ context.Context, storeID, userID, text string) {
	n.sent = append(n.sent, sentMessage{storeID, userID, text})
}

type recordingPayments struct {
	events []*models.PaymentVerifiedEvent
}

func (p *recordingPayments) HandlePaymentVerified(_ context.Context, e *models.PaymentVerifiedEvent) error {
	p.events = append(p.events, e)
	return nil
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	b, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func statusChanged(to models.OrderStatus, customer, reason string) models.OrderStatusChangedEvent {
	return models.OrderStatusChangedEvent{
		BaseEvent:  models.BaseEvent{EventType: models.EventTypeOrderStatusChanged},
		OrderID:    "3f2a9c1e-aaaa-bbbb",
		StoreID:    "s1",
		CustomerID: customer,
		To:         to,
		Reason:     reason,
	}
}

func TestNotificationWorkerNotifiesCustomer(t *testing.T) {
	consumer := &replayConsumer{msgs: []kafka.Message{
		message(t, models.OrderPlacedEvent{
			BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderPlaced},
			OrderID:   "3f2a9c1e-aaaa-bbbb",
		}),
		message(t, statusChanged(models.OrderStatusWaitingDelivery, "U1", "")),
		message(t, statusChanged(models.OrderStatusInDelivery, "U1", "")),
		message(t, statusChanged(models.OrderStatusCancelled, "U1", "out of basil")),
		message(t, statusChanged(models.OrderStatusPending, "U1", "")),
		message(t, statusChanged(models.OrderStatusFinished, "", "")),
	}}
	notifier := &recordingNotifier{}

	w := NewNotificationWorker(consumer, notifier)
	require.NoError(t, w.Start(context.Background()))

	require.Len(t, notifier.sent, 3)
	assert.Equal(t, sentMessage{"s1", "U1", "Payment for order 3F2A9C1E is confirmed. We are preparing it now."}, notifier.sent[0])
	assert.Equal(t, "Order 3F2A9C1E is on its way!", notifier.sent[1].text)
	assert.Equal(t, "Order 3F2A9C1E was cancelled: out of basil.", notifier.sent[2].text)

	require.NoError(t, w.Stop())
	assert.True(t, consumer.closed)
}

func TestPaymentWorkerForwardsVerifiedEvents(t *testing.T) {
	consumer := &replayConsumer{msgs: []kafka.Message{
		message(t, models.PaymentVerifiedEvent{
			BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypePaymentVerified},
			OrderID:   "o-1",
			Success:   true,
		}),
		message(t, statusChanged(models.OrderStatusInDelivery, "U1", "")),
	}}
	payments := &recordingPayments{}

	w := NewPaymentWorker(consumer, payments)
	require.NoError(t, w.Start(context.Background()))

	require.Len(t, payments.events, 1)
	assert.Equal(t, "o-1", payments.events[0].OrderID)
	assert.Equal(t, "e1", payments.events[0].EventID)
}
