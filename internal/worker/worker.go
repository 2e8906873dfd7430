package worker

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"shopbot-service/internal/broker"
	"shopbot-service/internal/models"
	"shopbot-service/internal/util"
)

// Consumer is the part of broker.Consumer the workers use
type Consumer interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// Notifier pushes a text message to a customer of a store
type Notifier interface {
	Notify(ctx context.Context, storeID, userID, text string)
}

// PaymentHandler applies asynchronous slip verification results
type PaymentHandler interface {
	HandlePaymentVerified(ctx context.Context, event *models.PaymentVerifiedEvent) error
}

// NotificationWorker tells customers when their order moves along
type NotificationWorker struct {
	consumer     Consumer
	eventHandler *broker.EventHandler
	notifier     Notifier
	logger       *zap.Logger
}

// NewNotificationWorker creates a worker over the order events topic
func NewNotificationWorker(consumer Consumer, notifier Notifier) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		notifier:     notifier,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnOrderPlaced(w.onOrderPlaced)
	w.eventHandler.OnOrderStatusChanged(w.onOrderStatusChanged)
	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) onOrderPlaced(_ context.Context, event *models.OrderPlacedEvent) error {
	w.logger.Info("New order",
		zap.String("order_id", event.OrderID),
		zap.String("store_id", event.StoreID),
		zap.String("customer", event.CustomerName),
		zap.Int("lines", len(event.Items)),
		zap.String("total", event.TotalAmount.StringFixed(2)))
	return nil
}

func (w *NotificationWorker) onOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	text, ok := statusMessage(event)
	if !ok || event.CustomerID == "" {
		return nil
	}
	w.notifier.Notify(ctx, event.StoreID, event.CustomerID, text)
	return nil
}

// statusMessage is what the customer reads when their order reaches a status.
// ok is false for statuses the customer is not told about.
func statusMessage(event *models.OrderStatusChangedEvent) (string, bool) {
	id := strings.ToUpper(event.OrderID)
	if len(id) > 8 {
		id = id[:8]
	}
	switch event.To {
	case models.OrderStatusWaitingDelivery:
		return fmt.Sprintf("Payment for order %s is confirmed. We are preparing it now.", id), true
	case models.OrderStatusInDelivery:
		return fmt.Sprintf("Order %s is on its way!", id), true
	case models.OrderStatusFinished:
		return fmt.Sprintf("Order %s was delivered. Enjoy your meal!", id), true
	case models.OrderStatusCancelled:
		if event.Reason != "" {
			return fmt.Sprintf("Order %s was cancelled: %s.", id, event.Reason), true
		}
		return fmt.Sprintf("Order %s was cancelled.", id), true
	}
	return "", false
}

// PaymentWorker applies slip verification results from the payment topic
type PaymentWorker struct {
	consumer     Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer Consumer, payments PaymentHandler) *PaymentWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentVerified(payments.HandlePaymentVerified)

	return &PaymentWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the payment worker
func (pw *PaymentWorker) Start(ctx context.Context) error {
	pw.logger.Info("Starting payment worker")
	return pw.consumer.StartConsuming(ctx, pw.eventHandler.HandleMessage)
}

// Stop stops the payment worker
func (pw *PaymentWorker) Stop() error {
	pw.logger.Info("Stopping payment worker")
	return pw.consumer.Close()
}
