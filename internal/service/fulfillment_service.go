package service

import (
	"context"
	"fmt"
	"time"

	"shopbot-service/internal/models"
	"shopbot-service/internal/session"
	"shopbot-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FulfillmentService drives a placed order through payment, delivery and
// cancellation, giving ingredient stock back when an order is cancelled.
// Every status change holds the order lock, so a cancellation finishes its
// stock reversal before anyone else can move the order.
type FulfillmentService struct {
	orders    OrderRepository
	ledger    Ledger
	locker    session.Locker
	publisher EventPublisher
	lockTTL   time.Duration
	retry     util.RetryPolicy
	logger    *zap.Logger
}

type FulfillmentConfig struct {
	LockTTL time.Duration
	Retry   util.RetryPolicy
}

// NewFulfillmentService creates a new fulfillment service
func NewFulfillmentService(
	orders OrderRepository,
	ledger Ledger,
	locker session.Locker,
	publisher EventPublisher,
	cfg FulfillmentConfig,
) *FulfillmentService {
	return &FulfillmentService{
		orders:    orders,
		ledger:    ledger,
		locker:    locker,
		publisher: publisher,
		lockTTL:   cfg.LockTTL,
		retry:     cfg.Retry,
		logger:    util.GetLogger(),
	}
}

// lockOrder waits for the order lock, giving up with
// models.ErrConcurrencyConflict once the retry policy is spent.
func (fs *FulfillmentService) lockOrder(ctx context.Context, orderID string) (func(), error) {
	key := "order:" + orderID
	var token string
	err := util.RetryOnConflict(ctx, fs.retry, "order_lock", func() error {
		t, ok, err := fs.locker.TryLock(ctx, key, fs.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire order lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("order %s is being updated: %w", orderID, models.ErrConcurrencyConflict)
		}
		token = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return func() {
		if err := fs.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			fs.logger.Error("Failed to release order lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

// ConfirmPayment records a confirmed payment and releases the order for delivery
func (fs *FulfillmentService) ConfirmPayment(ctx context.Context, orderID, method string, slip *models.PaymentSlip) error {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.ConfirmPayment")
	defer span.End()

	unlock, err := fs.lockOrder(ctx, orderID)
	if err != nil {
		return err
	}
	defer unlock()

	order, txn, err := fs.load(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != models.OrderStatusPending {
		return fmt.Errorf("order %s is %s: %w", orderID, order.Status, models.ErrInvalidStatusTransition)
	}

	txn.PaymentMethod = method
	txn.IsConfirmed = true
	txn.Status = models.TransactionStatusConfirmed
	txn.Slip = slip
	if err := fs.orders.UpdateTransaction(ctx, txn); err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	util.PaymentsConfirmedTotal.WithLabelValues(method).Inc()

	return fs.transition(ctx, order, models.OrderStatusWaitingDelivery, "payment confirmed")
}

// RejectPayment marks the payment of an order as rejected. The order stays
// PENDING so that the customer can pay again.
func (fs *FulfillmentService) RejectPayment(ctx context.Context, orderID, reason string) error {
	unlock, err := fs.lockOrder(ctx, orderID)
	if err != nil {
		return err
	}
	defer unlock()

	_, txn, err := fs.load(ctx, orderID)
	if err != nil {
		return err
	}
	if txn.IsConfirmed {
		return fmt.Errorf("payment of order %s already confirmed: %w", orderID, models.ErrInvalidStatusTransition)
	}

	txn.Status = models.TransactionStatusRejected
	if err := fs.orders.UpdateTransaction(ctx, txn); err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	util.PaymentsRejectedTotal.Inc()
	fs.logger.Warn("Payment rejected", zap.String("order_id", orderID), zap.String("reason", reason))
	return nil
}

// UpdateStatus moves an order along its lifecycle
func (fs *FulfillmentService) UpdateStatus(ctx context.Context, orderID string, to models.OrderStatus) (*models.Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", to, models.ErrInvalidStatusTransition)
	}
	if to == models.OrderStatusCancelled {
		return fs.CancelOrder(ctx, orderID, "cancelled by staff")
	}

	unlock, err := fs.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, txn, err := fs.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(order.Status, to) {
		return nil, fmt.Errorf("order %s cannot move from %s to %s: %w",
			orderID, order.Status, to, models.ErrInvalidStatusTransition)
	}
	if to == models.OrderStatusWaitingDelivery && !txn.IsConfirmed {
		return nil, fmt.Errorf("order %s: %w", orderID, models.ErrPaymentNotConfirmed)
	}

	if err := fs.transition(ctx, order, to, ""); err != nil {
		return nil, err
	}
	return order, nil
}

// CancelOrder cancels an order and gives its ingredients back to the
// batches they were taken from.
func (fs *FulfillmentService) CancelOrder(ctx context.Context, orderID, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.CancelOrder")
	defer span.End()

	unlock, err := fs.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, txn, err := fs.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(order.Status, models.OrderStatusCancelled) {
		return nil, fmt.Errorf("order %s cannot be cancelled from %s: %w",
			orderID, order.Status, models.ErrInvalidStatusTransition)
	}

	fs.logger.Info("Cancelling order - giving back stock",
		zap.String("order_id", orderID),
		zap.String("reason", reason))

	if err := fs.ledger.Reverse(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to give back stock: %w", err)
	}

	if err := fs.transition(ctx, order, models.OrderStatusCancelled, reason); err != nil {
		// The order moved on without the lock, e.g. after it expired.
		// Its stock has to be taken out again.
		if _, cerr := fs.ledger.Consume(context.WithoutCancel(ctx), order); cerr != nil {
			fs.logger.Error("Failed to take back stock of order that was not cancelled",
				zap.String("order_id", orderID), zap.Error(cerr))
		}
		return nil, err
	}

	if txn.Status != models.TransactionStatusRejected {
		txn.Status = models.TransactionStatusRejected
		if err := fs.orders.UpdateTransaction(ctx, txn); err != nil {
			fs.logger.Error("Failed to reject transaction of cancelled order", zap.Error(err))
		}
	}

	util.OrdersCancelledTotal.Inc()
	return order, nil
}

// DeleteOrder removes an order after giving its stock back. Finished orders
// are reversed too, so no batch keeps a usage entry for a missing order.
func (fs *FulfillmentService) DeleteOrder(ctx context.Context, orderID string) error {
	unlock, err := fs.lockOrder(ctx, orderID)
	if err != nil {
		return err
	}
	defer unlock()

	order, err := fs.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if err := fs.ledger.Reverse(ctx, order); err != nil {
		return fmt.Errorf("failed to give back stock: %w", err)
	}
	if err := fs.orders.DeleteOrder(ctx, orderID); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}

	fs.logger.Info("Order deleted", zap.String("order_id", orderID))
	return nil
}

func (fs *FulfillmentService) load(ctx context.Context, orderID string) (*models.Order, *models.Transaction, error) {
	order, err := fs.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	txn, err := fs.orders.GetTransactionByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if txn == nil {
		return nil, nil, fmt.Errorf("transaction of order %s: %w", orderID, models.ErrNotFound)
	}
	return order, txn, nil
}

// transition performs a conditional status update and publishes the change
func (fs *FulfillmentService) transition(ctx context.Context, order *models.Order, to models.OrderStatus, reason string) error {
	from := order.Status
	if err := fs.orders.UpdateOrderStatus(ctx, order.ID, from, to); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	order.Status = to
	util.OrderStatusChangesTotal.WithLabelValues(string(to)).Inc()

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: time.Now(),
		},
		OrderID:    order.ID,
		StoreID:    order.StoreID,
		CustomerID: order.CustomerLineID,
		From:       from,
		To:         to,
		Reason:     reason,
	}
	if err := fs.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		fs.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}

	fs.logger.Info("Order status changed",
		zap.String("order_id", order.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}
