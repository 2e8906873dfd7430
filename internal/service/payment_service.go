package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopbot-service/internal/models"
	"shopbot-service/internal/payment"
	"shopbot-service/internal/util"

	"go.uber.org/zap"
)

// PaymentService settles the transaction of an order from a verified slip
// or a cash confirmation
type PaymentService struct {
	orders      OrderRepository
	fulfillment *FulfillmentService
	verifier    payment.Verifier
	timeout     time.Duration
	logger      *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	orders OrderRepository,
	fulfillment *FulfillmentService,
	verifier payment.Verifier,
	timeout time.Duration,
) *PaymentService {
	return &PaymentService{
		orders:      orders,
		fulfillment: fulfillment,
		verifier:    verifier,
		timeout:     timeout,
		logger:      util.GetLogger(),
	}
}

// SubmitSlip verifies a payment slip for an order. The payment is confirmed
// only when the slip reads as successful and covers the order total;
// otherwise it is rejected and models.ErrPaymentNotConfirmed is returned
// together with what was read from the slip.
func (ps *PaymentService) SubmitSlip(ctx context.Context, orderID, ref string) (*payment.Result, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.SubmitSlip")
	defer span.End()

	txn, err := ps.orders.GetTransactionByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, fmt.Errorf("transaction of order %s: %w", orderID, models.ErrNotFound)
	}
	if txn.IsConfirmed {
		return nil, fmt.Errorf("order %s already paid: %w", orderID, models.ErrDuplicateConfirmation)
	}

	ps.logger.Info("Verifying payment slip",
		zap.String("order_id", orderID),
		zap.String("ref", ref))

	vctx, cancel := context.WithTimeout(ctx, ps.timeout)
	defer cancel()
	res, err := ps.verifier.Verify(vctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to verify slip: %w", err)
	}

	if !res.Success || res.Amount.LessThan(txn.TotalAmount) {
		reason := "slip unreadable"
		if res.Success {
			reason = fmt.Sprintf("slip amount %s below total %s", res.Amount, txn.TotalAmount)
		}
		if err := ps.fulfillment.RejectPayment(ctx, orderID, reason); err != nil {
			return res, err
		}
		return res, models.ErrPaymentNotConfirmed
	}

	slip := &models.PaymentSlip{
		Reference:    res.Reference,
		Amount:       res.Amount,
		Counterparty: res.Counterparty,
		VerifiedAt:   time.Now(),
	}
	if err := ps.fulfillment.ConfirmPayment(ctx, orderID, models.PaymentMethodSlip, slip); err != nil {
		return res, err
	}
	return res, nil
}

// ConfirmCash records a cash payment taken by staff
func (ps *PaymentService) ConfirmCash(ctx context.Context, orderID string) error {
	return ps.fulfillment.ConfirmPayment(ctx, orderID, models.PaymentMethodCash, nil)
}

// HandlePaymentVerified applies the outcome of an asynchronous slip
// verification. Each event is applied once.
func (ps *PaymentService) HandlePaymentVerified(ctx context.Context, event *models.PaymentVerifiedEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandlePaymentVerified")
	defer span.End()

	processed, err := ps.orders.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		ps.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	if event.Success {
		slip := &models.PaymentSlip{
			Reference:    event.Reference,
			Amount:       event.Amount,
			Counterparty: event.Counterparty,
			VerifiedAt:   event.Timestamp,
		}
		err = ps.fulfillment.ConfirmPayment(ctx, event.OrderID, models.PaymentMethodSlip, slip)
	} else {
		err = ps.fulfillment.RejectPayment(ctx, event.OrderID, "slip verification failed")
	}
	switch {
	case errors.Is(err, models.ErrInvalidStatusTransition):
		ps.logger.Warn("Ignoring payment result for settled order",
			zap.String("order_id", event.OrderID), zap.Error(err))
	case err != nil:
		return err
	}

	if err := ps.orders.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		ps.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}
