package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopbot-service/internal/models"
	"shopbot-service/internal/session"
	"shopbot-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService turns a confirmed cart into a persisted order
type OrderService struct {
	sessions  *sessionMutator
	locker    session.Locker
	menu      MenuRepository
	ledger    Ledger
	orders    OrderRepository
	publisher EventPublisher
	lockTTL   time.Duration
	logger    *zap.Logger
}

// OrderServiceConfig carries the tunables of the confirmation flow
type OrderServiceConfig struct {
	SessionTTL time.Duration
	LockTTL    time.Duration
	Retry      util.RetryPolicy
}

// NewOrderService creates a new order service
func NewOrderService(
	sessions session.Store,
	locker session.Locker,
	menu MenuRepository,
	ledger Ledger,
	orders OrderRepository,
	publisher EventPublisher,
	cfg OrderServiceConfig,
) *OrderService {
	return &OrderService{
		sessions:  newSessionMutator(sessions, cfg.SessionTTL, cfg.Retry),
		locker:    locker,
		menu:      menu,
		ledger:    ledger,
		orders:    orders,
		publisher: publisher,
		lockTTL:   cfg.LockTTL,
		logger:    util.GetLogger(),
	}
}

// PlacedOrder is the result of a successful confirmation
type PlacedOrder struct {
	Order       *models.Order       `json:"order"`
	Transaction *models.Transaction `json:"transaction"`
}

// PlaceOrder confirms the open cart of a session. Ingredient stock is
// consumed and the order is persisted, or nothing changes at all.
func (s *OrderService) PlaceOrder(ctx context.Context, key session.Key) (*PlacedOrder, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	lockKey := "confirm:" + key.String()
	token, ok, err := s.locker.TryLock(ctx, lockKey, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire confirmation lock: %w", err)
	}
	if !ok {
		util.OrdersFailedTotal.WithLabelValues("duplicate").Inc()
		return nil, models.ErrDuplicateConfirmation
	}
	defer func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.logger.Error("Failed to release confirmation lock", zap.String("key", lockKey), zap.Error(err))
		}
	}()

	st, err := s.menu.GetStore(ctx, key.StoreID)
	if err != nil {
		return nil, fmt.Errorf("failed to get store: %w", err)
	}

	orderID := uuid.New().String()
	var cart models.CurrentOrder
	_, err = s.sessions.mutate(ctx, key, func(state *models.ConversationState) error {
		if !state.HasCart() {
			return models.ErrNoActiveOrder
		}
		if state.CurrentOrder.DeliveryAddress == "" {
			return models.ErrMissingDeliveryAddress
		}
		if prev := state.CurrentOrder.OrderID; prev != "" {
			txn, err := s.orders.GetTransactionByOrderID(ctx, prev)
			if err != nil {
				return err
			}
			if txn != nil {
				return models.ErrDuplicateConfirmation
			}
		}
		state.CurrentOrder.OrderID = orderID
		cart = *state.Clone().CurrentOrder
		return nil
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	order, err := s.buildOrder(ctx, key, orderID, &cart)
	if err != nil {
		s.detach(ctx, key, orderID)
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	used, err := s.ledger.Consume(ctx, order)
	if err != nil {
		s.detach(ctx, key, orderID)
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}
	order.UsedIngredients = used
	for _, u := range used {
		order.IngredientIDs = append(order.IngredientIDs, u.IngredientID)
	}

	txn := &models.Transaction{
		ID:            uuid.New().String(),
		OrderID:       order.ID,
		TotalAmount:   order.Total(),
		PaymentMethod: models.PaymentMethodUnpaid,
		Status:        models.TransactionStatusPending,
	}

	if err := s.orders.CreateOrder(ctx, order, txn); err != nil {
		if rerr := s.ledger.Reverse(context.WithoutCancel(ctx), order); rerr != nil {
			s.logger.Error("Failed to give back stock of unsaved order",
				zap.String("order_id", order.ID), zap.Error(rerr))
		}
		s.detach(ctx, key, orderID)
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	_, err = s.sessions.mutate(ctx, key, func(state *models.ConversationState) error {
		if state.CurrentOrder != nil && state.CurrentOrder.OrderID == orderID {
			state.CurrentOrder = nil
		}
		state.OrderType = models.OrderTypeNew
		state.LastOrderID = orderID
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to clear cart of placed order",
			zap.String("order_id", orderID), zap.Error(err))
	}

	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order placed",
		zap.String("order_id", order.ID),
		zap.String("store_id", order.StoreID),
		zap.String("total", txn.TotalAmount.String()))

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderID:      order.ID,
		StoreID:      st.ID,
		CustomerID:   order.CustomerLineID,
		CustomerName: order.CustomerName,
		TotalAmount:  txn.TotalAmount,
		Items:        order.ProductInfo,
	}
	if err := s.publisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}

	return &PlacedOrder{Order: order, Transaction: txn}, nil
}

// buildOrder snapshots the cart at current menu prices
func (s *OrderService) buildOrder(ctx context.Context, key session.Key, orderID string, cart *models.CurrentOrder) (*models.Order, error) {
	order := &models.Order{
		ID:             orderID,
		StoreID:        key.StoreID,
		CustomerLineID: key.UserID,
		CustomerName:   cart.CustomerName,
		CustomerAdds:   cart.DeliveryAddress,
		Status:         models.OrderStatusPending,
	}

	for _, it := range cart.Items {
		p, err := s.menu.FindProductByName(ctx, key.StoreID, it.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %q: %w", it.Name, err)
		}
		if p == nil {
			return nil, fmt.Errorf("%q: %w", it.Name, models.ErrProductUnavailable)
		}
		order.ProductInfo = append(order.ProductInfo, models.ProductLine{
			ProductID:     p.ID,
			Name:          p.Name,
			Quantity:      it.Quantity,
			Price:         p.Price,
			Customization: it.Customization,
		})
		if !contains(order.ProductIDs, p.ID) {
			order.ProductIDs = append(order.ProductIDs, p.ID)
		}
	}
	return order, nil
}

// detach forgets the order id attached to a cart whose confirmation failed
func (s *OrderService) detach(ctx context.Context, key session.Key, orderID string) {
	_, err := s.sessions.mutate(context.WithoutCancel(ctx), key, func(state *models.ConversationState) error {
		if state.CurrentOrder != nil && state.CurrentOrder.OrderID == orderID {
			state.CurrentOrder.OrderID = ""
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to detach order from cart",
			zap.String("order_id", orderID), zap.Error(err))
	}
}

// GetOrder retrieves an order with its transaction
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, *models.Transaction, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	txn, err := s.orders.GetTransactionByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, txn, nil
}

// CustomerOrders lists the orders of one customer at one store, newest first
func (s *OrderService) CustomerOrders(ctx context.Context, storeID, customerID string) ([]models.Order, error) {
	return s.orders.GetOrdersByCustomer(ctx, storeID, customerID)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrNoActiveOrder):
		return "no_active_order"
	case errors.Is(err, models.ErrMissingDeliveryAddress):
		return "missing_address"
	case errors.Is(err, models.ErrInsufficientIngredient):
		return "insufficient_ingredient"
	case errors.Is(err, models.ErrDuplicateConfirmation):
		return "duplicate"
	case errors.Is(err, models.ErrProductUnavailable):
		return "product_unavailable"
	case errors.Is(err, models.ErrConcurrencyConflict):
		return "conflict"
	default:
		return "error"
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
