package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shopbot-service/internal/models"
)

// CreateOrder inserts an order together with its transaction
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, txn *models.Transaction) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO orders (id, store_id, customer_line_id, customer_name, customer_adds,
		                    product_info, product_ids, used_ingredients, ingredient_ids, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		order.ID, order.StoreID, order.CustomerLineID, order.CustomerName, order.CustomerAdds,
		order.ProductInfo, nonNilList(order.ProductIDs), nonNilConsumed(order.UsedIngredients),
		nonNilList(order.IngredientIDs), order.Status,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO transactions (id, order_id, total_amount, payment_method, is_confirmed, status, slip)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		txn.ID, txn.OrderID, txn.TotalAmount, txn.PaymentMethod, txn.IsConfirmed, txn.Status, txn.Slip,
	).Scan(&txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByCustomer retrieves the orders of one customer at one store, newest first
func (s *Store) GetOrdersByCustomer(ctx context.Context, storeID, customerID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE store_id = $1 AND customer_line_id = $2 ORDER BY created_at DESC",
		storeID, customerID)
	return orders, err
}

// UpdateOrderStatus moves an order from one status to another. It fails with
// models.ErrConcurrencyConflict if the order is no longer in status from.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, from, to models.OrderStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, orderID, from)
	if err != nil {
		return conflictOrErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("order %s is no longer %s: %w", orderID, from, models.ErrConcurrencyConflict)
	}
	return nil
}

// DeleteOrder removes an order; its transaction goes with it
func (s *Store) DeleteOrder(ctx context.Context, orderID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", orderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
	}
	return nil
}

// GetTransactionByOrderID retrieves the transaction of an order, nil if there is none
func (s *Store) GetTransactionByOrderID(ctx context.Context, orderID string) (*models.Transaction, error) {
	var txn models.Transaction
	err := s.db.GetContext(ctx, &txn, "SELECT * FROM transactions WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// UpdateTransaction stores the payment outcome of a transaction
func (s *Store) UpdateTransaction(ctx context.Context, txn *models.Transaction) error {
	return s.db.QueryRowxContext(ctx, `
		UPDATE transactions
		SET payment_method = $1, is_confirmed = $2, status = $3, slip = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`,
		txn.PaymentMethod, txn.IsConfirmed, txn.Status, txn.Slip, txn.ID,
	).Scan(&txn.UpdatedAt)
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM processed_events WHERE event_id = $1", eventID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		eventID, eventType)
	return err
}

func nonNilConsumed(c models.ConsumedIngredients) models.ConsumedIngredients {
	if c == nil {
		return models.ConsumedIngredients{}
	}
	return c
}
