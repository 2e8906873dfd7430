package service

import (
	"context"

	"shopbot-service/internal/models"
)

// MenuRepository resolves store profiles and products
type MenuRepository interface {
	GetStore(ctx context.Context, id string) (*models.Store, error)
	FindProductByName(ctx context.Context, storeID, name string) (*models.Product, error)
	ListProducts(ctx context.Context, storeID string) ([]models.Product, error)
}

// OrderRepository persists orders, their transactions and processed events
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order, txn *models.Transaction) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrdersByCustomer(ctx context.Context, storeID, customerID string) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, from, to models.OrderStatus) error
	DeleteOrder(ctx context.Context, orderID string) error
	GetTransactionByOrderID(ctx context.Context, orderID string) (*models.Transaction, error)
	UpdateTransaction(ctx context.Context, txn *models.Transaction) error
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Ledger consumes and gives back ingredient stock for orders
type Ledger interface {
	Consume(ctx context.Context, order *models.Order) ([]models.ConsumedIngredient, error)
	Reverse(ctx context.Context, order *models.Order) error
}

// EventPublisher emits order lifecycle events
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}
