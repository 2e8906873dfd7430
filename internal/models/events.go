package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced        = "ORDER_PLACED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypePaymentVerified    = "PAYMENT_VERIFIED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published when a cart is confirmed into an order
type OrderPlacedEvent struct {
	BaseEvent
	OrderID      string          `json:"order_id"`
	StoreID      string          `json:"store_id"`
	CustomerID   string          `json:"customer_id"`
	CustomerName string          `json:"customer_name"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Items        []ProductLine   `json:"items"`
}

// OrderStatusChangedEvent published on every fulfillment transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID    string      `json:"order_id"`
	StoreID    string      `json:"store_id"`
	CustomerID string      `json:"customer_id"`
	From       OrderStatus `json:"from"`
	To         OrderStatus `json:"to"`
	Reason     string      `json:"reason,omitempty"`
}

// PaymentVerifiedEvent is published by the external slip verification pipeline
type PaymentVerifiedEvent struct {
	BaseEvent
	OrderID      string          `json:"order_id"`
	Success      bool            `json:"success"`
	Amount       decimal.Decimal `json:"amount"`
	Counterparty string          `json:"counterparty"`
	Reference    string          `json:"reference"`
}
