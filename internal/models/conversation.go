package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType describes what the customer is currently doing with the cart
type OrderType string

const (
	OrderTypeNew  OrderType = "new"
	OrderTypeEdit OrderType = "edit"
	OrderTypeCart OrderType = "cart"
)

// CartItem is one line of the open cart.
// Two items are the same line when Key() matches.
type CartItem struct {
	ProductID     string          `json:"productId"`
	Name          string          `json:"name"`
	Quantity      int             `json:"quantity"`
	Customization string          `json:"customization,omitempty"`
	Price         decimal.Decimal `json:"price"`
}

// Key returns the merge identity of the item
func (c CartItem) Key() string {
	return strings.ToLower(strings.TrimSpace(c.Name)) + "\x00" + strings.TrimSpace(c.Customization)
}

// Subtotal returns price times quantity
func (c CartItem) Subtotal() decimal.Decimal {
	return c.Price.Mul(decimal.NewFromInt(int64(c.Quantity)))
}

// CurrentOrder is the cart under construction.
// OrderID is set only while a confirmation is attached to it.
type CurrentOrder struct {
	Items           []CartItem `json:"items"`
	DeliveryAddress string     `json:"deliveryAddress"`
	CustomerName    string     `json:"customerName"`
	OrderID         string     `json:"orderId,omitempty"`
}

// Total returns the sum of line subtotals
func (o *CurrentOrder) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// ConversationState is the per (user, store) session record.
// Version increases on every successful write and guards compare-and-set.
type ConversationState struct {
	UserID          string        `json:"userId"`
	StoreID         string        `json:"storeId"`
	IsBotEnabled    bool          `json:"isBotEnabled"`
	OrderType       OrderType     `json:"orderType"`
	CurrentOrder    *CurrentOrder `json:"currentOrder,omitempty"`
	LastOrderID     string        `json:"lastOrderId,omitempty"`
	LastInteraction time.Time     `json:"lastInteraction"`
	ExpiresAt       time.Time     `json:"expiresAt"`
	Version         int64         `json:"version"`
}

// NewConversationState returns the EMPTY state of a fresh session
func NewConversationState(userID, storeID string) *ConversationState {
	return &ConversationState{
		UserID:       userID,
		StoreID:      storeID,
		IsBotEnabled: true,
		OrderType:    OrderTypeNew,
	}
}

// HasCart reports whether the session is in CART_OPEN or ORDER_PLACED
func (s *ConversationState) HasCart() bool {
	return s.CurrentOrder != nil && len(s.CurrentOrder.Items) > 0
}

// Touch refreshes the interaction time and expiry
func (s *ConversationState) Touch(now time.Time, ttl time.Duration) {
	s.LastInteraction = now
	s.ExpiresAt = now.Add(ttl)
}

// Clone returns a deep copy of the state
func (s *ConversationState) Clone() *ConversationState {
	c := *s
	if s.CurrentOrder != nil {
		co := *s.CurrentOrder
		co.Items = append([]CartItem(nil), s.CurrentOrder.Items...)
		c.CurrentOrder = &co
	}
	return &c
}

// ItemRequest is a product the customer asked for by name
type ItemRequest struct {
	Name          string `json:"name"`
	Quantity      int    `json:"quantity"`
	Customization string `json:"customization,omitempty"`
}

// ModificationAction is the kind of cart edit
type ModificationAction string

const (
	ModificationAdd     ModificationAction = "add"
	ModificationRemove  ModificationAction = "remove"
	ModificationReplace ModificationAction = "replace"
)

// Modification is one edit of an open cart
type Modification struct {
	Action              ModificationAction `json:"action"`
	Name                string             `json:"name"`
	Quantity            int                `json:"quantity,omitempty"`
	Customization       string             `json:"customization,omitempty"`
	ReplacementName     string             `json:"replacementName,omitempty"`
	ReplacementQuantity int                `json:"replacementQuantity,omitempty"`
}
