package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Store is the profile of a shop running its own chat channel
type Store struct {
	ID                 string    `db:"id" json:"id"`
	Name               string    `db:"name" json:"name"`
	ChannelToken       string    `db:"channel_token" json:"-"`
	ClassifierEndpoint string    `db:"classifier_endpoint" json:"classifierEndpoint,omitempty"`
	ClassifierAPIKey   string    `db:"classifier_api_key" json:"-"`
	CreatedAt          time.Time `db:"created_at" json:"createdAt"`
}

// Product represents a menu entry of a store
type Product struct {
	ID          string          `db:"id" json:"id"`
	StoreID     string          `db:"store_id" json:"storeId"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description,omitempty"`
	Price       decimal.Decimal `db:"price" json:"price"`
	IsAvailable bool            `db:"is_available" json:"isAvailable"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
}

// RecipeLine says how much of an ingredient one unit of a product uses
type RecipeLine struct {
	ProductID    string          `db:"product_id" json:"productId"`
	IngredientID string          `db:"ingredient_id" json:"ingredientId"`
	QtyPerUnit   decimal.Decimal `db:"qty_per_unit" json:"qtyPerUnit"`
}

// ReceiptUsage records how much of a batch one order took
type ReceiptUsage struct {
	OrderID  string          `json:"orderId"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// ReceiptBatch is one stock receipt of an ingredient. Batches are consumed
// in stored order; a batch is inactive exactly when it is exhausted.
type ReceiptBatch struct {
	ReceiptID        string          `json:"receiptId"`
	Quantity         decimal.Decimal `json:"quantity"`
	Price            decimal.Decimal `json:"price"`
	QuantityUsed     decimal.Decimal `json:"quantityUsed"`
	IsActive         bool            `json:"isActive"`
	ReceiptUsedOrder []ReceiptUsage  `json:"receiptUsedOrder"`
	ReceivedAt       time.Time       `json:"receivedAt"`
}

// Available returns what is left of the batch
func (b ReceiptBatch) Available() decimal.Decimal {
	return b.Quantity.Sub(b.QuantityUsed)
}

// Ingredient is a stock-tracked raw material.
// Quantity always equals the sum of Available() over active batches.
type Ingredient struct {
	ID          string          `db:"id" json:"id"`
	StoreID     string          `db:"store_id" json:"storeId"`
	Name        string          `db:"name" json:"name"`
	Quantity    decimal.Decimal `db:"quantity" json:"quantity"`
	Unit        string          `db:"unit" json:"unit"`
	ReceiptInfo ReceiptBatches  `db:"receipt_info" json:"receiptInfo"`
	ProductIDs  StringList      `db:"product_ids" json:"productIDs"`
	ReceiptIDs  StringList      `db:"receipt_ids" json:"receiptIDs"`
	Version     int64           `db:"version" json:"-"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updatedAt"`
}

// Clone returns a deep copy so the ledger can work on it without touching the original
func (i *Ingredient) Clone() *Ingredient {
	c := *i
	c.ReceiptInfo = make(ReceiptBatches, len(i.ReceiptInfo))
	for n, b := range i.ReceiptInfo {
		b.ReceiptUsedOrder = append([]ReceiptUsage(nil), b.ReceiptUsedOrder...)
		c.ReceiptInfo[n] = b
	}
	c.ProductIDs = append(StringList(nil), i.ProductIDs...)
	c.ReceiptIDs = append(StringList(nil), i.ReceiptIDs...)
	return &c
}

// ProductLine is a priced line of a placed order
type ProductLine struct {
	ProductID     string          `json:"productId"`
	Name          string          `json:"name"`
	Quantity      int             `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Customization string          `json:"customization,omitempty"`
}

// Subtotal returns price times quantity
func (l ProductLine) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// ConsumedIngredient is the aggregated stock usage of one ingredient by one order
type ConsumedIngredient struct {
	IngredientID string          `json:"ingredientId"`
	Name         string          `json:"name"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
}

// Order represents a confirmed customer order
type Order struct {
	ID              string              `db:"id" json:"id"`
	StoreID         string              `db:"store_id" json:"storeId"`
	CustomerLineID  string              `db:"customer_line_id" json:"customerLineId"`
	CustomerName    string              `db:"customer_name" json:"customerName"`
	CustomerAdds    string              `db:"customer_adds" json:"customerAdds"`
	ProductInfo     ProductLines        `db:"product_info" json:"productInfo"`
	ProductIDs      StringList          `db:"product_ids" json:"productIDs"`
	UsedIngredients ConsumedIngredients `db:"used_ingredients" json:"usedIngredients"`
	IngredientIDs   StringList          `db:"ingredient_ids" json:"ingredientIDs"`
	Status          OrderStatus         `db:"status" json:"status"`
	CreatedAt       time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updatedAt"`
}

// Total returns the sum of price times quantity over all lines
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.ProductInfo {
		total = total.Add(l.Subtotal())
	}
	return total
}

// PaymentSlip is the verified evidence attached to a transaction
type PaymentSlip struct {
	Reference    string          `json:"reference"`
	Amount       decimal.Decimal `json:"amount"`
	Counterparty string          `json:"counterparty"`
	VerifiedAt   time.Time       `json:"verifiedAt"`
}

// Transaction is the payment record of an order, one per order
type Transaction struct {
	ID            string            `db:"id" json:"id"`
	OrderID       string            `db:"order_id" json:"orderId"`
	TotalAmount   decimal.Decimal   `db:"total_amount" json:"totalAmount"`
	PaymentMethod string            `db:"payment_method" json:"paymentMethod"`
	IsConfirmed   bool              `db:"is_confirmed" json:"isConfirmed"`
	Status        TransactionStatus `db:"status" json:"status"`
	Slip          *PaymentSlip      `db:"slip" json:"slip,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updatedAt"`
}

// TransactionStatus tracks payment verification
type TransactionStatus string

// Transaction statuses
const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusConfirmed TransactionStatus = "CONFIRMED"
	TransactionStatusRejected  TransactionStatus = "REJECTED"
)

// Payment methods
const (
	PaymentMethodUnpaid = ""
	PaymentMethodSlip   = "slip"
	PaymentMethodCash   = "cash"
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
