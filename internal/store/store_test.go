package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopbot-service/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database (set TEST_DATABASE_URL)")
	}
	s, err := NewStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedStore(t *testing.T, ctx context.Context, s *Store) (string, *models.Ingredient) {
	t.Helper()
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	st := &models.Store{ID: "store-" + suffix, Name: "Krapow House"}
	require.NoError(t, s.CreateStore(ctx, st))

	ing := &models.Ingredient{
		ID:       "pork-" + suffix,
		StoreID:  st.ID,
		Name:     "Pork",
		Unit:     "g",
		Quantity: decimal.NewFromInt(500),
		ReceiptInfo: models.ReceiptBatches{{
			ReceiptID: "R1", Quantity: decimal.NewFromInt(500), Price: decimal.RequireFromString("0.2"), IsActive: true,
		}},
	}
	require.NoError(t, s.CreateIngredient(ctx, ing))
	return st.ID, ing
}

func TestCreateOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	storeID, _ := seedStore(t, ctx, s)

	order := &models.Order{
		ID:             fmt.Sprintf("order-%d", time.Now().UnixNano()),
		StoreID:        storeID,
		CustomerLineID: "U123",
		CustomerName:   "Somchai",
		CustomerAdds:   "12 Sukhumvit",
		ProductInfo:    models.ProductLines{{ProductID: "p1", Name: "Pad Krapow", Quantity: 3, Price: decimal.NewFromInt(60)}},
		Status:         models.OrderStatusPending,
	}
	txn := &models.Transaction{
		ID:          order.ID + "-txn",
		OrderID:     order.ID,
		TotalAmount: order.Total(),
		Status:      models.TransactionStatusPending,
	}

	require.NoError(t, s.CreateOrder(ctx, order, txn))

	retrieved, err := s.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.CustomerAdds, retrieved.CustomerAdds)
	require.Len(t, retrieved.ProductInfo, 1)
	assert.True(t, retrieved.ProductInfo[0].Price.Equal(decimal.NewFromInt(60)))

	gotTxn, err := s.GetTransactionByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, gotTxn)
	assert.True(t, gotTxn.TotalAmount.Equal(decimal.NewFromInt(180)))

	require.NoError(t, s.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusWaitingDelivery))
	err = s.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusCancelled)
	assert.ErrorIs(t, err, models.ErrConcurrencyConflict)

	require.NoError(t, s.DeleteOrder(ctx, order.ID))
	_, err = s.GetOrderByID(ctx, order.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSaveIngredientsVersionCheck(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, ing := seedStore(t, ctx, s)

	list, err := s.GetIngredients(ctx, []string{ing.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)

	first := list[0].Clone()
	stale := list[0].Clone()

	first.Quantity = decimal.NewFromInt(400)
	require.NoError(t, s.SaveIngredients(ctx, []*models.Ingredient{first}))
	assert.Equal(t, ing.Version+1, first.Version)

	stale.Quantity = decimal.NewFromInt(300)
	err = s.SaveIngredients(ctx, []*models.Ingredient{stale})
	assert.ErrorIs(t, err, models.ErrConcurrencyConflict)

	list, err = s.GetIngredients(ctx, []string{ing.ID})
	require.NoError(t, err)
	assert.True(t, list[0].Quantity.Equal(decimal.NewFromInt(400)))
}

func TestIdempotency(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	eventID := fmt.Sprintf("evt-%d", time.Now().UnixNano())
	processed, err := s.IsEventProcessed(ctx, eventID)
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, s.MarkEventProcessed(ctx, eventID, models.EventTypePaymentVerified))
	require.NoError(t, s.MarkEventProcessed(ctx, eventID, models.EventTypePaymentVerified))

	processed, err = s.IsEventProcessed(ctx, eventID)
	require.NoError(t, err)
	assert.True(t, processed)
}
