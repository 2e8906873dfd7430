package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"shopbot-service/internal/ledger"
	"shopbot-service/internal/models"
	"shopbot-service/internal/payment"
	"shopbot-service/internal/session"
	"shopbot-service/internal/store"
	"shopbot-service/internal/util"
)

type recordingPublisher struct {
	mu      sync.Mutex
	placed  []*models.OrderPlacedEvent
	changed []*models.OrderStatusChangedEvent
	err     error
}

func (p *recordingPublisher) PublishOrderPlaced(_ context.Context, e *models.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, e)
	return p.err
}

func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, e)
	return p.err
}

type stubVerifier struct {
	result *payment.Result
	err    error
}

func (v stubVerifier) Verify(_ context.Context, ref string) (*payment.Result, error) {
	if v.err != nil {
		return nil, v.err
	}
	r := *v.result
	r.Reference = ref
	return &r, nil
}

// failingOrders fails order creation to exercise compensation
type failingOrders struct {
	*store.MemoryStore
}

func (f failingOrders) CreateOrder(context.Context, *models.Order, *models.Transaction) error {
	return errors.New("disk full")
}

const storeID = "s1"

var porkBatchPrice = decimal.RequireFromString("0.2")

type fixture struct {
	db          *store.MemoryStore
	sessions    *session.MemoryStore
	locker      *session.MemoryLocker
	ledger      *ledger.Engine
	pub         *recordingPublisher
	cart        *CartEngine
	orders      *OrderService
	fulfillment *FulfillmentService
	payments    *PaymentService
	key         session.Key
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := store.NewMemoryStore()

	require.NoError(t, db.CreateStore(ctx, &models.Store{ID: storeID, Name: "Krapow House"}))
	for _, p := range []models.Product{
		{ID: "p-krapow", StoreID: storeID, Name: "Pad Krapow", Price: decimal.NewFromInt(60), IsAvailable: true},
		{ID: "p-egg", StoreID: storeID, Name: "Egg", Price: decimal.NewFromInt(15), IsAvailable: true},
		{ID: "p-rice", StoreID: storeID, Name: "Fried Rice", Price: decimal.NewFromInt(50), IsAvailable: true},
	} {
		p := p
		require.NoError(t, db.CreateProduct(ctx, &p))
	}

	require.NoError(t, db.CreateIngredient(ctx, &models.Ingredient{
		ID: "ing-pork", StoreID: storeID, Name: "Pork", Unit: "g",
		Quantity: decimal.NewFromInt(500),
		ReceiptInfo: models.ReceiptBatches{
			{ReceiptID: "r1", Quantity: decimal.NewFromInt(500), Price: porkBatchPrice, IsActive: true},
		},
		ReceiptIDs: models.StringList{"r1"},
	}))
	require.NoError(t, db.CreateIngredient(ctx, &models.Ingredient{
		ID: "ing-egg", StoreID: storeID, Name: "Egg", Unit: "pc",
		Quantity: decimal.NewFromInt(4),
		ReceiptInfo: models.ReceiptBatches{
			{ReceiptID: "r2", Quantity: decimal.NewFromInt(4), Price: decimal.NewFromInt(4), IsActive: true},
		},
		ReceiptIDs: models.StringList{"r2"},
	}))
	require.NoError(t, db.SetRecipe(ctx, "p-krapow", []models.RecipeLine{
		{IngredientID: "ing-pork", QtyPerUnit: decimal.NewFromInt(100)},
	}))
	require.NoError(t, db.SetRecipe(ctx, "p-egg", []models.RecipeLine{
		{IngredientID: "ing-egg", QtyPerUnit: decimal.NewFromInt(1)},
	}))

	retry := util.RetryPolicy{Attempts: 5, Backoff: time.Millisecond}
	f := &fixture{
		db:       db,
		sessions: session.NewMemoryStore(),
		locker:   session.NewMemoryLocker(),
		ledger:   ledger.NewEngine(db, db, retry),
		pub:      &recordingPublisher{},
		key:      session.Key{UserID: "U1", StoreID: storeID},
	}
	f.cart = NewCartEngine(f.sessions, db, 30*time.Minute, retry)
	f.orders = NewOrderService(f.sessions, f.locker, db, f.ledger, db, f.pub, OrderServiceConfig{
		SessionTTL: 30 * time.Minute,
		LockTTL:    time.Minute,
		Retry:      retry,
	})
	f.fulfillment = NewFulfillmentService(db, f.ledger, f.locker, f.pub, FulfillmentConfig{
		LockTTL: time.Minute,
		Retry:   retry,
	})
	f.payments = NewPaymentService(db, f.fulfillment, stubVerifier{result: &payment.Result{
		Success: true, Amount: decimal.NewFromInt(180), Counterparty: "Krapow House",
	}}, time.Second)
	return f
}

func (f *fixture) ingredient(t *testing.T, id string) *models.Ingredient {
	t.Helper()
	list, err := f.db.GetIngredients(context.Background(), []string{id})
	require.NoError(t, err)
	require.Len(t, list, 1)
	return list[0]
}

func (f *fixture) state(t *testing.T) *models.ConversationState {
	t.Helper()
	st, err := f.cart.State(context.Background(), f.key)
	require.NoError(t, err)
	return st
}

// placeKrapow confirms an order of three Pad Krapow
func (f *fixture) placeKrapow(t *testing.T) *PlacedOrder {
	t.Helper()
	ctx := context.Background()
	_, err := f.cart.PlaceOrder(ctx, f.key, PlaceOrderRequest{
		Items:           []models.ItemRequest{{Name: "Pad Krapow", Quantity: 3}},
		DeliveryAddress: "12 Sukhumvit Rd",
	})
	require.NoError(t, err)
	placed, err := f.orders.PlaceOrder(ctx, f.key)
	require.NoError(t, err)
	return placed
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
