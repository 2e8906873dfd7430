package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopbot-service/internal/conversation"
	"shopbot-service/internal/ledger"
	"shopbot-service/internal/models"
	"shopbot-service/internal/payment"
	"shopbot-service/internal/service"
	"shopbot-service/internal/session"
	"shopbot-service/internal/store"
	"shopbot-service/internal/util"
)

type echoChat struct{ seen []conversation.InboundEvent }

func (e *echoChat) HandleInboundEvent(_ context.Context, ev conversation.InboundEvent) ([]conversation.Reply, error) {
	e.seen = append(e.seen, ev)
	if txt, ok := ev.(conversation.TextMessage); ok {
		return []conversation.Reply{{Text: "you said " + txt.Text}}, nil
	}
	return nil, nil
}

type pushed struct{ storeID, userID, text string }

type recordingNotifier struct{ pushed []pushed }

func (n *recordingNotifier) Notify(_ context.Context, storeID, userID, text string) {
	n.pushed = append(n.pushed, pushed{storeID, userID, text})
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type amountVerifier decimal.Decimal

func (v amountVerifier) Verify(_ context.Context, ref string) (*payment.Result, error) {
	return &payment.Result{Success: true, Amount: decimal.Decimal(v), Reference: ref}, nil
}

type noopPublisher struct{}

func (noopPublisher) PublishOrderPlaced(context.Context, *models.OrderPlacedEvent) error { return nil }
func (noopPublisher) PublishOrderStatusChanged(context.Context, *models.OrderStatusChangedEvent) error {
	return nil
}

type testServer struct {
	router   *gin.Engine
	db       *store.MemoryStore
	cart     *service.CartEngine
	chat     *echoChat
	notifier *recordingNotifier
}

func newTestServer(t *testing.T, readiness map[string]Pinger) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db := store.NewMemoryStore()
	require.NoError(t, db.CreateStore(ctx, &models.Store{ID: "s1", Name: "Krapow House"}))
	require.NoError(t, db.CreateProduct(ctx, &models.Product{
		ID: "p-krapow", StoreID: "s1", Name: "Pad Krapow", Price: decimal.NewFromInt(60), IsAvailable: true,
	}))
	require.NoError(t, db.CreateIngredient(ctx, &models.Ingredient{
		ID: "ing-pork", StoreID: "s1", Name: "Pork", Quantity: decimal.NewFromInt(500),
		ReceiptInfo: models.ReceiptBatches{{ReceiptID: "r1", Quantity: decimal.NewFromInt(500), Price: decimal.NewFromInt(1), IsActive: true}},
	}))
	require.NoError(t, db.SetRecipe(ctx, "p-krapow", []models.RecipeLine{
		{IngredientID: "ing-pork", QtyPerUnit: decimal.NewFromInt(100)},
	}))

	retry := util.RetryPolicy{Attempts: 3, Backoff: time.Millisecond}
	sessions := session.NewMemoryStore()
	eng := ledger.NewEngine(db, db, retry)
	cart := service.NewCartEngine(sessions, db, time.Hour, retry)
	orders := service.NewOrderService(sessions, session.NewMemoryLocker(), db, eng, db, noopPublisher{}, service.OrderServiceConfig{
		SessionTTL: time.Hour, LockTTL: time.Minute, Retry: retry,
	})
	fulfillment := service.NewFulfillmentService(db, eng, session.NewMemoryLocker(), noopPublisher{}, service.FulfillmentConfig{
		LockTTL: time.Minute, Retry: retry,
	})
	payments := service.NewPaymentService(db, fulfillment, amountVerifier(decimal.NewFromInt(100)), time.Second)

	chat := &echoChat{}
	notifier := &recordingNotifier{}
	h := NewHandler(Deps{
		Chat:        chat,
		Notifier:    notifier,
		Orders:      orders,
		Fulfillment: fulfillment,
		Payments:    payments,
		Inventory:   eng,
		Readiness:   readiness,
	})
	router := gin.New()
	h.SetupRoutes(router, []string{"*"})

	return &testServer{router: router, db: db, cart: cart, chat: chat, notifier: notifier}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) fillCart(t *testing.T, qty int, address string) {
	t.Helper()
	_, err := ts.cart.PlaceOrder(context.Background(), session.Key{UserID: "U1", StoreID: "s1"}, service.PlaceOrderRequest{
		Items:           []models.ItemRequest{{Name: "Pad Krapow", Quantity: qty}},
		DeliveryAddress: address,
	})
	require.NoError(t, err)
}

type placedResponse struct {
	Order       models.Order       `json:"order"`
	Transaction models.Transaction `json:"transaction"`
}

func (ts *testServer) confirm(t *testing.T) placedResponse {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/v1/stores/s1/sessions/U1/confirm", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp placedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (ts *testServer) porkQuantity(t *testing.T) decimal.Decimal {
	t.Helper()
	w := ts.do(t, http.MethodGet, "/api/v1/ingredients/ing-pork", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ing models.Ingredient
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ing))
	return ing.Quantity
}

func TestHealthAndReadiness(t *testing.T) {
	ts := newTestServer(t, map[string]Pinger{
		"db":    pingFunc(func(context.Context) error { return nil }),
		"redis": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", nil).Code)

	w := ts.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	assert.Equal(t, http.StatusOK, newTestServer(t, nil).do(t, http.MethodGet, "/ready", nil).Code)
}

func TestWebhookPushesReplies(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/webhook/s1", `{"events":[
		{"type":"message","source":{"type":"user","userId":"U1"},"message":{"type":"text","id":"m1","text":"hello"}},
		{"type":"follow","source":{"type":"user","userId":"U1"}}
	]}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, ts.chat.seen, 1)
	require.Len(t, ts.notifier.pushed, 1)
	assert.Equal(t, pushed{"s1", "U1", "you said hello"}, ts.notifier.pushed[0])

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/webhook/s1", "{").Code)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.fillCart(t, 1, "12 Sukhumvit Rd")

	placed := ts.confirm(t)
	assert.Equal(t, models.OrderStatusPending, placed.Order.Status)
	assert.True(t, decimal.NewFromInt(60).Equal(placed.Transaction.TotalAmount))
	assert.True(t, decimal.NewFromInt(400).Equal(ts.porkQuantity(t)))

	orderPath := "/api/v1/orders/" + placed.Order.ID
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, orderPath, nil).Code)

	// delivery needs a confirmed payment first
	w := ts.do(t, http.MethodPatch, orderPath+"/status", gin.H{"status": models.OrderStatusWaitingDelivery})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = ts.do(t, http.MethodPost, orderPath+"/payment", gin.H{"method": "slip", "reference": "img-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPatch, orderPath+"/status", gin.H{"status": models.OrderStatusInDelivery})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, orderPath+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPatch, orderPath+"/status", gin.H{"status": models.OrderStatusFinished})
	require.Equal(t, http.StatusOK, w.Code)
	var order models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Equal(t, models.OrderStatusFinished, order.Status)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/orders/missing", nil).Code)
}

func TestCancelOverHTTPRestoresStock(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.fillCart(t, 2, "12 Sukhumvit Rd")
	placed := ts.confirm(t)
	assert.True(t, decimal.NewFromInt(300).Equal(ts.porkQuantity(t)))

	w := ts.do(t, http.MethodPost, "/api/v1/orders/"+placed.Order.ID+"/cancel", gin.H{"reason": "customer called"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decimal.NewFromInt(500).Equal(ts.porkQuantity(t)))

	w = ts.do(t, http.MethodDelete, "/api/v1/orders/"+placed.Order.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, decimal.NewFromInt(500).Equal(ts.porkQuantity(t)))
}

func TestConfirmErrorsMapToStatuses(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/stores/s1/sessions/U1/confirm", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	ts.fillCart(t, 1, "")
	w = ts.do(t, http.MethodPost, "/api/v1/stores/s1/sessions/U1/confirm", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	ts.fillCart(t, 6, "12 Sukhumvit Rd")
	w = ts.do(t, http.MethodPost, "/api/v1/stores/s1/sessions/U1/confirm", nil)
	require.Equal(t, http.StatusConflict, w.Code)

	var body struct {
		Details struct {
			IngredientID string          `json:"ingredientId"`
			Required     decimal.Decimal `json:"required"`
			Available    decimal.Decimal `json:"available"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ing-pork", body.Details.IngredientID)
	assert.True(t, decimal.NewFromInt(700).Equal(body.Details.Required))
	assert.True(t, decimal.NewFromInt(500).Equal(body.Details.Available))
	assert.True(t, decimal.NewFromInt(500).Equal(ts.porkQuantity(t)))
}

func TestReceiveBatch(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/ingredients/ing-pork/receipts", gin.H{
		"receiptId": "r2", "quantity": "250", "price": "0.3",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, decimal.NewFromInt(750).Equal(ts.porkQuantity(t)))

	w = ts.do(t, http.MethodPost, "/api/v1/ingredients/ing-pork/receipts", gin.H{
		"receiptId": "r2", "quantity": "10", "price": "0.3",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/ingredients/ing-pork/receipts", gin.H{"quantity": "-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/ingredients/ing-basil", nil).Code)
}

func TestPaymentRequestValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.fillCart(t, 1, "12 Sukhumvit Rd")
	placed := ts.confirm(t)
	path := "/api/v1/orders/" + placed.Order.ID + "/payment"

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, path, gin.H{"method": "card"}).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, path, gin.H{"method": "slip"}).Code)

	w := ts.do(t, http.MethodPost, path, gin.H{"method": "cash"})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, path, gin.H{"method": "cash"})
	assert.Equal(t, http.StatusConflict, w.Code)
}
