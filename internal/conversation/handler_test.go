package conversation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopbot-service/internal/ledger"
	"shopbot-service/internal/models"
	"shopbot-service/internal/nlu"
	"shopbot-service/internal/payment"
	"shopbot-service/internal/service"
	"shopbot-service/internal/session"
	"shopbot-service/internal/store"
	"shopbot-service/internal/util"
)

type fixedClassifiers struct{ c nlu.Classifier }

func (f fixedClassifiers) For(context.Context, string) nlu.Classifier { return f.c }

type slowClassifier struct{}

func (slowClassifier) Classify(ctx context.Context, _ string, _ []string, _ *models.CurrentOrder) (*nlu.Classification, error) {
	<-ctx.Done()
	return nil, models.ErrClassifierTimeout
}

// recordingClassifier remembers what it was asked and defers to next
type recordingClassifier struct {
	next nlu.Classifier
	menu []string
	cart *models.CurrentOrder
}

func (r *recordingClassifier) Classify(ctx context.Context, text string, menu []string, cart *models.CurrentOrder) (*nlu.Classification, error) {
	r.menu, r.cart = menu, cart
	return r.next.Classify(ctx, text, menu, cart)
}

type namedProfiles string

func (n namedProfiles) DisplayName(context.Context, string, string) string { return string(n) }

type fixedVerifier decimal.Decimal

func (v fixedVerifier) Verify(_ context.Context, ref string) (*payment.Result, error) {
	return &payment.Result{Success: true, Amount: decimal.Decimal(v), Reference: ref}, nil
}

type harness struct {
	h        *Handler
	sessions *session.MemoryStore
	db       *store.MemoryStore
	src      Source
}

func newHarness(t *testing.T, classifier nlu.Classifier) *harness {
	t.Helper()
	ctx := context.Background()
	db := store.NewMemoryStore()
	require.NoError(t, db.CreateStore(ctx, &models.Store{ID: "s1", Name: "Krapow House"}))
	require.NoError(t, db.CreateProduct(ctx, &models.Product{
		ID: "p-krapow", StoreID: "s1", Name: "Pad Krapow", Price: decimal.NewFromInt(60), IsAvailable: true,
	}))
	require.NoError(t, db.CreateProduct(ctx, &models.Product{
		ID: "p-egg", StoreID: "s1", Name: "Egg", Price: decimal.NewFromInt(15), IsAvailable: true,
	}))
	require.NoError(t, db.CreateIngredient(ctx, &models.Ingredient{
		ID: "ing-pork", StoreID: "s1", Name: "Pork", Quantity: decimal.NewFromInt(200),
		ReceiptInfo: models.ReceiptBatches{{ReceiptID: "r1", Quantity: decimal.NewFromInt(200), Price: decimal.NewFromInt(1), IsActive: true}},
	}))
	require.NoError(t, db.SetRecipe(ctx, "p-krapow", []models.RecipeLine{
		{IngredientID: "ing-pork", QtyPerUnit: decimal.NewFromInt(100)},
	}))

	retry := util.RetryPolicy{Attempts: 3, Backoff: time.Millisecond}
	sessions := session.NewMemoryStore()
	eng := ledger.NewEngine(db, db, retry)
	pub := noopPublisher{}
	cart := service.NewCartEngine(sessions, db, time.Hour, retry)
	orders := service.NewOrderService(sessions, session.NewMemoryLocker(), db, eng, db, pub, service.OrderServiceConfig{
		SessionTTL: time.Hour, LockTTL: time.Minute, Retry: retry,
	})
	fulfillment := service.NewFulfillmentService(db, eng, session.NewMemoryLocker(), pub, service.FulfillmentConfig{
		LockTTL: time.Minute, Retry: retry,
	})
	payments := service.NewPaymentService(db, fulfillment, fixedVerifier(decimal.NewFromInt(60)), time.Second)

	return &harness{
		h:        NewHandler(cart, orders, payments, fixedClassifiers{classifier}, namedProfiles("Nok"), 50*time.Millisecond),
		sessions: sessions,
		db:       db,
		src:      Source{StoreID: "s1", UserID: "U1"},
	}
}

type noopPublisher struct{}

func (noopPublisher) PublishOrderPlaced(context.Context, *models.OrderPlacedEvent) error { return nil }
func (noopPublisher) PublishOrderStatusChanged(context.Context, *models.OrderStatusChangedEvent) error {
	return nil
}

func (hs *harness) say(t *testing.T, msg string) []Reply {
	t.Helper()
	replies, err := hs.h.HandleInboundEvent(context.Background(), TextMessage{Source: hs.src, Text: msg})
	require.NoError(t, err)
	return replies
}

func (hs *harness) press(t *testing.T, action string) []Reply {
	t.Helper()
	replies, err := hs.h.HandleInboundEvent(context.Background(), Postback{Source: hs.src, Action: action})
	require.NoError(t, err)
	return replies
}

func (hs *harness) state(t *testing.T) *models.ConversationState {
	t.Helper()
	st, err := hs.sessions.Get(context.Background(), session.Key{UserID: "U1", StoreID: "s1"})
	require.NoError(t, err)
	return st
}

func TestConversationOrderFlow(t *testing.T) {
	hs := newHarness(t, nlu.NewKeywordClassifier())

	replies := hs.say(t, "order 1 Pad Krapow")
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0].Text, "Pad Krapow x1")
	assert.Contains(t, replies[1].Text, "deliver")
	assert.Equal(t, "Nok", hs.state(t).CurrentOrder.CustomerName)

	replies = hs.say(t, "confirm")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "delivery address")

	replies = hs.say(t, "address 12 Sukhumvit Rd")
	assert.Equal(t, "Delivery address updated.", replies[0].Text)

	replies = hs.press(t, ActionConfirm)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "confirmed. Total 60.00")

	st := hs.state(t)
	assert.Nil(t, st.CurrentOrder)
	require.NotEmpty(t, st.LastOrderID)

	replies, err := hs.h.HandleInboundEvent(context.Background(), ImageMessage{Source: hs.src, MessageID: "img-1"})
	require.NoError(t, err)
	assert.Contains(t, replies[0].Text, "Payment of 60.00 received")

	order, err := hs.db.GetOrderByID(context.Background(), st.LastOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusWaitingDelivery, order.Status)
}

func TestConversationOutOfStock(t *testing.T) {
	hs := newHarness(t, nlu.NewKeywordClassifier())

	hs.say(t, "order 3 Pad Krapow to X")
	replies := hs.press(t, ActionConfirm)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "running out of Pork")
	assert.NotNil(t, hs.state(t).CurrentOrder)
}

func TestConversationErrorsAreDistinct(t *testing.T) {
	hs := newHarness(t, nlu.NewKeywordClassifier())

	noOrder := hs.say(t, "cart")[0].Text
	assert.Contains(t, noOrder, "no open order")

	notOnMenu := hs.say(t, "menu Pizza")[0].Text
	assert.Contains(t, notOnMenu, "not on our menu")

	menu := hs.say(t, "menu")[0].Text
	assert.True(t, strings.HasPrefix(menu, "Menu:"))
	assert.Contains(t, menu, "Egg  15.00")

	help := hs.say(t, "what is the weather")[0]
	assert.Contains(t, help.Text, "did not understand")
}

func TestConversationClassifierSeesMenuAndCart(t *testing.T) {
	rec := &recordingClassifier{next: nlu.NewKeywordClassifier()}
	hs := newHarness(t, rec)

	hs.say(t, "order 1 pad krapow")
	assert.ElementsMatch(t, []string{"Pad Krapow", "Egg"}, rec.menu)
	assert.Nil(t, rec.cart)
	require.NotNil(t, hs.state(t).CurrentOrder)
	assert.Equal(t, "Pad Krapow", hs.state(t).CurrentOrder.Items[0].Name)

	hs.say(t, "add 1 Egg")
	require.NotNil(t, rec.cart)
	require.Len(t, rec.cart.Items, 1)
	assert.Equal(t, "Pad Krapow", rec.cart.Items[0].Name)
}

func TestConversationClassifierTimeout(t *testing.T) {
	hs := newHarness(t, slowClassifier{})

	replies := hs.say(t, "order 1 Pad Krapow")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "did not understand")
	assert.Nil(t, hs.state(t))
}

func TestConversationStaffTakeover(t *testing.T) {
	hs := newHarness(t, nlu.NewKeywordClassifier())

	replies := hs.press(t, ActionCallStaff)
	assert.Contains(t, replies[0].Text, "staff member")
	assert.False(t, hs.state(t).IsBotEnabled)

	assert.Nil(t, hs.say(t, "menu"))
	assert.Nil(t, hs.press(t, ActionShowCart))

	replies = hs.press(t, ActionResumeBot)
	assert.Contains(t, replies[0].Text, "bot is back")
	assert.True(t, hs.state(t).IsBotEnabled)
}

func TestConversationSlipWithoutOrder(t *testing.T) {
	hs := newHarness(t, nlu.NewKeywordClassifier())

	replies, err := hs.h.HandleInboundEvent(context.Background(), ImageMessage{Source: hs.src, MessageID: "img-1"})
	require.NoError(t, err)
	assert.Contains(t, replies[0].Text, "confirm an order")
}

func TestDecodeWebhook(t *testing.T) {
	body := []byte(`{
		"destination": "xxx",
		"events": [
			{"type": "message", "replyToken": "r1", "timestamp": 1700000000000,
			 "source": {"type": "user", "userId": "U1"},
			 "message": {"type": "text", "id": "m1", "text": "menu"}},
			{"type": "message", "source": {"type": "user", "userId": "U1"},
			 "message": {"type": "image", "id": "m2"}},
			{"type": "postback", "source": {"type": "user", "userId": "U1"},
			 "postback": {"data": "action=confirm&order=1"}},
			{"type": "postback", "source": {"type": "user", "userId": "U1"},
			 "postback": {"data": "show_cart"}},
			{"type": "message", "source": {"type": "user", "userId": "U1"},
			 "message": {"type": "sticker", "id": "m3"}},
			{"type": "follow", "source": {"type": "user", "userId": "U1"}},
			{"type": "message", "source": {"type": "group"},
			 "message": {"type": "text", "id": "m4", "text": "hi"}}
		]
	}`)

	events, err := DecodeWebhook(body, "s1")
	require.NoError(t, err)
	require.Len(t, events, 4)

	txt, ok := events[0].(TextMessage)
	require.True(t, ok)
	assert.Equal(t, "menu", txt.Text)
	assert.Equal(t, "s1", txt.StoreID)
	assert.Equal(t, "r1", txt.ReplyToken)
	assert.Equal(t, int64(1700000000000), txt.Timestamp.UnixMilli())

	img, ok := events[1].(ImageMessage)
	require.True(t, ok)
	assert.Equal(t, "m2", img.MessageID)

	pb, ok := events[2].(Postback)
	require.True(t, ok)
	assert.Equal(t, ActionConfirm, pb.Action)
	assert.Equal(t, "1", pb.Params.Get("order"))

	assert.Equal(t, ActionShowCart, events[3].(Postback).Action)

	_, err = DecodeWebhook([]byte("{"), "s1")
	assert.Error(t, err)
}
