// Package conversation turns chat events into cart and order operations and
// answers with chat replies.
package conversation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"shopbot-service/internal/models"
	"shopbot-service/internal/nlu"
	"shopbot-service/internal/service"
	"shopbot-service/internal/session"
	"shopbot-service/internal/util"
)

// ClassifierSource picks the classifier of a store
type ClassifierSource interface {
	For(ctx context.Context, storeID string) nlu.Classifier
}

// ProfileSource looks up customer display names; "" when unknown
type ProfileSource interface {
	DisplayName(ctx context.Context, storeID, userID string) string
}

type Handler struct {
	cart            *service.CartEngine
	orders          *service.OrderService
	payments        *service.PaymentService
	classifiers     ClassifierSource
	profiles        ProfileSource
	classifyTimeout time.Duration
	logger          *zap.Logger
}

func NewHandler(
	cart *service.CartEngine,
	orders *service.OrderService,
	payments *service.PaymentService,
	classifiers ClassifierSource,
	profiles ProfileSource,
	classifyTimeout time.Duration,
) *Handler {
	return &Handler{
		cart:            cart,
		orders:          orders,
		payments:        payments,
		classifiers:     classifiers,
		profiles:        profiles,
		classifyTimeout: classifyTimeout,
		logger:          util.GetLogger(),
	}
}

// HandleInboundEvent processes one chat event and returns the replies for
// the customer. Domain errors become replies; only infrastructure failures
// are returned as errors.
func (h *Handler) HandleInboundEvent(ctx context.Context, ev InboundEvent) ([]Reply, error) {
	ctx, span := util.StartSpan(ctx, "Conversation.HandleInboundEvent")
	defer span.End()

	src := ev.From()
	key := session.Key{UserID: src.UserID, StoreID: src.StoreID}

	state, err := h.cart.State(ctx, key)
	if err != nil {
		return nil, err
	}

	var replies []Reply
	switch e := ev.(type) {
	case TextMessage:
		util.InboundEventsTotal.WithLabelValues("text").Inc()
		if !state.IsBotEnabled {
			return nil, nil
		}
		replies, err = h.handleText(ctx, key, state, e.Text)
	case ImageMessage:
		util.InboundEventsTotal.WithLabelValues("image").Inc()
		if !state.IsBotEnabled {
			return nil, nil
		}
		replies, err = h.handleSlip(ctx, state, e.MessageID)
	case Postback:
		util.InboundEventsTotal.WithLabelValues("postback").Inc()
		if !state.IsBotEnabled && e.Action != ActionResumeBot {
			return nil, nil
		}
		replies, err = h.handlePostback(ctx, key, e.Action)
	default:
		return nil, nil
	}

	if err != nil {
		if reply, ok := errorReply(err); ok {
			h.logger.Debug("Answering with error reply",
				zap.String("store_id", key.StoreID),
				zap.String("user_id", key.UserID),
				zap.Error(err))
			return []Reply{reply}, nil
		}
		return nil, err
	}
	return replies, nil
}

func (h *Handler) handleText(ctx context.Context, key session.Key, state *models.ConversationState, msg string) ([]Reply, error) {
	cls := h.classify(ctx, key.StoreID, msg, state.CurrentOrder)

	switch cls.Intent {
	case nlu.IntentPlaceOrder:
		name := cls.CustomerName
		if name == "" && h.profiles != nil {
			name = h.profiles.DisplayName(ctx, key.StoreID, key.UserID)
		}
		state, err := h.cart.PlaceOrder(ctx, key, service.PlaceOrderRequest{
			Items:           cls.Items,
			DeliveryAddress: cls.Address,
			CustomerName:    name,
		})
		if err != nil {
			return nil, err
		}
		return cartReplies(state), nil

	case nlu.IntentEditItems:
		state, err := h.cart.EditItems(ctx, key, cls.Modifications)
		if err != nil {
			return nil, err
		}
		return cartReplies(state), nil

	case nlu.IntentEditAddress:
		state, err := h.cart.EditAddress(ctx, key, cls.Address)
		if err != nil {
			return nil, err
		}
		return append([]Reply{text("Delivery address updated.")}, cartReplies(state)...), nil

	case nlu.IntentShowCart:
		return h.showCart(ctx, key)

	case nlu.IntentGetProduct:
		products, err := h.cart.GetProduct(ctx, key.StoreID, cls.ProductName)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return []Reply{text("Sorry, %q is not on our menu.", cls.ProductName)}, nil
			}
			return nil, err
		}
		return []Reply{menuReply(products)}, nil

	case nlu.IntentConfirm:
		return h.confirm(ctx, key)

	case nlu.IntentCancel:
		return h.cancel(ctx, key)

	case nlu.IntentNotUnderstood:
		return []Reply{helpReply()}, nil
	}
	return []Reply{helpReply()}, nil
}

// classify never fails: a slow or broken classifier means not understood
func (h *Handler) classify(ctx context.Context, storeID, msg string, cart *models.CurrentOrder) *nlu.Classification {
	cctx, cancel := context.WithTimeout(ctx, h.classifyTimeout)
	defer cancel()

	cls, err := h.classifiers.For(ctx, storeID).Classify(cctx, msg, h.menuNames(ctx, storeID), cart)
	if err != nil {
		reason := "error"
		if errors.Is(err, models.ErrClassifierTimeout) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		h.logger.Warn("Classification failed", zap.String("store_id", storeID), zap.String("reason", reason), zap.Error(err))
		return &nlu.Classification{Intent: nlu.IntentNotUnderstood, Text: msg}
	}
	return cls
}

// menuNames lists the product names of a store; nil when the menu cannot be read
func (h *Handler) menuNames(ctx context.Context, storeID string) []string {
	products, err := h.cart.GetProduct(ctx, storeID, "")
	if err != nil {
		h.logger.Warn("Failed to load menu for classification", zap.String("store_id", storeID), zap.Error(err))
		return nil
	}
	names := make([]string, 0, len(products))
	for _, p := range products {
		names = append(names, p.Name)
	}
	return names
}

func (h *Handler) handlePostback(ctx context.Context, key session.Key, action string) ([]Reply, error) {
	switch action {
	case ActionConfirm:
		return h.confirm(ctx, key)
	case ActionCancel:
		return h.cancel(ctx, key)
	case ActionShowCart:
		return h.showCart(ctx, key)
	case ActionCallStaff:
		if _, err := h.cart.SetBotEnabled(ctx, key, false); err != nil {
			return nil, err
		}
		h.logger.Info("Customer asked for staff", zap.String("store_id", key.StoreID), zap.String("user_id", key.UserID))
		return []Reply{{
			Text:    "A staff member will reply to you shortly.",
			Actions: []Action{{Label: "Back to bot", Data: "action=" + ActionResumeBot}},
		}}, nil
	case ActionResumeBot:
		if _, err := h.cart.SetBotEnabled(ctx, key, true); err != nil {
			return nil, err
		}
		return []Reply{text("The bot is back. How can I help?")}, nil
	}
	return []Reply{helpReply()}, nil
}

func (h *Handler) showCart(ctx context.Context, key session.Key) ([]Reply, error) {
	view, err := h.cart.ShowCart(ctx, key)
	if err != nil {
		return nil, err
	}
	return []Reply{cartReply(view)}, nil
}

func (h *Handler) confirm(ctx context.Context, key session.Key) ([]Reply, error) {
	placed, err := h.orders.PlaceOrder(ctx, key)
	if err != nil {
		return nil, err
	}
	return []Reply{placedReply(placed)}, nil
}

func (h *Handler) cancel(ctx context.Context, key session.Key) ([]Reply, error) {
	if err := h.cart.Cancel(ctx, key); err != nil {
		return nil, err
	}
	return []Reply{text("Your order was cancelled.")}, nil
}

func (h *Handler) handleSlip(ctx context.Context, state *models.ConversationState, imageID string) ([]Reply, error) {
	if state.LastOrderID == "" {
		return []Reply{text("Thanks for the picture! Please confirm an order before sending a payment slip.")}, nil
	}
	res, err := h.payments.SubmitSlip(ctx, state.LastOrderID, imageID)
	if err != nil {
		return nil, err
	}
	return []Reply{slipReply(res)}, nil
}
