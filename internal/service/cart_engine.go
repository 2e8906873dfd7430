package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shopbot-service/internal/models"
	"shopbot-service/internal/session"
	"shopbot-service/internal/util"
)

// CartEngine applies cart intents to the conversation state of a session
type CartEngine struct {
	sessions *sessionMutator
	menu     MenuRepository
	logger   *zap.Logger
}

// NewCartEngine creates a new cart engine
func NewCartEngine(store session.Store, menu MenuRepository, ttl time.Duration, retry util.RetryPolicy) *CartEngine {
	return &CartEngine{
		sessions: newSessionMutator(store, ttl, retry),
		menu:     menu,
		logger:   util.GetLogger(),
	}
}

// PlaceOrderRequest carries the arguments of a place_order intent
type PlaceOrderRequest struct {
	Items           []models.ItemRequest
	DeliveryAddress string
	CustomerName    string
}

// CartLine is a cart item with its subtotal
type CartLine struct {
	models.CartItem
	Subtotal decimal.Decimal `json:"subtotal"`
}

// CartView is the read-only rendering of an open cart
type CartView struct {
	Items           []CartLine      `json:"items"`
	Total           decimal.Decimal `json:"total"`
	DeliveryAddress string          `json:"deliveryAddress"`
	CustomerName    string          `json:"customerName"`
}

// State returns the live state of a session, or a fresh EMPTY state
func (e *CartEngine) State(ctx context.Context, key session.Key) (*models.ConversationState, error) {
	return e.sessions.load(ctx, key)
}

// PlaceOrder adds the requested items to the cart, creating the cart if needed.
// Names that do not resolve to a product are dropped.
func (e *CartEngine) PlaceOrder(ctx context.Context, key session.Key, req PlaceOrderRequest) (*models.ConversationState, error) {
	ctx, span := util.StartSpan(ctx, "CartEngine.PlaceOrder")
	defer span.End()

	resolved, err := e.resolveItems(ctx, key.StoreID, req.Items)
	if err != nil {
		return nil, err
	}

	state, err := e.sessions.mutate(ctx, key, func(s *models.ConversationState) error {
		// an edited cart is still open, so new items join it
		if s.HasCart() && (s.OrderType == models.OrderTypeCart || s.OrderType == models.OrderTypeEdit) {
			s.CurrentOrder.Items = mergeItems(s.CurrentOrder.Items, resolved)
		} else {
			s.CurrentOrder = &models.CurrentOrder{Items: mergeItems(nil, resolved)}
		}
		s.OrderType = models.OrderTypeCart
		s.CurrentOrder.DeliveryAddress = strings.TrimSpace(req.DeliveryAddress)
		if req.CustomerName != "" {
			s.CurrentOrder.CustomerName = req.CustomerName
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.CartMutationsTotal.WithLabelValues("place_order").Inc()
	e.logger.Debug("Cart updated",
		zap.String("store_id", key.StoreID),
		zap.String("user_id", key.UserID),
		zap.Int("items", len(state.CurrentOrder.Items)))
	return state, nil
}

// EditItems applies add, remove and replace modifications to the open cart
func (e *CartEngine) EditItems(ctx context.Context, key session.Key, mods []models.Modification) (*models.ConversationState, error) {
	ctx, span := util.StartSpan(ctx, "CartEngine.EditItems")
	defer span.End()

	products, err := e.resolveModificationProducts(ctx, key.StoreID, mods)
	if err != nil {
		return nil, err
	}

	state, err := e.sessions.mutate(ctx, key, func(s *models.ConversationState) error {
		if !s.HasCart() {
			return models.ErrNoActiveOrder
		}
		items := s.CurrentOrder.Items
		for _, mod := range mods {
			items = applyModification(items, mod, products)
		}
		s.CurrentOrder.Items = mergeItems(nil, items)
		if len(s.CurrentOrder.Items) == 0 {
			s.CurrentOrder = nil
			s.OrderType = models.OrderTypeNew
			return nil
		}
		s.OrderType = models.OrderTypeEdit
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.CartMutationsTotal.WithLabelValues("edit_items").Inc()
	return state, nil
}

// EditAddress overwrites the delivery address of the open cart
func (e *CartEngine) EditAddress(ctx context.Context, key session.Key, address string) (*models.ConversationState, error) {
	state, err := e.sessions.mutate(ctx, key, func(s *models.ConversationState) error {
		if !s.HasCart() {
			return models.ErrNoActiveOrder
		}
		s.CurrentOrder.DeliveryAddress = strings.TrimSpace(address)
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.CartMutationsTotal.WithLabelValues("edit_address").Inc()
	return state, nil
}

// ShowCart renders the open cart without changing it
func (e *CartEngine) ShowCart(ctx context.Context, key session.Key) (*CartView, error) {
	state, err := e.sessions.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if !state.HasCart() {
		return nil, models.ErrNoActiveOrder
	}
	return NewCartView(state.CurrentOrder), nil
}

// NewCartView computes line subtotals and the cart total
func NewCartView(cart *models.CurrentOrder) *CartView {
	view := &CartView{
		Items:           make([]CartLine, 0, len(cart.Items)),
		Total:           cart.Total(),
		DeliveryAddress: cart.DeliveryAddress,
		CustomerName:    cart.CustomerName,
	}
	for _, it := range cart.Items {
		view.Items = append(view.Items, CartLine{CartItem: it, Subtotal: it.Subtotal()})
	}
	return view
}

// GetProduct looks up one product by name, or lists the menu when name is empty
func (e *CartEngine) GetProduct(ctx context.Context, storeID, name string) ([]models.Product, error) {
	if strings.TrimSpace(name) == "" {
		return e.menu.ListProducts(ctx, storeID)
	}
	p, err := e.menu.FindProductByName(ctx, storeID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to find product: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("product %q: %w", name, models.ErrNotFound)
	}
	return []models.Product{*p}, nil
}

// Cancel abandons the open cart
func (e *CartEngine) Cancel(ctx context.Context, key session.Key) error {
	_, err := e.sessions.mutate(ctx, key, func(s *models.ConversationState) error {
		if !s.HasCart() {
			return models.ErrNoActiveOrder
		}
		s.CurrentOrder = nil
		s.OrderType = models.OrderTypeNew
		return nil
	})
	if err != nil {
		return err
	}

	util.CartMutationsTotal.WithLabelValues("cancel").Inc()
	return nil
}

// SetBotEnabled hands the conversation to staff or back to the bot
func (e *CartEngine) SetBotEnabled(ctx context.Context, key session.Key, enabled bool) (*models.ConversationState, error) {
	return e.sessions.mutate(ctx, key, func(s *models.ConversationState) error {
		s.IsBotEnabled = enabled
		return nil
	})
}

func (e *CartEngine) resolveItems(ctx context.Context, storeID string, reqs []models.ItemRequest) ([]models.CartItem, error) {
	items := make([]models.CartItem, 0, len(reqs))
	for _, r := range reqs {
		p, err := e.menu.FindProductByName(ctx, storeID, r.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %q: %w", r.Name, err)
		}
		if p == nil {
			e.logger.Debug("Dropping unknown product", zap.String("store_id", storeID), zap.String("name", r.Name))
			continue
		}
		qty := r.Quantity
		if qty == 0 {
			qty = 1
		}
		items = append(items, models.CartItem{
			ProductID:     p.ID,
			Name:          p.Name,
			Quantity:      qty,
			Customization: strings.TrimSpace(r.Customization),
			Price:         p.Price,
		})
	}
	return items, nil
}

// resolveModificationProducts looks up every product an edit may need to append
func (e *CartEngine) resolveModificationProducts(ctx context.Context, storeID string, mods []models.Modification) (map[string]*models.Product, error) {
	products := make(map[string]*models.Product)
	lookup := func(name string) error {
		k := nameKey(name)
		if _, done := products[k]; done || k == "" {
			return nil
		}
		p, err := e.menu.FindProductByName(ctx, storeID, name)
		if err != nil {
			return fmt.Errorf("failed to resolve %q: %w", name, err)
		}
		products[k] = p
		return nil
	}

	for _, mod := range mods {
		switch mod.Action {
		case models.ModificationAdd:
			if err := lookup(mod.Name); err != nil {
				return nil, err
			}
		case models.ModificationReplace:
			if err := lookup(mod.ReplacementName); err != nil {
				return nil, err
			}
		}
	}
	return products, nil
}

func applyModification(items []models.CartItem, mod models.Modification, products map[string]*models.Product) []models.CartItem {
	idx := findByName(items, mod.Name)

	switch mod.Action {
	case models.ModificationAdd:
		qty := mod.Quantity
		if qty == 0 {
			qty = 1
		}
		if idx >= 0 {
			items[idx].Quantity += qty
			items[idx].Customization = strings.TrimSpace(mod.Customization)
			return items
		}
		p := products[nameKey(mod.Name)]
		if p == nil {
			return items
		}
		return append(items, models.CartItem{
			ProductID:     p.ID,
			Name:          p.Name,
			Quantity:      qty,
			Customization: strings.TrimSpace(mod.Customization),
			Price:         p.Price,
		})

	case models.ModificationRemove:
		if idx < 0 {
			return items
		}
		return append(items[:idx], items[idx+1:]...)

	case models.ModificationReplace:
		p := products[nameKey(mod.ReplacementName)]
		if idx < 0 || p == nil {
			return items
		}
		qty := mod.ReplacementQuantity
		if qty <= 0 {
			qty = 1
		}
		items[idx] = models.CartItem{
			ProductID:     p.ID,
			Name:          p.Name,
			Quantity:      qty,
			Customization: strings.TrimSpace(mod.Customization),
			Price:         p.Price,
		}
		return items
	}
	return items
}

// mergeItems folds incoming into existing by (name, customization) and
// drops lines whose quantity fell to zero or below.
func mergeItems(existing, incoming []models.CartItem) []models.CartItem {
	out := make([]models.CartItem, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))
	for _, it := range append(append([]models.CartItem(nil), existing...), incoming...) {
		if i, ok := index[it.Key()]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		index[it.Key()] = len(out)
		out = append(out, it)
	}

	kept := out[:0]
	for _, it := range out {
		if it.Quantity > 0 {
			kept = append(kept, it)
		}
	}
	return kept
}

func findByName(items []models.CartItem, name string) int {
	k := nameKey(name)
	for i, it := range items {
		if nameKey(it.Name) == k {
			return i
		}
	}
	return -1
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
