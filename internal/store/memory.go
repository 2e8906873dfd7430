package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"shopbot-service/internal/models"
)

// MemoryStore is a process-local implementation of every Store operation,
// used for STORE_BACKEND=memory and in tests.
type MemoryStore struct {
	mu           sync.RWMutex
	stores       map[string]models.Store
	products     map[string]models.Product
	recipes      map[string][]models.RecipeLine
	ingredients  map[string]*models.Ingredient
	orders       map[string]*models.Order
	transactions map[string]*models.Transaction
	events       map[string]string
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stores:       make(map[string]models.Store),
		products:     make(map[string]models.Product),
		recipes:      make(map[string][]models.RecipeLine),
		ingredients:  make(map[string]*models.Ingredient),
		orders:       make(map[string]*models.Order),
		transactions: make(map[string]*models.Transaction),
		events:       make(map[string]string),
		now:          time.Now,
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) GetStore(_ context.Context, id string) (*models.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stores[id]
	if !ok {
		return nil, fmt.Errorf("store %s: %w", id, models.ErrNotFound)
	}
	return &st, nil
}

func (m *MemoryStore) CreateStore(_ context.Context, st *models.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st.CreatedAt = m.now()
	m.stores[st.ID] = *st
	return nil
}

func (m *MemoryStore) CreateProduct(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.products {
		if other.StoreID == p.StoreID && strings.EqualFold(other.Name, p.Name) {
			return fmt.Errorf("product %q already exists in store %s", p.Name, p.StoreID)
		}
	}
	p.CreatedAt = m.now()
	m.products[p.ID] = *p
	return nil
}

func (m *MemoryStore) FindProductByName(_ context.Context, storeID, name string) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.products {
		if p.StoreID == storeID && p.IsAvailable && strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListProducts(_ context.Context, storeID string) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Product
	for _, p := range m.products {
		if p.StoreID == storeID && p.IsAvailable {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) GetRecipe(_ context.Context, productID string) ([]models.RecipeLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.RecipeLine(nil), m.recipes[productID]...), nil
}

func (m *MemoryStore) SetRecipe(_ context.Context, productID string, lines []models.RecipeLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range lines {
		ing, ok := m.ingredients[l.IngredientID]
		if !ok {
			return fmt.Errorf("ingredient %s: %w", l.IngredientID, models.ErrNotFound)
		}
		if !contains(ing.ProductIDs, productID) {
			ing.ProductIDs = append(ing.ProductIDs, productID)
			ing.Version++
		}
	}
	stored := make([]models.RecipeLine, len(lines))
	for i, l := range lines {
		l.ProductID = productID
		stored[i] = l
	}
	m.recipes[productID] = stored
	return nil
}

func (m *MemoryStore) CreateIngredient(_ context.Context, ing *models.Ingredient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ingredients[ing.ID]; ok {
		return fmt.Errorf("ingredient %s already exists", ing.ID)
	}
	ing.Version = 1
	ing.UpdatedAt = m.now()
	m.ingredients[ing.ID] = ing.Clone()
	return nil
}

func (m *MemoryStore) GetIngredients(_ context.Context, ids []string) ([]*models.Ingredient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Ingredient
	for _, id := range ids {
		if ing, ok := m.ingredients[id]; ok {
			out = append(out, ing.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveIngredients(_ context.Context, list []*models.Ingredient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ing := range list {
		cur, ok := m.ingredients[ing.ID]
		if !ok {
			return fmt.Errorf("ingredient %s: %w", ing.ID, models.ErrNotFound)
		}
		if cur.Version != ing.Version {
			return fmt.Errorf("ingredient %s version %d: %w", ing.ID, ing.Version, models.ErrConcurrencyConflict)
		}
	}
	for _, ing := range list {
		ing.Version++
		m.ingredients[ing.ID] = ing.Clone()
	}
	return nil
}

func (m *MemoryStore) CreateOrder(_ context.Context, order *models.Order, txn *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; ok {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	now := m.now()
	order.CreatedAt, order.UpdatedAt = now, now
	txn.CreatedAt, txn.UpdatedAt = now, now
	m.orders[order.ID] = cloneOrder(order)
	t := *txn
	m.transactions[order.ID] = &t
	return nil
}

func (m *MemoryStore) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	return cloneOrder(o), nil
}

func (m *MemoryStore) GetOrdersByCustomer(_ context.Context, storeID, customerID string) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.StoreID == storeID && o.CustomerLineID == customerID {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateOrderStatus(_ context.Context, orderID string, from, to models.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
	}
	if o.Status != from {
		return fmt.Errorf("order %s is no longer %s: %w", orderID, from, models.ErrConcurrencyConflict)
	}
	o.Status = to
	o.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) DeleteOrder(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
	}
	delete(m.orders, orderID)
	delete(m.transactions, orderID)
	return nil
}

func (m *MemoryStore) GetTransactionByOrderID(_ context.Context, orderID string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transactions[orderID]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

func (m *MemoryStore) UpdateTransaction(_ context.Context, txn *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[txn.OrderID]; !ok {
		return fmt.Errorf("transaction of order %s: %w", txn.OrderID, models.ErrNotFound)
	}
	txn.UpdatedAt = m.now()
	c := *txn
	m.transactions[txn.OrderID] = &c
	return nil
}

func (m *MemoryStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.events[eventID]
	return ok, nil
}

func (m *MemoryStore) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[eventID]; !ok {
		m.events[eventID] = eventType
	}
	return nil
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.ProductInfo = append(models.ProductLines(nil), o.ProductInfo...)
	c.ProductIDs = append(models.StringList(nil), o.ProductIDs...)
	c.UsedIngredients = append(models.ConsumedIngredients(nil), o.UsedIngredients...)
	c.IngredientIDs = append(models.StringList(nil), o.IngredientIDs...)
	return &c
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
