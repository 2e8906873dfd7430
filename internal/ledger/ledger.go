// Package ledger keeps ingredient stock as FIFO receipt batches and records
// which order used which part of which batch, so that cancellations can give
// stock back to exactly the batches it came from.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shopbot-service/internal/models"
	"shopbot-service/internal/util"
)

// Repository persists ingredients. SaveIngredients must write all of its
// arguments atomically and fail with models.ErrConcurrencyConflict when any
// stored version differs from the one passed in. On success the passed
// ingredients carry their new version.
type Repository interface {
	GetIngredients(ctx context.Context, ids []string) ([]*models.Ingredient, error)
	SaveIngredients(ctx context.Context, ingredients []*models.Ingredient) error
}

// RecipeSource resolves the ingredients a product uses
type RecipeSource interface {
	GetRecipe(ctx context.Context, productID string) ([]models.RecipeLine, error)
}

type Engine struct {
	repo    Repository
	recipes RecipeSource
	locks   *keyedMutex
	retry   util.RetryPolicy
	logger  *zap.Logger
	now     func() time.Time
}

func NewEngine(repo Repository, recipes RecipeSource, retry util.RetryPolicy) *Engine {
	return &Engine{
		repo:    repo,
		recipes: recipes,
		locks:   newKeyedMutex(),
		retry:   retry,
		logger:  util.GetLogger(),
		now:     time.Now,
	}
}

// Requirements aggregates the recipe usage of all order lines per ingredient
func (e *Engine) Requirements(ctx context.Context, lines []models.ProductLine) (map[string]decimal.Decimal, error) {
	req := make(map[string]decimal.Decimal)
	for _, line := range lines {
		recipe, err := e.recipes.GetRecipe(ctx, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("failed to get recipe for product %s: %w", line.ProductID, err)
		}
		qty := decimal.NewFromInt(int64(line.Quantity))
		for _, r := range recipe {
			need := r.QtyPerUnit.Mul(qty)
			if need.Sign() <= 0 {
				continue
			}
			req[r.IngredientID] = req[r.IngredientID].Add(need)
		}
	}
	return req, nil
}

// Consume takes the recipe requirements of order out of stock, oldest batch
// first. Either every ingredient is consumed or none is.
func (e *Engine) Consume(ctx context.Context, order *models.Order) ([]models.ConsumedIngredient, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.Consume")
	defer span.End()

	start := time.Now()
	defer func() {
		util.LedgerConsumeLatency.Observe(time.Since(start).Seconds())
	}()

	req, err := e.Requirements(ctx, order.ProductInfo)
	if err != nil {
		return nil, err
	}
	if len(req) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(req))
	for id := range req {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	unlock := e.locks.Lock(ids...)
	defer unlock()

	var consumed []models.ConsumedIngredient
	err = util.RetryOnConflict(ctx, e.retry, "ingredient", func() error {
		current, err := e.load(ctx, ids)
		if err != nil {
			return err
		}

		consumed = consumed[:0]
		updated := make([]*models.Ingredient, 0, len(ids))
		for _, id := range ids {
			ing := current[id].Clone()
			used, err := consumeFIFO(ing, order.ID, req[id])
			if err != nil {
				return err
			}
			ing.UpdatedAt = e.now()
			updated = append(updated, ing)
			consumed = append(consumed, used)
		}

		return e.repo.SaveIngredients(ctx, updated)
	})
	if err != nil {
		if errors.Is(err, models.ErrInsufficientIngredient) {
			util.IngredientShortfallsTotal.Inc()
			e.logger.Info("Insufficient ingredients for order",
				zap.String("order_id", order.ID), zap.Error(err))
		}
		return nil, fmt.Errorf("failed to consume ingredients for order %s: %w", order.ID, err)
	}

	e.logger.Debug("Ingredients consumed",
		zap.String("order_id", order.ID), zap.Int("ingredients", len(consumed)))
	return consumed, nil
}

// Reverse returns everything order took back to the batches it came from.
// Calling it again for the same order changes nothing.
func (e *Engine) Reverse(ctx context.Context, order *models.Order) error {
	ctx, span := util.StartSpan(ctx, "Ledger.Reverse")
	defer span.End()

	ids := ingredientIDs(order)
	if len(ids) == 0 {
		return nil
	}

	unlock := e.locks.Lock(ids...)
	defer unlock()

	return util.RetryOnConflict(ctx, e.retry, "ingredient", func() error {
		current, err := e.repo.GetIngredients(ctx, ids)
		if err != nil {
			return fmt.Errorf("failed to load ingredients: %w", err)
		}

		var updated []*models.Ingredient
		for _, ing := range current {
			c := ing.Clone()
			if reclaimed := reverseOrder(c, order.ID); reclaimed.Sign() > 0 {
				c.UpdatedAt = e.now()
				updated = append(updated, c)
			}
		}
		if len(current) < len(ids) {
			e.logger.Warn("Some ingredients of order no longer exist",
				zap.String("order_id", order.ID), zap.Strings("ingredient_ids", ids))
		}
		if len(updated) == 0 {
			return nil
		}
		return e.repo.SaveIngredients(ctx, updated)
	})
}

// ReceiveBatch appends a new stock receipt to the end of the FIFO queue
func (e *Engine) ReceiveBatch(ctx context.Context, ingredientID string, batch models.ReceiptBatch) (*models.Ingredient, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.ReceiveBatch")
	defer span.End()

	if batch.Quantity.Sign() <= 0 {
		return nil, fmt.Errorf("receipt quantity must be positive, got %s", batch.Quantity)
	}
	if batch.Price.Sign() < 0 {
		return nil, fmt.Errorf("receipt price must not be negative, got %s", batch.Price)
	}
	if batch.ReceiptID == "" {
		batch.ReceiptID = uuid.New().String()
	}
	batch.QuantityUsed = decimal.Zero
	batch.IsActive = true
	batch.ReceiptUsedOrder = nil
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = e.now()
	}

	unlock := e.locks.Lock(ingredientID)
	defer unlock()

	var result *models.Ingredient
	err := util.RetryOnConflict(ctx, e.retry, "ingredient", func() error {
		current, err := e.load(ctx, []string{ingredientID})
		if err != nil {
			return err
		}
		ing := current[ingredientID].Clone()
		for _, b := range ing.ReceiptInfo {
			if b.ReceiptID == batch.ReceiptID {
				return fmt.Errorf("receipt %s: %w", batch.ReceiptID, models.ErrDuplicateReceipt)
			}
		}
		ing.ReceiptInfo = append(ing.ReceiptInfo, batch)
		ing.ReceiptIDs = append(ing.ReceiptIDs, batch.ReceiptID)
		ing.Quantity = ing.Quantity.Add(batch.Quantity)
		ing.UpdatedAt = e.now()

		if err := e.repo.SaveIngredients(ctx, []*models.Ingredient{ing}); err != nil {
			return err
		}
		result = ing
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Stock received",
		zap.String("ingredient_id", ingredientID),
		zap.String("receipt_id", batch.ReceiptID),
		zap.String("quantity", batch.Quantity.String()))
	return result, nil
}

// GetIngredient returns the current stock record of one ingredient
func (e *Engine) GetIngredient(ctx context.Context, id string) (*models.Ingredient, error) {
	current, err := e.load(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	return current[id], nil
}

func (e *Engine) load(ctx context.Context, ids []string) (map[string]*models.Ingredient, error) {
	list, err := e.repo.GetIngredients(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load ingredients: %w", err)
	}
	byID := make(map[string]*models.Ingredient, len(list))
	for _, ing := range list {
		byID[ing.ID] = ing
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("ingredient %s: %w", id, models.ErrNotFound)
		}
	}
	return byID, nil
}

func ingredientIDs(order *models.Order) []string {
	ids := append([]string(nil), order.IngredientIDs...)
	for _, u := range order.UsedIngredients {
		ids = append(ids, u.IngredientID)
	}
	return uniqueSorted(ids)
}
