package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"shopbot-service/internal/models"
)

// CreateIngredient inserts a new ingredient at version 1
func (s *Store) CreateIngredient(ctx context.Context, ing *models.Ingredient) error {
	query := `
		INSERT INTO ingredients (id, store_id, name, quantity, unit, receipt_info, product_ids, receipt_ids, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		RETURNING version, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		ing.ID, ing.StoreID, ing.Name, ing.Quantity, ing.Unit,
		nonNilBatches(ing.ReceiptInfo), nonNilList(ing.ProductIDs), nonNilList(ing.ReceiptIDs),
	).Scan(&ing.Version, &ing.UpdatedAt)
}

// GetIngredients retrieves ingredients by ID. Unknown IDs are skipped.
func (s *Store) GetIngredients(ctx context.Context, ids []string) ([]*models.Ingredient, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In("SELECT * FROM ingredients WHERE id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var list []*models.Ingredient
	if err := s.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, err
	}
	return list, nil
}

// SaveIngredients writes all ingredients in one transaction. Each row is
// updated only if its version still matches; otherwise nothing is written
// and models.ErrConcurrencyConflict is returned.
func (s *Store) SaveIngredients(ctx context.Context, list []*models.Ingredient) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, ing := range list {
		res, err := tx.ExecContext(ctx, `
			UPDATE ingredients
			SET quantity = $1, receipt_info = $2, product_ids = $3, receipt_ids = $4,
			    version = version + 1, updated_at = $5
			WHERE id = $6 AND version = $7`,
			ing.Quantity, nonNilBatches(ing.ReceiptInfo), nonNilList(ing.ProductIDs), nonNilList(ing.ReceiptIDs),
			ing.UpdatedAt, ing.ID, ing.Version)
		if err != nil {
			return fmt.Errorf("failed to update ingredient %s: %w", ing.ID, conflictOrErr(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("ingredient %s version %d: %w", ing.ID, ing.Version, models.ErrConcurrencyConflict)
		}
	}

	if err := tx.Commit(); err != nil {
		return conflictOrErr(err)
	}
	for _, ing := range list {
		ing.Version++
	}
	return nil
}

func nonNilBatches(b models.ReceiptBatches) models.ReceiptBatches {
	if b == nil {
		return models.ReceiptBatches{}
	}
	return b
}

func nonNilList(l models.StringList) models.StringList {
	if l == nil {
		return models.StringList{}
	}
	return l
}
