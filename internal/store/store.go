package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"shopbot-service/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db *sqlx.DB
}

// NewStore connects to Postgres and applies pending migrations
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// conflictOrErr turns serialization failures and deadlocks into
// models.ErrConcurrencyConflict so callers retry them.
func conflictOrErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		if code == pgerrcode.SerializationFailure || code == pgerrcode.DeadlockDetected {
			return fmt.Errorf("%s: %w", pqErr.Message, models.ErrConcurrencyConflict)
		}
	}
	return err
}

// GetStore retrieves a store profile by ID
func (s *Store) GetStore(ctx context.Context, id string) (*models.Store, error) {
	var st models.Store
	err := s.db.GetContext(ctx, &st, "SELECT * FROM stores WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// CreateStore inserts a store profile
func (s *Store) CreateStore(ctx context.Context, st *models.Store) error {
	query := `
		INSERT INTO stores (id, name, channel_token, classifier_endpoint, classifier_api_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	return s.db.GetContext(ctx, &st.CreatedAt, query,
		st.ID, st.Name, st.ChannelToken, st.ClassifierEndpoint, st.ClassifierAPIKey)
}

// CreateProduct inserts a menu entry
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (id, store_id, name, description, price, is_available)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	return s.db.GetContext(ctx, &p.CreatedAt, query,
		p.ID, p.StoreID, p.Name, p.Description, p.Price, p.IsAvailable)
}

// FindProductByName resolves an available product by case-insensitive name.
// It returns nil, nil when the store has no such product.
func (s *Store) FindProductByName(ctx context.Context, storeID, name string) (*models.Product, error) {
	var p models.Product
	err := s.db.GetContext(ctx, &p,
		"SELECT * FROM products WHERE store_id = $1 AND lower(name) = lower($2) AND is_available",
		storeID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProducts retrieves the available menu of a store
func (s *Store) ListProducts(ctx context.Context, storeID string) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products,
		"SELECT * FROM products WHERE store_id = $1 AND is_available ORDER BY name", storeID)
	return products, err
}

// GetRecipe retrieves the ingredient usage of one product unit
func (s *Store) GetRecipe(ctx context.Context, productID string) ([]models.RecipeLine, error) {
	var lines []models.RecipeLine
	err := s.db.SelectContext(ctx, &lines,
		"SELECT product_id, ingredient_id, qty_per_unit FROM recipe_lines WHERE product_id = $1 ORDER BY ingredient_id",
		productID)
	return lines, err
}

// SetRecipe replaces the recipe of a product and records the product on its ingredients
func (s *Store) SetRecipe(ctx context.Context, productID string, lines []models.RecipeLine) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM recipe_lines WHERE product_id = $1", productID); err != nil {
		return fmt.Errorf("failed to clear recipe: %w", err)
	}

	for _, l := range lines {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO recipe_lines (product_id, ingredient_id, qty_per_unit) VALUES ($1, $2, $3)",
			productID, l.IngredientID, l.QtyPerUnit)
		if err != nil {
			return fmt.Errorf("failed to insert recipe line: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE ingredients
			SET product_ids = product_ids || to_jsonb($1::text), version = version + 1, updated_at = NOW()
			WHERE id = $2 AND NOT product_ids ? $1`,
			productID, l.IngredientID)
		if err != nil {
			return fmt.Errorf("failed to link ingredient: %w", err)
		}
	}

	return tx.Commit()
}
