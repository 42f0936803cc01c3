package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fulfillment-core/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetVariantByID retrieves a product variant by ID
func (s *Store) GetVariantByID(ctx context.Context, id int64) (*models.ProductVariant, error) {
	var variant models.ProductVariant
	err := s.db.GetContext(ctx, &variant, "SELECT * FROM product_variants WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("variant not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &variant, nil
}

// GetVariants retrieves all product variants
func (s *Store) GetVariants(ctx context.Context) ([]models.ProductVariant, error) {
	var variants []models.ProductVariant
	err := s.db.SelectContext(ctx, &variants, "SELECT * FROM product_variants ORDER BY id")
	return variants, err
}

// GetVariantsByIDs retrieves multiple variants by IDs
func (s *Store) GetVariantsByIDs(ctx context.Context, ids []int64) ([]models.ProductVariant, error) {
	if len(ids) == 0 {
		return []models.ProductVariant{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM product_variants WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var variants []models.ProductVariant
	err = s.db.SelectContext(ctx, &variants, query, args...)
	return variants, err
}

// GetStock retrieves the cached available quantity for a variant
func (s *Store) GetStock(ctx context.Context, variantID int64) (int, error) {
	var stock int
	err := s.db.GetContext(ctx, &stock,
		"SELECT stock FROM product_variants WHERE id = $1", variantID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("variant not found: %d", variantID)
	}
	return stock, err
}

// RecordMovement appends an immutable ledger entry
func (s *Store) RecordMovement(ctx context.Context, m *models.StockMovement) error {
	query := `
		INSERT INTO stock_movements (variant_id, quantity, kind, actor, order_id, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, m, query,
		m.VariantID, m.Quantity, m.Kind, m.Actor, m.OrderID, m.Note)
}

// GetMovementsByOrderID retrieves all ledger entries referencing an order
func (s *Store) GetMovementsByOrderID(ctx context.Context, orderID int64) ([]models.StockMovement, error) {
	var movements []models.StockMovement
	err := s.db.SelectContext(ctx, &movements,
		"SELECT * FROM stock_movements WHERE order_id = $1 ORDER BY id", orderID)
	return movements, err
}

// AdjustStock changes the cached stock count by delta
func (s *Store) AdjustStock(ctx context.Context, variantID int64, delta int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE product_variants SET stock = stock + $1, updated_at = NOW() WHERE id = $2",
		delta, variantID)
	return err
}

// DeductStockTx deducts stock and appends the sale movement within one
// transaction (FOR UPDATE lock); fails without mutating anything when the
// available quantity is insufficient.
func (s *Store) DeductStockTx(ctx context.Context, variantID int64, quantity int, actor string, orderID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var stock int
	err = tx.GetContext(ctx, &stock,
		"SELECT stock FROM product_variants WHERE id = $1 FOR UPDATE", variantID)
	if err != nil {
		return fmt.Errorf("failed to lock variant: %w", err)
	}

	if stock < quantity {
		return fmt.Errorf("insufficient stock: available=%d, requested=%d", stock, quantity)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE product_variants SET stock = stock - $1, updated_at = NOW() WHERE id = $2",
		quantity, variantID)
	if err != nil {
		return fmt.Errorf("failed to deduct stock: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_movements (variant_id, quantity, kind, actor, order_id)
		VALUES ($1, $2, $3, $4, $5)`,
		variantID, -quantity, models.MovementKindSale, actor, orderID)
	if err != nil {
		return fmt.Errorf("failed to record sale movement: %w", err)
	}

	return tx.Commit()
}
