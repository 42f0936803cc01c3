package service

import (
	"context"
	"fmt"

	"fulfillment-core/internal/models"
	"fulfillment-core/internal/util"

	"go.uber.org/zap"
)

// StockLedger fronts the movement ledger and the cached per-variant stock
// count. The ledger rows are the source of truth; the cached count (DB column
// plus redis copy) is the derived available-to-sell quantity.
type StockLedger struct {
	store  Datastore
	cache  StockCache
	logger *zap.Logger
}

// NewStockLedger creates a new stock ledger service
func NewStockLedger(store Datastore, cache StockCache) *StockLedger {
	return &StockLedger{
		store:  store,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// Available returns the available-to-sell quantity for a variant, redis
// fast path with DB fallback.
func (l *StockLedger) Available(ctx context.Context, variantID int64) (int, error) {
	if l.cache != nil {
		stock, err := l.cache.GetStock(ctx, variantID)
		if err == nil {
			return stock, nil
		}
		l.logger.Warn("Stock cache miss, falling back to DB",
			zap.Int64("variant_id", variantID),
			zap.Error(err))
	}

	return l.store.GetStock(ctx, variantID)
}

// DeductCached deducts the cached count after a committed sale. Best effort:
// the DB transaction already carried the authoritative deduction.
func (l *StockLedger) DeductCached(ctx context.Context, variantID int64, quantity int) {
	if l.cache == nil {
		return
	}
	if _, err := l.cache.DeductStock(ctx, variantID, quantity); err != nil {
		l.logger.Warn("Failed to deduct cached stock",
			zap.Int64("variant_id", variantID),
			zap.Error(err))
	}
}

// RestoreCached restores the cached count after a committed compensation.
func (l *StockLedger) RestoreCached(ctx context.Context, variantID int64, quantity int) {
	if l.cache == nil {
		return
	}
	if err := l.cache.RestoreStock(ctx, variantID, quantity); err != nil {
		l.logger.Warn("Failed to restore cached stock",
			zap.Int64("variant_id", variantID),
			zap.Error(err))
	}
}

// RecordAdjustment appends a manual adjustment movement and applies its delta
// to the cached count. Operators use it for corrections and restocks outside
// the order flow.
func (l *StockLedger) RecordAdjustment(ctx context.Context, variantID int64, delta int, actor, note string) error {
	ctx, span := util.StartSpan(ctx, "StockLedger.RecordAdjustment")
	defer span.End()

	if delta == 0 {
		return fmt.Errorf("adjustment delta must be non-zero")
	}

	movement := &models.StockMovement{
		VariantID: variantID,
		Quantity:  delta,
		Kind:      models.MovementKindAdjustment,
		Actor:     actor,
		Note:      note,
	}
	if err := l.store.RecordMovement(ctx, movement); err != nil {
		return fmt.Errorf("failed to record adjustment: %w", err)
	}

	if err := l.store.AdjustStock(ctx, variantID, delta); err != nil {
		return fmt.Errorf("failed to adjust stock: %w", err)
	}

	if delta > 0 {
		l.RestoreCached(ctx, variantID, delta)
	} else {
		l.DeductCached(ctx, variantID, -delta)
	}

	l.logger.Info("Stock adjusted",
		zap.Int64("variant_id", variantID),
		zap.Int("delta", delta),
		zap.String("actor", actor))
	return nil
}

// SyncCache seeds the redis stock counters from the database
func (l *StockLedger) SyncCache(ctx context.Context) error {
	if l.cache == nil {
		return nil
	}

	l.logger.Info("Starting stock sync to cache")

	variants, err := l.store.GetVariants(ctx)
	if err != nil {
		return fmt.Errorf("failed to get variants: %w", err)
	}

	for _, variant := range variants {
		if err := l.cache.InitStock(ctx, variant.ID, variant.Stock); err != nil {
			l.logger.Error("Failed to seed cached stock",
				zap.Int64("variant_id", variant.ID),
				zap.Error(err))
		}
	}

	l.logger.Info("Stock sync completed", zap.Int("count", len(variants)))
	return nil
}
