package service

import (
	"context"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/redisclient"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// StockStore is the persistence surface the ledger needs.
type StockStore interface {
	GetAvailableStock(ctx context.Context, productID int64) (int, error)
	AdjustStock(ctx context.Context, productID int64, delta int, actor string) (int, error)
}

const stockCacheTTL = 30 * time.Second

// StockLedger fronts the product stock counters with a short-lived Redis
// cache. Writes always hit Postgres; the cache is read-side only and is
// invalidated on every adjustment.
type StockLedger struct {
	store  StockStore
	cache  *redisclient.Client
	logger *zap.Logger
}

func NewStockLedger(st StockStore, cache *redisclient.Client) *StockLedger {
	return &StockLedger{
		store:  st,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// GetAvailableStock returns the current on-hand quantity, serving from
// cache when fresh. Cache errors degrade to a database read.
func (l *StockLedger) GetAvailableStock(ctx context.Context, productID int64) (int, error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.GetAvailableStock")
	defer span.End()

	if l.cache != nil {
		if qty, ok, err := l.cache.GetCachedStock(ctx, productID); err != nil {
			l.logger.Warn("Stock cache read failed", zap.Int64("product_id", productID), zap.Error(err))
		} else if ok {
			return qty, nil
		}
	}

	qty, err := l.store.GetAvailableStock(ctx, productID)
	if err != nil {
		return 0, err
	}
	if l.cache != nil {
		if err := l.cache.CacheStock(ctx, productID, qty, stockCacheTTL); err != nil {
			l.logger.Warn("Stock cache write failed", zap.Int64("product_id", productID), zap.Error(err))
		}
	}
	return qty, nil
}

// AdjustStock applies a signed delta (restock positive, shrinkage
// negative). A decrement below zero fails with InsufficientStockError and
// leaves the counter untouched.
func (l *StockLedger) AdjustStock(ctx context.Context, productID int64, delta int, actor string) (int, error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.AdjustStock")
	defer span.End()

	if delta == 0 {
		return 0, &models.ValidationError{Field: "delta", Reason: "must be non-zero"}
	}

	qty, err := l.store.AdjustStock(ctx, productID, delta, actor)
	if err != nil {
		return 0, err
	}

	if l.cache != nil {
		if err := l.cache.InvalidateStock(ctx, productID); err != nil {
			l.logger.Warn("Stock cache invalidation failed", zap.Int64("product_id", productID), zap.Error(err))
		}
	}
	return qty, nil
}
