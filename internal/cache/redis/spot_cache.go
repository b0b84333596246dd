package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/covault/vaultrfq/internal/domain"
)

// historyMaxLen caps the per-asset price history list. At one tick per roll
// interval this comfortably covers the volatility lookback window.
const historyMaxLen = 512

// SpotCache implements domain.SpotCache using Redis. The latest mark lives
// in a hash at "spot:{asset}" with fields "price" and "ts"; recent marks are
// kept in a capped list at "spot:hist:{asset}" for volatility estimation.
type SpotCache struct {
	rdb *redis.Client
}

// NewSpotCache creates a SpotCache backed by the given Client.
func NewSpotCache(c *Client) *SpotCache {
	return &SpotCache{rdb: c.Raw()}
}

func spotKey(asset string) string {
	return "spot:" + asset
}

func spotHistoryKey(asset string) string {
	return "spot:hist:" + asset
}

// SetSpot stores the latest mark price for an asset and appends it to the
// asset's history list.
func (sc *SpotCache) SetSpot(ctx context.Context, asset string, price float64) error {
	priceStr := strconv.FormatFloat(price, 'f', -1, 64)

	pipe := sc.rdb.Pipeline()
	pipe.HSet(ctx, spotKey(asset), map[string]interface{}{
		"price": priceStr,
		"ts":    strconv.FormatInt(time.Now().UnixNano(), 10),
	})
	pipe.RPush(ctx, spotHistoryKey(asset), priceStr)
	pipe.LTrim(ctx, spotHistoryKey(asset), -historyMaxLen, -1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set spot %s: %w", asset, err)
	}
	return nil
}

// GetSpot retrieves the latest mark price and the time it was written.
// It returns domain.ErrNotFound when no price has been published.
func (sc *SpotCache) GetSpot(ctx context.Context, asset string) (float64, time.Time, error) {
	vals, err := sc.rdb.HGetAll(ctx, spotKey(asset)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get spot %s: %w", asset, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse spot %s: %w", asset, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse spot ts %s: %w", asset, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// History returns up to limit recent prices for an asset, oldest first.
func (sc *SpotCache) History(ctx context.Context, asset string, limit int) ([]float64, error) {
	if limit <= 0 {
		return nil, nil
	}

	raw, err := sc.rdb.LRange(ctx, spotHistoryKey(asset), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: spot history %s: %w", asset, err)
	}

	prices := make([]float64, 0, len(raw))
	for _, s := range raw {
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		prices = append(prices, p)
	}
	return prices, nil
}

// Compile-time interface check.
var _ domain.SpotCache = (*SpotCache)(nil)
