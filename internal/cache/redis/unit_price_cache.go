package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// UnitPriceCache implements domain.UnitPriceCache using Redis hashes. Each
// property's latest unit price lives at "unitprice:{propertyID}" with fields
// "price" (smallest currency unit) and "ts" (Unix nanoseconds).
type UnitPriceCache struct {
	c *Client
}

// NewUnitPriceCache creates a UnitPriceCache backed by the given Client.
func NewUnitPriceCache(c *Client) *UnitPriceCache {
	return &UnitPriceCache{c: c}
}

func (pc *UnitPriceCache) key(propertyID string) string {
	return pc.c.key("unitprice:" + propertyID)
}

// SetUnitPrice stores the latest unit price of a property. An older ts never
// overwrites a newer one.
func (pc *UnitPriceCache) SetUnitPrice(ctx context.Context, propertyID string, price int64, ts time.Time) error {
	_, cur, err := pc.GetUnitPrice(ctx, propertyID)
	if err == nil && cur.After(ts) {
		return nil
	}
	fields := map[string]any{
		"price": strconv.FormatInt(price, 10),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.c.rdb.HSet(ctx, pc.key(propertyID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set unit price %s: %w", propertyID, err)
	}
	return nil
}

// GetUnitPrice returns the cached unit price and its timestamp, or
// domain.ErrNotFound.
func (pc *UnitPriceCache) GetUnitPrice(ctx context.Context, propertyID string) (int64, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.key(propertyID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get unit price %s: %w", propertyID, err)
	}
	price, ts, ok := parseUnitPrice(vals)
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return price, ts, nil
}

// GetUnitPrices fetches several prices in one pipeline. Missing or corrupt
// entries are omitted from the result.
func (pc *UnitPriceCache) GetUnitPrices(ctx context.Context, propertyIDs []string) (map[string]int64, error) {
	if len(propertyIDs) == 0 {
		return map[string]int64{}, nil
	}

	pipe := pc.c.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(propertyIDs))
	for _, id := range propertyIDs {
		cmds[id] = pipe.HGetAll(ctx, pc.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get unit prices pipeline: %w", err)
	}

	result := make(map[string]int64, len(propertyIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if price, _, ok := parseUnitPrice(vals); ok {
			result[id] = price
		}
	}
	return result, nil
}

func parseUnitPrice(vals map[string]string) (int64, time.Time, bool) {
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, false
	}
	price, err := strconv.ParseInt(priceStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	return price, time.Unix(0, tsNano), true
}

var _ domain.UnitPriceCache = (*UnitPriceCache)(nil)
