package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/deduct_stock.lua
var deductStockScript string

//go:embed scripts/restore_stock.lua
var restoreStockScript string

type Client struct {
	rdb           *redis.Client
	deductScript  *redis.Script
	restoreScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		deductScript:  redis.NewScript(deductStockScript),
		restoreScript: redis.NewScript(restoreStockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(variantID int64) string {
	return fmt.Sprintf("stock:%d", variantID)
}

// DeductStock atomically deducts cached stock using a Lua script.
// Returns true when the deduction went through, false when the cached
// quantity was insufficient. A missing key is an error so callers fall back
// to the database.
func (c *Client) DeductStock(ctx context.Context, variantID int64, quantity int) (bool, error) {
	result, err := c.deductScript.Run(ctx, c.rdb, []string{stockKey(variantID)}, quantity).Result()
	if err != nil {
		return false, fmt.Errorf("deduct stock script failed: %w", err)
	}

	code, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	if code == -1 {
		return false, fmt.Errorf("stock not cached for variant %d", variantID)
	}

	return code == 1, nil
}

// RestoreStock atomically restores cached stock (compensation)
func (c *Client) RestoreStock(ctx context.Context, variantID int64, quantity int) error {
	_, err := c.restoreScript.Run(ctx, c.rdb, []string{stockKey(variantID)}, quantity).Result()
	if err != nil {
		return fmt.Errorf("restore stock script failed: %w", err)
	}

	return nil
}

// InitStock seeds the cached stock count for a variant
func (c *Client) InitStock(ctx context.Context, variantID int64, stock int) error {
	return c.rdb.Set(ctx, stockKey(variantID), stock, 0).Err()
}

// GetStock retrieves the cached stock count
func (c *Client) GetStock(ctx context.Context, variantID int64) (int, error) {
	stock, err := c.rdb.Get(ctx, stockKey(variantID)).Int()
	if err == redis.Nil {
		return 0, fmt.Errorf("stock not cached for variant %d", variantID)
	}
	return stock, err
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
