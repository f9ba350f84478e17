package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rental-service/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/extend_lock.lua
var extendLockScript string

// ErrLockNotHeld is returned when a lock was lost or taken over by another owner
var ErrLockNotHeld = errors.New("lock not held")

type Client struct {
	rdb           *redis.Client
	occupancyTTL  time.Duration
	releaseScript *redis.Script
	extendScript  *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int, occupancyTTL time.Duration) (*Client, error) {
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

	return NewWithClient(rdb, occupancyTTL), nil
}

// NewWithClient wraps an existing go-redis client
func NewWithClient(rdb *redis.Client, occupancyTTL time.Duration) *Client {
	if occupancyTTL <= 0 {
		occupancyTTL = 30 * time.Second
	}
	return &Client{
		rdb:           rdb,
		occupancyTTL:  occupancyTTL,
		releaseScript: redis.NewScript(releaseLockScript),
		extendScript:  redis.NewScript(extendLockScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks the connection, used by the readiness probe
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func occupancyKey(productID int64) string {
	return fmt.Sprintf("occupancy:%d", productID)
}

// GetOccupancy returns the cached occupancy view, or nil on a miss
func (c *Client) GetOccupancy(ctx context.Context, productID int64) (*models.Occupancy, error) {
	raw, err := c.rdb.Get(ctx, occupancyKey(productID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get occupancy: %w", err)
	}

	var occ models.Occupancy
	if err := json.Unmarshal(raw, &occ); err != nil {
		// a corrupt entry is treated as a miss and overwritten on the next write
		return nil, nil
	}
	return &occ, nil
}

// SetOccupancy caches an occupancy view. The entry never outlives the
// moment the view changes on its own (the next unit becoming free).
func (c *Client) SetOccupancy(ctx context.Context, occ *models.Occupancy) error {
	ttl := c.occupancyTTL
	if occ.NextFreeAt != nil {
		if until := time.Until(*occ.NextFreeAt); until < ttl {
			ttl = until
		}
	}
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(occ)
	if err != nil {
		return fmt.Errorf("marshal occupancy: %w", err)
	}
	return c.rdb.Set(ctx, occupancyKey(occ.ProductID), raw, ttl).Err()
}

// InvalidateProduct drops every cached view of a product
func (c *Client) InvalidateProduct(ctx context.Context, productID int64) error {
	return c.rdb.Del(ctx, occupancyKey(productID)).Err()
}

// MarkCallbackSeen records a confirmation callback id. It returns false if
// the id was already recorded within ttl.
func (c *Client) MarkCallbackSeen(ctx context.Context, callbackID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("callback:%s", callbackID), time.Now().Unix(), ttl).Result()
}

// ForgetCallback removes a callback id so a failed delivery can be retried
func (c *Client) ForgetCallback(ctx context.Context, callbackID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("callback:%s", callbackID)).Err()
}

// Lock is a held distributed lock
type Lock struct {
	client *Client
	key    string
	token  string
}

// AcquireLock acquires a distributed lock. It returns nil and no error when
// another owner holds it.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (*Lock, error) {
	key := fmt.Sprintf("lock:%s", lockKey)
	token := uuid.NewString()

	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", lockKey, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lock{client: c, key: key, token: token}, nil
}

// Extend pushes the lock expiry forward while it is still held
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := l.client.extendScript.Run(ctx, l.client.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock script failed: %w", err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Release deletes the lock only if this owner still holds it
func (l *Lock) Release(ctx context.Context) error {
	n, err := l.client.releaseScript.Run(ctx, l.client.rdb, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
