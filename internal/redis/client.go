package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/config"
	"github.com/joshrkay/Shopify-analytics-app-phase1-sub000/internal/models"
)

// Client wraps the Redis client with application-specific methods
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection to Redis
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key prefixes
const (
	EntitlementKeyPrefix = "entitlement:"
	WebhookSeenPrefix    = "webhook:seen:"
	TenantLockPrefix     = "lock:tenant:"
)

// EntitlementCache is the redis-backed cache for resolved entitlements. It is
// the single authority for cached grants; invalidation is synchronous.
type EntitlementCache struct {
	client *Client
	ttl    time.Duration
}

// NewEntitlementCache creates the entitlement cache with the given TTL
func NewEntitlementCache(client *Client, ttl time.Duration) *EntitlementCache {
	return &EntitlementCache{client: client, ttl: ttl}
}

// Get returns the cached entitlement for a tenant. A read failure is
// non-fatal: callers recompute.
func (c *EntitlementCache) Get(ctx context.Context, tenantID string) (*models.ResolvedEntitlement, bool) {
	data, err := c.client.rdb.Get(ctx, EntitlementKeyPrefix+tenantID).Bytes()
	if err != nil {
		return nil, false
	}

	var resolved models.ResolvedEntitlement
	if err := json.Unmarshal(data, &resolved); err != nil {
		return nil, false
	}
	return &resolved, true
}

// Set stores the resolved entitlement under the cache TTL
func (c *EntitlementCache) Set(ctx context.Context, tenantID string, resolved *models.ResolvedEntitlement) error {
	data, err := json.Marshal(resolved)
	if err != nil {
		return fmt.Errorf("failed to marshal entitlement: %w", err)
	}
	return c.client.rdb.Set(ctx, EntitlementKeyPrefix+tenantID, data, c.ttl).Err()
}

// Invalidate purges the cached entitlement for a tenant synchronously
func (c *EntitlementCache) Invalidate(ctx context.Context, tenantID string) error {
	return c.client.rdb.Del(ctx, EntitlementKeyPrefix+tenantID).Err()
}

// MarkWebhookSeen records a webhook id for idempotency checks. Returns true
// if the id was newly recorded, false if it was already seen.
func (c *Client) MarkWebhookSeen(ctx context.Context, webhookID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, WebhookSeenPrefix+webhookID, time.Now().UTC().Unix(), ttl).Result()
}

// ClearWebhookSeen releases a webhook id so a provider retry of a delivery
// that failed processing is not swallowed as a duplicate.
func (c *Client) ClearWebhookSeen(ctx context.Context, webhookID string) error {
	return c.rdb.Del(ctx, WebhookSeenPrefix+webhookID).Err()
}

// AcquireTenantLock takes a best-effort distributed lock for a tenant-scoped
// operation. Returns true when the lock was acquired.
func (c *Client) AcquireTenantLock(ctx context.Context, tenantID, purpose string, ttl time.Duration) (bool, error) {
	key := TenantLockPrefix + purpose + ":" + tenantID
	return c.rdb.SetNX(ctx, key, 1, ttl).Result()
}

// ReleaseTenantLock releases a previously acquired tenant lock
func (c *Client) ReleaseTenantLock(ctx context.Context, tenantID, purpose string) error {
	key := TenantLockPrefix + purpose + ":" + tenantID
	return c.rdb.Del(ctx, key).Err()
}
