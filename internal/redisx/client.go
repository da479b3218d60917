package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusEntry is the cached view of an order or payment status.
type StatusEntry struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Cache groups the dedup and status-cache operations used by the projector
// and the HTTP read path.
type Cache struct {
	rdb redis.Cmdable
}

func NewCache(rdb redis.Cmdable) *Cache { return &Cache{rdb: rdb} }

// MarkProcessed claims an event id for one consumer service. It returns false
// when another delivery already claimed it.
func (c *Cache) MarkProcessed(ctx context.Context, service, eventID string) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, eventID), "1", TTLDedup).Result()
}

// Unmark releases a claim so a failed delivery can be retried.
func (c *Cache) Unmark(ctx context.Context, service, eventID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyDedup, service, eventID)).Err()
}

// SetStatus overwrites the cache entry unless it already holds a newer one;
// events for one aggregate arrive in order but redeliveries may not.
func (c *Cache) SetStatus(ctx context.Context, keyFmt string, e StatusEntry) error {
	key := fmt.Sprintf(keyFmt, e.ID)
	cur, ok, err := c.GetStatus(ctx, keyFmt, e.ID)
	if err != nil {
		return err
	}
	if ok && cur.UpdatedAt.After(e.UpdatedAt) {
		return nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, TTLStatusCache).Err()
}

// GetStatus returns ok=false on a cache miss.
func (c *Cache) GetStatus(ctx context.Context, keyFmt, id string) (StatusEntry, bool, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(keyFmt, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return StatusEntry{}, false, nil
	}
	if err != nil {
		return StatusEntry{}, false, err
	}
	var e StatusEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return StatusEntry{}, false, err
	}
	return e, true, nil
}
