package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"signaling-service/internal/observability"
)

// Client is the subset of redis operations the cache layer uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// ListCache is a read-through cache for list-shaped resources. Entries are JSON
// arrays of objects carrying an "id" field; they are derived, rebuildable views
// of the durable store, never the sole copy of truth.
type ListCache struct {
	rdb Client
	ttl time.Duration
}

// NewListCache constructs a ListCache with a fixed entry TTL.
func NewListCache(rdb Client, ttl time.Duration) *ListCache {
	return &ListCache{rdb: rdb, ttl: ttl}
}

// Keys for the two list-shaped resources.
func MessagesKey(chatID string) string { return "messages:" + chatID }
func ChatsKey(userID string) string    { return "chats:" + userID }

// GetOrSet fills dest from cache, invoking loader against the durable store on
// a miss and storing its result with the configured expiry.
func (c *ListCache) GetOrSet(ctx context.Context, key string, dest any, loader func(ctx context.Context) (any, error)) error {
	const op = "cache.GetOrSet"

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		observability.IncCacheHit()
		return json.Unmarshal(data, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: %w", op, err)
	}
	observability.IncCacheMiss()

	value, err := loader(ctx)
	if err != nil {
		return err
	}
	data, err = json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return json.Unmarshal(data, dest)
}

// UpsertItem replaces the cached array element with the same id as item,
// appending it when absent and addIfMissing is set. The whole entry is
// rewritten with a fresh expiry. A missing entry is left missing: the next read
// rebuilds it from the store.
func (c *ListCache) UpsertItem(ctx context.Context, key string, item any, addIfMissing bool) error {
	const op = "cache.UpsertItem"

	itemData, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	id, err := itemID(itemData)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return c.rewrite(ctx, key, func(elements []json.RawMessage) ([]json.RawMessage, bool, error) {
		for i, el := range elements {
			elID, err := itemID(el)
			if err != nil {
				return nil, false, err
			}
			if elID == id {
				elements[i] = itemData
				return elements, true, nil
			}
		}
		if addIfMissing {
			return append(elements, itemData), true, nil
		}
		return elements, false, nil
	})
}

// UpdateByFilter sets field to value on every cached element matching the
// filter. Unmatched elements are carried over untouched.
func (c *ListCache) UpdateByFilter(ctx context.Context, key string, filter Filter, field string, value any) error {
	const op = "cache.UpdateByFilter"

	normalized, err := normalize(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return c.rewrite(ctx, key, func(elements []json.RawMessage) ([]json.RawMessage, bool, error) {
		changed := false
		for i, el := range elements {
			var obj map[string]any
			if err := json.Unmarshal(el, &obj); err != nil {
				return nil, false, err
			}
			if !filter.Matches(obj) {
				continue
			}
			obj[field] = normalized
			data, err := json.Marshal(obj)
			if err != nil {
				return nil, false, err
			}
			elements[i] = data
			changed = true
		}
		return elements, changed, nil
	})
}

// RemoveItem filters the element with the given id out of the cached array.
func (c *ListCache) RemoveItem(ctx context.Context, key string, id string) error {
	return c.rewrite(ctx, key, func(elements []json.RawMessage) ([]json.RawMessage, bool, error) {
		kept := elements[:0]
		removed := false
		for _, el := range elements {
			elID, err := itemID(el)
			if err != nil {
				return nil, false, err
			}
			if elID == id {
				removed = true
				continue
			}
			kept = append(kept, el)
		}
		return kept, removed, nil
	})
}

// Invalidate hard-deletes the entry so the next read is a guaranteed rebuild.
func (c *ListCache) Invalidate(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// rewrite loads the cached array, applies mutate and writes the result back
// with a fresh expiry. A cache miss is a no-op.
func (c *ListCache) rewrite(ctx context.Context, key string, mutate func([]json.RawMessage) ([]json.RawMessage, bool, error)) error {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return err
	}

	elements, changed, err := mutate(elements)
	if err != nil {
		return err
	}
	if !changed {
		// Still refresh the expiry so patched and untouched entries age alike.
		return c.rdb.Set(ctx, key, data, c.ttl).Err()
	}

	data, err = json.Marshal(elements)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, c.ttl).Err()
}

func itemID(data []byte) (string, error) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", err
	}
	if probe.ID == "" {
		return "", errors.New("cached element has no id")
	}
	return probe.ID, nil
}

func normalize(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var normalized any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}
