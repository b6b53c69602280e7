package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryClient is an in-memory Client used in tests and local tooling. TTLs
// are accepted and ignored.
type MemoryClient struct {
	mu     sync.Mutex
	values map[string]string
	sets   map[string]map[string]struct{}
}

// NewMemoryClient builds an empty MemoryClient.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		values: make(map[string]string),
		sets:   make(map[string]map[string]struct{}),
	}
}

func (m *MemoryClient) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := redis.NewStringCmd(ctx, "get", key)
	if v, ok := m.values[key]; ok {
		cmd.SetVal(v)
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (m *MemoryClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = stringify(value)
	cmd := redis.NewStatusCmd(ctx, "set", key)
	cmd.SetVal("OK")
	return cmd
}

func (m *MemoryClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := int64(0)
	for _, key := range keys {
		if _, ok := m.values[key]; ok {
			delete(m.values, key)
			removed++
		}
		if _, ok := m.sets[key]; ok {
			delete(m.sets, key)
			removed++
		}
	}
	cmd := redis.NewIntCmd(ctx, "del")
	cmd.SetVal(removed)
	return cmd
}

func (m *MemoryClient) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	added := int64(0)
	for _, member := range members {
		s := stringify(member)
		if _, ok := set[s]; !ok {
			set[s] = struct{}{}
			added++
		}
	}
	cmd := redis.NewIntCmd(ctx, "sadd", key)
	cmd.SetVal(added)
	return cmd
}

func (m *MemoryClient) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := int64(0)
	if set, ok := m.sets[key]; ok {
		for _, member := range members {
			s := stringify(member)
			if _, ok := set[s]; ok {
				delete(set, s)
				removed++
			}
		}
	}
	cmd := redis.NewIntCmd(ctx, "srem", key)
	cmd.SetVal(removed)
	return cmd
}

func (m *MemoryClient) SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := redis.NewBoolCmd(ctx, "sismember", key)
	if set, ok := m.sets[key]; ok {
		_, found := set[stringify(member)]
		cmd.SetVal(found)
	} else {
		cmd.SetVal(false)
	}
	return cmd
}

func (m *MemoryClient) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := make([]string, 0)
	for member := range m.sets[key] {
		members = append(members, member)
	}
	cmd := redis.NewStringSliceCmd(ctx, "smembers", key)
	cmd.SetVal(members)
	return cmd
}

func (m *MemoryClient) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "ping")
	cmd.SetVal("PONG")
	return cmd
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
