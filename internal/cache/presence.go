package cache

import (
	"context"
	"fmt"
)

const onlineUsersKey = "online_users"

// Presence is the set-based online-user registry.
type Presence struct {
	rdb Client
}

// NewPresence constructs a Presence registry.
func NewPresence(rdb Client) *Presence {
	return &Presence{rdb: rdb}
}

// AddOnline marks a user online.
func (p *Presence) AddOnline(ctx context.Context, userID string) error {
	if err := p.rdb.SAdd(ctx, onlineUsersKey, userID).Err(); err != nil {
		return fmt.Errorf("cache.AddOnline: %w", err)
	}
	return nil
}

// RemoveOnline marks a user offline.
func (p *Presence) RemoveOnline(ctx context.Context, userID string) error {
	if err := p.rdb.SRem(ctx, onlineUsersKey, userID).Err(); err != nil {
		return fmt.Errorf("cache.RemoveOnline: %w", err)
	}
	return nil
}

// IsOnline reports whether the user is in the online set.
func (p *Presence) IsOnline(ctx context.Context, userID string) (bool, error) {
	online, err := p.rdb.SIsMember(ctx, onlineUsersKey, userID).Result()
	if err != nil {
		return false, fmt.Errorf("cache.IsOnline: %w", err)
	}
	return online, nil
}

// OnlineUsers returns every user currently marked online.
func (p *Presence) OnlineUsers(ctx context.Context) ([]string, error) {
	users, err := p.rdb.SMembers(ctx, onlineUsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("cache.OnlineUsers: %w", err)
	}
	return users, nil
}

// Ping checks the cache connection.
func (p *Presence) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}
