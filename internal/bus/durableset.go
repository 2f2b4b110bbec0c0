package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DurableSet is a Redis-backed membership set that mirrors the Sniper's
// in-flight sell claims across process restarts, a durable companion to the
// in-process bus (spec.md §5 in-flight sets, §3 DOMAIN STACK table).
type DurableSet struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewDurableSet wraps a Redis client scoped to the given key prefix (e.g.
// "arb:inflight:sells"). ttl bounds how long a stale membership can survive
// a crash that never called Remove.
func NewDurableSet(client *redis.Client, prefix string, ttl time.Duration) *DurableSet {
	return &DurableSet{client: client, prefix: prefix, ttl: ttl}
}

func (s *DurableSet) key(member string) string {
	return fmt.Sprintf("%s:%s", s.prefix, member)
}

// Add registers a member as in-flight. Returns true if this call newly
// added it (i.e. it was not already in-flight).
func (s *DurableSet) Add(ctx context.Context, member string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(member), time.Now().Unix(), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("durable set add %s: %w", member, err)
	}
	return ok, nil
}

// Remove clears a member's in-flight marker.
func (s *DurableSet) Remove(ctx context.Context, member string) error {
	if err := s.client.Del(ctx, s.key(member)).Err(); err != nil {
		return fmt.Errorf("durable set remove %s: %w", member, err)
	}
	return nil
}

// Contains reports whether a member is currently marked in-flight.
func (s *DurableSet) Contains(ctx context.Context, member string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(member)).Result()
	if err != nil {
		return false, fmt.Errorf("durable set contains %s: %w", member, err)
	}
	return n > 0, nil
}
