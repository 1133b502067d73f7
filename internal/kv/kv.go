// Package kv provides the minimal key/value capability set the dispatch
// pipeline relies on: atomic increment, conditional expiry, get/set/del and
// sorted-set range operations. Callers parse returned strings themselves —
// Store never silently coerces a byte payload into a number.
package kv

import "context"

// Store is the capability set every component in this pipeline is built
// against. The production binding is a networked client (internal/kv/redis.go);
// tests use the in-memory fake in internal/kv/memory.go. Neither inherits
// from the other — both simply satisfy this interface.
type Store interface {
	// Incr atomically increments key by 1 and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// Decr atomically decrements key by 1 and returns the new value. Used to
	// roll back an Incr that turned out to exceed a limit.
	Decr(ctx context.Context, key string) (int64, error)

	// ExpireIfNoTTL sets a TTL on key only if it doesn't already have one.
	// Returns true if a TTL was set.
	ExpireIfNoTTL(ctx context.Context, key string, seconds int64) (bool, error)

	// Get returns the decoded string value, or ("", false, nil) if absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value at key with the given TTL in seconds (0 = no TTL).
	Set(ctx context.Context, key, value string, ttlSeconds int64) error

	// SetNX stores value at key only if it doesn't already exist, with the
	// given TTL in seconds. Returns true if the key was set by this call.
	SetNX(ctx context.Context, key, value string, ttlSeconds int64) (bool, error)

	// Del removes key. Not an error if it doesn't exist.
	Del(ctx context.Context, key string) error

	// IncrBy atomically adds delta (may be negative) to key and returns the
	// new value. Used for the smooth-WRR deficit counters, which are not
	// TTL'd windows.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// ZAdd adds member to the sorted set at key with the given score.
	ZAdd(ctx context.Context, key string, score float64, member string) error

	// ZRangeByScore returns members with score in [min, max], ascending,
	// capped at limit (0 = unlimited).
	ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error)

	// ZRem removes member from the sorted set at key. Returns true if the
	// member was present (and removed) by this call — the primitive the
	// retry promoter and visibility-timeout reaper use to guarantee only one
	// caller wins a given entry.
	ZRem(ctx context.Context, key, member string) (bool, error)

	// LPush pushes value onto the head of the list at key.
	LPush(ctx context.Context, key, value string) error

	// BRPopLPush blocks up to timeoutSeconds for an element at the tail of
	// src, atomically moving it onto the head of dst. Returns ("", false,
	// nil) on timeout.
	BRPopLPush(ctx context.Context, src, dst string, timeoutSeconds int64) (string, bool, error)

	// LRem removes up to count occurrences of value from the list at key.
	LRem(ctx context.Context, key string, count int64, value string) error
}

// IncrWithExpire increments key and, only if this call created the key
// (post-increment value is 1), sets its TTL. Both the rate limiter and the
// health tracker count this way: the key must persist for the whole window
// so concurrent admissions accumulate on it, but it must also self-expire
// so no explicit cleanup is required.
func IncrWithExpire(ctx context.Context, s Store, key string, ttlSeconds int64) (int64, error) {
	count, err := s.Incr(ctx, key)
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if _, err := s.ExpireIfNoTTL(ctx, key, ttlSeconds); err != nil {
			return count, err
		}
	}
	return count, nil
}
