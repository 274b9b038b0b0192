// Package aggregates keeps fast-read derived counters and membership sets
// (follower counts, like counts, per-user liked-post sets) in Redis, with a
// lazy-rebuild reconciliation rule: the graph store stays the source of truth
// and any aggregate is recomputed from it when missing or stale. Losing the
// cache degrades latency, never correctness.
package aggregates

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tangle-social/backend/internal/cache"
	"github.com/tangle-social/backend/internal/logger"
	"github.com/tangle-social/backend/internal/metrics"
	"go.uber.org/zap"
)

// EntityType scopes aggregate keys
type EntityType string

const (
	EntityUser EntityType = "user"
	EntityPost EntityType = "post"
)

// Counter and set names used by the engagement coordinator
const (
	AggFollowerCount  = "follower_count"
	AggFollowingCount = "following_count"
	AggLikeCount      = "like_count"
	AggCommentCount   = "comment_count"
	AggPostCount      = "post_count"
	AggFollowingSet   = "following"
	AggLikedPostsSet  = "liked_posts"
)

// valueTTL bounds how long a counter can go unreconciled even if its version
// marker never moves again (backstop for lost write-path updates)
const valueTTL = time.Hour

// Backend is the slice of Redis the cache needs. cache.RedisClient implements
// it; cache.Memory stands in for tests.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}) error
	SetEx(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key string, values ...interface{}) error
	HIncrBy(ctx context.Context, key, field string, by int64) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	SAdd(ctx context.Context, key string, members ...interface{}) error
	SRem(ctx context.Context, key string, members ...interface{}) error
	SIsMember(ctx context.Context, key string, member interface{}) (bool, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Source recomputes aggregates from the graph store on miss or staleness.
// The repository layer implements it.
type Source interface {
	ComputeCounter(ctx context.Context, et EntityType, id, name string) (int64, error)
	ComputeMembers(ctx context.Context, et EntityType, id, name string) ([]string, error)
}

// Cache is the aggregate cache
type Cache struct {
	kv     Backend
	source Source
}

// New creates an aggregate cache over kv, rebuilding from source
func New(kv Backend, source Source) *Cache {
	return &Cache{kv: kv, source: source}
}

func verKey(et EntityType, id, name string) string {
	return fmt.Sprintf("agg:ver:%s:%s:%s", et, id, name)
}

func valKey(et EntityType, id, name string) string {
	return fmt.Sprintf("agg:val:%s:%s:%s", et, id, name)
}

func setKey(et EntityType, id, name string) string {
	return fmt.Sprintf("agg:set:%s:%s:%s", et, id, name)
}

func setVerKey(et EntityType, id, name string) string {
	return fmt.Sprintf("agg:sver:%s:%s:%s", et, id, name)
}

// Counter returns the aggregate value, recomputing from the graph store when
// the cached copy is missing or predates the latest known mutation. Backend
// failures degrade to a direct source read and never surface to the caller.
func (c *Cache) Counter(ctx context.Context, et EntityType, id, name string) (int64, error) {
	ver, err := c.currentVersion(ctx, verKey(et, id, name))
	if err != nil {
		return c.counterFromSource(ctx, et, id, name, err)
	}

	fields, err := c.kv.HGetAll(ctx, valKey(et, id, name))
	if err == nil && len(fields) > 0 {
		if storedVer, verr := strconv.ParseInt(fields["ver"], 10, 64); verr == nil && storedVer == ver {
			if v, perr := strconv.ParseInt(fields["v"], 10, 64); perr == nil {
				metrics.Get().CacheHitsTotal.WithLabelValues(name).Inc()
				return v, nil
			}
		}
	}
	metrics.Get().CacheMissesTotal.WithLabelValues(name).Inc()

	// Miss or stale: rebuild and repopulate
	v, err := c.source.ComputeCounter(ctx, et, id, name)
	if err != nil {
		return 0, err
	}
	metrics.Get().CacheRebuildsTotal.WithLabelValues(name).Inc()
	c.store(ctx, valKey(et, id, name), v, ver)
	return v, nil
}

// ApplyDelta moves a warm counter with the graph mutation it reflects. The
// version marker is bumped first so a reader can never observe a value newer
// than its version claims. A cold or stale counter is invalidated instead of
// patched; the next read rebuilds it.
func (c *Cache) ApplyDelta(ctx context.Context, et EntityType, id, name string, delta int64) {
	vk := verKey(et, id, name)
	newVer, err := c.kv.Incr(ctx, vk)
	if err != nil {
		logger.WarnWithFields("aggregate version bump failed", err)
		return
	}

	key := valKey(et, id, name)
	stored, err := c.kv.HGet(ctx, key, "ver")
	if err != nil {
		if !cache.IsMiss(err) {
			logger.WarnWithFields("aggregate read failed during delta", err)
		}
		return
	}

	storedVer, perr := strconv.ParseInt(stored, 10, 64)
	if perr != nil || storedVer != newVer-1 {
		// Lost an update race with another writer; drop the value and let
		// the read path rebuild it from the store
		if derr := c.kv.Del(ctx, key); derr != nil {
			logger.WarnWithFields("aggregate invalidation failed", derr)
		}
		return
	}

	if _, err := c.kv.HIncrBy(ctx, key, "v", delta); err != nil {
		logger.WarnWithFields("aggregate increment failed", err)
		return
	}
	if err := c.kv.HSet(ctx, key, "ver", newVer); err != nil {
		logger.WarnWithFields("aggregate version write failed", err)
	}
}

// IsMember reports membership in a cached set (e.g. has user X liked post P),
// rebuilding the set from the store when stale
func (c *Cache) IsMember(ctx context.Context, et EntityType, id, name, member string) (bool, error) {
	members, fresh, err := c.freshMembers(ctx, et, id, name)
	if err != nil {
		return false, err
	}
	if fresh {
		return c.kv.SIsMember(ctx, setKey(et, id, name), member)
	}
	for _, m := range members {
		if m == member {
			return true, nil
		}
	}
	return false, nil
}

// Members returns a cached membership set (e.g. the follow set for the feed
// assembler), rebuilding when stale
func (c *Cache) Members(ctx context.Context, et EntityType, id, name string) ([]string, error) {
	members, fresh, err := c.freshMembers(ctx, et, id, name)
	if err != nil {
		return nil, err
	}
	if fresh {
		return c.kv.SMembers(ctx, setKey(et, id, name))
	}
	return members, nil
}

// SetMember adds or removes a member from a warm cached set alongside the
// graph mutation, with the same version discipline as ApplyDelta
func (c *Cache) SetMember(ctx context.Context, et EntityType, id, name, member string, add bool) {
	svk := setVerKey(et, id, name)
	newVer, err := c.kv.Incr(ctx, svk)
	if err != nil {
		logger.WarnWithFields("aggregate set version bump failed", err)
		return
	}

	key := setKey(et, id, name)
	builtKey := key + ":built"
	stored, err := c.kv.Get(ctx, builtKey)
	if err != nil {
		if !cache.IsMiss(err) {
			logger.WarnWithFields("aggregate set read failed", err)
		}
		return
	}
	storedVer, perr := strconv.ParseInt(stored, 10, 64)
	if perr != nil || storedVer != newVer-1 {
		if derr := c.kv.Del(ctx, key, builtKey); derr != nil {
			logger.WarnWithFields("aggregate set invalidation failed", derr)
		}
		return
	}

	if add {
		err = c.kv.SAdd(ctx, key, member)
	} else {
		err = c.kv.SRem(ctx, key, member)
	}
	if err != nil {
		logger.WarnWithFields("aggregate set update failed", err)
		return
	}
	if err := c.kv.Set(ctx, builtKey, newVer); err != nil {
		logger.WarnWithFields("aggregate set version write failed", err)
	}
}

// Invalidate drops every cached aggregate for an entity. The admin CLI uses
// it for forced rebuilds.
func (c *Cache) Invalidate(ctx context.Context, et EntityType, id string, names ...string) error {
	keys := make([]string, 0, len(names)*3)
	for _, name := range names {
		keys = append(keys,
			valKey(et, id, name),
			setKey(et, id, name),
			setKey(et, id, name)+":built",
		)
	}
	return c.kv.Del(ctx, keys...)
}

// freshMembers resolves a set: fresh=true means the cached set can be used
// directly; otherwise members holds the rebuilt set (already repopulated).
func (c *Cache) freshMembers(ctx context.Context, et EntityType, id, name string) (members []string, fresh bool, err error) {
	svk := setVerKey(et, id, name)
	ver, verr := c.currentVersion(ctx, svk)
	if verr != nil {
		members, err = c.membersFromSource(ctx, et, id, name, verr)
		return members, false, err
	}

	key := setKey(et, id, name)
	builtKey := key + ":built"
	stored, gerr := c.kv.Get(ctx, builtKey)
	if gerr == nil {
		if storedVer, perr := strconv.ParseInt(stored, 10, 64); perr == nil && storedVer == ver {
			return nil, true, nil
		}
	} else if !cache.IsMiss(gerr) {
		members, err = c.membersFromSource(ctx, et, id, name, gerr)
		return members, false, err
	}

	// Rebuild the whole set from the store
	members, err = c.source.ComputeMembers(ctx, et, id, name)
	if err != nil {
		return nil, false, err
	}
	if derr := c.kv.Del(ctx, key); derr == nil {
		if len(members) > 0 {
			args := make([]interface{}, len(members))
			for i, m := range members {
				args[i] = m
			}
			if aerr := c.kv.SAdd(ctx, key, args...); aerr != nil {
				logger.WarnWithFields("aggregate set repopulation failed", aerr)
				return members, false, nil
			}
		}
		if serr := c.kv.Set(ctx, builtKey, ver); serr != nil {
			logger.WarnWithFields("aggregate set version write failed", serr)
		}
		_ = c.kv.Expire(ctx, key, valueTTL)
		_ = c.kv.Expire(ctx, builtKey, valueTTL)
	}
	return members, false, nil
}

func (c *Cache) currentVersion(ctx context.Context, key string) (int64, error) {
	v, err := c.kv.Get(ctx, key)
	if err != nil {
		if cache.IsMiss(err) {
			return 0, nil
		}
		return 0, err
	}
	n, perr := strconv.ParseInt(v, 10, 64)
	if perr != nil {
		return 0, nil
	}
	return n, nil
}

func (c *Cache) counterFromSource(ctx context.Context, et EntityType, id, name string, cause error) (int64, error) {
	logger.Log.Warn("aggregate cache unavailable, reading from store",
		zap.String("entity", string(et)),
		zap.String("id", id),
		zap.String("aggregate", name),
		zap.Error(cause),
	)
	return c.source.ComputeCounter(ctx, et, id, name)
}

func (c *Cache) membersFromSource(ctx context.Context, et EntityType, id, name string, cause error) ([]string, error) {
	logger.Log.Warn("aggregate cache unavailable, reading from store",
		zap.String("entity", string(et)),
		zap.String("id", id),
		zap.String("aggregate", name),
		zap.Error(cause),
	)
	return c.source.ComputeMembers(ctx, et, id, name)
}

func (c *Cache) store(ctx context.Context, key string, v, ver int64) {
	if err := c.kv.HSet(ctx, key, "v", v, "ver", ver); err != nil {
		logger.WarnWithFields("aggregate repopulation failed", err)
		return
	}
	_ = c.kv.Expire(ctx, key, valueTTL)
}
