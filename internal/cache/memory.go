package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Memory is an in-process stand-in for the Redis backend. Tests use it so
// package suites run without a Redis instance; it intentionally ignores TTLs
// beyond recording them.
type Memory struct {
	mu     sync.Mutex
	kv     map[string]string
	hashes map[string]map[string]string
	sets   map[string]map[string]struct{}
}

// NewMemory creates an empty in-memory backend
func NewMemory() *Memory {
	return &Memory{
		kv:     make(map[string]string),
		hashes: make(map[string]map[string]string),
		sets:   make(map[string]map[string]struct{}),
	}
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *Memory) Set(ctx context.Context, key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = toString(value)
	return nil
}

func (m *Memory) SetEx(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Set(ctx, key, value)
}

func (m *Memory) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.kv, k)
		delete(m.hashes, k)
		delete(m.sets, k)
	}
	return nil
}

func (m *Memory) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, _ := strconv.ParseInt(m.kv[key], 10, 64)
	n++
	m.kv[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *Memory) HGet(ctx context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return "", redis.Nil
	}
	v, ok := h[field]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *Memory) HSet(ctx context.Context, key string, values ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		h[toString(values[i])] = toString(values[i+1])
	}
	return nil
}

func (m *Memory) HIncrBy(ctx context.Context, key, field string, by int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	n, _ := strconv.ParseInt(h[field], 10, 64)
	n += by
	h[field] = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *Memory) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) SAdd(ctx context.Context, key string, members ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{})
		m.sets[key] = s
	}
	for _, mem := range members {
		s[toString(mem)] = struct{}{}
	}
	return nil
}

func (m *Memory) SRem(ctx context.Context, key string, members ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range members {
		delete(m.sets[key], toString(mem))
	}
	return nil
}

func (m *Memory) SIsMember(ctx context.Context, key string, member interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sets[key][toString(member)]
	return ok, nil
}

func (m *Memory) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets[key]))
	for mem := range m.sets[key] {
		out = append(out, mem)
	}
	return out, nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

// Flush clears everything; tests use it to simulate total cache loss
func (m *Memory) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv = make(map[string]string)
	m.hashes = make(map[string]map[string]string)
	m.sets = make(map[string]map[string]struct{})
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
