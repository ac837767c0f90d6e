package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/idxlabs/goidx"
)

// MemoryMetaStore keeps transaction meta in two in-process slots: a local
// slot owned by this store and a shared slot visible to sibling stores
// created from the same Shared. Terminal responses clear only the local
// slot, so a sibling context can still resume the transaction.
type MemoryMetaStore struct {
	shared *SharedMeta

	mu    sync.Mutex
	local *goidx.TransactionMeta
}

// SharedMeta is the cross-context slot MemoryMetaStores hand off through.
type SharedMeta struct {
	mu   sync.Mutex
	meta *goidx.TransactionMeta
}

// NewSharedMeta creates an empty shared slot.
func NewSharedMeta() *SharedMeta {
	return &SharedMeta{}
}

// NewMemoryMetaStore creates a store bound to the shared slot. A nil shared
// gives the store a private one.
func NewMemoryMetaStore(shared *SharedMeta) *MemoryMetaStore {
	if shared == nil {
		shared = NewSharedMeta()
	}
	return &MemoryMetaStore{shared: shared}
}

// SavedTransactionMeta prefers the local slot, falling back to shared.
func (s *MemoryMetaStore) SavedTransactionMeta(ctx context.Context, state string) (*goidx.TransactionMeta, error) {
	s.mu.Lock()
	meta := s.local
	s.mu.Unlock()

	if meta == nil {
		s.shared.mu.Lock()
		meta = s.shared.meta
		s.shared.mu.Unlock()
	}
	if meta == nil {
		return nil, nil
	}
	if state != "" && meta.State != state {
		return nil, nil
	}
	return cloneMeta(meta), nil
}

// SaveTransactionMeta writes both slots.
func (s *MemoryMetaStore) SaveTransactionMeta(ctx context.Context, meta *goidx.TransactionMeta) error {
	copied := cloneMeta(meta)

	s.mu.Lock()
	s.local = copied
	s.mu.Unlock()

	s.shared.mu.Lock()
	s.shared.meta = cloneMeta(meta)
	s.shared.mu.Unlock()
	return nil
}

// SaveResponse updates only the cached raw response of the stored meta.
func (s *MemoryMetaStore) SaveResponse(ctx context.Context, raw []byte) error {
	buf := make([]byte, len(raw))
	copy(buf, raw)

	s.mu.Lock()
	if s.local != nil {
		s.local.RawResponse = buf
	}
	s.mu.Unlock()

	s.shared.mu.Lock()
	if s.shared.meta != nil {
		s.shared.meta.RawResponse = buf
	}
	s.shared.mu.Unlock()
	return nil
}

// Clear removes the local slot, and the shared one when asked.
func (s *MemoryMetaStore) Clear(ctx context.Context, opts goidx.ClearOptions) error {
	s.mu.Lock()
	s.local = nil
	s.mu.Unlock()

	if opts.SharedStorage {
		s.shared.mu.Lock()
		s.shared.meta = nil
		s.shared.mu.Unlock()
	}
	return nil
}

func cloneMeta(meta *goidx.TransactionMeta) *goidx.TransactionMeta {
	if meta == nil {
		return nil
	}
	out := *meta
	out.Scopes = append([]string(nil), meta.Scopes...)
	out.RawResponse = append([]byte(nil), meta.RawResponse...)
	out.CompletedActions = append([]string(nil), meta.CompletedActions...)
	out.CompletedSteps = append([]string(nil), meta.CompletedSteps...)
	return &out
}

// RedisMetaStore persists transaction meta in redis with a per-instance
// local key plus a shared key, mirroring the memory store's two-slot
// semantics across processes.
type RedisMetaStore struct {
	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	instance string
}

// NewRedisMetaStore wraps a redis client as a meta store. ttl bounds how
// long an abandoned transaction survives; zero keeps it forever.
func NewRedisMetaStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisMetaStore {
	if prefix == "" {
		prefix = "goidx"
	}
	return &RedisMetaStore{
		client:   client,
		prefix:   prefix,
		ttl:      ttl,
		instance: uuid.NewString(),
	}
}

func (s *RedisMetaStore) localKey() string {
	return s.prefix + ":meta:" + s.instance
}

func (s *RedisMetaStore) sharedKey() string {
	return s.prefix + ":meta:shared"
}

// SavedTransactionMeta prefers the local key, falling back to shared.
func (s *RedisMetaStore) SavedTransactionMeta(ctx context.Context, state string) (*goidx.TransactionMeta, error) {
	meta, err := s.load(ctx, s.localKey())
	if err != nil {
		return nil, err
	}
	if meta == nil {
		meta, err = s.load(ctx, s.sharedKey())
		if err != nil {
			return nil, err
		}
	}
	if meta == nil {
		return nil, nil
	}
	if state != "" && meta.State != state {
		return nil, nil
	}
	return meta, nil
}

// SaveTransactionMeta writes both keys.
func (s *RedisMetaStore) SaveTransactionMeta(ctx context.Context, meta *goidx.TransactionMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.localKey(), data, s.ttl).Err(); err != nil {
		return err
	}
	return s.client.Set(ctx, s.sharedKey(), data, s.ttl).Err()
}

// SaveResponse updates the cached raw response in both keys.
func (s *RedisMetaStore) SaveResponse(ctx context.Context, raw []byte) error {
	for _, key := range []string{s.localKey(), s.sharedKey()} {
		meta, err := s.load(ctx, key)
		if err != nil {
			return err
		}
		if meta == nil {
			continue
		}
		meta.RawResponse = raw
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes the local key, and the shared one when asked.
func (s *RedisMetaStore) Clear(ctx context.Context, opts goidx.ClearOptions) error {
	keys := []string{s.localKey()}
	if opts.SharedStorage {
		keys = append(keys, s.sharedKey())
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisMetaStore) load(ctx context.Context, key string) (*goidx.TransactionMeta, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var meta goidx.TransactionMeta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
