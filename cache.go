package pivot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache is the interface for caching eager load results.
// Users can implement this interface with their preferred backend
// (e.g., Redis, Memcached); Memory is the bundled in-process one.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// CacheKey identifies a cached eager load result.
type CacheKey struct {
	Join    string
	Related string
	Owner   int64
}

// String returns the string representation of the cache key.
func (k CacheKey) String() string {
	return fmt.Sprintf("%s%d", k.Prefix(), k.Owner)
}

// Prefix returns the key prefix shared by all owners of the association,
// used for invalidation after writes.
func (k CacheKey) Prefix() string {
	return fmt.Sprintf("m2m:%s:%s:", k.Join, k.Related)
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

// Memory is a mutex-guarded in-process Cache with per-entry TTL.
// Expired entries are dropped lazily on read.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, nil
	}
	return e.data, nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{data: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// Delete implements Cache.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// DeletePrefix implements Cache.
func (m *Memory) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}

// Clear implements Cache.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}

var _ Cache = (*Memory)(nil)

// cachedRecord is the msgpack wire form of a hydrated record. Only the
// identity and values are encoded; the baseline is re-snapshotted on
// decode, so cached records always start clean.
type cachedRecord struct {
	ID     int64          `msgpack:"id"`
	Values map[string]any `msgpack:"values"`
}

func encodeRecords(recs []*Record) ([]byte, error) {
	wire := make([]cachedRecord, len(recs))
	for i, r := range recs {
		wire[i] = cachedRecord{ID: r.id, Values: r.values}
	}
	return msgpack.Marshal(wire)
}

func decodeRecords(label string, settable []string, data []byte) ([]*Record, error) {
	var wire []cachedRecord
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("pivot: decoding cached records: %w", err)
	}
	recs := make([]*Record, len(wire))
	for i, w := range wire {
		values := make(map[string]any, len(w.Values))
		for c, v := range w.Values {
			values[c] = normalizeValue(v)
		}
		recs[i] = newRecord(label, w.ID, values, settable)
	}
	return recs, nil
}
