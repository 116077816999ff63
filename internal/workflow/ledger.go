package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DispatchLedger records which notification waves have already been sent so
// retried dispatch attempts never re-notify a signer. The key format is
// "wave:{submissionId}:{sorted submitter ids}".
type DispatchLedger interface {
	// Check looks up a previous dispatch by key.
	Check(ctx context.Context, key string) (record *DispatchRecord, found bool, err error)

	// Record saves a dispatch under the key with a TTL.
	Record(ctx context.Context, key string, record DispatchRecord, ttl time.Duration) error
}

// DispatchRecord is the stored value for a dispatched wave.
type DispatchRecord struct {
	SubmissionID string    `json:"submission_id"`
	SubmitterIDs []string  `json:"submitter_ids"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

// WaveKey builds the ledger key for a wave. Submitter ids are sorted so the
// key is stable regardless of wave ordering.
func WaveKey(submissionID string, submitterIDs []string) string {
	ids := make([]string, len(submitterIDs))
	copy(ids, submitterIDs)
	sort.Strings(ids)
	return fmt.Sprintf("wave:%s:%s", submissionID, strings.Join(ids, ","))
}

// --- MemoryDispatchLedger ---

// MemoryDispatchLedger is an in-memory DispatchLedger with TTL support.
// Suitable for testing and single-instance deployments.
type MemoryDispatchLedger struct {
	mu      sync.RWMutex
	entries map[string]*ledgerEntry
}

type ledgerEntry struct {
	record    DispatchRecord
	expiresAt time.Time
}

// NewMemoryDispatchLedger creates an in-memory dispatch ledger.
func NewMemoryDispatchLedger() *MemoryDispatchLedger {
	return &MemoryDispatchLedger{entries: make(map[string]*ledgerEntry)}
}

// Check looks up a previous dispatch.
func (l *MemoryDispatchLedger) Check(_ context.Context, key string) (*DispatchRecord, bool, error) {
	l.mu.RLock()
	entry, exists := l.entries[key]
	l.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		l.mu.Lock()
		delete(l.entries, key)
		l.mu.Unlock()
		return nil, false, nil
	}

	record := entry.record
	return &record, true, nil
}

// Record saves a dispatch with TTL.
func (l *MemoryDispatchLedger) Record(_ context.Context, key string, record DispatchRecord, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[key] = &ledgerEntry{
		record:    record,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (l *MemoryDispatchLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// --- RedisDispatchLedger ---

// RedisDispatchLedger is a Redis-backed DispatchLedger with TTL.
type RedisDispatchLedger struct {
	client redis.Cmdable
}

// NewRedisDispatchLedger creates a Redis-backed dispatch ledger.
func NewRedisDispatchLedger(client redis.Cmdable) *RedisDispatchLedger {
	return &RedisDispatchLedger{client: client}
}

// Check looks up a previous dispatch in Redis.
func (l *RedisDispatchLedger) Check(ctx context.Context, key string) (*DispatchRecord, bool, error) {
	raw, err := l.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var record DispatchRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false, fmt.Errorf("unmarshal dispatch record %q: %w", key, err)
	}
	return &record, true, nil
}

// Record saves a dispatch in Redis with TTL.
func (l *RedisDispatchLedger) Record(ctx context.Context, key string, record DispatchRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal dispatch record: %w", err)
	}
	if err := l.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis. Used by the readiness endpoint.
func (l *RedisDispatchLedger) HealthCheck(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
