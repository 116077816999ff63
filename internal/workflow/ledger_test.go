package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestWaveKey_stableAcrossOrdering(t *testing.T) {
	a := WaveKey("sub-1", []string{"s2", "s1"})
	b := WaveKey("sub-1", []string{"s1", "s2"})
	if a != b {
		t.Errorf("WaveKey ordering sensitive: %q vs %q", a, b)
	}
	if a == WaveKey("sub-2", []string{"s1", "s2"}) {
		t.Error("WaveKey collides across submissions")
	}
}

func TestMemoryDispatchLedger(t *testing.T) {
	ledger := NewMemoryDispatchLedger()
	ctx := context.Background()

	key := WaveKey("sub-1", []string{"s1"})
	if _, found, err := ledger.Check(ctx, key); err != nil || found {
		t.Fatalf("Check() before record = %v, %v", found, err)
	}

	record := DispatchRecord{
		SubmissionID: "sub-1",
		SubmitterIDs: []string{"s1"},
		DispatchedAt: time.Now().UTC(),
	}
	if err := ledger.Record(ctx, key, record, time.Minute); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, found, err := ledger.Check(ctx, key)
	if err != nil || !found {
		t.Fatalf("Check() after record = %v, %v", found, err)
	}
	if got.SubmissionID != "sub-1" {
		t.Errorf("record = %+v", got)
	}
}

func TestMemoryDispatchLedger_TTLExpiry(t *testing.T) {
	ledger := NewMemoryDispatchLedger()
	ctx := context.Background()

	key := WaveKey("sub-1", []string{"s1"})
	if err := ledger.Record(ctx, key, DispatchRecord{SubmissionID: "sub-1"}, time.Nanosecond); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, found, err := ledger.Check(ctx, key); err != nil || found {
		t.Errorf("Check() after TTL = %v, %v, want not found", found, err)
	}
}

func TestRedisDispatchLedger(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ledger := NewRedisDispatchLedger(client)
	ctx := context.Background()

	key := WaveKey("sub-1", []string{"s1", "s2"})
	if _, found, err := ledger.Check(ctx, key); err != nil || found {
		t.Fatalf("Check() before record = %v, %v", found, err)
	}

	record := DispatchRecord{
		SubmissionID: "sub-1",
		SubmitterIDs: []string{"s1", "s2"},
		DispatchedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := ledger.Record(ctx, key, record, time.Minute); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, found, err := ledger.Check(ctx, key)
	if err != nil || !found {
		t.Fatalf("Check() after record = %v, %v", found, err)
	}
	if got.SubmissionID != record.SubmissionID || len(got.SubmitterIDs) != 2 {
		t.Errorf("record = %+v, want %+v", got, record)
	}

	// TTL honored by redis.
	mr.FastForward(2 * time.Minute)
	if _, found, _ := ledger.Check(ctx, key); found {
		t.Error("Check() after TTL = found, want expired")
	}
}
