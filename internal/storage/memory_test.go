package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2024, time.January, 10, 13, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{10 * time.Minute, 0, 5 * time.Minute} {
		if err := store.InsertSample(ctx, Sample{Timestamp: base.Add(offset), QLIHashrate: float64(offset / time.Minute)}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	latest, err := store.LatestSample(ctx)
	if err != nil || latest == nil {
		t.Fatalf("latest: %v %v", latest, err)
	}
	if !latest.Timestamp.Equal(base.Add(10 * time.Minute)) {
		t.Fatalf("latest should be newest timestamp, got %s", latest.Timestamp)
	}

	since, _ := store.ListSamplesSince(ctx, base.Add(5*time.Minute))
	if len(since) != 2 || !since[0].Timestamp.Before(since[1].Timestamp) {
		t.Fatalf("expected 2 ascending samples, got %+v", since)
	}

	positive, _ := store.RecentPositiveQLI(ctx, 5)
	if len(positive) != 2 || positive[0].QLIHashrate != 10 {
		t.Fatalf("expected positive qli newest first, got %+v", positive)
	}

	deleted, _ := store.DeleteSamplesBefore(ctx, base.Add(5*time.Minute))
	if deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", deleted)
	}
}

func TestMemoryStoreDown(t *testing.T) {
	store := NewMemoryStore()
	store.SetDown(true)
	if _, err := store.LatestSample(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := store.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("ping should fail with ErrUnavailable, got %v", err)
	}
}

func TestMemoryStoreLogs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2024, time.January, 10, 13, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_ = store.InsertLog(ctx, LogEntry{Timestamp: base.Add(time.Duration(i) * time.Minute), EventType: EventInfo, Message: "m"})
	}
	logs, _ := store.RecentLogs(ctx, 2)
	if len(logs) != 2 || !logs[0].Timestamp.After(logs[1].Timestamp) {
		t.Fatalf("expected newest-first logs, got %+v", logs)
	}
	if n, _ := store.DeleteLogsBefore(ctx, base.Add(time.Minute)); n != 1 {
		t.Fatalf("expected 1 deleted log, got %d", n)
	}
}
