package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"qubic-netstats/internal/period"
	"qubic-netstats/internal/storage"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestRecordStampsPeriod(t *testing.T) {
	store := storage.NewMemoryStore()
	clk := &clock{t: time.Date(2024, time.January, 12, 8, 0, 0, 0, time.UTC)}
	log := New(store, period.Default, clk.now, zerolog.Nop())

	log.Record(context.Background(), storage.EventInfo, "hello", map[string]any{"k": 1})

	entries, err := log.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	want := time.Date(2024, time.January, 10, 12, 0, 0, 0, time.UTC)
	if !entries[0].PeriodStart.Equal(want) {
		t.Fatalf("expected period start %s, got %s", want, entries[0].PeriodStart)
	}
}

func TestRecordPurgesOnNewPeriod(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	clk := &clock{}
	log := New(store, period.Default, clk.now, zerolog.Nop())

	clk.t = time.Date(2024, time.January, 4, 8, 0, 0, 0, time.UTC)
	log.Record(ctx, storage.EventInfo, "old", nil)
	clk.t = time.Date(2024, time.January, 11, 8, 0, 0, 0, time.UTC)
	log.Record(ctx, storage.EventInfo, "previous", nil)
	entries, _ := log.Recent(ctx, 10)
	if len(entries) != 2 {
		t.Fatalf("the just-closed period must be retained, got %d entries", len(entries))
	}

	clk.t = time.Date(2024, time.January, 17, 13, 0, 0, 0, time.UTC)
	log.Record(ctx, storage.EventInfo, "current", nil)
	entries, _ = log.Recent(ctx, 10)
	if len(entries) != 2 {
		t.Fatalf("expected previous and current entries retained, got %d", len(entries))
	}
	if entries[0].Message != "current" || entries[1].Message != "previous" {
		t.Fatalf("unexpected retained entries: %+v", entries)
	}
}

func TestRecordAttachesCycleID(t *testing.T) {
	store := storage.NewMemoryStore()
	log := New(store, period.Default, nil, zerolog.Nop())
	ctx := WithCycle(context.Background(), "abc")

	log.Record(ctx, storage.EventSkip, "skipped", nil)

	entries, _ := log.Recent(context.Background(), 1)
	if len(entries) != 1 || entries[0].Data["cycle_id"] != "abc" {
		t.Fatalf("expected cycle id in data, got %+v", entries)
	}
}

func TestRecordSurvivesStoreOutage(t *testing.T) {
	store := storage.NewMemoryStore()
	store.SetDown(true)
	log := New(store, period.Default, nil, zerolog.Nop())
	log.Record(context.Background(), storage.EventError, "boom", nil)
}
