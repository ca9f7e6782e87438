package netstats

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"qubic-netstats/internal/period"
	"qubic-netstats/internal/storage"
)

func seedSeries(t *testing.T, store *storage.MemoryStore, start time.Time, qli []float64) {
	t.Helper()
	for i, q := range qli {
		at := start.Add(time.Duration(i+1) * 5 * time.Minute)
		err := store.InsertSample(context.Background(), storage.Sample{
			Timestamp:         at,
			PeriodStart:       period.Start(at),
			QLIHashrate:       q,
			ApoolHashrate:     10,
			SolutionsHashrate: 20,
			MinerlabHashrate:  30,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func newAggregator(store storage.SampleStore, now time.Time) *Aggregator {
	return NewAggregator(store, DefaultOptions(), func() time.Time { return now }, zerolog.Nop())
}

func TestComputeAveragesEmptyPeriod(t *testing.T) {
	store := storage.NewMemoryStore()
	// Only a sample from the previous period.
	seedSeries(t, store, time.Date(2024, time.January, 9, 0, 0, 0, 0, time.UTC), []float64{100})

	res, err := newAggregator(store, baseTime).ComputeAverages(context.Background())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil for a period without samples, got %+v", res)
	}
}

func TestComputeAveragesFewSamplesUnconditional(t *testing.T) {
	store := storage.NewMemoryStore()
	periodStart := period.Start(baseTime)
	seedSeries(t, store, periodStart, []float64{1, 1000, 5, 100000})

	res, err := newAggregator(store, baseTime).ComputeAverages(context.Background())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if res == nil || res.SampleCount != 4 {
		t.Fatalf("expected all 4 samples, got %+v", res)
	}
	want := (1.0 + 1000 + 5 + 100000) / 4
	if math.Abs(res.Averages.QLI-want) > 1e-9 {
		t.Fatalf("expected average %v, got %v", want, res.Averages.QLI)
	}
	if !res.PeriodStart.Equal(periodStart) {
		t.Fatalf("expected period start %s, got %s", periodStart, res.PeriodStart)
	}
}

func TestComputeAveragesExcludesOutlier(t *testing.T) {
	store := storage.NewMemoryStore()
	seedSeries(t, store, period.Start(baseTime), []float64{100, 100, 100, 100, 1000, 100})

	res, err := newAggregator(store, baseTime).ComputeAverages(context.Background())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if res == nil {
		t.Fatal("expected averages")
	}
	if res.SampleCount != 5 {
		t.Fatalf("expected outlier excluded leaving 5 samples, got %d", res.SampleCount)
	}
	if res.Averages.QLI != 100 {
		t.Fatalf("expected average 100, got %v", res.Averages.QLI)
	}
	if res.Averages.Apool != 10 || res.Averages.Solutions != 20 || res.Averages.Minerlab != 30 {
		t.Fatalf("unexpected pool averages: %+v", res.Averages)
	}
}

func TestComputeAveragesStoreUnavailable(t *testing.T) {
	store := storage.NewMemoryStore()
	store.SetDown(true)
	if _, err := newAggregator(store, baseTime).ComputeAverages(context.Background()); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestFilterWindowUsesPrecedingSamplesOnly(t *testing.T) {
	samples := make([]storage.Sample, 0, 5)
	for _, q := range []float64{100, 100, 100, 100, 140} {
		samples = append(samples, storage.Sample{QLIHashrate: q})
	}
	if got := FilterWindow(samples, 5, DefaultThreshold); len(got) != 5 {
		t.Fatalf("140 is within 50%% of the trailing window, expected 5 kept, got %d", len(got))
	}
}
