package netstats

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"qubic-netstats/internal/period"
	"qubic-netstats/internal/storage"
)

// Averages are the per-source means over the accepted samples of a period.
type Averages struct {
	QLI       float64 `json:"average_qli_hashrate"`
	Apool     float64 `json:"average_apool_hashrate"`
	Solutions float64 `json:"average_solutions_hashrate"`
	Minerlab  float64 `json:"average_minerlab_hashrate"`
}

// PeriodAverages is the aggregator output.
type PeriodAverages struct {
	Averages    Averages  `json:"averages"`
	SampleCount int       `json:"record_count"`
	PeriodStart time.Time `json:"period_start"`
}

// Aggregator computes sliding-window-filtered averages over the current period.
type Aggregator struct {
	store     storage.SampleStore
	anchor    period.Anchor
	window    int
	threshold float64
	now       func() time.Time
	logger    zerolog.Logger
}

// NewAggregator builds an aggregator sharing the engine's options.
func NewAggregator(store storage.SampleStore, opts Options, now func() time.Time, logger zerolog.Logger) *Aggregator {
	opts = opts.normalized()
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		store:     store,
		anchor:    opts.Anchor,
		window:    opts.WindowSize,
		threshold: opts.Threshold,
		now:       now,
		logger:    logger.With().Str("component", "period_aggregator").Logger(),
	}
}

// ComputeAverages returns nil without error when the period has no acceptable samples.
func (a *Aggregator) ComputeAverages(ctx context.Context) (*PeriodAverages, error) {
	start := a.anchor.Start(a.now())

	samples, err := a.store.ListSamplesSince(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("list period samples: %w", err)
	}
	if len(samples) == 0 {
		a.logger.Debug().Time("period_start", start).Msg("no records found in the current period")
		return nil, nil
	}

	accepted := FilterWindow(samples, a.window, a.threshold)
	if len(accepted) == 0 {
		a.logger.Debug().Time("period_start", start).Msg("no valid records found after validation")
		return nil, nil
	}

	var sum Readings
	for _, s := range accepted {
		sum.QLI += s.QLIHashrate
		sum.Apool += s.ApoolHashrate
		sum.Solutions += s.SolutionsHashrate
		sum.Minerlab += s.MinerlabHashrate
	}
	n := float64(len(accepted))

	a.logger.Debug().Int("accepted", len(accepted)).Int("total", len(samples)).Msg("calculated period averages")

	return &PeriodAverages{
		Averages: Averages{
			QLI:       sum.QLI / n,
			Apool:     sum.Apool / n,
			Solutions: sum.Solutions / n,
			Minerlab:  sum.Minerlab / n,
		},
		SampleCount: len(accepted),
		PeriodStart: start,
	}, nil
}

// FilterWindow keeps the first window-1 samples unconditionally and every later
// sample whose readings all pass validation against the window-1 samples before it.
// samples must be ordered oldest first.
func FilterWindow(samples []storage.Sample, window int, threshold float64) []storage.Sample {
	kept := make([]storage.Sample, 0, len(samples))
	for i, s := range samples {
		if i < window-1 {
			kept = append(kept, s)
			continue
		}
		if _, ok := validateAgainst(ReadingsOf(s), samples[i-window+1:i], threshold); ok {
			kept = append(kept, s)
		}
	}
	return kept
}
