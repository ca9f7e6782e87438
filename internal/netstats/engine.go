package netstats

import (
	"context"
	"fmt"
	"time"

	"github.com/hako/durafmt"
	"github.com/rs/zerolog"

	"qubic-netstats/internal/eventlog"
	"qubic-netstats/internal/period"
	"qubic-netstats/internal/storage"
)

// Outcome is the terminal state of one evaluation.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeRejected  Outcome = "rejected"
)

// EvaluationInput is the part of a snapshot the engine consumes.
type EvaluationInput struct {
	Idle     bool
	Readings Readings
}

// Result describes what an evaluation decided.
type Result struct {
	Outcome    Outcome
	Reason     string
	Readings   Readings
	Validation map[string]bool
	Sample     *storage.Sample
	Purged     int64
}

// Err maps non-committed outcomes onto the sentinel errors.
func (r Result) Err() error {
	switch r.Outcome {
	case OutcomeSkipped:
		return fmt.Errorf("%w: %s", ErrGuardSkip, r.Reason)
	case OutcomeRejected:
		return fmt.Errorf("%w: %s", ErrValidationFailure, r.Reason)
	default:
		return nil
	}
}

// Options tune the sampling policies.
type Options struct {
	MinInterval    time.Duration
	RecoveryWindow time.Duration
	Threshold      float64
	WindowSize     int
	QLIHistory     int
	Anchor         period.Anchor
}

// DefaultOptions mirrors the production cadence.
func DefaultOptions() Options {
	return Options{
		MinInterval:    5 * time.Minute,
		RecoveryWindow: 5 * time.Minute,
		Threshold:      DefaultThreshold,
		WindowSize:     5,
		QLIHistory:     5,
		Anchor:         period.Default,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.MinInterval <= 0 {
		o.MinInterval = d.MinInterval
	}
	if o.RecoveryWindow <= 0 {
		o.RecoveryWindow = d.RecoveryWindow
	}
	if o.Threshold <= 0 {
		o.Threshold = d.Threshold
	}
	if o.WindowSize < 2 {
		o.WindowSize = d.WindowSize
	}
	if o.QLIHistory <= 0 {
		o.QLIHistory = d.QLIHistory
	}
	return o
}

// LogPurger drops audit entries older than a cutoff.
type LogPurger interface {
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}

// Engine decides whether a snapshot becomes a persisted sample. It keeps no
// state between calls; every decision is derived from the latest stored sample.
type Engine struct {
	store  storage.SampleStore
	events eventlog.Recorder
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// NewEngine constructs a sampling engine. A nil clock defaults to time.Now.
func NewEngine(store storage.SampleStore, events eventlog.Recorder, opts Options, now func() time.Time, logger zerolog.Logger) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:  store,
		events: events,
		opts:   opts.normalized(),
		now:    now,
		logger: logger.With().Str("component", "sampling_engine").Logger(),
	}
}

// Evaluate runs the guard, correction, validation and commit steps once.
// The returned error is non-nil only when the store could not be used.
func (e *Engine) Evaluate(ctx context.Context, in EvaluationInput) (Result, error) {
	now := e.now().UTC()

	prev, err := e.store.LatestSample(ctx)
	if err != nil {
		return Result{}, e.storeFailure(ctx, "read latest sample", err)
	}

	var elapsed time.Duration
	if prev != nil {
		elapsed = now.Sub(prev.Timestamp)
		if elapsed < e.opts.MinInterval {
			return e.skip(ctx, fmt.Sprintf("Only %s since last record", humanize(elapsed)), elapsed), nil
		}
	}

	if in.Idle {
		return e.skip(ctx, fmt.Sprintf("Mining is idle at %s", now.Format(time.RFC3339)), elapsed), nil
	}

	if prev != nil && prev.WasIdle && elapsed < e.opts.RecoveryWindow {
		return e.skip(ctx, fmt.Sprintf("Only %s since idle recovery", humanize(elapsed)), elapsed), nil
	}

	readings := in.Readings
	if readings.QLI <= 0 {
		readings.QLI, err = e.correctQLI(ctx, readings.QLI)
		if err != nil {
			return Result{}, e.storeFailure(ctx, "read qli history", err)
		}
	}
	if readings.Apool <= 0 || readings.Solutions <= 0 || readings.Minerlab <= 0 {
		e.events.Record(ctx, storage.EventWarning, "Some pool hashrate is non-positive", map[string]any{
			"hashrates": readings.Map(),
		})
	}

	validation, ok, err := e.validate(ctx, readings)
	if err != nil {
		return Result{}, e.storeFailure(ctx, "read sample history", err)
	}
	if !ok {
		e.events.Record(ctx, storage.EventValidation, "Skipping record with abnormal values", map[string]any{
			"hashrates":          readings.Map(),
			"validation_results": validation,
		})
		return Result{
			Outcome:    OutcomeRejected,
			Reason:     "abnormal hashrate values",
			Readings:   readings,
			Validation: validation,
		}, nil
	}

	start := e.opts.Anchor.Start(now)
	var purged int64
	if prev != nil && start.After(prev.PeriodStart) {
		purged, err = e.rollover(ctx, prev.PeriodStart)
		if err != nil {
			return Result{}, e.storeFailure(ctx, "purge previous period", err)
		}
	}

	sample := storage.Sample{
		Timestamp:         now,
		PeriodStart:       start,
		QLIHashrate:       readings.QLI,
		ApoolHashrate:     readings.Apool,
		SolutionsHashrate: readings.Solutions,
		MinerlabHashrate:  readings.Minerlab,
		WasIdle:           in.Idle,
	}
	if err := e.store.InsertSample(ctx, sample); err != nil {
		return Result{}, e.storeFailure(ctx, "insert sample", err)
	}

	e.events.Record(ctx, storage.EventSuccess, "Successfully recorded network stats", map[string]any{
		"hashrates":          readings.Map(),
		"validation_results": validation,
	})

	return Result{
		Outcome:    OutcomeCommitted,
		Readings:   readings,
		Validation: validation,
		Sample:     &sample,
		Purged:     purged,
	}, nil
}

// Check validates readings against stored history without writing anything.
// A non-positive reading never passes.
func (e *Engine) Check(ctx context.Context, readings Readings) (map[string]bool, error) {
	validation, _, err := e.validate(ctx, readings)
	return validation, err
}

func (e *Engine) validate(ctx context.Context, readings Readings) (map[string]bool, bool, error) {
	recent, err := e.store.RecentSamples(ctx, e.opts.WindowSize-1)
	if err != nil {
		return nil, false, err
	}
	validation, ok := validateAgainst(readings, recent, e.opts.Threshold)
	for name, value := range readings.Map() {
		if value <= 0 {
			validation[name] = false
			ok = false
		}
	}
	return validation, ok, nil
}

// correctQLI substitutes the mean of recent positive QLI readings for a non-positive one.
func (e *Engine) correctQLI(ctx context.Context, value float64) (float64, error) {
	e.events.Record(ctx, storage.EventWarning, "QLI hashrate is non-positive", map[string]any{"qli": value})

	recent, err := e.store.RecentPositiveQLI(ctx, e.opts.QLIHistory)
	if err != nil {
		return value, err
	}
	if len(recent) == 0 {
		return value, nil
	}

	var sum float64
	for _, s := range recent {
		sum += s.QLIHashrate
	}
	corrected := sum / float64(len(recent))
	e.events.Record(ctx, storage.EventInfo, fmt.Sprintf("Using average of last %d records for QLI", len(recent)), map[string]any{
		"qli": corrected,
	})
	return corrected, nil
}

func (e *Engine) rollover(ctx context.Context, previousStart time.Time) (int64, error) {
	deleted, err := e.store.DeleteSamplesBefore(ctx, previousStart)
	if err != nil {
		return 0, err
	}
	e.logger.Info().Int64("deleted", deleted).Time("before", previousStart).Msg("new period started, deleted old records")

	if purger, ok := e.events.(LogPurger); ok {
		if _, err := purger.PurgeBefore(ctx, previousStart); err != nil {
			e.logger.Error().Err(err).Msg("purge old log entries")
		}
	}
	return deleted, nil
}

func (e *Engine) skip(ctx context.Context, reason string, elapsed time.Duration) Result {
	data := map[string]any{}
	if elapsed > 0 {
		data["elapsed_seconds"] = elapsed.Seconds()
	}
	e.events.Record(ctx, storage.EventSkip, reason, data)
	return Result{Outcome: OutcomeSkipped, Reason: reason}
}

func (e *Engine) storeFailure(ctx context.Context, op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	e.events.Record(ctx, storage.EventError, "Error calculating network stats: "+wrapped.Error(), nil)
	return wrapped
}

func humanize(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.1f seconds", d.Seconds())
	}
	return durafmt.Parse(d.Round(time.Second)).LimitFirstN(2).String()
}
