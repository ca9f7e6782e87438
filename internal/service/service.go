package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"qubic-netstats/internal/alerting"
	"qubic-netstats/internal/cache"
	"qubic-netstats/internal/eventlog"
	"qubic-netstats/internal/metrics"
	"qubic-netstats/internal/netstats"
	"qubic-netstats/internal/scheduler"
	"qubic-netstats/internal/snapshot"
	"qubic-netstats/internal/storage"
)

// ErrUnexpected wraps a panic recovered inside an evaluation cycle.
var ErrUnexpected = errors.New("service: unexpected failure")

// OutcomeError labels cycles that ended on an error in metrics.
const OutcomeError = "error"

// DefaultCycleTimeout bounds a shared cycle once it is detached from its callers.
const DefaultCycleTimeout = 2 * time.Minute

// SnapshotBuilder assembles the live snapshot.
type SnapshotBuilder interface {
	Build(ctx context.Context) (*snapshot.Snapshot, error)
}

// Evaluator decides whether a snapshot becomes a sample.
type Evaluator interface {
	Evaluate(ctx context.Context, in netstats.EvaluationInput) (netstats.Result, error)
}

// Deps are the collaborators of the service. Cache, Notifier, Metrics and
// Scheduler may be nil.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Builder   SnapshotBuilder
	Engine    Evaluator
	Events    eventlog.Recorder
	Store     storage.Pinger
	Cache     cache.Cache
	Notifier  alerting.Notifier
	Metrics   *metrics.Metrics
	LockKey   int64
	// CycleTimeout bounds one evaluation cycle; zero means DefaultCycleTimeout.
	CycleTimeout time.Duration
	Now          func() time.Time
}

// Service orchestrates snapshot building, sampling and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	builder   SnapshotBuilder
	engine    Evaluator
	events    eventlog.Recorder
	store     storage.Pinger
	cache     cache.Cache
	notifier  alerting.Notifier
	metrics   *metrics.Metrics
	locker    storage.AdvisoryLocker
	lockKey   int64
	timeout   time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	cycles singleflight.Group
	builds singleflight.Group
}

// New constructs the sampling service.
func New(deps Deps, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := deps.Store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	timeout := deps.CycleTimeout
	if timeout <= 0 {
		timeout = DefaultCycleTimeout
	}

	return &Service{
		scheduler: deps.Scheduler,
		builder:   deps.Builder,
		engine:    deps.Engine,
		events:    deps.Events,
		store:     deps.Store,
		cache:     deps.Cache,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		locker:    locker,
		lockKey:   deps.LockKey,
		timeout:   timeout,
		now:       now,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the aligned sampling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick runs one scheduled cycle.
func (s *Service) ProcessTick(ctx context.Context, bucket time.Time) error {
	result, err := s.RunCycle(ctx)
	if err != nil {
		return err
	}
	s.logger.Debug().Time("bucket", bucket).Str("outcome", string(result.Outcome)).Msg("tick finished")
	return nil
}

// Ping checks that the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if s.store == nil {
		return storage.ErrNotConfigured
	}
	return s.store.Ping(ctx)
}

// RunCycle builds a snapshot and hands it to the sampling engine. Concurrent
// callers in this process share one execution; across processes an advisory
// lock keeps a single evaluator. Panics are recovered into ErrUnexpected.
// The shared cycle runs detached from any one caller, bounded by the cycle
// timeout; a caller whose ctx ends stops waiting but the cycle continues.
func (s *Service) RunCycle(ctx context.Context) (netstats.Result, error) {
	ch := s.cycles.DoChan("cycle", func() (any, error) {
		cycleCtx, cancel := s.detach(ctx)
		defer cancel()
		return s.lockedCycle(cycleCtx)
	})
	select {
	case <-ctx.Done():
		return netstats.Result{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			s.logger.Debug().Msg("joined in-flight evaluation cycle")
		}
		result, _ := res.Val.(netstats.Result)
		return result, res.Err
	}
}

func (s *Service) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

func (s *Service) lockedCycle(ctx context.Context) (netstats.Result, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return netstats.Result{}, err
	}
	if !proceed {
		s.logger.Debug().Msg("skip cycle because advisory lock held elsewhere")
		return netstats.Result{Outcome: netstats.OutcomeSkipped, Reason: "evaluation running in another process"}, nil
	}
	if unlock != nil {
		defer unlock()
	}
	return s.executeCycle(ctx)
}

func (s *Service) executeCycle(ctx context.Context) (result netstats.Result, err error) {
	started := s.now()
	cycleID := uuid.NewString()
	ctx = eventlog.WithCycle(ctx, cycleID)
	logger := s.logger.With().Str("cycle_id", cycleID).Logger()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrUnexpected, r)
			s.events.Record(ctx, storage.EventError, "Unexpected error in network stats cycle: "+err.Error(), nil)
			s.alert(ctx, alerting.Notification{At: s.now(), Kind: alerting.KindUnexpectedFailure, CycleID: cycleID, Message: err.Error()})
			result = netstats.Result{}
		}
		outcome := string(result.Outcome)
		if err != nil {
			outcome = OutcomeError
		}
		if s.metrics != nil {
			s.metrics.ObserveCycle(outcome, s.now().Sub(started))
		}
		logger.Info().Str("outcome", outcome).Dur("took", s.now().Sub(started)).Msg("evaluation cycle finished")
	}()

	snap, err := s.builder.Build(ctx)
	if err != nil {
		s.events.Record(ctx, storage.EventError, "Error calculating network stats: "+err.Error(), nil)
		s.alert(ctx, alerting.Notification{At: s.now(), Kind: alerting.KindStoreUnavailable, CycleID: cycleID, Message: err.Error()})
		return netstats.Result{}, err
	}
	s.storeSnapshot(ctx, snap)

	result, err = s.engine.Evaluate(ctx, snap.EvaluationInput())
	if err != nil {
		s.alert(ctx, alerting.Notification{At: s.now(), Kind: alerting.KindStoreUnavailable, CycleID: cycleID, Message: err.Error()})
		return netstats.Result{}, err
	}

	switch result.Outcome {
	case netstats.OutcomeCommitted:
		if s.metrics != nil && result.Sample != nil {
			s.metrics.SampleCommitted(result.Sample.Timestamp, result.Readings.Map())
		}
	case netstats.OutcomeRejected:
		s.alert(ctx, alerting.Notification{
			At:         s.now(),
			Kind:       alerting.KindValidationRejected,
			CycleID:    cycleID,
			Message:    result.Reason,
			Readings:   result.Readings.Map(),
			Validation: result.Validation,
		})
	}
	return result, nil
}

// Snapshot returns the encoded live snapshot, from cache when fresh.
func (s *Service) Snapshot(ctx context.Context) ([]byte, error) {
	if s.cache != nil {
		if data, ok := s.cache.Get(ctx, cache.SnapshotKey); ok {
			return data, nil
		}
	}

	v, err, _ := s.builds.Do("snapshot", func() (any, error) {
		buildCtx, cancel := s.detach(ctx)
		defer cancel()
		snap, err := s.builder.Build(buildCtx)
		if err != nil {
			return nil, err
		}
		return s.storeSnapshot(buildCtx, snap), nil
	})
	if err != nil {
		return nil, err
	}
	data, _ := v.([]byte)
	if data == nil {
		return nil, fmt.Errorf("encode snapshot failed")
	}
	return data, nil
}

func (s *Service) storeSnapshot(ctx context.Context, snap *snapshot.Snapshot) []byte {
	data, err := sonic.Marshal(snap)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode snapshot")
		return nil
	}
	if s.cache != nil {
		s.cache.Put(ctx, cache.SnapshotKey, data)
	}
	return data
}

func (s *Service) alert(ctx context.Context, note alerting.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("kind", string(note.Kind)).Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
