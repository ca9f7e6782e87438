package eventlog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"qubic-netstats/internal/period"
	"qubic-netstats/internal/storage"
)

// Recorder accepts audit events.
type Recorder interface {
	Record(ctx context.Context, eventType storage.EventType, message string, data map[string]any)
}

type cycleKey struct{}

// WithCycle tags ctx so every entry recorded under it carries the cycle id.
func WithCycle(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleKey{}, id)
}

// CycleID returns the id attached by WithCycle.
func CycleID(ctx context.Context) string {
	id, _ := ctx.Value(cycleKey{}).(string)
	return id
}

// Log persists audit entries and enforces period-aligned retention on every write.
type Log struct {
	store  storage.LogStore
	anchor period.Anchor
	now    func() time.Time
	logger zerolog.Logger
}

// New builds an event log over store. A nil clock defaults to time.Now.
func New(store storage.LogStore, anchor period.Anchor, now func() time.Time, logger zerolog.Logger) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{
		store:  store,
		anchor: anchor,
		now:    now,
		logger: logger.With().Str("component", "event_log").Logger(),
	}
}

// Record appends an entry. Failures are logged and swallowed so callers never depend on the audit trail.
func (l *Log) Record(ctx context.Context, eventType storage.EventType, message string, data map[string]any) {
	l.mirror(ctx, eventType, message, data)
	if l.store == nil {
		return
	}

	now := l.now().UTC()
	start := l.anchor.Start(now)

	latest, err := l.store.LatestLog(ctx)
	if err != nil {
		l.logger.Error().Err(err).Msg("read latest log entry")
		return
	}
	if latest != nil && start.After(latest.PeriodStart) {
		if _, err := l.PurgeBefore(ctx, latest.PeriodStart); err != nil {
			l.logger.Error().Err(err).Msg("purge old log entries")
		}
	}

	if id := CycleID(ctx); id != "" {
		merged := make(map[string]any, len(data)+1)
		for k, v := range data {
			merged[k] = v
		}
		merged["cycle_id"] = id
		data = merged
	}

	entry := storage.LogEntry{
		Timestamp:   now,
		PeriodStart: start,
		EventType:   eventType,
		Message:     message,
		Data:        data,
	}
	if err := l.store.InsertLog(ctx, entry); err != nil {
		l.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("insert log entry")
	}
}

// PurgeBefore deletes entries older than before.
func (l *Log) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	deleted, err := l.store.DeleteLogsBefore(ctx, before)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		l.logger.Info().Int64("deleted", deleted).Time("before", before).Msg("cleaned up old log entries")
	}
	return deleted, nil
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]storage.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.store.RecentLogs(ctx, limit)
}

func (l *Log) mirror(ctx context.Context, eventType storage.EventType, message string, data map[string]any) {
	var ev *zerolog.Event
	switch eventType {
	case storage.EventError:
		ev = l.logger.Error()
	case storage.EventWarning, storage.EventValidation:
		ev = l.logger.Warn()
	case storage.EventSkip:
		ev = l.logger.Debug()
	default:
		ev = l.logger.Info()
	}
	if id := CycleID(ctx); id != "" {
		ev = ev.Str("cycle_id", id)
	}
	if len(data) > 0 {
		ev = ev.Interface("data", data)
	}
	ev.Str("event_type", string(eventType)).Msg(message)
}

var _ Recorder = (*Log)(nil)
