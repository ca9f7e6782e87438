package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrUnavailable wraps every failure to reach or query the backing store.
	ErrUnavailable = errors.New("storage: unavailable")
)

const (
	sampleColumns = `id, ts, period_start, qli_hashrate, apool_hashrate, solutions_hashrate, minerlab_hashrate, was_idle`

	insertSampleSQL = `INSERT INTO network_stats (
        ts,
        period_start,
        qli_hashrate,
        apool_hashrate,
        solutions_hashrate,
        minerlab_hashrate,
        was_idle
    ) VALUES ($1,$2,$3,$4,$5,$6,$7);`

	latestSampleSQL = `SELECT ` + sampleColumns + `
    FROM network_stats
    ORDER BY ts DESC
    LIMIT 1;`

	recentSamplesSQL = `SELECT ` + sampleColumns + `
    FROM network_stats
    ORDER BY ts DESC
    LIMIT $1;`

	recentPositiveQLISQL = `SELECT ` + sampleColumns + `
    FROM network_stats
    WHERE qli_hashrate > 0
    ORDER BY ts DESC
    LIMIT $1;`

	samplesSinceSQL = `SELECT ` + sampleColumns + `
    FROM network_stats
    WHERE ts >= $1
    ORDER BY ts;`

	deleteSamplesBeforeSQL = `DELETE FROM network_stats WHERE ts < $1;`

	logColumns = `id, ts, period_start, event_type, message, data`

	insertLogSQL = `INSERT INTO network_stats_logs (
        ts,
        period_start,
        event_type,
        message,
        data
    ) VALUES ($1,$2,$3,$4,$5);`

	latestLogSQL = `SELECT ` + logColumns + `
    FROM network_stats_logs
    ORDER BY ts DESC
    LIMIT 1;`

	recentLogsSQL = `SELECT ` + logColumns + `
    FROM network_stats_logs
    ORDER BY ts DESC
    LIMIT $1;`

	deleteLogsBeforeSQL = `DELETE FROM network_stats_logs WHERE ts < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SampleStore defines operations for hashrate sample persistence.
type SampleStore interface {
	LatestSample(ctx context.Context) (*Sample, error)
	RecentSamples(ctx context.Context, limit int) ([]Sample, error)
	RecentPositiveQLI(ctx context.Context, limit int) ([]Sample, error)
	ListSamplesSince(ctx context.Context, from time.Time) ([]Sample, error)
	InsertSample(ctx context.Context, sample Sample) error
	DeleteSamplesBefore(ctx context.Context, before time.Time) (int64, error)
}

// LogStore defines operations for the audit log.
type LogStore interface {
	LatestLog(ctx context.Context) (*LogEntry, error)
	InsertLog(ctx context.Context, entry LogEntry) error
	RecentLogs(ctx context.Context, limit int) ([]LogEntry, error)
	DeleteLogsBefore(ctx context.Context, before time.Time) (int64, error)
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Backend is everything the service needs from a store.
type Backend interface {
	SampleStore
	LogStore
	Pinger
}

// Store persists samples and log entries in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, unavailable("acquire connection", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, unavailable("try advisory lock", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertSample persists a new sample.
func (s *Store) InsertSample(ctx context.Context, sample Sample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertSampleSQL,
		sample.Timestamp.UTC(),
		sample.PeriodStart.UTC(),
		sample.QLIHashrate,
		sample.ApoolHashrate,
		sample.SolutionsHashrate,
		sample.MinerlabHashrate,
		sample.WasIdle,
	)
	if execErr != nil {
		return unavailable("insert sample", execErr)
	}
	return nil
}

// LatestSample returns the newest sample or nil when none exist.
func (s *Store) LatestSample(ctx context.Context) (*Sample, error) {
	samples, err := s.querySamples(ctx, "latest sample", latestSampleSQL)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}
	return &samples[0], nil
}

// RecentSamples lists the newest samples, newest first.
func (s *Store) RecentSamples(ctx context.Context, limit int) ([]Sample, error) {
	return s.querySamples(ctx, "recent samples", recentSamplesSQL, limit)
}

// RecentPositiveQLI lists the newest samples with a positive QLI reading, newest first.
func (s *Store) RecentPositiveQLI(ctx context.Context, limit int) ([]Sample, error) {
	return s.querySamples(ctx, "recent positive qli", recentPositiveQLISQL, limit)
}

// ListSamplesSince lists samples at or after from, oldest first.
func (s *Store) ListSamplesSince(ctx context.Context, from time.Time) ([]Sample, error) {
	return s.querySamples(ctx, "samples since", samplesSinceSQL, from.UTC())
}

// DeleteSamplesBefore removes samples strictly older than before.
func (s *Store) DeleteSamplesBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.deleteBefore(ctx, "delete samples before", deleteSamplesBeforeSQL, before)
}

func (s *Store) querySamples(ctx context.Context, op, query string, args ...any) ([]Sample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, unavailable(op, queryErr)
	}
	defer rows.Close()

	samples := make([]Sample, 0)
	for rows.Next() {
		sample, scanErr := scanSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, unavailable(op, rows.Err())
	}
	return samples, nil
}

// InsertLog appends an audit log entry.
func (s *Store) InsertLog(ctx context.Context, entry LogEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	data, err := encodeLogData(entry.Data)
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, insertLogSQL,
		entry.Timestamp.UTC(),
		entry.PeriodStart.UTC(),
		string(entry.EventType),
		entry.Message,
		data,
	); execErr != nil {
		return unavailable("insert log", execErr)
	}
	return nil
}

// LatestLog returns the newest log entry or nil when none exist.
func (s *Store) LatestLog(ctx context.Context) (*LogEntry, error) {
	entries, err := s.queryLogs(ctx, "latest log", latestLogSQL)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// RecentLogs lists the newest log entries, newest first.
func (s *Store) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	return s.queryLogs(ctx, "recent logs", recentLogsSQL, limit)
}

// DeleteLogsBefore removes log entries strictly older than before.
func (s *Store) DeleteLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.deleteBefore(ctx, "delete logs before", deleteLogsBeforeSQL, before)
}

// encodeLogData returns nil for an empty payload so the column stays NULL.
func encodeLogData(data map[string]any) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	out, err := sonic.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal log data: %w", err)
	}
	return out, nil
}

func decodeLogData(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var data map[string]any
	if err := sonic.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse log data: %w", err)
	}
	return data, nil
}

func (s *Store) queryLogs(ctx context.Context, op, query string, args ...any) ([]LogEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, unavailable(op, queryErr)
	}
	defer rows.Close()

	entries := make([]LogEntry, 0)
	for rows.Next() {
		var (
			entry     LogEntry
			eventType string
			data      []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.PeriodStart, &eventType, &entry.Message, &data); err != nil {
			return nil, err
		}
		entry.EventType = EventType(eventType)
		if entry.Data, err = decodeLogData(data); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, unavailable(op, rows.Err())
	}
	return entries, nil
}

func (s *Store) deleteBefore(ctx context.Context, op, query string, before time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, query, before.UTC())
	if execErr != nil {
		return 0, unavailable(op, execErr)
	}
	return tag.RowsAffected(), nil
}

func scanSample(rows pgx.Rows) (Sample, error) {
	var sample Sample
	if err := rows.Scan(
		&sample.ID,
		&sample.Timestamp,
		&sample.PeriodStart,
		&sample.QLIHashrate,
		&sample.ApoolHashrate,
		&sample.SolutionsHashrate,
		&sample.MinerlabHashrate,
		&sample.WasIdle,
	); err != nil {
		return Sample{}, err
	}
	sample.Timestamp = sample.Timestamp.UTC()
	sample.PeriodStart = sample.PeriodStart.UTC()
	return sample, nil
}

var (
	_ Backend        = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
