package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps samples and logs in process memory. Contents do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	samples []Sample
	logs    []LogEntry
	nextID  int64
	// down makes every call fail with ErrUnavailable.
	down bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) check(op string) error {
	if m.down {
		return unavailable(op, context.DeadlineExceeded)
	}
	return nil
}

// Ping reports availability.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.check("ping")
}

// InsertSample appends a sample keeping timestamp order.
func (m *MemoryStore) InsertSample(ctx context.Context, sample Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("insert sample"); err != nil {
		return err
	}
	m.nextID++
	sample.ID = m.nextID
	m.samples = append(m.samples, sample)
	sort.SliceStable(m.samples, func(i, j int) bool {
		return m.samples[i].Timestamp.Before(m.samples[j].Timestamp)
	})
	return nil
}

// LatestSample returns the newest sample or nil.
func (m *MemoryStore) LatestSample(ctx context.Context) (*Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("latest sample"); err != nil {
		return nil, err
	}
	if len(m.samples) == 0 {
		return nil, nil
	}
	latest := m.samples[len(m.samples)-1]
	return &latest, nil
}

// RecentSamples lists up to limit samples, newest first.
func (m *MemoryStore) RecentSamples(ctx context.Context, limit int) ([]Sample, error) {
	return m.recent(limit, "recent samples", func(Sample) bool { return true })
}

// RecentPositiveQLI lists up to limit samples with positive QLI, newest first.
func (m *MemoryStore) RecentPositiveQLI(ctx context.Context, limit int) ([]Sample, error) {
	return m.recent(limit, "recent positive qli", func(s Sample) bool { return s.QLIHashrate > 0 })
}

func (m *MemoryStore) recent(limit int, op string, keep func(Sample) bool) ([]Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(op); err != nil {
		return nil, err
	}
	out := make([]Sample, 0, limit)
	for i := len(m.samples) - 1; i >= 0 && len(out) < limit; i-- {
		if keep(m.samples[i]) {
			out = append(out, m.samples[i])
		}
	}
	return out, nil
}

// ListSamplesSince lists samples at or after from, oldest first.
func (m *MemoryStore) ListSamplesSince(ctx context.Context, from time.Time) ([]Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("samples since"); err != nil {
		return nil, err
	}
	out := make([]Sample, 0)
	for _, s := range m.samples {
		if !s.Timestamp.Before(from) {
			out = append(out, s)
		}
	}
	return out, nil
}

// DeleteSamplesBefore removes samples strictly older than before.
func (m *MemoryStore) DeleteSamplesBefore(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("delete samples before"); err != nil {
		return 0, err
	}
	kept := m.samples[:0]
	var deleted int64
	for _, s := range m.samples {
		if s.Timestamp.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, s)
	}
	m.samples = kept
	return deleted, nil
}

// InsertLog appends a log entry.
func (m *MemoryStore) InsertLog(ctx context.Context, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("insert log"); err != nil {
		return err
	}
	m.nextID++
	entry.ID = m.nextID
	m.logs = append(m.logs, entry)
	sort.SliceStable(m.logs, func(i, j int) bool {
		return m.logs[i].Timestamp.Before(m.logs[j].Timestamp)
	})
	return nil
}

// LatestLog returns the newest log entry or nil.
func (m *MemoryStore) LatestLog(ctx context.Context) (*LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("latest log"); err != nil {
		return nil, err
	}
	if len(m.logs) == 0 {
		return nil, nil
	}
	latest := m.logs[len(m.logs)-1]
	return &latest, nil
}

// RecentLogs lists up to limit entries, newest first.
func (m *MemoryStore) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("recent logs"); err != nil {
		return nil, err
	}
	out := make([]LogEntry, 0, limit)
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.logs[i])
	}
	return out, nil
}

// DeleteLogsBefore removes entries strictly older than before.
func (m *MemoryStore) DeleteLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("delete logs before"); err != nil {
		return 0, err
	}
	kept := m.logs[:0]
	var deleted int64
	for _, e := range m.logs {
		if e.Timestamp.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.logs = kept
	return deleted, nil
}

// SetDown toggles simulated unavailability.
func (m *MemoryStore) SetDown(down bool) {
	m.mu.Lock()
	m.down = down
	m.mu.Unlock()
}

var _ Backend = (*MemoryStore)(nil)
