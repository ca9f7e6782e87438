package snapshot

import (
	"time"

	"github.com/shopspring/decimal"

	"qubic-netstats/internal/netstats"
	"qubic-netstats/internal/normalize"
)

// Snapshot is the merged live view of chain, price and pool telemetry.
// Fields are nil when their source was absent this cycle.
type Snapshot struct {
	CurrentEpoch               *int64              `json:"currentEpoch,omitempty"`
	Price                      *decimal.Decimal    `json:"price,omitempty"`
	EstimatedIts               *int64              `json:"estimatedIts,omitempty"`
	SolutionsPerHour           *int64              `json:"solutionsPerHour,omitempty"`
	SolutionsPerHourCalculated *int64              `json:"solutionsPerHourCalculated,omitempty"`
	TotalSolutions             *int64              `json:"total_solutions,omitempty"`
	CNY                        *decimal.Decimal    `json:"CNY,omitempty"`
	PriceCNY                   *decimal.Decimal    `json:"price_cny,omitempty"`
	Idle                       *bool               `json:"idle,omitempty"`
	PoolHashrate               PoolHashrate        `json:"pool_hashrate"`
	Apool                      *normalize.Pool     `json:"apool,omitempty"`
	Solutions                  *normalize.Pool     `json:"solutions,omitempty"`
	Minerlab                   *normalize.Pool     `json:"minerlab,omitempty"`
	Proposal                   *normalize.Proposal `json:"proposal,omitempty"`
	GeneratedAt                time.Time           `json:"-"`
}

// PoolHashrate groups the raw current rates and the period averages.
type PoolHashrate struct {
	Current CurrentHashrates  `json:"current"`
	Average *AverageHashrates `json:"average,omitempty"`
}

// CurrentHashrates are the raw self-reported rates; null when absent.
type CurrentHashrates struct {
	QLI       *int64 `json:"qli_hashrate"`
	Apool     *int64 `json:"apool_hashrate"`
	Solutions *int64 `json:"solutions_hashrate"`
	Minerlab  *int64 `json:"minerlab_hashrate"`
}

// AverageHashrates are the current period's filtered averages, truncated to integers.
type AverageHashrates struct {
	QLI         int64 `json:"average_qli_hashrate"`
	Apool       int64 `json:"average_apool_hashrate"`
	Solutions   int64 `json:"average_solutions_hashrate"`
	Minerlab    int64 `json:"average_minerlab_hashrate"`
	RecordCount int   `json:"record_count"`
}

func averagesFrom(p *netstats.PeriodAverages) *AverageHashrates {
	if p == nil {
		return nil
	}
	return &AverageHashrates{
		QLI:         int64(p.Averages.QLI),
		Apool:       int64(p.Averages.Apool),
		Solutions:   int64(p.Averages.Solutions),
		Minerlab:    int64(p.Averages.Minerlab),
		RecordCount: p.SampleCount,
	}
}

// EvaluationInput extracts what the sampling engine needs. Absent readings become zero
// and an absent idle flag counts as active.
func (s *Snapshot) EvaluationInput() netstats.EvaluationInput {
	in := netstats.EvaluationInput{Idle: s.Idle != nil && *s.Idle}
	if s.PoolHashrate.Current.QLI != nil {
		in.Readings.QLI = float64(*s.PoolHashrate.Current.QLI)
	}
	if s.Apool != nil {
		in.Readings.Apool = float64(s.Apool.CorrectedHashrate)
	}
	if s.Solutions != nil {
		in.Readings.Solutions = float64(s.Solutions.CorrectedHashrate)
	}
	if s.Minerlab != nil {
		in.Readings.Minerlab = float64(s.Minerlab.CorrectedHashrate)
	}
	return in
}
