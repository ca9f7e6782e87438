package netstats

import (
	"errors"

	"qubic-netstats/internal/storage"
)

var (
	// ErrGuardSkip marks a tick that a sampling policy declined to record.
	ErrGuardSkip = errors.New("netstats: sample skipped by guard")
	// ErrValidationFailure marks a tick whose readings were implausible.
	ErrValidationFailure = errors.New("netstats: hashrate validation failed")
)

// Source names used in validation maps and log payloads.
const (
	SourceQLI       = "qli"
	SourceApool     = "apool"
	SourceSolutions = "solutions"
	SourceMinerlab  = "minerlab"
)

// Readings holds the four tracked hashrates.
type Readings struct {
	QLI       float64 `json:"qli"`
	Apool     float64 `json:"apool"`
	Solutions float64 `json:"solutions"`
	Minerlab  float64 `json:"minerlab"`
}

// Map returns the readings keyed by source name.
func (r Readings) Map() map[string]float64 {
	return map[string]float64{
		SourceQLI:       r.QLI,
		SourceApool:     r.Apool,
		SourceSolutions: r.Solutions,
		SourceMinerlab:  r.Minerlab,
	}
}

// ReadingsOf extracts the readings stored in a sample.
func ReadingsOf(s storage.Sample) Readings {
	return Readings{
		QLI:       s.QLIHashrate,
		Apool:     s.ApoolHashrate,
		Solutions: s.SolutionsHashrate,
		Minerlab:  s.MinerlabHashrate,
	}
}

// history splits samples into per-source series.
func history(samples []storage.Sample) map[string][]float64 {
	out := map[string][]float64{
		SourceQLI:       make([]float64, 0, len(samples)),
		SourceApool:     make([]float64, 0, len(samples)),
		SourceSolutions: make([]float64, 0, len(samples)),
		SourceMinerlab:  make([]float64, 0, len(samples)),
	}
	for _, s := range samples {
		out[SourceQLI] = append(out[SourceQLI], s.QLIHashrate)
		out[SourceApool] = append(out[SourceApool], s.ApoolHashrate)
		out[SourceSolutions] = append(out[SourceSolutions], s.SolutionsHashrate)
		out[SourceMinerlab] = append(out[SourceMinerlab], s.MinerlabHashrate)
	}
	return out
}

// validateAgainst checks each reading against its series and returns the per-source verdicts.
func validateAgainst(r Readings, samples []storage.Sample, threshold float64) (map[string]bool, bool) {
	series := history(samples)
	results := make(map[string]bool, 4)
	ok := true
	for name, value := range r.Map() {
		valid := IsValidHashrate(value, series[name], threshold)
		results[name] = valid
		ok = ok && valid
	}
	return results, ok
}
