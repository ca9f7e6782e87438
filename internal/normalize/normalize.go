// Package normalize maps raw pool payloads onto a shape comparable across pools.
package normalize

import (
	"encoding/json"
	"math"

	"qubic-netstats/internal/fetcher"
)

// Pool is one pool's normalized statistics.
type Pool struct {
	AcceptedSolution  int64  `json:"accepted_solution"`
	SoloSolutions     *int64 `json:"solo_solutions,omitempty"`
	PPLNSSolutions    *int64 `json:"pplns_solutions,omitempty"`
	PoolHash          int64  `json:"pool_hash"`
	TotalShare        *int64 `json:"total_share,omitempty"`
	SharesPerSolution *int64 `json:"shares_per_solution,omitempty"`
	CorrectedHashrate int64  `json:"corrected_hashrate"`
}

// Apool normalizes the Apool payload. It returns nil when result or its
// accepted_solution/pool_hash fields are missing.
func Apool(raw *fetcher.Apool, totalSolutions int64) *Pool {
	if raw == nil || raw.Result == nil {
		return nil
	}
	accepted, ok := raw.Result.AcceptedSolution.Float()
	if !ok {
		return nil
	}
	hash, ok := raw.Result.PoolHash.Float()
	if !ok {
		return nil
	}

	p := newPool(accepted, hash, totalSolutions)
	if share, ok := raw.Result.TotalShare.Float(); ok {
		p.withShares(share)
	}
	return p
}

// Solutions normalizes the Solutions pool payload, summing solo and pplns solutions.
func Solutions(raw *fetcher.Solutions, totalSolutions int64) *Pool {
	if raw == nil {
		return nil
	}
	hash, ok := raw.IterRate.Float()
	if !ok {
		return nil
	}
	solo, soloOK := bucketSolutions(raw.Solo)
	pplns, pplnsOK := bucketSolutions(raw.PPLNS)
	if !soloOK && !pplnsOK {
		return nil
	}

	p := newPool(solo+pplns, hash, totalSolutions)
	soloCount, pplnsCount := toInt(solo), toInt(pplns)
	p.SoloSolutions = &soloCount
	p.PPLNSSolutions = &pplnsCount
	if raw.PPLNS != nil {
		if share, ok := raw.PPLNS.Shares.Float(); ok {
			p.withShares(share)
		}
	}
	return p
}

// Minerlab normalizes the first row of the Minerlab stats table.
func Minerlab(rows []fetcher.MinerlabStats, totalSolutions int64) *Pool {
	if len(rows) == 0 {
		return nil
	}
	accepted, ok := rows[0].CurrentEpochSolutions.Float()
	if !ok {
		return nil
	}
	hash, ok := rows[0].CurrentIts.Float()
	if !ok {
		return nil
	}
	return newPool(accepted, hash, totalSolutions)
}

// CorrectedHashrate rescales a pool rate by its share of network solutions.
func CorrectedHashrate(poolHash, accepted, totalSolutions int64) int64 {
	if accepted <= 0 {
		return 0
	}
	return toInt(float64(poolHash) / float64(accepted) * float64(totalSolutions))
}

func newPool(accepted, hash float64, totalSolutions int64) *Pool {
	p := &Pool{
		AcceptedSolution: toInt(accepted),
		PoolHash:         toInt(hash),
	}
	p.CorrectedHashrate = CorrectedHashrate(p.PoolHash, p.AcceptedSolution, totalSolutions)
	return p
}

func (p *Pool) withShares(share float64) {
	total := toInt(share)
	var perSolution int64
	if p.AcceptedSolution > 0 {
		perSolution = total / p.AcceptedSolution
	}
	p.TotalShare = &total
	p.SharesPerSolution = &perSolution
}

func bucketSolutions(b *fetcher.SolutionsBucket) (float64, bool) {
	if b == nil {
		return 0, false
	}
	return b.Solutions.Float()
}

// toInt floors to a non-negative integer.
func toInt(v float64) int64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(math.Floor(v))
}

// ProposalOption is a voting option in the snapshot.
type ProposalOption struct {
	Index *int64          `json:"index"`
	Label *string         `json:"label"`
	Votes int64           `json:"votes"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Proposal is the latest governance proposal.
type Proposal struct {
	Title        *string          `json:"title"`
	TotalVotes   int64            `json:"totalVotes"`
	URL          *string          `json:"url"`
	Status       json.RawMessage  `json:"status"`
	Published    json.RawMessage  `json:"published"`
	Epoch        *int64           `json:"epoch"`
	ProposalType json.RawMessage  `json:"proposalType"`
	Options      []ProposalOption `json:"options"`
	HasVotes     bool             `json:"hasVotes"`
}

// LatestProposal formats the first (newest) proposal of the list.
func LatestProposal(list []fetcher.Proposal) *Proposal {
	if len(list) == 0 {
		return nil
	}
	latest := list[0]

	out := &Proposal{
		Title:        latest.Title,
		URL:          latest.URL,
		Status:       nullIfEmpty(latest.Status),
		Published:    nullIfEmpty(latest.Published),
		Epoch:        latest.Epoch,
		ProposalType: nullIfEmpty(latest.ProposalType),
		Options:      make([]ProposalOption, 0, len(latest.Options)),
	}
	if v, ok := latest.TotalVotes.Float(); ok {
		out.TotalVotes = int64(v)
	}
	if latest.HasVotes != nil {
		out.HasVotes = *latest.HasVotes
	}
	for _, opt := range latest.Options {
		o := ProposalOption{Index: opt.Index, Label: opt.Label, Value: opt.Value}
		if v, ok := opt.NumberOfVotes.Float(); ok {
			o.Votes = int64(v)
		}
		out.Options = append(out.Options, o)
	}
	return out
}

func nullIfEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
