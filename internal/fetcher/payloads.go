package fetcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Number decodes JSON numbers that upstreams sometimes send as strings.
type Number float64

// UnmarshalJSON accepts 12, 12.5, "12" and "12.5". null leaves the value untouched.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		unquoted, err := strconv.Unquote(string(data))
		if err != nil {
			return fmt.Errorf("number: %w", err)
		}
		data = []byte(unquoted)
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("number: %w", err)
	}
	*n = Number(v)
	return nil
}

// Float returns the value of a possibly missing number and whether it was present.
func (n *Number) Float() (float64, bool) {
	if n == nil {
		return 0, false
	}
	return float64(*n), true
}

// TickOverview is the Qubic Network/TickOverview response.
type TickOverview struct {
	CurrentEpoch *int64  `json:"currentEpoch"`
	Price        *Number `json:"price"`
}

// ScoreEntry is one computor score.
type ScoreEntry struct {
	AdminScore *Number `json:"adminScore"`
}

// Score is the Qubic Score/Get response.
type Score struct {
	EstimatedIts               *Number      `json:"estimatedIts"`
	SolutionsPerHour           *Number      `json:"solutionsPerHour"`
	SolutionsPerHourCalculated *Number      `json:"solutionsPerHourCalculated"`
	Scores                     []ScoreEntry `json:"scores"`
}

// TotalSolutions sums adminScore over all computors.
func (s *Score) TotalSolutions() int64 {
	if s == nil {
		return 0
	}
	var total float64
	for _, entry := range s.Scores {
		if v, ok := entry.AdminScore.Float(); ok {
			total += v
		}
	}
	return int64(total)
}

// ExchangeRates is the USD-based exchange rate table.
type ExchangeRates struct {
	Rates map[string]Number `json:"rates"`
}

// MinerControl reports the pool operator's idle flag.
type MinerControl struct {
	Idle *bool `json:"idle"`
}

// ApoolResult holds Apool's pool statistics.
type ApoolResult struct {
	AcceptedSolution *Number `json:"accepted_solution"`
	PoolHash         *Number `json:"pool_hash"`
	TotalShare       *Number `json:"total_share"`
}

// Apool is the Apool index/pool/info response.
type Apool struct {
	Result *ApoolResult `json:"result"`
}

// SolutionsBucket is one accounting mode of the Solutions pool.
type SolutionsBucket struct {
	Solutions *Number `json:"solutions"`
	Shares    *Number `json:"shares"`
}

// Solutions is the Solutions pool info response.
type Solutions struct {
	Solo     *SolutionsBucket `json:"solo"`
	PPLNS    *SolutionsBucket `json:"pplns"`
	IterRate *Number          `json:"iterrate"`
}

// MinerlabStats is one row of the Minerlab pool_stats table.
type MinerlabStats struct {
	CurrentEpochSolutions *Number `json:"currentEpochSolutions"`
	CurrentIts            *Number `json:"currentIts"`
}

// ProposalOption is one voting option.
type ProposalOption struct {
	Index         *int64          `json:"index"`
	Label         *string         `json:"label"`
	NumberOfVotes *Number         `json:"numberOfVotes"`
	Value         json.RawMessage `json:"value"`
}

// Proposal is a governance proposal from the voting API.
type Proposal struct {
	Title        *string          `json:"title"`
	TotalVotes   *Number          `json:"totalVotes"`
	URL          *string          `json:"url"`
	Status       json.RawMessage  `json:"status"`
	Published    json.RawMessage  `json:"published"`
	Epoch        *int64           `json:"epoch"`
	ProposalType json.RawMessage  `json:"proposalType"`
	Options      []ProposalOption `json:"options"`
	HasVotes     *bool            `json:"hasVotes"`
}
