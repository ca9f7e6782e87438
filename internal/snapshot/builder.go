// Package snapshot merges upstream payloads into the aggregate live view.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/remeh/sizedwaitgroup"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"qubic-netstats/internal/fetcher"
	"qubic-netstats/internal/netstats"
	"qubic-netstats/internal/normalize"
)

// Averager supplies the current period's averages.
type Averager interface {
	ComputeAverages(ctx context.Context) (*netstats.PeriodAverages, error)
}

// Options configure the builder.
type Options struct {
	// Concurrency caps simultaneous upstream requests.
	Concurrency int
}

// Builder fetches every source and assembles a Snapshot.
type Builder struct {
	sources     fetcher.Sources
	averages    Averager
	concurrency int
	now         func() time.Time
	logger      zerolog.Logger
}

// NewBuilder constructs a snapshot builder.
func NewBuilder(sources fetcher.Sources, averages Averager, opts Options, now func() time.Time, logger zerolog.Logger) *Builder {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if now == nil {
		now = time.Now
	}
	return &Builder{
		sources:     sources,
		averages:    averages,
		concurrency: opts.Concurrency,
		now:         now,
		logger:      logger.With().Str("component", "snapshot_builder").Logger(),
	}
}

type payloads struct {
	tick      *fetcher.TickOverview
	score     *fetcher.Score
	rates     *fetcher.ExchangeRates
	control   *fetcher.MinerControl
	apool     *fetcher.Apool
	solutions *fetcher.Solutions
	minerlab  []fetcher.MinerlabStats
	proposals []fetcher.Proposal
}

// Build fetches all sources and merges them. Absent sources only blank their own
// fields; the error is non-nil only when the period averages could not be read.
func (b *Builder) Build(ctx context.Context) (*Snapshot, error) {
	started := b.now()
	p := b.fetchAll(ctx)

	avg, err := b.averages.ComputeAverages(ctx)
	if err != nil {
		return nil, fmt.Errorf("compute period averages: %w", err)
	}

	snap := assemble(p, avg)
	snap.GeneratedAt = b.now().UTC()

	b.logger.Debug().
		Dur("took", snap.GeneratedAt.Sub(started)).
		Bool("apool", snap.Apool != nil).
		Bool("solutions", snap.Solutions != nil).
		Bool("minerlab", snap.Minerlab != nil).
		Msg("snapshot built")
	return snap, nil
}

func (b *Builder) fetchAll(ctx context.Context) payloads {
	var p payloads
	tasks := []func(){
		func() { p.tick = b.sources.TickOverview(ctx) },
		func() { p.score = b.sources.Score(ctx) },
		func() { p.rates = b.sources.ExchangeRates(ctx) },
		func() { p.control = b.sources.MinerControl(ctx) },
		func() { p.apool = b.sources.Apool(ctx) },
		func() { p.solutions = b.sources.Solutions(ctx) },
		func() { p.minerlab = b.sources.Minerlab(ctx) },
		func() { p.proposals = b.sources.Proposals(ctx) },
	}

	swg := sizedwaitgroup.New(b.concurrency)
	for _, task := range tasks {
		swg.Add()
		go func(run func()) {
			defer swg.Done()
			run()
		}(task)
	}
	swg.Wait()
	return p
}

func assemble(p payloads, avg *netstats.PeriodAverages) *Snapshot {
	snap := &Snapshot{}

	if p.tick != nil {
		snap.CurrentEpoch = p.tick.CurrentEpoch
		price := decimal.Zero
		if v, ok := p.tick.Price.Float(); ok {
			price = decimal.NewFromFloat(v)
		}
		snap.Price = &price
	}

	var totalSolutions int64
	if p.score != nil {
		totalSolutions = p.score.TotalSolutions()
		snap.EstimatedIts = intPtr(p.score.EstimatedIts)
		snap.SolutionsPerHour = intPtr(p.score.SolutionsPerHour)
		snap.SolutionsPerHourCalculated = intPtr(p.score.SolutionsPerHourCalculated)
		snap.TotalSolutions = &totalSolutions
		snap.PoolHashrate.Current.QLI = snap.EstimatedIts
	}

	if p.rates != nil {
		if rate, ok := p.rates.Rates["CNY"]; ok {
			cny := decimal.NewFromFloat(float64(rate))
			snap.CNY = &cny
			if snap.Price != nil {
				priceCNY := snap.Price.Mul(cny)
				snap.PriceCNY = &priceCNY
			}
		}
	}

	if p.control != nil {
		snap.Idle = p.control.Idle
	}

	snap.Apool = normalize.Apool(p.apool, totalSolutions)
	snap.Solutions = normalize.Solutions(p.solutions, totalSolutions)
	snap.Minerlab = normalize.Minerlab(p.minerlab, totalSolutions)
	snap.Proposal = normalize.LatestProposal(p.proposals)

	if snap.Apool != nil {
		snap.PoolHashrate.Current.Apool = &snap.Apool.PoolHash
	}
	if snap.Solutions != nil {
		snap.PoolHashrate.Current.Solutions = &snap.Solutions.PoolHash
	}
	if snap.Minerlab != nil {
		snap.PoolHashrate.Current.Minerlab = &snap.Minerlab.PoolHash
	}
	snap.PoolHashrate.Average = averagesFrom(avg)

	return snap
}

// intPtr truncates a present number; an absent one stays nil.
func intPtr(n *fetcher.Number) *int64 {
	v, ok := n.Float()
	if !ok {
		return nil
	}
	out := int64(v)
	return &out
}
