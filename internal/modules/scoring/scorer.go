package scoring

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgeza/lawvisory/internal/config"
	"github.com/edgeza/lawvisory/internal/domain"
	"github.com/edgeza/lawvisory/pkg/formulas"
)

// Scorer computes one Score per eligible ticker: raw factors per ticker,
// cross-sectional z-scoring against the current universe, then a linear
// combination under the calibrated weights.
//
// Per-ticker factor computation runs across a worker pool; results are
// merged by ticker order, never completion order, so output is
// bit-identical regardless of parallelism.
type Scorer struct {
	cfg     config.EngineConfig
	workers int
	log     zerolog.Logger
}

// NewScorer creates a new factor scorer
func NewScorer(cfg config.EngineConfig, log zerolog.Logger) *Scorer {
	return &Scorer{
		cfg:     cfg,
		workers: runtime.NumCPU(),
		log:     log.With().Str("component", "scorer").Logger(),
	}
}

// ScoreUniverse scores the eligible universe as of one date. Tickers with
// any incomplete factor are excluded from the cycle's ranking rather than
// scored with a default. The returned slice is sorted by composite
// descending, ties broken by lexical ticker order.
func (s *Scorer) ScoreUniverse(
	asOf time.Time,
	securities []domain.Security,
	history map[string][]domain.Bar,
	state domain.CalibrationState,
) []domain.Score {
	raw := s.computeAll(securities, history)

	// Exclude incomplete tickers before standardization so the z-score
	// population matches the ranked population.
	complete := raw[:0]
	for _, r := range raw {
		if r.complete() {
			complete = append(complete, r)
		}
	}
	if len(complete) == 0 {
		return nil
	}

	weights := NormalizeWeights(state.FactorWeights)

	// Cross-sectional z-scores per factor, sign-adjusted so that a higher
	// standardized value is always better.
	standardized := make([]map[string]float64, len(complete))
	for i := range standardized {
		standardized[i] = make(map[string]float64, len(FactorNames()))
	}
	for _, name := range FactorNames() {
		column := make([]float64, len(complete))
		for i, r := range complete {
			column[i] = *r.values[name]
		}
		for i, z := range formulas.ZScores(column) {
			standardized[i][name] = z * factorSigns[name]
		}
	}

	scores := make([]domain.Score, len(complete))
	for i, r := range complete {
		// Fixed factor order keeps the float summation bit-identical
		// across runs.
		var composite float64
		for _, name := range FactorNames() {
			composite += weights[name] * standardized[i][name]
		}
		scores[i] = domain.Score{
			AsOf:      asOf,
			Ticker:    r.ticker,
			Composite: composite,
			Factors:   standardized[i],
		}
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Composite != scores[j].Composite {
			return scores[i].Composite > scores[j].Composite
		}
		return scores[i].Ticker < scores[j].Ticker
	})

	s.log.Info().
		Time("as_of", asOf).
		Int("scored", len(scores)).
		Int("excluded", len(securities)-len(scores)).
		Msg("Universe scored")

	return scores
}

// computeAll runs raw factor computation across the worker pool. The
// result slice is indexed by the input order, which keeps the merge
// deterministic.
func (s *Scorer) computeAll(securities []domain.Security, history map[string][]domain.Bar) []rawFactors {
	results := make([]rawFactors, len(securities))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				ticker := securities[i].Ticker
				results[i] = computeRawFactors(s.cfg, ticker, history[ticker])
			}
		}()
	}
	for i := range securities {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}
