package dedupe

import (
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/rateledger/deposits-cli/internal/config"
	"github.com/rateledger/deposits-cli/internal/model"
)

// Scorer computes weighted quality scores in [0,1]. Weights come from
// configuration and must sum to 1.0.
type Scorer struct {
	cfg     config.DedupeConfig
	now     time.Time
	maxRate decimal.Decimal
}

// NewScorer creates a Scorer for one batch. maxRate anchors rate
// competitiveness to the best rate observed in the batch.
func NewScorer(cfg config.DedupeConfig, now time.Time, products []model.EnrichedProduct) *Scorer {
	maxRate := decimal.Zero
	for _, p := range products {
		if p.AERRate.GreaterThan(maxRate) {
			maxRate = p.AERRate
		}
	}
	return &Scorer{cfg: cfg, now: now, maxRate: maxRate}
}

// Score computes the quality score for one product. A malformed input
// (negative rate, inverted deposit range) returns an error; callers
// fall back to a defensive keep-all selection rather than crashing.
func (s *Scorer) Score(p model.EnrichedProduct) (float64, error) {
	if p.AERRate.IsNegative() {
		return 0, eris.Errorf("dedupe: product %s has negative rate %s", p.ID, p.AERRate)
	}
	if p.MinDeposit.Valid && p.MaxDeposit.Valid && p.MinDeposit.Decimal.GreaterThan(p.MaxDeposit.Decimal) {
		return 0, eris.Errorf("dedupe: product %s has inverted deposit range", p.ID)
	}

	score := 0.0
	for factor, weight := range s.cfg.QualityWeights {
		switch factor {
		case "rate_competitiveness":
			score += weight * s.rateCompetitiveness(p)
		case "balance_fit":
			score += weight * s.balanceFit(p)
		case "freshness":
			score += weight * s.freshness(p)
		default:
			return 0, eris.Errorf("dedupe: unknown quality factor %q", factor)
		}
	}

	return math.Min(math.Max(score, 0), 1), nil
}

// rateCompetitiveness is the product's rate relative to the batch best.
func (s *Scorer) rateCompetitiveness(p model.EnrichedProduct) float64 {
	if s.maxRate.IsZero() {
		return 0
	}
	f, _ := p.AERRate.Div(s.maxRate).Float64()
	return math.Min(f, 1)
}

// balanceFit rewards accessible minimums and generous maximums. A
// missing maximum means uncapped and scores as a full fit.
func (s *Scorer) balanceFit(p model.EnrichedProduct) float64 {
	limit := decimal.NewFromFloat(s.cfg.FSCSLimit)

	minFit := 1.0
	if p.MinDeposit.Valid && limit.IsPositive() {
		ratio, _ := p.MinDeposit.Decimal.Div(limit).Float64()
		minFit = 1 - math.Min(ratio, 1)
	}

	maxFit := 1.0
	if p.MaxDeposit.Valid && limit.IsPositive() {
		ratio, _ := p.MaxDeposit.Decimal.Div(limit).Float64()
		maxFit = math.Min(ratio, 1)
	}

	return 0.5*minFit + 0.5*maxFit
}

// freshness decays exponentially with age since last_updated.
func (s *Scorer) freshness(p model.EnrichedProduct) float64 {
	halfLife := s.cfg.FreshnessHalfLife
	if halfLife <= 0 {
		halfLife = 7 * 24 * time.Hour
	}
	age := s.now.Sub(p.LastUpdated)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, age.Hours()/halfLife.Hours())
}

// Distribution summarizes a set of scores for the dedup audit summary.
func Distribution(scores map[string]float64) model.ScoreDistribution {
	if len(scores) == 0 {
		return model.ScoreDistribution{}
	}

	values := make([]float64, 0, len(scores))
	for _, v := range scores {
		values = append(values, v)
	}
	sort.Float64s(values)

	sum := 0.0
	for _, v := range values {
		sum += v
	}

	n := len(values)
	median := values[n/2]
	if n%2 == 0 {
		median = (values[n/2-1] + values[n/2]) / 2
	}

	return model.ScoreDistribution{
		Mean:   sum / float64(n),
		Median: median,
		Min:    values[0],
		Max:    values[n-1],
		Count:  n,
	}
}
