package dedupe

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rateledger/deposits-cli/internal/config"
	"github.com/rateledger/deposits-cli/internal/model"
)

func scorerConfig() config.DedupeConfig {
	return config.DedupeConfig{
		QualityWeights: map[string]float64{
			"rate_competitiveness": 0.5,
			"balance_fit":          0.3,
			"freshness":            0.2,
		},
		FSCSLimit:         85000,
		FreshnessHalfLife: 7 * 24 * time.Hour,
	}
}

var scoreNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestScoreBestProductInBatch(t *testing.T) {
	// Batch-best rate, no deposit constraints, updated just now.
	p := enriched("Barclays", "easy_access", 5.0)
	p.LastUpdated = scoreNow

	s := NewScorer(scorerConfig(), scoreNow, []model.EnrichedProduct{p})
	score, err := s.Score(p)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestScoreRateCompetitiveness(t *testing.T) {
	best := enriched("A", "easy_access", 5.0)
	best.LastUpdated = scoreNow
	half := enriched("B", "easy_access", 2.5)
	half.LastUpdated = scoreNow

	s := NewScorer(scorerConfig(), scoreNow, []model.EnrichedProduct{best, half})

	bestScore, err := s.Score(best)
	require.NoError(t, err)
	halfScore, err := s.Score(half)
	require.NoError(t, err)

	// Only the rate factor differs: 0.5 weight * 0.5 competitiveness gap.
	assert.InDelta(t, 0.25, bestScore-halfScore, 1e-9)
}

func TestScoreBalanceFit(t *testing.T) {
	cfg := scorerConfig()
	cfg.QualityWeights = map[string]float64{"balance_fit": 1.0}

	uncapped := enriched("A", "easy_access", 5.0)
	uncapped.LastUpdated = scoreNow

	capped := enriched("B", "easy_access", 5.0)
	capped.LastUpdated = scoreNow
	capped.MinDeposit = decimal.NullDecimal{Decimal: decimal.NewFromInt(42500), Valid: true}
	capped.MaxDeposit = decimal.NullDecimal{Decimal: decimal.NewFromInt(42500), Valid: true}

	s := NewScorer(cfg, scoreNow, []model.EnrichedProduct{uncapped, capped})

	uncappedScore, err := s.Score(uncapped)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, uncappedScore, 1e-9, "no deposit bounds scores as a full fit")

	cappedScore, err := s.Score(capped)
	require.NoError(t, err)
	// minFit = 1 - 0.5, maxFit = 0.5, averaged.
	assert.InDelta(t, 0.5, cappedScore, 1e-9)
}

func TestScoreFreshnessDecay(t *testing.T) {
	cfg := scorerConfig()
	cfg.QualityWeights = map[string]float64{"freshness": 1.0}

	fresh := enriched("A", "easy_access", 5.0)
	fresh.LastUpdated = scoreNow
	week := enriched("B", "easy_access", 5.0)
	week.LastUpdated = scoreNow.Add(-7 * 24 * time.Hour)
	future := enriched("C", "easy_access", 5.0)
	future.LastUpdated = scoreNow.Add(24 * time.Hour)

	s := NewScorer(cfg, scoreNow, []model.EnrichedProduct{fresh, week, future})

	freshScore, err := s.Score(fresh)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, freshScore, 1e-9)

	weekScore, err := s.Score(week)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, weekScore, 1e-9, "one half-life halves the score")

	futureScore, err := s.Score(future)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, futureScore, 1e-9, "clock skew never scores above 1")
}

func TestScoreMalformedInputs(t *testing.T) {
	s := NewScorer(scorerConfig(), scoreNow, nil)

	negative := enriched("A", "easy_access", 0)
	negative.AERRate = decimal.NewFromFloat(-1)
	_, err := s.Score(negative)
	require.Error(t, err)

	inverted := enriched("B", "easy_access", 4.0)
	inverted.MinDeposit = decimal.NullDecimal{Decimal: decimal.NewFromInt(5000), Valid: true}
	inverted.MaxDeposit = decimal.NullDecimal{Decimal: decimal.NewFromInt(100), Valid: true}
	_, err = s.Score(inverted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inverted deposit range")
}

func TestScoreUnknownWeightFactor(t *testing.T) {
	cfg := scorerConfig()
	cfg.QualityWeights = map[string]float64{"vibes": 1.0}

	s := NewScorer(cfg, scoreNow, nil)
	_, err := s.Score(enriched("A", "easy_access", 4.0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown quality factor")
}

func TestDistribution(t *testing.T) {
	dist := Distribution(map[string]float64{
		"a": 0.2, "b": 0.4, "c": 0.6, "d": 0.8,
	})

	assert.Equal(t, 4, dist.Count)
	assert.InDelta(t, 0.5, dist.Mean, 1e-9)
	assert.InDelta(t, 0.5, dist.Median, 1e-9)
	assert.InDelta(t, 0.2, dist.Min, 1e-9)
	assert.InDelta(t, 0.8, dist.Max, 1e-9)
}

func TestDistributionEmpty(t *testing.T) {
	dist := Distribution(nil)
	assert.Equal(t, model.ScoreDistribution{}, dist)
}
