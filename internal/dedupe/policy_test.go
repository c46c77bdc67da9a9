package dedupe

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rateledger/deposits-cli/internal/config"
	"github.com/rateledger/deposits-cli/internal/model"
)

func policyConfig() config.DedupeConfig {
	return config.DedupeConfig{
		BusinessKeyFields: defaultKeyFields,
		QualityWeights: map[string]float64{
			"rate_competitiveness": 0.5,
			"balance_fit":          0.3,
			"freshness":            0.2,
		},
		PolicyOrder: []string{"fscs_bank_separation", "platform_separation"},
		FSCSLimit:   85000,
	}
}

func mem(id, bank, platform string, score float64) member {
	return member{
		product: model.EnrichedProduct{
			Product: model.Product{
				ID:       id,
				BankName: bank,
				Platform: platform,
				AERRate:  decimal.NewFromFloat(4.5),
			},
		},
		score: score,
	}
}

func TestSelectGroupSingleProduct(t *testing.T) {
	groups := selectGroup("SANTANDER|easy_access|4.5", []member{mem("p1", "Santander UK", "direct", 0.9)}, policyConfig())

	require.Len(t, groups, 1)
	assert.Equal(t, model.SelectionSingleProduct, groups[0].Reason)
	assert.Equal(t, "p1", groups[0].Survivor.product.ID)
	assert.Empty(t, groups[0].Rejected)
}

func TestSelectGroupQualityRanked(t *testing.T) {
	members := []member{
		mem("p1", "Santander UK", "direct", 0.7),
		mem("p2", "Santander UK", "direct", 0.9),
		mem("p3", "Santander UK", "direct", 0.8),
	}

	groups := selectGroup("SANTANDER|easy_access|4.5", members, policyConfig())

	require.Len(t, groups, 1)
	g := groups[0]
	assert.Equal(t, model.SelectionQualityRanked, g.Reason)
	assert.Equal(t, "p2", g.Survivor.product.ID)
	require.Len(t, g.Rejected, 2)
	assert.Equal(t, "p3", g.Rejected[0].ProductID, "rejected listed best-first")
	assert.Equal(t, "p1", g.Rejected[1].ProductID)

	for _, r := range g.Rejected {
		assert.Equal(t, "p2", r.LostTo)
		assert.Equal(t, string(model.SelectionQualityRanked), r.RejectionReason)
		assert.Greater(t, r.Comparison.QualityDelta, 0.0)
	}
}

func TestSelectGroupQualityTieBreakers(t *testing.T) {
	newer := mem("p9", "Santander UK", "direct", 0.8)
	newer.product.LastUpdated = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	older := mem("p1", "Santander UK", "direct", 0.8)
	older.product.LastUpdated = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	groups := selectGroup("k", []member{older, newer}, policyConfig())
	require.Len(t, groups, 1)
	assert.Equal(t, "p9", groups[0].Survivor.product.ID, "ties go to the most recent update")

	// Same score and timestamp: smallest id wins, so reruns agree.
	twinA := mem("pa", "Santander UK", "direct", 0.8)
	twinB := mem("pb", "Santander UK", "direct", 0.8)
	groups = selectGroup("k", []member{twinB, twinA}, policyConfig())
	require.Len(t, groups, 1)
	assert.Equal(t, "pa", groups[0].Survivor.product.ID)
}

func TestSelectGroupPlatformSeparation(t *testing.T) {
	members := []member{
		mem("p1", "Santander UK", "direct", 0.9),
		mem("p2", "Santander UK", "raisin", 0.8),
		mem("p3", "Santander UK", "raisin", 0.7),
	}

	groups := selectGroup("SANTANDER|easy_access|4.5", members, policyConfig())

	require.Len(t, groups, 2, "one sub-group per platform")
	assert.Equal(t, "SANTANDER|easy_access|4.5|direct", groups[0].Key)
	assert.Equal(t, model.SelectionPlatformSeparation, groups[0].Reason)
	assert.Equal(t, "p1", groups[0].Survivor.product.ID)
	assert.Empty(t, groups[0].Rejected)

	assert.Equal(t, "SANTANDER|easy_access|4.5|raisin", groups[1].Key)
	assert.Equal(t, "p2", groups[1].Survivor.product.ID)
	require.Len(t, groups[1].Rejected, 1)
	assert.Equal(t, "p3", groups[1].Rejected[0].ProductID)
}

func TestSelectGroupPreferredPlatformCollapses(t *testing.T) {
	cfg := policyConfig()
	cfg.PreferredPlatforms = []string{"direct"}

	members := []member{
		mem("p1", "Santander UK", "raisin", 0.95),
		mem("p2", "Santander UK", "direct", 0.6),
	}

	groups := selectGroup("SANTANDER|easy_access|4.5", members, cfg)

	require.Len(t, groups, 1, "a registered preference collapses instead of separating")
	g := groups[0]
	assert.Equal(t, "SANTANDER|easy_access|4.5", g.Key)
	assert.Equal(t, model.SelectionPlatformPriority, g.Reason)
	assert.Equal(t, "p2", g.Survivor.product.ID, "preferred platform wins despite lower score")
	require.Len(t, g.Rejected, 1)
	assert.Equal(t, "p1", g.Rejected[0].ProductID)
}

func TestSelectGroupFSCSSeparation(t *testing.T) {
	frn := "106054"
	cahoot := mem("p1", "Cahoot", "direct", 0.9)
	cahoot.product.FRN = &frn
	cahoot.product.MaxDeposit = decimal.NullDecimal{Decimal: decimal.NewFromInt(50000), Valid: true}
	santander := mem("p2", "Santander UK", "direct", 0.8)
	santander.product.FRN = &frn
	santander.product.MaxDeposit = decimal.NullDecimal{Decimal: decimal.NewFromInt(50000), Valid: true}

	groups := selectGroup("k", []member{cahoot, santander}, policyConfig())

	require.Len(t, groups, 2, "same FRN under two brands splits per brand")
	assert.Equal(t, "k|cahoot", groups[0].Key)
	assert.Equal(t, model.SelectionFSCSSeparation, groups[0].Reason)
	assert.Equal(t, "k|santander-uk", groups[1].Key)

	require.NotEmpty(t, groups[0].FSCSFlags)
	assert.Contains(t, groups[0].FSCSFlags[0], "exceeds FSCS limit")
	assert.Contains(t, groups[0].FSCSFlags[0], frn)
}

func TestSelectGroupFSCSUnderLimitDoesNotSeparate(t *testing.T) {
	frn := "106054"
	a := mem("p1", "Cahoot", "direct", 0.9)
	a.product.FRN = &frn
	a.product.MaxDeposit = decimal.NullDecimal{Decimal: decimal.NewFromInt(40000), Valid: true}
	b := mem("p2", "Santander UK", "direct", 0.8)
	b.product.FRN = &frn
	b.product.MaxDeposit = decimal.NullDecimal{Decimal: decimal.NewFromInt(40000), Valid: true}

	groups := selectGroup("k", []member{a, b}, policyConfig())

	require.Len(t, groups, 1, "combined caps within the limit collapse normally")
	assert.Equal(t, model.SelectionQualityRanked, groups[0].Reason)
	assert.Empty(t, groups[0].FSCSFlags)
}

func TestSelectGroupFSCSRequiresSharedFRN(t *testing.T) {
	frnA, frnB := "106054", "122702"
	a := mem("p1", "Cahoot", "direct", 0.9)
	a.product.FRN = &frnA
	b := mem("p2", "Barclays", "direct", 0.8)
	b.product.FRN = &frnB

	groups := selectGroup("k", []member{a, b}, policyConfig())

	require.Len(t, groups, 1)
	assert.NotEqual(t, model.SelectionFSCSSeparation, groups[0].Reason)
}

func TestSelectGroupUncappedProductsCountAtLimit(t *testing.T) {
	// Two uncapped brand listings jointly hold 2x the limit.
	frn := "106054"
	a := mem("p1", "Cahoot", "direct", 0.9)
	a.product.FRN = &frn
	b := mem("p2", "Santander UK", "direct", 0.8)
	b.product.FRN = &frn

	groups := selectGroup("k", []member{a, b}, policyConfig())

	require.Len(t, groups, 2)
	assert.Equal(t, model.SelectionFSCSSeparation, groups[0].Reason)
}

func TestSelectGroupQualityFallback(t *testing.T) {
	bad := mem("p1", "Santander UK", "direct", 0)
	bad.scoreErr = errors.New("negative rate")
	good := mem("p2", "Santander UK", "direct", 0.9)

	groups := selectGroup("k", []member{bad, good}, policyConfig())

	require.Len(t, groups, 2, "fallback keeps every member as its own survivor")
	for _, g := range groups {
		assert.Equal(t, model.SelectionQualityFallback, g.Reason)
		assert.Empty(t, g.Rejected)
		require.Len(t, g.FSCSFlags, 1)
		assert.Contains(t, g.FSCSFlags[0], "quality score unavailable")
	}
	assert.Equal(t, "k|p1", groups[0].Key)
	assert.Equal(t, "k|p2", groups[1].Key)
}

func TestSelectGroupPolicyOrderConfigurable(t *testing.T) {
	// With platform separation first, the shared-FRN pair splits by
	// platform before the FSCS rule ever sees it.
	cfg := policyConfig()
	cfg.PolicyOrder = []string{"platform_separation", "fscs_bank_separation"}

	frn := "106054"
	a := mem("p1", "Cahoot", "direct", 0.9)
	a.product.FRN = &frn
	b := mem("p2", "Santander UK", "raisin", 0.8)
	b.product.FRN = &frn

	groups := selectGroup("k", []member{a, b}, cfg)

	require.Len(t, groups, 2)
	assert.Equal(t, model.SelectionPlatformSeparation, groups[0].Reason)
	assert.Equal(t, model.SelectionPlatformSeparation, groups[1].Reason)
}
