package dedupe

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rateledger/deposits-cli/internal/model"
	"github.com/rateledger/deposits-cli/internal/store"
)

func engineStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "dedupe_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func engineProduct(id, bank, platform, source string, rate float64) model.EnrichedProduct {
	return model.EnrichedProduct{
		Product: model.Product{
			ID:          id,
			Source:      source,
			Method:      "easy_access",
			ProductKey:  id,
			BankName:    bank,
			AccountType: "easy_access",
			Platform:    platform,
			AERRate:     decimal.NewFromFloat(rate),
			LastUpdated: time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestEngineRunCollapsesDuplicates(t *testing.T) {
	ctx := context.Background()
	st := engineStore(t)
	engine := NewEngine(policyConfig(), st)

	// The trailing-space listing normalizes into the same group.
	products := []model.EnrichedProduct{
		engineProduct("p1", "Santander UK plc", "direct", "moneyfacts", 4.5),
		engineProduct("p2", "Santander UK plc ", "direct", "moneysavingexpert", 4.5),
		engineProduct("p3", "Barclays Bank UK plc", "direct", "moneyfacts", 4.2),
	}

	res, err := engine.Run(ctx, "batch-1", products)
	require.NoError(t, err)

	require.Len(t, res.Groups, 2)
	assert.Equal(t, 1, res.RejectedCount)
	assert.Equal(t, 0, res.FallbackCount)

	byKey := map[string]model.DedupGroup{}
	for _, g := range res.Groups {
		byKey[g.BusinessKey] = g
	}

	santander, ok := byKey["SANTANDER|easy_access|4.5"]
	require.True(t, ok)
	assert.Equal(t, 2, santander.ProductsInGroup)
	assert.Equal(t, model.SelectionQualityRanked, santander.SelectionReason)
	require.Len(t, santander.RejectedProducts, 1)
	assert.NotEqual(t, santander.SelectedProductID, santander.RejectedProducts[0].ProductID)
	assert.ElementsMatch(t, []string{"moneyfacts", "moneysavingexpert"}, santander.Sources)

	barclays, ok := byKey["BARCLAYS|easy_access|4.2"]
	require.True(t, ok)
	assert.Equal(t, model.SelectionSingleProduct, barclays.SelectionReason)
	assert.Equal(t, 1, barclays.ProductsInGroup)

	// One current-product row per surviving group.
	current, err := st.CurrentProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, current, 2)
}

func TestEngineRunPersistsGroupsAndAudit(t *testing.T) {
	ctx := context.Background()
	st := engineStore(t)
	engine := NewEngine(policyConfig(), st)

	products := []model.EnrichedProduct{
		engineProduct("p1", "Santander UK", "direct", "moneyfacts", 4.5),
		engineProduct("p2", "Santander UK", "direct", "moneysavingexpert", 4.5),
	}

	res, err := engine.Run(ctx, "batch-2", products)
	require.NoError(t, err)

	stored, err := st.DedupGroupsByBatch(ctx, "batch-2")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, res.Groups[0].BusinessKey, stored[0].BusinessKey)
	assert.Equal(t, res.Groups[0].SelectedProductID, stored[0].SelectedProductID)

	audit := res.Audit
	assert.Equal(t, "batch-2", audit.BatchID)
	assert.Equal(t, 2, audit.InputProductsCount)
	assert.Equal(t, 2, audit.QualityScoreDist.Count)
	assert.Equal(t, policyConfig().BusinessKeyFields, audit.BusinessKeyFields)

	// The reported total is the sum of its measured components.
	tm := audit.Timing
	assert.Equal(t, tm.GroupingMS+tm.ScoringMS+tm.SelectionMS+tm.PersistenceMS, tm.TotalMS)
}

func TestEngineRunDeterministic(t *testing.T) {
	ctx := context.Background()

	products := []model.EnrichedProduct{
		engineProduct("p3", "Santander UK", "direct", "moneyfacts", 4.5),
		engineProduct("p1", "Santander UK", "direct", "moneysavingexpert", 4.5),
		engineProduct("p2", "Barclays", "direct", "moneyfacts", 4.2),
	}
	reversed := []model.EnrichedProduct{products[2], products[1], products[0]}

	st := engineStore(t)
	engine := NewEngine(policyConfig(), st)

	resA, err := engine.Run(ctx, "batch-a", products)
	require.NoError(t, err)
	resB, err := engine.Run(ctx, "batch-b", reversed)
	require.NoError(t, err)

	require.Len(t, resB.Groups, len(resA.Groups))
	for i := range resA.Groups {
		assert.Equal(t, resA.Groups[i].BusinessKey, resB.Groups[i].BusinessKey)
		assert.Equal(t, resA.Groups[i].SelectedProductID, resB.Groups[i].SelectedProductID)
		assert.Equal(t, resA.Groups[i].SelectionReason, resB.Groups[i].SelectionReason)
	}
}

func TestEngineRunQualityFallback(t *testing.T) {
	ctx := context.Background()
	st := engineStore(t)
	engine := NewEngine(policyConfig(), st)

	// Same business key, but the first member's deposit range is inverted
	// so its quality score fails.
	bad := engineProduct("p1", "Santander UK", "direct", "moneyfacts", 4.5)
	bad.MinDeposit = decimal.NullDecimal{Decimal: decimal.NewFromInt(5000), Valid: true}
	bad.MaxDeposit = decimal.NullDecimal{Decimal: decimal.NewFromInt(100), Valid: true}
	good := engineProduct("p2", "Santander UK", "direct", "moneysavingexpert", 4.5)

	res, err := engine.Run(ctx, "batch-3", []model.EnrichedProduct{bad, good})
	require.NoError(t, err, "a malformed product must not abort the batch")

	assert.Equal(t, 2, res.FallbackCount)
	require.Len(t, res.Groups, 2)
	for _, g := range res.Groups {
		assert.Equal(t, model.SelectionQualityFallback, g.SelectionReason)
		assert.Equal(t, 1, g.ProductsInGroup)
	}
	require.NotEmpty(t, res.Audit.FSCSViolations)
	assert.Contains(t, res.Audit.FSCSViolations[0], "quality score unavailable")
}

func TestEngineRunEmptyBatch(t *testing.T) {
	ctx := context.Background()
	st := engineStore(t)
	engine := NewEngine(policyConfig(), st)

	res, err := engine.Run(ctx, "batch-empty", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Groups)
	assert.Equal(t, 0, res.RejectedCount)
	assert.Equal(t, 0, res.Audit.QualityScoreDist.Count)
}
