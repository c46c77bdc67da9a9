package audit

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rateledger/deposits-cli/internal/model"
)

func TestRecorderStampsAndOrders(t *testing.T) {
	ctx := context.Background()
	st := validatorStore(t)
	rec := NewRecorder(st, "batch-rec")

	assert.Equal(t, "batch-rec", rec.BatchID())

	for i := 0; i < 5; i++ {
		require.NoError(t, rec.Ingestion(ctx, model.IngestionAudit{
			Source:               "moneyfacts",
			Method:               "easy_access",
			ProductKey:           "k",
			ValidationStatus:     model.ValidationValid,
			ValidationDetails:    []model.ValidationDetail{{Field: "bank_name", Rule: "required", Passed: true}},
			NormalizationApplied: map[string]model.FieldChange{},
		}))
	}

	rows, err := st.RawIngestionAudits(ctx, "batch-rec")
	require.NoError(t, err)
	require.Len(t, rows, 5)

	// Every record got its own id and the batch id stamped on.
	seen := map[string]bool{}
	for _, r := range rows {
		assert.NotEmpty(t, r.ID)
		assert.False(t, seen[r.ID])
		seen[r.ID] = true
		assert.Equal(t, "batch-rec", r.BatchID)
	}
}

func TestRecorderConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	st := validatorStore(t)
	rec := NewRecorder(st, "batch-conc")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = rec.Matching(ctx, model.MatchingAudit{
				ProductID:          "p",
				OriginalName:       "Santander UK",
				NormalizedName:     "SANTANDER",
				NormalizationSteps: []model.NormalizationStep{},
				CandidateFRNs:      []model.FRNCandidate{},
				DecisionRouting:    model.RoutingResearchQueue,
			})
		}()
	}
	wg.Wait()

	rows, err := st.RawMatchingAudits(ctx, "batch-conc")
	require.NoError(t, err)
	assert.Len(t, rows, 20)
}
