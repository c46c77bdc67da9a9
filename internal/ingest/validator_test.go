package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rateledger/deposits-cli/internal/config"
	"github.com/rateledger/deposits-cli/internal/model"
)

func testValidator() *Validator {
	return NewValidator(config.IngestConfig{
		MaxRatePercent:     25,
		CorruptionMaxRatio: 0.5,
	})
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestValidateCleanRecord(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "mf-123",
		"bank_name": "Santander UK",
		"product_name": "Easy Access Saver",
		"account_type": "easy_access",
		"platform": "direct",
		"aer_rate": 4.5,
		"min_deposit": 1,
		"max_deposit": 250000,
		"last_updated": "2025-05-30T09:00:00Z"
	}`)

	res := testValidator().Validate(raw, "moneyfacts", "easy_access", testNow)

	require.Equal(t, model.ValidationValid, res.Status)
	require.Empty(t, res.Reasons)
	require.NotNil(t, res.Product)

	p := res.Product
	assert.Equal(t, "mf-123", p.ProductKey)
	assert.Equal(t, "Santander UK", p.BankName)
	assert.Equal(t, "moneyfacts", p.Source)
	assert.Equal(t, "easy_access", p.Method)
	assert.True(t, p.AERRate.Equal(decimal.NewFromFloat(4.5)))
	assert.True(t, p.MinDeposit.Valid)
	assert.Equal(t, time.Date(2025, 5, 30, 9, 0, 0, 0, time.UTC), p.LastUpdated)
	assert.Empty(t, res.Normalization)
}

func TestValidateMissingRequiredFields(t *testing.T) {
	raw := json.RawMessage(`{"product_name": "Mystery Saver"}`)

	res := testValidator().Validate(raw, "moneyfacts", "easy_access", testNow)

	require.Equal(t, model.ValidationInvalid, res.Status)
	assert.Nil(t, res.Product)
	assert.Contains(t, res.Reasons, "bank_name is required")
	assert.Contains(t, res.Reasons, "account_type is required")
	assert.Contains(t, res.Reasons, "aer_rate is required")

	// Details carry one entry per evaluated rule, pass or fail.
	var failed []string
	for _, d := range res.Details {
		if !d.Passed {
			failed = append(failed, d.Field)
		}
	}
	assert.ElementsMatch(t, []string{"bank_name", "account_type", "aer_rate"}, failed)
}

func TestValidateNotAnObject(t *testing.T) {
	res := testValidator().Validate(json.RawMessage(`["not", "an", "object"]`), "moneyfacts", "easy_access", testNow)

	require.Equal(t, model.ValidationInvalid, res.Status)
	require.Len(t, res.Details, 1)
	assert.Equal(t, "json_object", res.Details[0].Rule)
	assert.False(t, res.Details[0].Passed)
}

func TestValidateRateBounds(t *testing.T) {
	for _, tc := range []struct {
		name string
		rate string
		ok   bool
	}{
		{"zero", `0`, true},
		{"at limit", `25`, true},
		{"over limit", `25.01`, false},
		{"negative", `-0.1`, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			raw := json.RawMessage(`{"bank_name": "Barclays", "account_type": "easy_access", "aer_rate": ` + tc.rate + `}`)
			res := testValidator().Validate(raw, "moneyfacts", "easy_access", testNow)
			if tc.ok {
				assert.Equal(t, model.ValidationValid, res.Status)
			} else {
				assert.Equal(t, model.ValidationInvalid, res.Status)
			}
		})
	}
}

func TestValidateNormalizations(t *testing.T) {
	raw := json.RawMessage(`{
		"bank_name": "Santander  UK ",
		"account_type": "Easy Access",
		"aer_rate": "4.5%",
		"min_deposit": "£1,000"
	}`)

	res := testValidator().Validate(raw, "moneyfacts", "easy_access", testNow)

	require.Equal(t, model.ValidationValid, res.Status)
	require.NotNil(t, res.Product)

	assert.Equal(t, "Santander UK", res.Product.BankName)
	assert.Equal(t, "easy_access", res.Product.AccountType)
	assert.True(t, res.Product.AERRate.Equal(decimal.NewFromFloat(4.5)))
	assert.True(t, res.Product.MinDeposit.Decimal.Equal(decimal.NewFromInt(1000)))

	require.Contains(t, res.Normalization, "bank_name")
	assert.Equal(t, "Santander  UK ", res.Normalization["bank_name"].Original)
	assert.Equal(t, "Santander UK", res.Normalization["bank_name"].Normalized)

	require.Contains(t, res.Normalization, "aer_rate")
	assert.Equal(t, "4.5%", res.Normalization["aer_rate"].Original)

	require.Contains(t, res.Normalization, "min_deposit")
	assert.Equal(t, "£1,000", res.Normalization["min_deposit"].Original)
	assert.Equal(t, "1000", res.Normalization["min_deposit"].Normalized)
}

func TestValidateDepositRange(t *testing.T) {
	raw := json.RawMessage(`{
		"bank_name": "Barclays",
		"account_type": "fixed_term",
		"aer_rate": 4.0,
		"min_deposit": 50000,
		"max_deposit": 1000
	}`)

	res := testValidator().Validate(raw, "moneyfacts", "fixed_term", testNow)

	require.Equal(t, model.ValidationInvalid, res.Status)
	assert.Contains(t, res.Reasons, "min_deposit exceeds max_deposit")
}

func TestValidateCorruptionRatio(t *testing.T) {
	// Three of four checked numerics are garbage: ratio 0.75 > 0.5.
	raw := json.RawMessage(`{
		"bank_name": "Barclays",
		"account_type": "easy_access",
		"aer_rate": 4.0,
		"gross_rate": "n/a",
		"term_months": "twelve",
		"notice_days": "ninety"
	}`)

	res := testValidator().Validate(raw, "moneyfacts", "easy_access", testNow)

	require.Equal(t, model.ValidationInvalid, res.Status)

	found := false
	for _, d := range res.Details {
		if d.Rule == "corruption_ratio" && !d.Passed {
			found = true
		}
	}
	assert.True(t, found, "expected corruption_ratio failure")
}

func TestValidateDerivedProductKey(t *testing.T) {
	raw := json.RawMessage(`{"bank_name": "Coventry B.S.", "account_type": "notice", "aer_rate": 4.85}`)

	res := testValidator().Validate(raw, "moneyfacts", "notice", testNow)

	require.Equal(t, model.ValidationValid, res.Status)
	assert.Equal(t, "coventry-bs:notice:4.85", res.Product.ProductKey)
}

func TestValidateMissingLastUpdatedDefaultsToNow(t *testing.T) {
	raw := json.RawMessage(`{"bank_name": "Barclays", "account_type": "easy_access", "aer_rate": 4.0}`)

	res := testValidator().Validate(raw, "moneyfacts", "easy_access", testNow)

	require.Equal(t, model.ValidationValid, res.Status)
	assert.Equal(t, testNow, res.Product.LastUpdated)
	assert.Equal(t, testNow, res.Product.FirstSeen)
}
