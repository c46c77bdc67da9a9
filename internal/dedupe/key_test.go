package dedupe

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/rateledger/deposits-cli/internal/model"
)

var defaultKeyFields = []string{"bank_name", "account_type", "aer_rate"}

func enriched(bank, accountType string, rate float64) model.EnrichedProduct {
	return model.EnrichedProduct{
		Product: model.Product{
			BankName:    bank,
			AccountType: accountType,
			AERRate:     decimal.NewFromFloat(rate),
		},
	}
}

func TestBusinessKeyNormalizesBankName(t *testing.T) {
	a := BusinessKey(enriched("Santander UK plc", "easy_access", 4.5), defaultKeyFields)
	b := BusinessKey(enriched("santander uk plc ", "easy_access", 4.5), defaultKeyFields)
	c := BusinessKey(enriched("SANTANDER", "easy_access", 4.5), defaultKeyFields)

	assert.Equal(t, "SANTANDER|easy_access|4.5", a)
	assert.Equal(t, a, b, "trailing whitespace must not split groups")
	assert.Equal(t, a, c, "legal suffixes must not split groups")
}

func TestBusinessKeyDistinguishesRates(t *testing.T) {
	a := BusinessKey(enriched("Barclays", "easy_access", 4.5), defaultKeyFields)
	b := BusinessKey(enriched("Barclays", "easy_access", 4.51), defaultKeyFields)
	assert.NotEqual(t, a, b)
}

func TestBusinessKeyOptionalFields(t *testing.T) {
	p := enriched("Barclays", "fixed_term", 4.0)
	p.TermMonths = 12
	frn := "122702"
	p.FRN = &frn
	p.MinDeposit = decimal.NullDecimal{Decimal: decimal.NewFromInt(1000), Valid: true}

	key := BusinessKey(p, []string{"bank_name", "account_type", "aer_rate", "term_months", "min_deposit", "frn"})
	assert.Equal(t, "BARCLAYS|fixed_term|4|12|1000|122702", key)
}

func TestBusinessKeyMissingOptionalFieldsAreEmpty(t *testing.T) {
	p := enriched("Barclays", "easy_access", 4.0)
	key := BusinessKey(p, []string{"bank_name", "term_months", "frn"})
	assert.Equal(t, "BARCLAYS||", key)
}

func TestBusinessKeyUnknownFieldIsEmpty(t *testing.T) {
	key := BusinessKey(enriched("Barclays", "easy_access", 4.0), []string{"bank_name", "color"})
	assert.Equal(t, "BARCLAYS|", key)
}
