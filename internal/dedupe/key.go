// Package dedupe collapses competing listings of the same product into
// one canonical survivor per business key.
package dedupe

import (
	"strconv"
	"strings"

	"github.com/rateledger/deposits-cli/internal/frn"
	"github.com/rateledger/deposits-cli/internal/model"
)

// BusinessKey derives the deterministic fingerprint identifying "the
// same product" across sources and platforms. Field values are
// normalized the same way FRN matching normalizes names, so casing and
// whitespace differences never produce near-duplicate keys.
func BusinessKey(p model.EnrichedProduct, fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, keyPart(p, f))
	}
	return strings.Join(parts, "|")
}

func keyPart(p model.EnrichedProduct, field string) string {
	switch field {
	case "bank_name":
		norm, _ := frn.NormalizeName(p.BankName)
		return norm
	case "account_type":
		return strings.ToLower(strings.TrimSpace(p.AccountType))
	case "aer_rate":
		return p.AERRate.String()
	case "min_deposit":
		if p.MinDeposit.Valid {
			return p.MinDeposit.Decimal.String()
		}
		return ""
	case "product_name":
		norm, _ := frn.NormalizeName(p.ProductName)
		return norm
	case "term_months":
		if p.TermMonths > 0 {
			return strconv.Itoa(p.TermMonths)
		}
		return ""
	case "frn":
		if p.FRN != nil {
			return *p.FRN
		}
		return ""
	default:
		return ""
	}
}
