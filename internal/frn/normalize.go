// Package frn resolves institution names to Firm Reference Numbers.
package frn

import (
	"regexp"
	"strings"

	"github.com/rateledger/deposits-cli/internal/model"
)

// legalSuffixes lists legal-entity and regional suffixes stripped during
// name normalization. Stripping repeats until no suffix matches, so
// "Santander UK plc" reduces to "SANTANDER".
var legalSuffixes = []string{
	" PLC", " PLC.", " P.L.C.",
	" LTD", " LTD.", " LIMITED",
	" LLP", " L.L.P.",
	" BANK",
	" BUILDING SOCIETY",
	" UK", " (UK)",
	" CO", " CO.",
}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// NormalizeName standardizes an institution name for matching and
// returns the ordered steps that changed it:
//  1. Trimming whitespace
//  2. Converting to uppercase
//  3. Removing legal suffixes (Ltd, PLC, Bank, UK, etc.)
//  4. Stripping punctuation (commas, periods, apostrophes, ampersands)
//  5. Collapsing multiple spaces into single spaces
func NormalizeName(name string) (string, []model.NormalizationStep) {
	var steps []model.NormalizationStep
	record := func(action, before, after string) string {
		if before != after {
			steps = append(steps, model.NormalizationStep{Action: action, Before: before, After: after})
		}
		return after
	}

	name = record("trim", name, strings.TrimSpace(name))
	if name == "" {
		return "", steps
	}

	name = record("uppercase", name, strings.ToUpper(name))

	stripped := name
	for {
		next := stripped
		for _, suffix := range legalSuffixes {
			if strings.HasSuffix(next, suffix) {
				next = strings.TrimSpace(strings.TrimSuffix(next, suffix))
				break
			}
		}
		if next == stripped {
			break
		}
		stripped = next
	}
	name = record("strip_suffix", name, stripped)

	name = record("strip_punctuation", name, strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"&", "AND",
		"-", " ",
		"(", "",
		")", "",
	).Replace(name))

	name = record("collapse_whitespace", name, strings.TrimSpace(multiSpaceRe.ReplaceAllString(name, " ")))

	return name, steps
}
