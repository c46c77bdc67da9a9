// Package ingest validates and normalizes raw scraped product records.
package ingest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rateledger/deposits-cli/internal/config"
	"github.com/rateledger/deposits-cli/internal/model"
)

// Validator applies the ingestion rules to one raw record at a time.
type Validator struct {
	cfg config.IngestConfig
}

// NewValidator creates a Validator with the given thresholds.
func NewValidator(cfg config.IngestConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Result is the outcome of validating one raw record. Details always
// contains one entry per rule, pass or fail; Reasons is non-empty iff
// the record is invalid. Product is nil for invalid records.
type Result struct {
	Status        model.ValidationStatus
	Reasons       []string
	Details       []model.ValidationDetail
	Normalization map[string]model.FieldChange
	Product       *model.Product
}

// rawRecord is the scraped JSON shape the upstream producer emits.
// Numeric fields arrive as numbers or strings ("4.5%", "£1,000").
type rawRecord struct {
	ID          string `json:"id"`
	BankName    string `json:"bank_name"`
	ProductName string `json:"product_name"`
	AccountType string `json:"account_type"`
	Platform    string `json:"platform"`
	AERRate     any    `json:"aer_rate"`
	GrossRate   any    `json:"gross_rate"`
	MinDeposit  any    `json:"min_deposit"`
	MaxDeposit  any    `json:"max_deposit"`
	TermMonths  any    `json:"term_months"`
	NoticeDays  any    `json:"notice_days"`
	LastUpdated string `json:"last_updated"`
}

var (
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
	currencyRe   = regexp.MustCompile(`[£$,\s]`)
)

// Validate checks one raw JSON record against the ingestion rules, in
// order: required fields, numeric bounds, structural corruption. A
// failing record never aborts the batch; the caller writes exactly one
// ingestion-audit record either way.
func (v *Validator) Validate(raw json.RawMessage, source, method string, now time.Time) Result {
	res := Result{
		Status:        model.ValidationValid,
		Normalization: map[string]model.FieldChange{},
	}

	var rec rawRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		res.Status = model.ValidationInvalid
		res.Reasons = append(res.Reasons, "record is not a JSON object")
		res.Details = append(res.Details, model.ValidationDetail{
			Field:   "_record",
			Rule:    "json_object",
			Passed:  false,
			Message: err.Error(),
		})
		return res
	}
	res.Details = append(res.Details, model.ValidationDetail{Field: "_record", Rule: "json_object", Passed: true})

	fail := func(field, rule, msg string) {
		res.Status = model.ValidationInvalid
		res.Reasons = append(res.Reasons, msg)
		res.Details = append(res.Details, model.ValidationDetail{Field: field, Rule: rule, Passed: false, Message: msg})
	}
	pass := func(field, rule string) {
		res.Details = append(res.Details, model.ValidationDetail{Field: field, Rule: rule, Passed: true})
	}

	// Rule 1: required fields.
	bankName := normalizeWhitespace(rec.BankName)
	if bankName == "" {
		fail("bank_name", "required", "bank_name is required")
	} else {
		pass("bank_name", "required")
		if bankName != rec.BankName {
			res.Normalization["bank_name"] = model.FieldChange{Original: rec.BankName, Normalized: bankName}
		}
	}

	accountType := normalizeAccountType(rec.AccountType)
	if accountType == "" {
		fail("account_type", "required", "account_type is required")
	} else {
		pass("account_type", "required")
		if accountType != rec.AccountType {
			res.Normalization["account_type"] = model.FieldChange{Original: rec.AccountType, Normalized: accountType}
		}
	}

	if rec.AERRate == nil {
		fail("aer_rate", "required", "aer_rate is required")
	} else {
		pass("aer_rate", "required")
	}

	// Rule 2: numeric parsing and bounds.
	corrupt := 0
	checked := 0

	var aer decimal.Decimal
	if rec.AERRate != nil {
		checked++
		parsed, orig, err := parseRate(rec.AERRate)
		if err != nil {
			corrupt++
			fail("aer_rate", "numeric", fmt.Sprintf("aer_rate does not parse: %v", err))
		} else if parsed.IsNegative() || parsed.GreaterThan(decimal.NewFromFloat(v.cfg.MaxRatePercent)) {
			fail("aer_rate", "bounds", fmt.Sprintf("aer_rate %s outside 0-%.0f%%", parsed, v.cfg.MaxRatePercent))
		} else {
			pass("aer_rate", "bounds")
			aer = parsed
			if orig != "" {
				res.Normalization["aer_rate"] = model.FieldChange{Original: orig, Normalized: parsed.String()}
			}
		}
	}

	gross := parseOptionalRate(rec.GrossRate, "gross_rate", &checked, &corrupt, &res)
	minDep := parseOptionalAmount(rec.MinDeposit, "min_deposit", &checked, &corrupt, &res, fail, pass)
	maxDep := parseOptionalAmount(rec.MaxDeposit, "max_deposit", &checked, &corrupt, &res, fail, pass)

	if minDep.Valid && maxDep.Valid && minDep.Decimal.GreaterThan(maxDep.Decimal) {
		fail("min_deposit", "range", "min_deposit exceeds max_deposit")
	}

	termMonths := parseOptionalInt(rec.TermMonths, "term_months", &checked, &corrupt, &res)
	noticeDays := parseOptionalInt(rec.NoticeDays, "notice_days", &checked, &corrupt, &res)

	// Rule 3: structural corruption ratio.
	if checked > 0 {
		ratio := float64(corrupt) / float64(checked)
		if ratio > v.cfg.CorruptionMaxRatio {
			fail("_record", "corruption_ratio", fmt.Sprintf("corruption ratio %.2f exceeds %.2f", ratio, v.cfg.CorruptionMaxRatio))
		} else {
			pass("_record", "corruption_ratio")
		}
	}

	if res.Status == model.ValidationInvalid {
		return res
	}

	lastUpdated := now
	if rec.LastUpdated != "" {
		if t, err := time.Parse(time.RFC3339, rec.LastUpdated); err == nil {
			lastUpdated = t
		}
	}

	key := rec.ID
	if key == "" {
		key = productKey(bankName, accountType, aer)
	}

	res.Product = &model.Product{
		Source:      source,
		Method:      method,
		ProductKey:  key,
		BankName:    bankName,
		ProductName: normalizeWhitespace(rec.ProductName),
		AccountType: accountType,
		Platform:    normalizeWhitespace(rec.Platform),
		AERRate:     aer,
		GrossRate:   gross,
		MinDeposit:  minDep,
		MaxDeposit:  maxDep,
		TermMonths:  termMonths,
		NoticeDays:  noticeDays,
		FirstSeen:   now,
		LastUpdated: lastUpdated,
		Raw:         raw,
	}
	return res
}

func normalizeWhitespace(s string) string {
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
}

// normalizeAccountType canonicalizes "Easy Access" / "easy-access" style
// labels to snake_case.
func normalizeAccountType(s string) string {
	s = strings.ToLower(normalizeWhitespace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return s
}

// parseRate accepts a JSON number or a string like "4.5" or "4.5%".
// It returns the original textual form when normalization changed it.
func parseRate(v any) (decimal.Decimal, string, error) {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), "", nil
	case string:
		trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "%"))
		d, err := decimal.NewFromString(trimmed)
		if err != nil {
			return decimal.Decimal{}, "", err
		}
		if trimmed != t {
			return d, t, nil
		}
		return d, "", nil
	default:
		return decimal.Decimal{}, "", fmt.Errorf("unexpected type %T", v)
	}
}

// parseAmount accepts a JSON number or a currency string like "£1,000".
func parseAmount(v any) (decimal.Decimal, string, error) {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), "", nil
	case string:
		cleaned := currencyRe.ReplaceAllString(t, "")
		d, err := decimal.NewFromString(cleaned)
		if err != nil {
			return decimal.Decimal{}, "", err
		}
		if cleaned != t {
			return d, t, nil
		}
		return d, "", nil
	default:
		return decimal.Decimal{}, "", fmt.Errorf("unexpected type %T", v)
	}
}

func parseOptionalRate(v any, field string, checked, corrupt *int, res *Result) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	*checked++
	d, orig, err := parseRate(v)
	if err != nil {
		*corrupt++
		res.Details = append(res.Details, model.ValidationDetail{
			Field: field, Rule: "numeric", Passed: false, Message: fmt.Sprintf("%s does not parse: %v", field, err),
		})
		return decimal.NullDecimal{}
	}
	res.Details = append(res.Details, model.ValidationDetail{Field: field, Rule: "numeric", Passed: true})
	if orig != "" {
		res.Normalization[field] = model.FieldChange{Original: orig, Normalized: d.String()}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func parseOptionalAmount(v any, field string, checked, corrupt *int, res *Result, fail func(string, string, string), pass func(string, string)) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	*checked++
	d, orig, err := parseAmount(v)
	if err != nil {
		*corrupt++
		fail(field, "numeric", fmt.Sprintf("%s does not parse: %v", field, err))
		return decimal.NullDecimal{}
	}
	if d.IsNegative() {
		fail(field, "bounds", fmt.Sprintf("%s must be >= 0", field))
		return decimal.NullDecimal{}
	}
	pass(field, "bounds")
	if orig != "" {
		res.Normalization[field] = model.FieldChange{Original: orig, Normalized: d.String()}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func parseOptionalInt(v any, field string, checked, corrupt *int, res *Result) int {
	if v == nil {
		return 0
	}
	*checked++
	switch t := v.(type) {
	case float64:
		res.Details = append(res.Details, model.ValidationDetail{Field: field, Rule: "numeric", Passed: true})
		return int(t)
	default:
		*corrupt++
		res.Details = append(res.Details, model.ValidationDetail{
			Field: field, Rule: "numeric", Passed: false, Message: fmt.Sprintf("%s is not numeric", field),
		})
		return 0
	}
}

// productKey derives a stable natural id for records that arrive without one.
func productKey(bankName, accountType string, rate decimal.Decimal) string {
	slug := strings.ToLower(bankName)
	slug = strings.NewReplacer(" ", "-", "'", "", ".", "").Replace(slug)
	return fmt.Sprintf("%s:%s:%s", slug, accountType, rate.String())
}
