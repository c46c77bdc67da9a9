package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/rateledger/deposits-cli/internal/config"
	"github.com/rateledger/deposits-cli/internal/model"
	"github.com/rateledger/deposits-cli/internal/store"
)

// Validator independently re-parses and re-derives statistics from the
// audit records of one batch. It never repairs anything; structural
// corruption and cross-table inconsistencies surface as report errors
// with remediation recommendations.
type Validator struct {
	cfg   config.AuditConfig
	store store.Store
}

// NewValidator creates a Validator backed by the given store.
func NewValidator(cfg config.AuditConfig, st store.Store) *Validator {
	return &Validator{cfg: cfg, store: st}
}

// Section is the validity result for one audit table.
type Section struct {
	Name     string   `json:"name"`
	Valid    bool     `json:"valid"`
	Records  int      `json:"records"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// QueryStats proves the stored JSON remains queryable, not just
// well-formed.
type QueryStats struct {
	HighConfidenceMatches      int `json:"high_confidence_matches"`
	ResearchQueueRoutings      int `json:"research_queue_routings"`
	PlatformPriorityRejections int `json:"platform_priority_rejections"`
	FSCSViolations             int `json:"fscs_violations"`
}

// Report is the operator-facing validation result for one batch.
type Report struct {
	BatchID         string     `json:"batch_id"`
	Valid           bool       `json:"valid"`
	Sections        []Section  `json:"sections"`
	Errors          []string   `json:"errors"`
	Warnings        []string   `json:"warnings"`
	Stats           QueryStats `json:"stats"`
	Recommendations []string   `json:"recommendations"`
}

// Validate runs every structural, range, cross-table and queryability
// check for one batch and assembles the report.
func (v *Validator) Validate(ctx context.Context, batchID string) (*Report, error) {
	report := &Report{
		BatchID:  batchID,
		Errors:   []string{},
		Warnings: []string{},
	}

	ingestion, err := v.store.RawIngestionAudits(ctx, batchID)
	if err != nil {
		return nil, eris.Wrap(err, "audit: load ingestion audits")
	}
	matching, err := v.store.RawMatchingAudits(ctx, batchID)
	if err != nil {
		return nil, eris.Wrap(err, "audit: load matching audits")
	}
	summary, err := v.store.RawDedupAudit(ctx, batchID)
	if err != nil {
		return nil, eris.Wrap(err, "audit: load dedup summary")
	}
	groups, err := v.store.RawDedupGroups(ctx, batchID)
	if err != nil {
		return nil, eris.Wrap(err, "audit: load dedup groups")
	}
	products, err := v.store.ProductsByBatch(ctx, batchID)
	if err != nil {
		return nil, eris.Wrap(err, "audit: load enriched products")
	}

	report.Sections = append(report.Sections, v.checkIngestion(ingestion))
	report.Sections = append(report.Sections, v.checkMatching(matching, report))
	report.Sections = append(report.Sections, v.checkDedupSummary(summary, report))
	report.Sections = append(report.Sections, v.checkGroups(groups, report))
	report.Sections = append(report.Sections, v.checkCrossTable(products, matching))

	for _, s := range report.Sections {
		report.Errors = append(report.Errors, s.Errors...)
		report.Warnings = append(report.Warnings, s.Warnings...)
	}

	report.Valid = len(report.Errors) == 0
	report.Recommendations = recommendations(report)

	zap.L().Info("audit: validation complete",
		zap.String("batch_id", batchID),
		zap.Bool("valid", report.Valid),
		zap.Int("errors", len(report.Errors)),
		zap.Int("warnings", len(report.Warnings)),
	)
	return report, nil
}

func (v *Validator) checkIngestion(rows []store.RawIngestionAudit) Section {
	s := Section{Name: "ingestion_audit", Records: len(rows)}

	for _, r := range rows {
		if !isJSONArray(r.ValidationDetails) {
			s.Errors = append(s.Errors, fmt.Sprintf("ingestion audit %s: validation_details is not a JSON array", r.ID))
			continue
		}
		var details []model.ValidationDetail
		if err := json.Unmarshal(r.ValidationDetails, &details); err != nil {
			s.Errors = append(s.Errors, fmt.Sprintf("ingestion audit %s: validation_details malformed: %v", r.ID, err))
			continue
		}
		if len(details) == 0 {
			s.Errors = append(s.Errors, fmt.Sprintf("ingestion audit %s: validation_details is empty", r.ID))
		}

		if !isJSONArray(r.RejectionReasons) {
			s.Errors = append(s.Errors, fmt.Sprintf("ingestion audit %s: rejection_reasons is not a JSON array", r.ID))
			continue
		}
		var reasons []string
		if err := json.Unmarshal(r.RejectionReasons, &reasons); err != nil {
			s.Errors = append(s.Errors, fmt.Sprintf("ingestion audit %s: rejection_reasons malformed: %v", r.ID, err))
			continue
		}
		if r.ValidationStatus == string(model.ValidationInvalid) && len(reasons) == 0 {
			s.Errors = append(s.Errors, fmt.Sprintf("ingestion audit %s: invalid record with no rejection reasons", r.ID))
		}
		if r.ValidationStatus == string(model.ValidationValid) && len(reasons) > 0 {
			s.Errors = append(s.Errors, fmt.Sprintf("ingestion audit %s: valid record carries rejection reasons", r.ID))
		}

		if !isJSONObject(r.NormalizationApplied) {
			s.Errors = append(s.Errors, fmt.Sprintf("ingestion audit %s: normalization_applied is not a JSON object", r.ID))
		}
	}

	s.Valid = len(s.Errors) == 0
	return s
}

func (v *Validator) checkMatching(rows []store.RawMatchingAudit, report *Report) Section {
	s := Section{Name: "matching_audit", Records: len(rows)}

	for _, r := range rows {
		if !isJSONArray(r.NormalizationSteps) {
			s.Errors = append(s.Errors, fmt.Sprintf("matching audit %s: normalization_steps is not a JSON array", r.ID))
		}
		if !isJSONArray(r.CandidateFRNs) {
			s.Errors = append(s.Errors, fmt.Sprintf("matching audit %s: candidate_frns is not a JSON array", r.ID))
			continue
		}

		var candidates []model.FRNCandidate
		if err := json.Unmarshal(r.CandidateFRNs, &candidates); err != nil {
			s.Errors = append(s.Errors, fmt.Sprintf("matching audit %s: candidate_frns malformed: %v", r.ID, err))
			continue
		}
		for _, c := range candidates {
			if c.Confidence < 0 || c.Confidence > 1 {
				s.Errors = append(s.Errors, fmt.Sprintf("matching audit %s: candidate confidence %.3f outside [0,1]", r.ID, c.Confidence))
			}
			if c.FRN == "" {
				s.Errors = append(s.Errors, fmt.Sprintf("matching audit %s: candidate missing frn", r.ID))
			}
		}

		if r.FinalConfidence < 0 || r.FinalConfidence > 1 {
			s.Errors = append(s.Errors, fmt.Sprintf("matching audit %s: final_confidence %.3f outside [0,1]", r.ID, r.FinalConfidence))
		}
		if r.FinalFRN == nil && r.FinalConfidence != 0 {
			s.Errors = append(s.Errors, fmt.Sprintf("matching audit %s: null FRN with non-zero confidence", r.ID))
		}
		if r.FinalFRN != nil && r.FinalConfidence == 0 {
			s.Errors = append(s.Errors, fmt.Sprintf("matching audit %s: assigned FRN with zero confidence", r.ID))
		}

		switch model.DecisionRouting(r.DecisionRouting) {
		case model.RoutingAutoAssigned, model.RoutingResearchQueue, model.RoutingManualOverride:
		default:
			s.Errors = append(s.Errors, fmt.Sprintf("matching audit %s: unknown decision_routing %q", r.ID, r.DecisionRouting))
		}

		// Representative queries against the stored JSON.
		if r.FinalConfidence >= v.cfg.HighConfidence {
			report.Stats.HighConfidenceMatches++
		}
		if r.DecisionRouting == string(model.RoutingResearchQueue) {
			report.Stats.ResearchQueueRoutings++
		}
	}

	s.Valid = len(s.Errors) == 0
	return s
}

func (v *Validator) checkDedupSummary(summary *store.RawDedupAudit, report *Report) Section {
	s := Section{Name: "dedup_audit"}
	if summary == nil {
		s.Warnings = append(s.Warnings, "no deduplication summary for batch (batch may have stopped before DEDUPLICATION)")
		s.Valid = true
		return s
	}
	s.Records = 1

	if !isJSONArray(summary.BusinessKeyFields) {
		s.Errors = append(s.Errors, "dedup summary: business_key_fields is not a JSON array")
	}
	if !isJSONArray(summary.FSCSViolations) {
		s.Errors = append(s.Errors, "dedup summary: fscs_violations is not a JSON array")
	} else {
		var violations []string
		if err := json.Unmarshal(summary.FSCSViolations, &violations); err == nil {
			report.Stats.FSCSViolations = len(violations)
		}
	}

	if !isJSONObject(summary.QualityScoreDist) {
		s.Errors = append(s.Errors, "dedup summary: quality_score_distribution is not a JSON object")
	} else {
		var dist map[string]json.RawMessage
		if err := json.Unmarshal(summary.QualityScoreDist, &dist); err != nil {
			s.Errors = append(s.Errors, fmt.Sprintf("dedup summary: quality_score_distribution malformed: %v", err))
		} else {
			for _, key := range []string{"mean", "median", "min", "max", "count"} {
				if _, ok := dist[key]; !ok {
					s.Errors = append(s.Errors, fmt.Sprintf("dedup summary: quality_score_distribution missing %q", key))
				}
			}
		}
	}

	if !isJSONObject(summary.SelectionCriteria) {
		s.Errors = append(s.Errors, "dedup summary: selection_criteria is not a JSON object")
	}

	componentSum := summary.GroupingMS + summary.ScoringMS + summary.SelectionMS + summary.PersistenceMS
	diff := componentSum - summary.TotalMS
	if diff < 0 {
		diff = -diff
	}
	if diff > v.cfg.TimingToleranceMS {
		s.Errors = append(s.Errors, fmt.Sprintf(
			"Performance metrics inconsistent: timing components sum to %dms but processing_time_ms is %dms",
			componentSum, summary.TotalMS))
	}

	s.Valid = len(s.Errors) == 0
	return s
}

func (v *Validator) checkGroups(rows []store.RawDedupGroup, report *Report) Section {
	s := Section{Name: "dedup_groups", Records: len(rows)}

	for _, r := range rows {
		if !isJSONArray(r.RejectedProducts) {
			s.Errors = append(s.Errors, fmt.Sprintf("group %s: rejected_products is not a JSON array", r.ID))
			continue
		}
		var rejected []map[string]json.RawMessage
		if err := json.Unmarshal(r.RejectedProducts, &rejected); err != nil {
			s.Errors = append(s.Errors, fmt.Sprintf("group %s: rejected_products malformed: %v", r.ID, err))
			continue
		}

		if r.ProductsInGroup != 1+len(rejected) {
			s.Errors = append(s.Errors, fmt.Sprintf(
				"group %s: products_in_group %d != 1 + %d rejected", r.ID, r.ProductsInGroup, len(rejected)))
		}

		for i, entry := range rejected {
			for _, key := range []string{"product_id", "bank_name", "rejection_reason", "quality_score", "lost_to", "comparisonMetrics"} {
				if _, ok := entry[key]; !ok {
					s.Errors = append(s.Errors, fmt.Sprintf("group %s: rejected_products[%d] missing %q", r.ID, i, key))
				}
			}
			var productID string
			if raw, ok := entry["product_id"]; ok {
				if err := json.Unmarshal(raw, &productID); err == nil && productID == r.SelectedProductID {
					s.Errors = append(s.Errors, fmt.Sprintf("group %s: selected product %s appears in rejected_products", r.ID, productID))
				}
			}
			var reason string
			if raw, ok := entry["rejection_reason"]; ok {
				if err := json.Unmarshal(raw, &reason); err == nil && reason == string(model.SelectionPlatformPriority) {
					report.Stats.PlatformPriorityRejections++
				}
			}
		}

		if !isJSONObject(r.QualityScores) {
			s.Errors = append(s.Errors, fmt.Sprintf("group %s: quality_scores is not a JSON object", r.ID))
		} else {
			var scores map[string]float64
			if err := json.Unmarshal(r.QualityScores, &scores); err != nil {
				s.Errors = append(s.Errors, fmt.Sprintf("group %s: quality_scores malformed: %v", r.ID, err))
			} else {
				for id, score := range scores {
					if score < 0 || score > 1 {
						s.Errors = append(s.Errors, fmt.Sprintf("group %s: quality score %.3f for %s outside [0,1]", r.ID, score, id))
					}
				}
			}
		}

		if !isJSONArray(r.Platforms) || !isJSONArray(r.Sources) {
			s.Errors = append(s.Errors, fmt.Sprintf("group %s: platforms/sources are not JSON arrays", r.ID))
		}
	}

	s.Valid = len(s.Errors) == 0
	return s
}

// checkCrossTable asserts that every enriched product's (frn,
// confidence) matches its matching-audit record, and that exactly one
// matching-audit record exists per product.
func (v *Validator) checkCrossTable(products []model.EnrichedProduct, matching []store.RawMatchingAudit) Section {
	s := Section{Name: "cross_table", Records: len(products)}

	byProduct := make(map[string][]store.RawMatchingAudit, len(matching))
	for _, m := range matching {
		byProduct[m.ProductID] = append(byProduct[m.ProductID], m)
	}

	for _, p := range products {
		audits := byProduct[p.ID]
		if len(audits) == 0 {
			if len(matching) > 0 {
				s.Errors = append(s.Errors, fmt.Sprintf("product %s: no matching-audit record", p.ID))
			}
			continue
		}
		if len(audits) > 1 {
			s.Errors = append(s.Errors, fmt.Sprintf("product %s: %d matching-audit records, expected 1", p.ID, len(audits)))
		}

		m := audits[0]
		if (p.FRN == nil) != (m.FinalFRN == nil) {
			s.Errors = append(s.Errors, fmt.Sprintf("product %s: FRN presence differs between product and audit", p.ID))
			continue
		}
		if p.FRN != nil && *p.FRN != *m.FinalFRN {
			s.Errors = append(s.Errors, fmt.Sprintf("product %s: frn %s != audit final_frn %s", p.ID, *p.FRN, *m.FinalFRN))
		}
		if p.Confidence != m.FinalConfidence {
			s.Errors = append(s.Errors, fmt.Sprintf(
				"product %s: confidence_score %.3f != audit final_confidence %.3f", p.ID, p.Confidence, m.FinalConfidence))
		}
	}

	s.Valid = len(s.Errors) == 0
	return s
}

func recommendations(report *Report) []string {
	recs := []string{}
	for _, err := range report.Errors {
		switch {
		case strings.Contains(err, "Performance metrics inconsistent"):
			recs = appendOnce(recs, "Review performance metric calculation logic for accuracy")
		case strings.Contains(err, "not a JSON"):
			recs = appendOnce(recs, "Inspect audit write path for type-confused JSON columns; re-run the affected stage")
		case strings.Contains(err, "confidence"):
			recs = appendOnce(recs, "Re-run FRN matching for this batch to realign product and audit confidence values")
		case strings.Contains(err, "products_in_group"), strings.Contains(err, "rejected_products"):
			recs = appendOnce(recs, "Re-run deduplication for this batch; group membership arithmetic is inconsistent")
		}
	}
	if len(report.Errors) == 0 && len(report.Warnings) > 0 {
		recs = appendOnce(recs, "Batch is structurally valid; review warnings for incomplete stages")
	}
	return recs
}

func appendOnce(recs []string, rec string) []string {
	for _, r := range recs {
		if r == rec {
			return recs
		}
	}
	return append(recs, rec)
}

// isJSONArray reports whether b parses as a JSON array specifically,
// catching array-encoded-as-string type confusion.
func isJSONArray(b []byte) bool {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return false
	}
	_, ok := v.([]any)
	return ok
}

func isJSONObject(b []byte) bool {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return false
	}
	_, ok := v.(map[string]any)
	return ok
}
