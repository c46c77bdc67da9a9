package model

import "time"

// ValidationStatus is the outcome of ingestion validation for one record.
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
)

// MatchType identifies how an FRN candidate was found.
type MatchType string

const (
	MatchExact MatchType = "exact_match"
	MatchAlias MatchType = "alias_match"
	MatchFuzzy MatchType = "fuzzy_match"
)

// DecisionRouting describes where an FRN resolution decision landed.
type DecisionRouting string

const (
	RoutingAutoAssigned   DecisionRouting = "auto_assigned"
	RoutingResearchQueue  DecisionRouting = "research_queue"
	RoutingManualOverride DecisionRouting = "manual_override"
)

// ValidationDetail records the outcome of one validation rule, pass or fail.
type ValidationDetail struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// FieldChange records one normalization applied during ingestion.
type FieldChange struct {
	Original   string `json:"original"`
	Normalized string `json:"normalized"`
}

// IngestionAudit is written exactly once per input record, valid or not.
type IngestionAudit struct {
	ID                   string                 `json:"id"`
	BatchID              string                 `json:"batch_id"`
	Source               string                 `json:"source"`
	Method               string                 `json:"method"`
	ProductKey           string                 `json:"product_key"`
	ValidationStatus     ValidationStatus       `json:"validation_status"`
	ValidationDetails    []ValidationDetail     `json:"validation_details"`
	RejectionReasons     []string               `json:"rejection_reasons,omitempty"`
	NormalizationApplied map[string]FieldChange `json:"normalization_applied"`
	CreatedAt            time.Time              `json:"created_at"`
}

// NormalizationStep is one ordered step of bank-name normalization.
type NormalizationStep struct {
	Action string `json:"action"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// FRNCandidate is a transient match result. It is persisted only inside
// matching-audit JSON.
type FRNCandidate struct {
	FRN         string    `json:"frn"`
	MatchedName string    `json:"matched_name"`
	Confidence  float64   `json:"confidence"`
	MatchType   MatchType `json:"matchType"`
}

// MatchingAudit is written exactly once per product through FRN matching,
// matched or not.
type MatchingAudit struct {
	ID                 string              `json:"id"`
	BatchID            string              `json:"batch_id"`
	ProductID          string              `json:"product_id"`
	OriginalName       string              `json:"original_name"`
	NormalizedName     string              `json:"normalized_name"`
	NormalizationSteps []NormalizationStep `json:"normalization_steps"`
	CandidateFRNs      []FRNCandidate      `json:"candidate_frns"`
	DecisionRouting    DecisionRouting     `json:"decision_routing"`
	FinalFRN           *string             `json:"final_frn"`
	FinalConfidence    float64             `json:"final_confidence"`
	QueryMethod        MatchType           `json:"database_query_method,omitempty"`
	ProcessingTimeMS   int64               `json:"processing_time_ms"`
	CreatedAt          time.Time           `json:"created_at"`
}

// ScoreDistribution summarizes quality scores across one dedup run.
type ScoreDistribution struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// DedupTiming breaks total processing time into its four components.
// The components must sum to TotalMS within tolerance.
type DedupTiming struct {
	GroupingMS    int64 `json:"grouping_ms"`
	ScoringMS     int64 `json:"scoring_ms"`
	SelectionMS   int64 `json:"selection_ms"`
	PersistenceMS int64 `json:"persistence_ms"`
	TotalMS       int64 `json:"processing_time_ms"`
}

// DedupAudit is the one-per-batch deduplication summary.
type DedupAudit struct {
	ID                 string            `json:"id"`
	BatchID            string            `json:"batch_id"`
	InputProductsCount int               `json:"input_products_count"`
	BusinessKeyFields  []string          `json:"business_key_fields"`
	QualityScoreDist   ScoreDistribution `json:"quality_score_distribution"`
	SelectionCriteria  SelectionCriteria `json:"selection_criteria"`
	FSCSViolations     []string          `json:"fscs_violations"`
	Timing             DedupTiming       `json:"timing"`
	CreatedAt          time.Time         `json:"created_at"`
}

// SelectionCriteria is the configuration snapshot recorded with each
// dedup summary, so a batch's decisions can be reconstructed later.
type SelectionCriteria struct {
	BusinessKeyFields  []string           `json:"business_key_fields"`
	QualityWeights     map[string]float64 `json:"quality_weights"`
	PolicyOrder        []string           `json:"policy_order"`
	FSCSLimit          string             `json:"fscs_limit"`
	PreferredPlatforms []string           `json:"preferred_platforms,omitempty"`
}
