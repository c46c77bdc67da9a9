package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SelectionReason is the closed set of deduplication selection policies.
type SelectionReason string

const (
	SelectionSingleProduct      SelectionReason = "single_product"
	SelectionQualityRanked      SelectionReason = "quality-ranked"
	SelectionPlatformSeparation SelectionReason = "platform_separation"
	SelectionPlatformPriority   SelectionReason = "registered_platform_priority"
	SelectionFSCSSeparation     SelectionReason = "fscs_bank_separation"
	// SelectionQualityFallback marks a group kept whole because a member's
	// quality inputs could not be scored. Nothing is rejected.
	SelectionQualityFallback SelectionReason = "data_quality_fallback"
)

// ComparisonMetrics explains how a rejected member compared to the survivor.
type ComparisonMetrics struct {
	RateDelta    decimal.Decimal `json:"rate_delta"`
	QualityDelta float64         `json:"quality_delta"`
}

// RejectedProduct is one losing member of a deduplication group.
type RejectedProduct struct {
	ProductID       string            `json:"product_id"`
	Platform        string            `json:"platform,omitempty"`
	BankName        string            `json:"bank_name"`
	AERRate         decimal.Decimal   `json:"aer_rate"`
	RejectionReason string            `json:"rejection_reason"`
	QualityScore    float64           `json:"quality_score"`
	LostTo          string            `json:"lost_to"`
	Comparison      ComparisonMetrics `json:"comparisonMetrics"`
}

// DedupGroup is one row per distinct business key within a batch.
// Invariants: SelectedProductID never appears in RejectedProducts, and
// ProductsInGroup == 1 + len(RejectedProducts).
type DedupGroup struct {
	ID                string             `json:"id"`
	BatchID           string             `json:"batch_id"`
	BusinessKey       string             `json:"business_key"`
	ProductsInGroup   int                `json:"products_in_group"`
	SelectedProductID string             `json:"selected_product_id"`
	SelectedPlatform  string             `json:"selected_platform,omitempty"`
	SelectedSource    string             `json:"selected_source"`
	SelectionReason   SelectionReason    `json:"selection_reason"`
	Platforms         []string           `json:"platforms"`
	Sources           []string           `json:"sources"`
	QualityScores     map[string]float64 `json:"quality_scores"`
	RejectedProducts  []RejectedProduct  `json:"rejected_products"`
	CreatedAt         time.Time          `json:"created_at"`
}

// ResearchEntry is one unmatched bank name queued for manual FRN research.
type ResearchEntry struct {
	ID             string         `json:"id"`
	BatchID        string         `json:"batch_id"`
	ProductID      string         `json:"product_id"`
	BankName       string         `json:"bank_name"`
	NormalizedName string         `json:"normalized_name"`
	Candidates     []FRNCandidate `json:"candidates,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
