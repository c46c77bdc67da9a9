package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Stage identifies a pipeline stage. A batch runs stages strictly in
// order; StopAfterStage halts the batch once the named stage commits.
type Stage string

const (
	StageJSONIngestion Stage = "JSON_INGESTION"
	StageFRNMatching   Stage = "FRN_MATCHING"
	StageDeduplication Stage = "DEDUPLICATION"
)

// Product is one scraped savings-product listing. The tuple
// (Source, Method, ProductKey) is unique within its partition;
// re-ingesting a partition replaces only that partition's rows.
type Product struct {
	ID          string              `json:"id"`
	Source      string              `json:"source"`
	Method      string              `json:"method"`
	ProductKey  string              `json:"product_key"`
	BankName    string              `json:"bank_name"`
	ProductName string              `json:"product_name,omitempty"`
	AccountType string              `json:"account_type"`
	Platform    string              `json:"platform,omitempty"`
	AERRate     decimal.Decimal     `json:"aer_rate"`
	GrossRate   decimal.NullDecimal `json:"gross_rate,omitempty"`
	MinDeposit  decimal.NullDecimal `json:"min_deposit,omitempty"`
	MaxDeposit  decimal.NullDecimal `json:"max_deposit,omitempty"`
	TermMonths  int                 `json:"term_months,omitempty"`
	NoticeDays  int                 `json:"notice_days,omitempty"`
	FirstSeen   time.Time           `json:"first_seen"`
	LastUpdated time.Time           `json:"last_updated"`
	Raw         json.RawMessage     `json:"raw,omitempty"`
}

// EnrichedProduct is a Product after FRN resolution. FRN is nil until a
// match is auto-assigned; Confidence is 0 iff FRN is nil.
type EnrichedProduct struct {
	Product
	FRN        *string `json:"frn,omitempty"`
	Confidence float64 `json:"confidence_score"`
}

// SourceDescriptor identifies one (source, method) raw input for a batch.
type SourceDescriptor struct {
	Source string `json:"source"`
	Method string `json:"method"`
	Path   string `json:"path,omitempty"`
}

// PartitionCount is one row of the partition combinations listing.
type PartitionCount struct {
	Source string `json:"source"`
	Method string `json:"method"`
	Count  int    `json:"count"`
}

// CurrentProduct is one winner in the downstream-facing current view.
// Exactly one row per business key survives deduplication.
type CurrentProduct struct {
	BusinessKey string          `json:"business_key"`
	ProductID   string          `json:"product_id"`
	BatchID     string          `json:"batch_id"`
	Source      string          `json:"source"`
	Platform    string          `json:"platform,omitempty"`
	BankName    string          `json:"bank_name"`
	ProductName string          `json:"product_name,omitempty"`
	AccountType string          `json:"account_type"`
	AERRate     decimal.Decimal `json:"aer_rate"`
	FRN         *string         `json:"frn,omitempty"`
	Confidence  float64         `json:"confidence_score"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// BatchSummary is one row of the batch listing, derived from audit counts.
type BatchSummary struct {
	BatchID     string    `json:"batch_id"`
	Ingested    int       `json:"ingested"`
	Matched     int       `json:"matched"`
	DedupGroups int       `json:"dedup_groups"`
	StartedAt   time.Time `json:"started_at"`
}
