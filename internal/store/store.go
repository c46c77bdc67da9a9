package store

import (
	"context"

	"github.com/rateledger/deposits-cli/internal/model"
)

// RawIngestionAudit carries ingestion-audit JSON columns unparsed, for
// independent re-validation of the audit trail.
type RawIngestionAudit struct {
	ID                   string
	BatchID              string
	Source               string
	Method               string
	ProductKey           string
	ValidationStatus     string
	ValidationDetails    []byte
	RejectionReasons     []byte
	NormalizationApplied []byte
}

// RawMatchingAudit carries matching-audit JSON columns unparsed.
type RawMatchingAudit struct {
	ID                 string
	BatchID            string
	ProductID          string
	OriginalName       string
	NormalizedName     string
	NormalizationSteps []byte
	CandidateFRNs      []byte
	DecisionRouting    string
	FinalFRN           *string
	FinalConfidence    float64
	QueryMethod        string
	ProcessingTimeMS   int64
}

// RawDedupAudit carries the dedup summary's JSON columns unparsed.
type RawDedupAudit struct {
	ID                 string
	BatchID            string
	InputProductsCount int
	BusinessKeyFields  []byte
	QualityScoreDist   []byte
	SelectionCriteria  []byte
	FSCSViolations     []byte
	GroupingMS         int64
	ScoringMS          int64
	SelectionMS        int64
	PersistenceMS      int64
	TotalMS            int64
}

// RawDedupGroup carries a group row's JSON columns unparsed.
type RawDedupGroup struct {
	ID                string
	BatchID           string
	BusinessKey       string
	ProductsInGroup   int
	SelectedProductID string
	SelectionReason   string
	Platforms         []byte
	Sources           []byte
	QualityScores     []byte
	RejectedProducts  []byte
}

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	// Accumulation (partitioned by source+method, replace on re-ingest)
	ReplacePartition(ctx context.Context, source, method, batchID string, products []model.Product) error
	CountByMethod(ctx context.Context, method string) (int, error)
	CountByPartition(ctx context.Context, source, method string) (int, error)
	PartitionCombinations(ctx context.Context) ([]model.PartitionCount, error)
	ProductsByBatch(ctx context.Context, batchID string) ([]model.EnrichedProduct, error)

	// Enrichment (FRN written in place on the accumulated row)
	SetFRN(ctx context.Context, productID string, frn *string, confidence float64) error

	// Current products view (winners only)
	UpsertCurrentProducts(ctx context.Context, winners []model.CurrentProduct) error
	CurrentProducts(ctx context.Context) ([]model.CurrentProduct, error)

	// Audit trail (append-only)
	InsertIngestionAudit(ctx context.Context, a model.IngestionAudit) error
	InsertMatchingAudit(ctx context.Context, a model.MatchingAudit) error
	InsertDedupAudit(ctx context.Context, a model.DedupAudit) error
	InsertDedupGroup(ctx context.Context, g model.DedupGroup) error
	MatchingAuditsByBatch(ctx context.Context, batchID string) ([]model.MatchingAudit, error)
	DedupGroupsByBatch(ctx context.Context, batchID string) ([]model.DedupGroup, error)

	// Raw audit reads for the audit-trail validator
	RawIngestionAudits(ctx context.Context, batchID string) ([]RawIngestionAudit, error)
	RawMatchingAudits(ctx context.Context, batchID string) ([]RawMatchingAudit, error)
	RawDedupAudit(ctx context.Context, batchID string) (*RawDedupAudit, error)
	RawDedupGroups(ctx context.Context, batchID string) ([]RawDedupGroup, error)

	// Research queue
	EnqueueResearch(ctx context.Context, e model.ResearchEntry) error
	ResearchQueue(ctx context.Context, batchID string) ([]model.ResearchEntry, error)

	// Reporting
	Batches(ctx context.Context, limit int) ([]model.BatchSummary, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
