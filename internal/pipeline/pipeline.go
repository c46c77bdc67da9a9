// Package pipeline orchestrates the three batch stages: JSON ingestion,
// FRN matching, and deduplication. Stages run strictly in sequence
// within a batch; each stage commits fully before the next reads.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rateledger/deposits-cli/internal/audit"
	"github.com/rateledger/deposits-cli/internal/config"
	"github.com/rateledger/deposits-cli/internal/dedupe"
	"github.com/rateledger/deposits-cli/internal/frn"
	"github.com/rateledger/deposits-cli/internal/ingest"
	"github.com/rateledger/deposits-cli/internal/model"
	"github.com/rateledger/deposits-cli/internal/store"
)

// Options controls one pipeline run. StopAfterStage halts the batch
// after the named stage commits; AccumulateRaw skips the partition
// replace for validate-only runs.
type Options struct {
	StopAfterStage model.Stage
	AccumulateRaw  bool
	Records        []json.RawMessage // overrides reading src.Path; used by tests and the HTTP surface
}

// Result reports what one batch run did.
type Result struct {
	BatchID      string
	Ingested     int
	Rejected     int
	Matched      int
	Unmatched    int
	DedupGroups  int
	DedupRejects int
	StoppedAfter model.Stage
}

// Pipeline wires the stages over one store.
type Pipeline struct {
	cfg     *config.Config
	store   store.Store
	matcher *frn.Matcher
}

// New creates a Pipeline with all dependencies.
func New(cfg *config.Config, st store.Store, matcher *frn.Matcher) *Pipeline {
	return &Pipeline{cfg: cfg, store: st, matcher: matcher}
}

// Run executes one batch for one (source, method) raw input.
func (p *Pipeline) Run(ctx context.Context, src model.SourceDescriptor, opts Options) (*Result, error) {
	batchID := uuid.New().String()
	log := zap.L().With(
		zap.String("batch_id", batchID),
		zap.String("source", src.Source),
		zap.String("method", src.Method),
	)
	log.Info("pipeline: starting batch")

	recorder := audit.NewRecorder(p.store, batchID)
	result := &Result{BatchID: batchID}

	// Stage 1: JSON ingestion.
	if err := p.runIngestion(ctx, src, opts, recorder, result); err != nil {
		return nil, err
	}
	result.StoppedAfter = model.StageJSONIngestion
	if opts.StopAfterStage == model.StageJSONIngestion || !opts.AccumulateRaw {
		log.Info("pipeline: stopping after ingestion",
			zap.Int("ingested", result.Ingested),
			zap.Int("rejected", result.Rejected),
		)
		return result, nil
	}

	// Stage 2: FRN matching.
	if err := p.runMatching(ctx, batchID, recorder, result); err != nil {
		return nil, err
	}
	result.StoppedAfter = model.StageFRNMatching
	if opts.StopAfterStage == model.StageFRNMatching {
		log.Info("pipeline: stopping after matching",
			zap.Int("matched", result.Matched),
			zap.Int("unmatched", result.Unmatched),
		)
		return result, nil
	}

	// Stage 3: deduplication.
	if err := p.runDedup(ctx, batchID, result); err != nil {
		return nil, err
	}
	result.StoppedAfter = model.StageDeduplication

	log.Info("pipeline: batch complete",
		zap.Int("ingested", result.Ingested),
		zap.Int("rejected", result.Rejected),
		zap.Int("matched", result.Matched),
		zap.Int("unmatched", result.Unmatched),
		zap.Int("dedup_groups", result.DedupGroups),
	)
	return result, nil
}

// runIngestion validates every raw record, writes exactly one
// ingestion-audit record per input, and replaces the partition with the
// valid survivors in one transaction.
func (p *Pipeline) runIngestion(ctx context.Context, src model.SourceDescriptor, opts Options, recorder *audit.Recorder, result *Result) error {
	records := opts.Records
	if records == nil {
		var err error
		records, err = ingest.ReadRawFile(src.Path)
		if err != nil {
			return eris.Wrap(err, "pipeline: ingestion")
		}
	}

	validator := ingest.NewValidator(p.cfg.Ingest)
	now := time.Now().UTC()

	var valid []model.Product
	for _, raw := range records {
		res := validator.Validate(raw, src.Source, src.Method, now)

		key := ""
		if res.Product != nil {
			res.Product.ID = uuid.New().String()
			key = res.Product.ProductKey
		}
		if err := recorder.Ingestion(ctx, model.IngestionAudit{
			Source:               src.Source,
			Method:               src.Method,
			ProductKey:           key,
			ValidationStatus:     res.Status,
			ValidationDetails:    res.Details,
			RejectionReasons:     res.Reasons,
			NormalizationApplied: res.Normalization,
		}); err != nil {
			return eris.Wrap(err, "pipeline: write ingestion audit")
		}

		if res.Status == model.ValidationValid {
			valid = append(valid, *res.Product)
			result.Ingested++
		} else {
			result.Rejected++
		}
	}

	if !opts.AccumulateRaw {
		return nil
	}
	if err := p.store.ReplacePartition(ctx, src.Source, src.Method, recorder.BatchID(), valid); err != nil {
		return eris.Wrap(err, "pipeline: replace partition")
	}
	return nil
}

// runMatching resolves every accumulated product of the batch. Fuzzy
// lookups fan out across workers (the registry is read-only), but
// results feed the single ordered audit sink in input order.
func (p *Pipeline) runMatching(ctx context.Context, batchID string, recorder *audit.Recorder, result *Result) error {
	products, err := p.store.ProductsByBatch(ctx, batchID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load batch products")
	}

	resolutions := make([]frn.Resolution, len(products))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.cfg.FRN.Workers, 1))
	for i, product := range products {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			resolutions[i] = p.matcher.Resolve(product.BankName)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "pipeline: resolve names")
	}

	for i, product := range products {
		res := resolutions[i]

		if err := p.store.SetFRN(ctx, product.ID, res.FRN, res.Confidence); err != nil {
			return eris.Wrap(err, "pipeline: enrich product")
		}

		if err := recorder.Matching(ctx, model.MatchingAudit{
			ProductID:          product.ID,
			OriginalName:       res.OriginalName,
			NormalizedName:     res.NormalizedName,
			NormalizationSteps: res.Steps,
			CandidateFRNs:      res.Candidates,
			DecisionRouting:    res.Routing,
			FinalFRN:           res.FRN,
			FinalConfidence:    res.Confidence,
			QueryMethod:        res.QueryMethod,
			ProcessingTimeMS:   res.Elapsed.Milliseconds(),
		}); err != nil {
			return eris.Wrap(err, "pipeline: write matching audit")
		}

		if res.Routing == model.RoutingResearchQueue {
			result.Unmatched++
			if err := p.store.EnqueueResearch(ctx, model.ResearchEntry{
				BatchID:        batchID,
				ProductID:      product.ID,
				BankName:       res.OriginalName,
				NormalizedName: res.NormalizedName,
				Candidates:     res.Candidates,
			}); err != nil {
				return eris.Wrap(err, "pipeline: enqueue research")
			}
		} else {
			result.Matched++
		}
	}
	return nil
}

func (p *Pipeline) runDedup(ctx context.Context, batchID string, result *Result) error {
	products, err := p.store.ProductsByBatch(ctx, batchID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load enriched products")
	}

	engine := dedupe.NewEngine(p.cfg.Dedupe, p.store)
	dedupResult, err := engine.Run(ctx, batchID, products)
	if err != nil {
		return eris.Wrap(err, "pipeline: deduplication")
	}

	result.DedupGroups = len(dedupResult.Groups)
	result.DedupRejects = dedupResult.RejectedCount
	return nil
}
