package dedupe

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rateledger/deposits-cli/internal/config"
	"github.com/rateledger/deposits-cli/internal/model"
	"github.com/rateledger/deposits-cli/internal/store"
)

// Engine runs deduplication for one batch: group by business key, score
// quality, select survivors, persist group rows plus one audit summary.
type Engine struct {
	cfg   config.DedupeConfig
	store store.Store
}

// NewEngine creates an Engine backed by the given store.
func NewEngine(cfg config.DedupeConfig, st store.Store) *Engine {
	return &Engine{cfg: cfg, store: st}
}

// Result summarizes one deduplication run.
type Result struct {
	Groups        []model.DedupGroup
	Winners       []model.CurrentProduct
	Audit         model.DedupAudit
	RejectedCount int
	FallbackCount int
}

// Run deduplicates every enriched product of a batch. Selection is
// deterministic: identical input always yields identical survivors.
func (e *Engine) Run(ctx context.Context, batchID string, products []model.EnrichedProduct) (*Result, error) {
	log := zap.L().With(zap.String("batch_id", batchID))
	log.Info("dedupe: starting", zap.Int("products", len(products)))

	now := time.Now().UTC()

	// Stage 1: grouping.
	groupStart := time.Now()
	grouped := make(map[string][]model.EnrichedProduct)
	keys := make([]string, 0)
	for _, p := range products {
		key := BusinessKey(p, e.cfg.BusinessKeyFields)
		if _, seen := grouped[key]; !seen {
			keys = append(keys, key)
		}
		grouped[key] = append(grouped[key], p)
	}
	sort.Strings(keys)
	groupingMS := time.Since(groupStart).Milliseconds()

	// Stage 2: quality scoring.
	scoreStart := time.Now()
	scorer := NewScorer(e.cfg, now, products)
	scores := make(map[string]float64, len(products))
	scoreErrs := make(map[string]error)
	for _, p := range products {
		score, err := scorer.Score(p)
		if err != nil {
			scoreErrs[p.ID] = err
			log.Warn("dedupe: quality score failed, product falls back to keep-all",
				zap.String("product_id", p.ID), zap.Error(err))
			continue
		}
		scores[p.ID] = score
	}
	scoringMS := time.Since(scoreStart).Milliseconds()

	// Stage 3: selection.
	selectStart := time.Now()
	var (
		resolved  []resolvedGroup
		fscsFlags []string
		fallback  int
	)
	for _, key := range keys {
		members := make([]member, 0, len(grouped[key]))
		for _, p := range grouped[key] {
			members = append(members, member{product: p, score: scores[p.ID], scoreErr: scoreErrs[p.ID]})
		}
		for _, g := range selectGroup(key, members, e.cfg) {
			if g.Reason == model.SelectionQualityFallback {
				fallback++
			}
			fscsFlags = append(fscsFlags, g.FSCSFlags...)
			resolved = append(resolved, g)
		}
	}
	selectionMS := time.Since(selectStart).Milliseconds()

	// Stage 4: persistence.
	persistStart := time.Now()
	result := &Result{FallbackCount: fallback}
	for _, g := range resolved {
		row := e.groupRow(batchID, g, now)
		if err := e.store.InsertDedupGroup(ctx, row); err != nil {
			return nil, eris.Wrapf(err, "dedupe: persist group %s", g.Key)
		}
		result.Groups = append(result.Groups, row)
		result.RejectedCount += len(g.Rejected)
		result.Winners = append(result.Winners, winner(batchID, g, now))
	}
	if err := e.store.UpsertCurrentProducts(ctx, result.Winners); err != nil {
		return nil, eris.Wrap(err, "dedupe: upsert current products")
	}
	persistenceMS := time.Since(persistStart).Milliseconds()

	dist := Distribution(scores)
	audit := model.DedupAudit{
		ID:                 uuid.New().String(),
		BatchID:            batchID,
		InputProductsCount: len(products),
		BusinessKeyFields:  e.cfg.BusinessKeyFields,
		QualityScoreDist:   dist,
		SelectionCriteria:  e.criteria(),
		FSCSViolations:     dedupeStrings(fscsFlags),
		Timing: model.DedupTiming{
			GroupingMS:    groupingMS,
			ScoringMS:     scoringMS,
			SelectionMS:   selectionMS,
			PersistenceMS: persistenceMS,
			TotalMS:       groupingMS + scoringMS + selectionMS + persistenceMS,
		},
		CreatedAt: now,
	}
	if err := e.store.InsertDedupAudit(ctx, audit); err != nil {
		return nil, eris.Wrap(err, "dedupe: persist audit summary")
	}
	result.Audit = audit

	log.Info("dedupe: complete",
		zap.Int("groups", len(result.Groups)),
		zap.Int("rejected", result.RejectedCount),
		zap.Int("fscs_violations", len(audit.FSCSViolations)),
	)
	return result, nil
}

func (e *Engine) groupRow(batchID string, g resolvedGroup, now time.Time) model.DedupGroup {
	platforms := make([]string, 0, len(g.Members))
	sources := make([]string, 0, len(g.Members))
	qualityScores := make(map[string]float64, len(g.Members))
	seenPlatform := map[string]bool{}
	seenSource := map[string]bool{}
	for _, m := range g.Members {
		if !seenPlatform[m.product.Platform] {
			seenPlatform[m.product.Platform] = true
			platforms = append(platforms, m.product.Platform)
		}
		if !seenSource[m.product.Source] {
			seenSource[m.product.Source] = true
			sources = append(sources, m.product.Source)
		}
		if m.scoreErr == nil {
			qualityScores[m.product.ID] = m.score
		}
	}
	sort.Strings(platforms)
	sort.Strings(sources)

	rejected := g.Rejected
	if rejected == nil {
		rejected = []model.RejectedProduct{}
	}

	return model.DedupGroup{
		ID:                uuid.New().String(),
		BatchID:           batchID,
		BusinessKey:       g.Key,
		ProductsInGroup:   1 + len(rejected),
		SelectedProductID: g.Survivor.product.ID,
		SelectedPlatform:  g.Survivor.product.Platform,
		SelectedSource:    g.Survivor.product.Source,
		SelectionReason:   g.Reason,
		Platforms:         platforms,
		Sources:           sources,
		QualityScores:     qualityScores,
		RejectedProducts:  rejected,
		CreatedAt:         now,
	}
}

func winner(batchID string, g resolvedGroup, now time.Time) model.CurrentProduct {
	p := g.Survivor.product
	return model.CurrentProduct{
		BusinessKey: g.Key,
		ProductID:   p.ID,
		BatchID:     batchID,
		Source:      p.Source,
		Platform:    p.Platform,
		BankName:    p.BankName,
		ProductName: p.ProductName,
		AccountType: p.AccountType,
		AERRate:     p.AERRate,
		FRN:         p.FRN,
		Confidence:  p.Confidence,
		UpdatedAt:   now,
	}
}

func (e *Engine) criteria() model.SelectionCriteria {
	return model.SelectionCriteria{
		BusinessKeyFields:  e.cfg.BusinessKeyFields,
		QualityWeights:     e.cfg.QualityWeights,
		PolicyOrder:        e.cfg.PolicyOrder,
		FSCSLimit:          decimal.NewFromFloat(e.cfg.FSCSLimit).String(),
		PreferredPlatforms: e.cfg.PreferredPlatforms,
	}
}

func dedupeStrings(in []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
