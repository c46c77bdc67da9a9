package frn

import (
	"sort"
	"time"

	"github.com/agext/levenshtein"

	"github.com/rateledger/deposits-cli/internal/config"
	"github.com/rateledger/deposits-cli/internal/model"
)

// Matcher resolves one institution name at a time using an
// exact -> alias -> fuzzy cascade over the registry.
type Matcher struct {
	cfg config.FRNConfig
	reg *Registry
}

// NewMatcher creates a Matcher over the given registry.
func NewMatcher(cfg config.FRNConfig, reg *Registry) *Matcher {
	return &Matcher{cfg: cfg, reg: reg}
}

// Resolution is the full outcome of resolving one name. Confidence is 0
// iff FRN is nil, and Routing is research_queue for any unmatched name.
type Resolution struct {
	OriginalName   string
	NormalizedName string
	Steps          []model.NormalizationStep
	Candidates     []model.FRNCandidate
	FRN            *string
	Confidence     float64
	QueryMethod    model.MatchType
	Routing        model.DecisionRouting
	Elapsed        time.Duration
}

// Resolve runs the match cascade for one bank name. It is pure and safe
// for concurrent use.
func (m *Matcher) Resolve(name string) Resolution {
	start := time.Now()

	normalized, steps := NormalizeName(name)
	res := Resolution{
		OriginalName:   name,
		NormalizedName: normalized,
		Steps:          steps,
		Routing:        model.RoutingResearchQueue,
	}

	if normalized == "" {
		res.Elapsed = time.Since(start)
		return res
	}

	// Pass 1: exact match on normalized canonical name.
	if inst, ok := m.reg.Exact(normalized); ok {
		res.Candidates = []model.FRNCandidate{{
			FRN: inst.FRN, MatchedName: inst.Name, Confidence: 1.0, MatchType: model.MatchExact,
		}}
		m.assign(&res, res.Candidates[0])
		res.Elapsed = time.Since(start)
		return res
	}

	// Pass 2: alias / shared-brand index.
	if inst, ok := m.reg.Alias(normalized); ok {
		res.Candidates = []model.FRNCandidate{{
			FRN: inst.FRN, MatchedName: inst.Name, Confidence: 0.95, MatchType: model.MatchAlias,
		}}
		m.assign(&res, res.Candidates[0])
		res.Elapsed = time.Since(start)
		return res
	}

	// Pass 3: fuzzy scan over every indexed name.
	res.Candidates = m.fuzzyCandidates(normalized)
	if len(res.Candidates) > 0 && res.Candidates[0].Confidence >= m.cfg.AutoAssignThreshold {
		m.assign(&res, res.Candidates[0])
	}

	res.Elapsed = time.Since(start)
	return res
}

func (m *Matcher) assign(res *Resolution, c model.FRNCandidate) {
	frn := c.FRN
	res.FRN = &frn
	res.Confidence = c.Confidence
	res.QueryMethod = c.MatchType
	res.Routing = model.RoutingAutoAssigned
}

// fuzzyCandidates scores every indexed name against the normalized
// input and returns those above the similarity threshold, best first.
// One candidate per FRN: an institution matched via both its canonical
// name and an alias appears once at its best score.
func (m *Matcher) fuzzyCandidates(normalized string) []model.FRNCandidate {
	best := make(map[string]model.FRNCandidate)
	for _, n := range m.reg.names {
		sim := levenshtein.Similarity(normalized, n.normalized, nil)
		if sim < m.cfg.FuzzyThreshold {
			continue
		}
		if prev, ok := best[n.inst.FRN]; ok && prev.Confidence >= sim {
			continue
		}
		best[n.inst.FRN] = model.FRNCandidate{
			FRN:         n.inst.FRN,
			MatchedName: n.display,
			Confidence:  sim,
			MatchType:   model.MatchFuzzy,
		}
	}

	candidates := make([]model.FRNCandidate, 0, len(best))
	for _, c := range best {
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].FRN < candidates[j].FRN
	})

	if m.cfg.MaxCandidates > 0 && len(candidates) > m.cfg.MaxCandidates {
		candidates = candidates[:m.cfg.MaxCandidates]
	}
	return candidates
}
