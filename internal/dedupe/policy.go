package dedupe

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rateledger/deposits-cli/internal/config"
	"github.com/rateledger/deposits-cli/internal/model"
)

// member pairs a product with its quality score for selection.
type member struct {
	product  model.EnrichedProduct
	score    float64
	scoreErr error
}

// resolvedGroup is the outcome of selection for one emitted group row:
// exactly one survivor and zero or more rejected members.
type resolvedGroup struct {
	Key       string
	Reason    model.SelectionReason
	Survivor  member
	Rejected  []model.RejectedProduct
	Members   []member
	FSCSFlags []string
}

// selectGroup applies the selection policies to one business-key group.
// Policies that separate rather than collapse (platform, FSCS) split the
// group into sub-keys so every emitted row keeps the one-survivor
// invariant. Policy precedence follows cfg.PolicyOrder.
func selectGroup(key string, members []member, cfg config.DedupeConfig) []resolvedGroup {
	// Malformed quality input: defensive fallback, keep every member.
	for _, m := range members {
		if m.scoreErr != nil {
			return fallbackGroups(key, members)
		}
	}

	if len(members) == 1 {
		return []resolvedGroup{{
			Key:      key,
			Reason:   model.SelectionSingleProduct,
			Survivor: members[0],
			Members:  members,
		}}
	}

	for _, policy := range cfg.PolicyOrder {
		switch policy {
		case "fscs_bank_separation":
			if groups, ok := fscsSeparation(key, members, cfg); ok {
				return groups
			}
		case "platform_separation":
			if groups, ok := platformSeparation(key, members, cfg); ok {
				return groups
			}
		}
	}

	return []resolvedGroup{qualityRanked(key, members, model.SelectionQualityRanked)}
}

// fallbackGroups keeps every member as its own survivor and flags the
// group, so a non-numeric quality input never crashes the batch.
func fallbackGroups(key string, members []member) []resolvedGroup {
	out := make([]resolvedGroup, 0, len(members))
	for _, m := range members {
		flag := fmt.Sprintf("business key %s: quality score unavailable for product %s, selection skipped", key, m.product.ID)
		out = append(out, resolvedGroup{
			Key:       key + "|" + m.product.ID,
			Reason:    model.SelectionQualityFallback,
			Survivor:  m,
			Members:   []member{m},
			FSCSFlags: []string{flag},
		})
	}
	return out
}

// fscsSeparation applies when every member resolves to the same
// institution (one FRN) under different brand names and their combined
// deposit caps exceed the protection limit. Brands are kept separate so
// a saver can stay under the limit per brand; the joint excess is
// flagged for the audit summary.
func fscsSeparation(key string, members []member, cfg config.DedupeConfig) ([]resolvedGroup, bool) {
	frn := ""
	for _, m := range members {
		if m.product.FRN == nil {
			return nil, false
		}
		if frn == "" {
			frn = *m.product.FRN
		} else if frn != *m.product.FRN {
			return nil, false
		}
	}

	byBrand := make(map[string][]member)
	for _, m := range members {
		byBrand[strings.ToLower(m.product.BankName)] = append(byBrand[strings.ToLower(m.product.BankName)], m)
	}
	if len(byBrand) < 2 {
		return nil, false
	}

	limit := decimal.NewFromFloat(cfg.FSCSLimit)
	joint := decimal.Zero
	for _, m := range members {
		joint = joint.Add(depositCap(m.product, limit))
	}
	if joint.LessThanOrEqual(limit) {
		return nil, false
	}

	flag := fmt.Sprintf("business key %s: combined holdings cap %s exceeds FSCS limit %s for FRN %s",
		key, joint, limit, frn)

	brands := make([]string, 0, len(byBrand))
	for b := range byBrand {
		brands = append(brands, b)
	}
	sort.Strings(brands)

	out := make([]resolvedGroup, 0, len(brands))
	for _, b := range brands {
		g := qualityRanked(key+"|"+slug(b), byBrand[b], model.SelectionFSCSSeparation)
		g.FSCSFlags = []string{flag}
		out = append(out, g)
	}
	return out, true
}

// platformSeparation applies when members span multiple platforms. With
// a configured platform preference present in the group, the group
// collapses to the preferred platform's best member; otherwise each
// platform keeps its own best member as a non-duplicate.
func platformSeparation(key string, members []member, cfg config.DedupeConfig) ([]resolvedGroup, bool) {
	byPlatform := make(map[string][]member)
	for _, m := range members {
		byPlatform[m.product.Platform] = append(byPlatform[m.product.Platform], m)
	}
	if len(byPlatform) < 2 {
		return nil, false
	}

	// Registered preference: collapse to the preferred platform.
	for _, preferred := range cfg.PreferredPlatforms {
		if _, ok := byPlatform[preferred]; !ok {
			continue
		}
		ranked := rankMembers(members)
		var survivor member
		for _, m := range ranked {
			if m.product.Platform == preferred {
				survivor = m
				break
			}
		}
		g := resolvedGroup{
			Key:      key,
			Reason:   model.SelectionPlatformPriority,
			Survivor: survivor,
			Members:  members,
		}
		for _, m := range ranked {
			if m.product.ID == survivor.product.ID {
				continue
			}
			g.Rejected = append(g.Rejected, reject(m, survivor, model.SelectionPlatformPriority))
		}
		return []resolvedGroup{g}, true
	}

	// No preference: same product on different platforms is not a
	// duplicate. Keep the best member per platform.
	platforms := make([]string, 0, len(byPlatform))
	for p := range byPlatform {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)

	out := make([]resolvedGroup, 0, len(platforms))
	for _, p := range platforms {
		out = append(out, qualityRanked(key+"|"+slug(p), byPlatform[p], model.SelectionPlatformSeparation))
	}
	return out, true
}

// qualityRanked picks the single best member: highest quality score,
// ties broken by most recent last_updated, then smallest product id.
func qualityRanked(key string, members []member, reason model.SelectionReason) resolvedGroup {
	ranked := rankMembers(members)
	if len(ranked) == 1 && reason == model.SelectionQualityRanked {
		reason = model.SelectionSingleProduct
	}

	g := resolvedGroup{
		Key:      key,
		Reason:   reason,
		Survivor: ranked[0],
		Members:  members,
	}
	for _, m := range ranked[1:] {
		g.Rejected = append(g.Rejected, reject(m, ranked[0], reason))
	}
	return g
}

func rankMembers(members []member) []member {
	ranked := make([]member, len(members))
	copy(ranked, members)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if !ranked[i].product.LastUpdated.Equal(ranked[j].product.LastUpdated) {
			return ranked[i].product.LastUpdated.After(ranked[j].product.LastUpdated)
		}
		return ranked[i].product.ID < ranked[j].product.ID
	})
	return ranked
}

func reject(loser, survivor member, reason model.SelectionReason) model.RejectedProduct {
	return model.RejectedProduct{
		ProductID:       loser.product.ID,
		Platform:        loser.product.Platform,
		BankName:        loser.product.BankName,
		AERRate:         loser.product.AERRate,
		RejectionReason: string(reason),
		QualityScore:    loser.score,
		LostTo:          survivor.product.ID,
		Comparison: model.ComparisonMetrics{
			RateDelta:    survivor.product.AERRate.Sub(loser.product.AERRate),
			QualityDelta: survivor.score - loser.score,
		},
	}
}

// depositCap is the amount of a saver's money a listing can hold for
// FSCS purposes: the product's max deposit, or the limit itself when
// the product is uncapped.
func depositCap(p model.EnrichedProduct, limit decimal.Decimal) decimal.Decimal {
	if p.MaxDeposit.Valid && p.MaxDeposit.Decimal.LessThan(limit) {
		return p.MaxDeposit.Decimal
	}
	return limit
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "-", "'", "", ".", "").Replace(s)
}
