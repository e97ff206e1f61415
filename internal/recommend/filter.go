package recommend

import (
	"sort"
	"strings"

	"storefront-assistant/internal/models"
	"storefront-assistant/internal/prompts"
)

// FilterProducts narrows the available catalog for one request.
//
// Category and subcategory are soft hints: when they match nothing the whole
// set is kept. Budget bounds and exclusions are hard constraints.
func FilterProducts(products []models.Product, categories []models.Category, intent *models.IntentAnalysis, reqCtx *models.RequestContext) []models.Product {
	hints := categoryHints(categories, intent, reqCtx)
	pool := products
	if len(hints) > 0 {
		matched := make([]models.Product, 0, len(products))
		for _, p := range products {
			if hints[p.CategoryID] || (p.SubcategoryID != "" && hints[p.SubcategoryID]) {
				matched = append(matched, p)
			}
		}
		if len(matched) > 0 {
			pool = matched
		}
	}

	lo, hi := budgetBounds(intent, reqCtx)
	excluded := map[string]bool{}
	if reqCtx != nil {
		for _, id := range reqCtx.ExcludeProductIDs {
			excluded[id] = true
		}
	}

	out := make([]models.Product, 0, len(pool))
	for _, p := range pool {
		if excluded[p.ID] {
			continue
		}
		if hi != nil && p.Price > *hi {
			continue
		}
		if lo != nil && p.Price < *lo {
			continue
		}
		out = append(out, p)
	}
	return out
}

// categoryHints resolves the intent's category and subcategory (ids or names)
// to category ids. The request context category is used only when the intent
// names none.
func categoryHints(categories []models.Category, intent *models.IntentAnalysis, reqCtx *models.RequestContext) map[string]bool {
	var refs []string
	if intent != nil {
		if intent.Category != nil && strings.TrimSpace(*intent.Category) != "" {
			refs = append(refs, *intent.Category)
		}
		if intent.Subcategory != nil && strings.TrimSpace(*intent.Subcategory) != "" {
			refs = append(refs, *intent.Subcategory)
		}
	}
	if len(refs) == 0 && reqCtx != nil && reqCtx.CategoryID != "" {
		refs = append(refs, reqCtx.CategoryID)
	}
	if len(refs) == 0 {
		return nil
	}

	hints := make(map[string]bool, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		hints[ref] = true
		for _, c := range categories {
			if strings.EqualFold(c.Name, ref) {
				hints[c.ID] = true
			}
		}
	}
	return hints
}

// budgetBounds combines the intent budget with the request context budget,
// which acts as an upper bound. Non-positive maxima mean unknown.
func budgetBounds(intent *models.IntentAnalysis, reqCtx *models.RequestContext) (lo, hi *float64) {
	if intent != nil {
		if intent.Budget.Min != nil && *intent.Budget.Min > 0 {
			v := *intent.Budget.Min
			lo = &v
		}
		if intent.Budget.Max != nil && *intent.Budget.Max > 0 {
			v := *intent.Budget.Max
			hi = &v
		}
	}
	if reqCtx != nil && reqCtx.Budget != nil && *reqCtx.Budget > 0 {
		if hi == nil || *reqCtx.Budget < *hi {
			v := *reqCtx.Budget
			hi = &v
		}
	}
	return lo, hi
}

// BuildMatches joins the model's rankings back to the candidates it was shown.
// Unknown or repeated ids are dropped, scores are clamped to 0..100 and the
// result is ordered by score (ties keep the model's order) and cut to limit.
func BuildMatches(rankings []prompts.Ranking, candidates []models.Product, limit int) []models.ProductMatch {
	byID := make(map[string]models.Product, len(candidates))
	for _, p := range candidates {
		byID[p.ID] = p
	}

	seen := make(map[string]bool, len(rankings))
	matches := make([]models.ProductMatch, 0, len(rankings))
	for _, r := range rankings {
		p, ok := byID[r.ProductID]
		if !ok || seen[r.ProductID] {
			continue
		}
		seen[r.ProductID] = true

		highlights := r.Highlights
		if highlights == nil {
			highlights = []string{}
		}
		matches = append(matches, models.ProductMatch{
			Product:        p,
			MatchScore:     clampScore(r.MatchScore),
			Highlights:     highlights,
			WhyRecommended: r.WhyRecommended,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchScore > matches[j].MatchScore
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func clampScore(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 100:
		return 100
	default:
		return s
	}
}
