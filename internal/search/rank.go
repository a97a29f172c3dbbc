package search

import (
	"sort"

	"github.com/kyleking/fedquery/internal/config"
)

// Boosts rewards structured results with substantive row counts. The larger
// tier is checked first.
type Boosts struct {
	MediumRowThreshold int
	MediumRowBoost     float64
	LargeRowThreshold  int
	LargeRowBoost      float64
}

// DefaultBoosts returns ×1.2 above 100 rows and ×1.5 above 1000 rows
func DefaultBoosts() Boosts {
	return Boosts{
		MediumRowThreshold: 100,
		MediumRowBoost:     1.2,
		LargeRowThreshold:  1000,
		LargeRowBoost:      1.5,
	}
}

// BoostsFromConfig reads the boost tiers from the search section
func BoostsFromConfig(cfg config.SearchConfig) Boosts {
	return Boosts{
		MediumRowThreshold: cfg.MediumRowThreshold,
		MediumRowBoost:     cfg.MediumRowBoost,
		LargeRowThreshold:  cfg.LargeRowThreshold,
		LargeRowBoost:      cfg.LargeRowBoost,
	}
}

// Multiplier returns the boost for a result with rows rows
func (b Boosts) Multiplier(rows int) float64 {
	switch {
	case rows > b.LargeRowThreshold && b.LargeRowBoost > 0:
		return b.LargeRowBoost
	case rows > b.MediumRowThreshold && b.MediumRowBoost > 0:
		return b.MediumRowBoost
	default:
		return 1
	}
}

// Fuse merges both result sets into one ranked list. Structured scores are
// divided by the best structured score and then boosted by row count;
// unstructured scores pass through. Ties rank structured first, then by
// source name. The inputs are not modified.
func Fuse(results []SearchResult, boosts Boosts) []SearchResult {
	maxStructured := 0.0

	for _, r := range results {
		if _, ok := r.Content.(Structured); ok && r.RelevanceScore > maxStructured {
			maxStructured = r.RelevanceScore
		}
	}

	ranked := make([]SearchResult, 0, len(results))

	for _, r := range results {
		switch c := r.Content.(type) {
		case Structured:
			score := r.RelevanceScore
			if maxStructured > 0 {
				score /= maxStructured
			}

			r.RelevanceScore = score * boosts.Multiplier(c.Table.RowCount())
		case Unstructured:
		default:
			continue
		}

		ranked = append(ranked, r)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}

		if a.SourceType() != b.SourceType() {
			return a.SourceType() == SourceStructured
		}

		return a.SourceName < b.SourceName
	})

	return ranked
}
