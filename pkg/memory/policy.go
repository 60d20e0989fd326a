package memory

import (
	"strings"

	"github.com/samber/lo"
)

// DefaultPolicy decides which facts are worth prompting with and how stored
// memories are surfaced.
type DefaultPolicy struct{}

func NewDefaultPolicy() *DefaultPolicy { return &DefaultPolicy{} }

var meaningfulCategories = map[string]struct{}{
	"identity":                  {},
	"location":                  {},
	"occupation":                {},
	"pets":                      {},
	"education":                 {},
	"family":                    {},
	FactCategoryPersonalityMode: {},
	FactCategoryVoicePreference: {},
	FactCategoryEmotionalState:  {},
}

// MeaningfulFact drops uncategorized or trivially short facts.
func (p *DefaultPolicy) MeaningfulFact(f Fact) bool {
	if _, ok := meaningfulCategories[f.Category]; !ok {
		return false
	}
	_, value, ok := strings.Cut(f.Text, ":")
	if !ok {
		value = f.Text
	}
	return len(strings.TrimSpace(value)) >= 2 && len(strings.TrimSpace(f.Text)) >= 4
}

// Surface merges recent, high-importance and topical memories in that
// priority order, deduplicated by id and capped at limit. The reflection
// record is never included; it is rendered separately.
func (p *DefaultPolicy) Surface(recent, important, topical []MemoryRecord, limit int) []MemoryRecord {
	all := make([]MemoryRecord, 0, len(recent)+len(important)+len(topical))
	all = append(all, recent...)
	all = append(all, important...)
	all = append(all, topical...)

	out := lo.UniqBy(all, func(m MemoryRecord) string { return m.ID })
	out = lo.Filter(out, func(m MemoryRecord, _ int) bool {
		return !m.IsReflection() && strings.TrimSpace(m.Text) != ""
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
