package validate

import (
	"strings"

	"go.uber.org/zap"

	"github.com/ormasoftchile/autodoctor/pkg/model"
)

// SuggestEntity proposes an existing entity for an unresolved id. Only
// entities of the same domain are candidates, and only object ids at least
// EntitySuggestionThreshold similar qualify. Any failure yields "".
func (v *Validator) SuggestEntity(id string) (suggestion string) {
	defer func() {
		if r := recover(); r != nil {
			v.log.Debug("entity suggestion failed", zap.String("entity", id), zap.Any("panic", r))
			suggestion = ""
		}
	}()

	domain, object := model.SplitEntityID(id)
	if domain == "" || object == "" {
		return ""
	}
	candidates, err := v.kb.Candidates(domain)
	if err != nil {
		v.log.Debug("entity suggestion unavailable", zap.String("entity", id), zap.Error(err))
		return ""
	}

	pool := make([]string, 0, len(candidates))
	for _, c := range candidates {
		d, o := model.SplitEntityID(c)
		if d != domain || c == id {
			continue
		}
		pool = append(pool, o)
	}
	best, ok := bestMatch(object, pool, v.opts.EntitySuggestionThreshold)
	if !ok {
		return ""
	}
	return domain + "." + best
}

// suggestValue proposes the closest legal value, compared case-insensitively.
func (v *Validator) suggestValue(want string, legal []string) string {
	lowered := make([]string, len(legal))
	for i, s := range legal {
		lowered[i] = strings.ToLower(s)
	}
	best, ok := bestMatch(strings.ToLower(want), lowered, v.opts.ValueSuggestionThreshold)
	if !ok {
		return ""
	}
	for i, l := range lowered {
		if l == best {
			return legal[i]
		}
	}
	return ""
}

// bestMatch returns the highest-scoring candidate at or above threshold.
// Ties keep the first candidate.
func bestMatch(s string, candidates []string, threshold float64) (string, bool) {
	best, score := "", 0.0
	for _, c := range candidates {
		if r := Ratio(s, c); r > score {
			best, score = c, r
		}
	}
	return best, best != "" && score >= threshold
}
