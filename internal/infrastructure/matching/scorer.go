package matching

import (
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

// Scorer compares a phrase against every run of description tokens with the
// same length as the phrase, plus the whole description, and keeps the best
// Levenshtein similarity. Both sides are folded first.
type Scorer struct {
	metric *metrics.Levenshtein
}

func NewScorer() *Scorer {
	lev := metrics.NewLevenshtein()
	lev.CaseSensitive = false
	return &Scorer{metric: lev}
}

func (s *Scorer) Similarity(description, phrase string) float64 {
	p := domain.FoldText(phrase)
	d := domain.FoldText(description)
	if p == "" || d == "" {
		return 0
	}

	best := strutil.Similarity(d, p, s.metric)
	if best == 1 {
		return 1
	}
	words := strings.Fields(d)
	n := len(strings.Fields(p))
	if n >= len(words) {
		return best
	}
	for i := 0; i+n <= len(words); i++ {
		window := strings.Join(words[i:i+n], " ")
		if sim := strutil.Similarity(window, p, s.metric); sim > best {
			best = sim
			if best == 1 {
				break
			}
		}
	}
	return best
}
