package domain

import (
	"fmt"
	"time"
)

// DictionaryEntry is one canonical tag with the phrases that identify it.
type DictionaryEntry struct {
	Label   string   `yaml:"label" json:"label"`
	Parent  string   `yaml:"parent,omitempty" json:"parent,omitempty"`
	Phrases []string `yaml:"phrases" json:"phrases"`
}

type TagDictionary struct {
	Version string            `yaml:"version" json:"version"`
	Entries []DictionaryEntry `yaml:"tags" json:"tags"`
}

type TagThresholds struct {
	Accept float64 `json:"accept"`
	Review float64 `json:"review"`
}

func (t TagThresholds) Validate() error {
	if t.Review < 0 || t.Accept > 1 || t.Review > t.Accept {
		return WrapError(ErrDictionary, "validate thresholds",
			fmt.Errorf("need 0 <= review (%.3f) <= accept (%.3f) <= 1", t.Review, t.Accept))
	}
	return nil
}

type TagOutcome string

const (
	TagOutcomeAssigned  TagOutcome = "assigned"
	TagOutcomeAmbiguous TagOutcome = "ambiguous"
	TagOutcomeUnmatched TagOutcome = "unmatched"
)

type AmbiguityReason string

const (
	AmbiguityReview AmbiguityReason = "below_accept"
	AmbiguityTie    AmbiguityReason = "tie"
)

type TagCandidate struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// TagDecision is the engine's verdict for one article.
type TagDecision struct {
	Outcome    TagOutcome      `json:"outcome"`
	Label      string          `json:"label,omitempty"`
	Score      float64         `json:"score"`
	Reason     AmbiguityReason `json:"reason,omitempty"`
	Candidates []TagCandidate  `json:"candidates,omitempty"`
}

// AmbiguousMatch is an article parked for human review.
type AmbiguousMatch struct {
	ArticleID      int64           `json:"article_id"`
	SKU            string          `json:"sku"`
	Description    string          `json:"description"`
	SuggestedLabel string          `json:"suggested_label"`
	Score          float64         `json:"score"`
	Reason         AmbiguityReason `json:"reason"`
	Candidates     []TagCandidate  `json:"candidates,omitempty"`
	RunID          string          `json:"run_id,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type TagSummary struct {
	RunID             string           `json:"run_id"`
	DictionaryVersion string           `json:"dictionary_version"`
	Candidates        int              `json:"candidates"`
	Assigned          int              `json:"assigned"`
	Unmatched         int              `json:"unmatched"`
	Ambiguous         []AmbiguousMatch `json:"ambiguous"`
	StartedAt         time.Time        `json:"started_at"`
	FinishedAt        time.Time        `json:"finished_at"`
}
