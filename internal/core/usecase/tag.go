package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/pricewatch/internal/core/domain"
	"github.com/kirillkom/pricewatch/internal/core/ports"
)

// scoreEpsilon is the distance under which two similarity scores count as a tie.
const scoreEpsilon = 1e-9

const maxReviewCandidates = 3

type TagUseCase struct {
	store      ports.TagStore
	dictionary ports.DictionarySource
	scorer     ports.SimilarityScorer
	thresholds domain.TagThresholds
	locker     ports.RunLocker
	observer   ports.PipelineObserver
	logger     *slog.Logger
}

func NewTagUseCase(
	store ports.TagStore,
	dictionary ports.DictionarySource,
	scorer ports.SimilarityScorer,
	thresholds domain.TagThresholds,
	locker ports.RunLocker,
	observer ports.PipelineObserver,
	logger *slog.Logger,
) *TagUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &TagUseCase{
		store:      store,
		dictionary: dictionary,
		scorer:     scorer,
		thresholds: thresholds,
		locker:     locker,
		observer:   observer,
		logger:     logger.With("component", "tagger"),
	}
}

// Run tags every article that has no automatic tag yet. The dictionary and the
// thresholds are validated before anything is written.
func (uc *TagUseCase) Run(ctx context.Context) (domain.TagSummary, error) {
	summary := domain.TagSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Ambiguous: []domain.AmbiguousMatch{},
	}

	if err := uc.thresholds.Validate(); err != nil {
		return summary, err
	}
	dict, err := uc.dictionary.Load(ctx)
	if err != nil {
		if domain.IsKind(err, domain.ErrDictionary) {
			return summary, err
		}
		return summary, domain.WrapError(domain.ErrDictionary, "load dictionary", err)
	}
	if err := ValidateDictionary(dict); err != nil {
		return summary, err
	}
	summary.DictionaryVersion = dict.Version

	unlock, err := uc.lock(ctx)
	if err != nil {
		return summary, err
	}
	defer unlock()

	candidates, err := uc.store.ListCandidates(ctx)
	if err != nil {
		return summary, fmt.Errorf("list tagging candidates: %w", err)
	}
	summary.Candidates = len(candidates)

	if err := uc.apply(ctx, dict, candidates, &summary); err != nil {
		return summary, err
	}

	summary.FinishedAt = time.Now().UTC()
	uc.logger.Info("tag_run_finished",
		"run_id", summary.RunID,
		"dictionary_version", summary.DictionaryVersion,
		"candidates", summary.Candidates,
		"assigned", summary.Assigned,
		"ambiguous", len(summary.Ambiguous),
		"unmatched", summary.Unmatched,
	)
	if uc.observer != nil {
		uc.observer.ObserveTagging(summary)
	}
	return summary, nil
}

func (uc *TagUseCase) apply(ctx context.Context, dict domain.TagDictionary, candidates []domain.Article, summary *domain.TagSummary) error {
	tx, err := uc.store.BeginTagging(ctx)
	if err != nil {
		return domain.WrapError(domain.ErrTransaction, "begin tagging", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	tagIDs, err := tx.SyncTags(ctx, dict)
	if err != nil {
		return domain.WrapError(domain.ErrTransaction, "sync tags", err)
	}

	entries := sortedEntries(dict)
	now := time.Now().UTC()
	// Assigned and unmatched articles both leave the ambiguous set.
	resolved := make([]int64, 0, len(candidates))

	for _, article := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		decision := Decide(ScoreEntries(uc.scorer, article.Description, entries), uc.thresholds)

		switch decision.Outcome {
		case domain.TagOutcomeAssigned:
			tagID, ok := tagIDs[decision.Label]
			if !ok {
				return domain.WrapError(domain.ErrTransaction, "assign tag", fmt.Errorf("tag %q was not synced", decision.Label))
			}
			if _, err := tx.AssignTag(ctx, domain.ArticleTag{
				ArticleID:  article.ID,
				TagID:      tagID,
				Label:      decision.Label,
				Confidence: decision.Score,
				Method:     domain.TagMethodAutomatic,
				AssignedAt: now,
				RunID:      summary.RunID,
			}); err != nil {
				return domain.WrapError(domain.ErrTransaction, "assign tag", err)
			}
			resolved = append(resolved, article.ID)
			summary.Assigned++
			uc.logger.Debug("tag_assigned", "sku", article.SKU, "tag", decision.Label, "score", decision.Score)
		case domain.TagOutcomeAmbiguous:
			review := domain.AmbiguousMatch{
				ArticleID:      article.ID,
				SKU:            article.SKU,
				Description:    article.Description,
				SuggestedLabel: decision.Label,
				Score:          decision.Score,
				Reason:         decision.Reason,
				Candidates:     decision.Candidates,
				RunID:          summary.RunID,
				UpdatedAt:      now,
			}
			if err := tx.SaveReview(ctx, review); err != nil {
				return domain.WrapError(domain.ErrTransaction, "save review", err)
			}
			summary.Ambiguous = append(summary.Ambiguous, review)
		default:
			resolved = append(resolved, article.ID)
			summary.Unmatched++
		}
	}

	if err := tx.ClearReviews(ctx, resolved); err != nil {
		return domain.WrapError(domain.ErrTransaction, "clear reviews", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.WrapError(domain.ErrTransaction, "commit tagging", err)
	}
	committed = true
	return nil
}

// AssignManual records an operator decision. Manual tags are never replaced by
// automatic runs.
func (uc *TagUseCase) AssignManual(ctx context.Context, sku, label string) error {
	sku = strings.TrimSpace(sku)
	label = strings.TrimSpace(label)
	if sku == "" || label == "" {
		return domain.WrapError(domain.ErrInvalidInput, "assign manual tag", errors.New("sku and label are required"))
	}

	unlock, err := uc.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	tx, err := uc.store.BeginTagging(ctx)
	if err != nil {
		return domain.WrapError(domain.ErrTransaction, "begin manual tagging", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	article, err := tx.ArticleBySKU(ctx, sku)
	if err != nil {
		return fmt.Errorf("find article: %w", err)
	}
	tag, err := tx.TagByLabel(ctx, label)
	if err != nil {
		return fmt.Errorf("find tag: %w", err)
	}
	if _, err := tx.AssignTag(ctx, domain.ArticleTag{
		ArticleID:  article.ID,
		TagID:      tag.ID,
		Label:      tag.Label,
		Confidence: 1,
		Method:     domain.TagMethodManual,
		AssignedAt: time.Now().UTC(),
	}); err != nil {
		return domain.WrapError(domain.ErrTransaction, "assign manual tag", err)
	}
	if err := tx.ClearReviews(ctx, []int64{article.ID}); err != nil {
		return domain.WrapError(domain.ErrTransaction, "clear review", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.WrapError(domain.ErrTransaction, "commit manual tagging", err)
	}
	uc.logger.Info("tag_assigned_manually", "sku", sku, "tag", tag.Label)
	return nil
}

func (uc *TagUseCase) lock(ctx context.Context) (func(), error) {
	if uc.locker == nil {
		return func() {}, nil
	}
	unlock, err := uc.locker.TryLock(ctx, WriterLockName)
	if err != nil {
		return nil, fmt.Errorf("acquire writer lock: %w", err)
	}
	return unlock, nil
}

func sortedEntries(dict domain.TagDictionary) []domain.DictionaryEntry {
	entries := make([]domain.DictionaryEntry, len(dict.Entries))
	copy(entries, dict.Entries)
	for i := range entries {
		entries[i].Label = strings.TrimSpace(entries[i].Label)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Label < entries[j].Label })
	return entries
}

// ScoreEntries rates every dictionary entry against a description. An entry
// scores the best of its label and phrases. The result is ordered by score,
// highest first, then by label so the order never depends on the dictionary file.
func ScoreEntries(scorer ports.SimilarityScorer, description string, entries []domain.DictionaryEntry) []domain.TagCandidate {
	out := make([]domain.TagCandidate, 0, len(entries))
	for _, entry := range entries {
		best := clampScore(scorer.Similarity(description, entry.Label))
		for _, phrase := range entry.Phrases {
			if s := clampScore(scorer.Similarity(description, phrase)); s > best {
				best = s
			}
		}
		out = append(out, domain.TagCandidate{Label: strings.TrimSpace(entry.Label), Score: best})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if math.Abs(out[i].Score-out[j].Score) > scoreEpsilon {
			return out[i].Score > out[j].Score
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Decide applies the acceptance rule to ordered candidates.
func Decide(candidates []domain.TagCandidate, th domain.TagThresholds) domain.TagDecision {
	if len(candidates) == 0 {
		return domain.TagDecision{Outcome: domain.TagOutcomeUnmatched}
	}
	best := candidates[0]

	if best.Score >= th.Accept {
		tied := []domain.TagCandidate{best}
		for _, c := range candidates[1:] {
			if math.Abs(c.Score-best.Score) > scoreEpsilon {
				break
			}
			tied = append(tied, c)
		}
		if len(tied) > 1 {
			return domain.TagDecision{
				Outcome:    domain.TagOutcomeAmbiguous,
				Label:      best.Label,
				Score:      best.Score,
				Reason:     domain.AmbiguityTie,
				Candidates: tied,
			}
		}
		return domain.TagDecision{Outcome: domain.TagOutcomeAssigned, Label: best.Label, Score: best.Score}
	}

	if best.Score >= th.Review {
		n := len(candidates)
		if n > maxReviewCandidates {
			n = maxReviewCandidates
		}
		return domain.TagDecision{
			Outcome:    domain.TagOutcomeAmbiguous,
			Label:      best.Label,
			Score:      best.Score,
			Reason:     domain.AmbiguityReview,
			Candidates: append([]domain.TagCandidate(nil), candidates[:n]...),
		}
	}

	return domain.TagDecision{Outcome: domain.TagOutcomeUnmatched, Score: best.Score}
}

func clampScore(s float64) float64 {
	switch {
	case math.IsNaN(s) || s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}
