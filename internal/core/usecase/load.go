package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/pricewatch/internal/core/domain"
	"github.com/kirillkom/pricewatch/internal/core/ports"
)

// WriterLockName guards every pipeline writer (loader and tagging engine).
const WriterLockName = "pricewatch.writer"

const maxReportedRejections = 50

type LoadUseCase struct {
	staging  ports.StagingStore
	catalog  ports.CatalogStore
	locker   ports.RunLocker
	observer ports.PipelineObserver
	logger   *slog.Logger
}

func NewLoadUseCase(
	staging ports.StagingStore,
	catalog ports.CatalogStore,
	locker ports.RunLocker,
	observer ports.PipelineObserver,
	logger *slog.Logger,
) *LoadUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoadUseCase{
		staging:  staging,
		catalog:  catalog,
		locker:   locker,
		observer: observer,
		logger:   logger.With("component", "loader"),
	}
}

// Run drains every eligible collection, oldest first, one transaction each.
// A failed collection does not stop the run; it is reported in the summary.
func (uc *LoadUseCase) Run(ctx context.Context) (domain.LoadSummary, error) {
	summary := domain.LoadSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	unlock, err := uc.lock(ctx)
	if err != nil {
		return summary, err
	}
	defer unlock()

	collections, err := uc.staging.ListUnprocessed(ctx)
	if err != nil {
		return summary, fmt.Errorf("list unprocessed collections: %w", err)
	}
	uc.logger.Info("load_run_started", "run_id", summary.RunID, "collections", len(collections))

	for _, c := range collections {
		if err := ctx.Err(); err != nil {
			summary.FinishedAt = time.Now().UTC()
			return summary, err
		}
		summary.Collections = append(summary.Collections, uc.loadOne(ctx, c))
	}

	summary.FinishedAt = time.Now().UTC()
	uc.logger.Info("load_run_finished",
		"run_id", summary.RunID,
		"collections", len(summary.Collections),
		"failed", summary.Failed(),
	)
	return summary, nil
}

// LoadCollection loads one collection by key. Processed collections are skipped.
func (uc *LoadUseCase) LoadCollection(ctx context.Context, key string) (domain.CollectionResult, error) {
	unlock, err := uc.lock(ctx)
	if err != nil {
		return domain.CollectionResult{Key: key}, err
	}
	defer unlock()

	c, err := uc.staging.Get(ctx, key)
	if err != nil {
		return domain.CollectionResult{Key: key}, fmt.Errorf("get collection: %w", err)
	}
	if !c.Eligible() {
		uc.logger.Info("collection_skipped", "collection", c.Key, "state", c.State)
		return domain.CollectionResult{Key: c.Key, State: c.State}, nil
	}
	return uc.loadOne(ctx, c), nil
}

func (uc *LoadUseCase) lock(ctx context.Context) (func(), error) {
	if uc.locker == nil {
		return func() {}, nil
	}
	unlock, err := uc.locker.TryLock(ctx, WriterLockName)
	if err != nil {
		return nil, fmt.Errorf("acquire writer lock: %w", err)
	}
	return unlock, nil
}

func (uc *LoadUseCase) loadOne(ctx context.Context, c domain.Collection) domain.CollectionResult {
	start := time.Now()
	result := domain.CollectionResult{Key: c.Key, State: c.State}
	// State bookkeeping must still happen when the run context is cancelled mid-collection.
	stateCtx := context.WithoutCancel(ctx)

	if _, err := uc.staging.MarkProcessing(stateCtx, c.Key); err != nil {
		result.Error = fmt.Sprintf("mark processing: %v", err)
		return uc.finish(result, start)
	}

	err := uc.merge(ctx, c, &result)
	switch {
	case err == nil:
		if markErr := uc.staging.MarkProcessed(stateCtx, c.Key); markErr != nil {
			// Rows are committed; a rerun skips them as duplicates.
			result.State = domain.CollectionProcessing
			result.Error = fmt.Sprintf("mark processed: %v", markErr)
			break
		}
		result.State = domain.CollectionProcessed
	case isPermanentLoadError(err):
		result.Inserted, result.Duplicates = 0, 0
		result.Error = err.Error()
		result.State = domain.CollectionFailed
		if markErr := uc.staging.MarkFailed(stateCtx, c.Key, err.Error()); markErr != nil {
			result.State = domain.CollectionProcessing
			result.Error = fmt.Sprintf("%v; mark failed: %v", err, markErr)
		}
	default:
		result.Inserted, result.Duplicates = 0, 0
		result.Error = err.Error()
		result.State = domain.CollectionUnprocessed
		if relErr := uc.staging.Release(stateCtx, c.Key, err.Error()); relErr != nil {
			result.State = domain.CollectionProcessing
			result.Error = fmt.Sprintf("%v; release: %v", err, relErr)
		}
	}
	return uc.finish(result, start)
}

func (uc *LoadUseCase) finish(result domain.CollectionResult, start time.Time) domain.CollectionResult {
	result.Duration = time.Since(start)
	attrs := []any{
		"collection", result.Key,
		"state", result.State,
		"read", result.Read,
		"inserted", result.Inserted,
		"duplicates", result.Duplicates,
		"rejected", result.RejectedCount,
		"duration_ms", float64(result.Duration.Microseconds()) / 1000.0,
	}
	if result.Succeeded() {
		uc.logger.Info("collection_loaded", attrs...)
	} else {
		uc.logger.Error("collection_load_failed", append(attrs, "error", result.Error)...)
	}
	if uc.observer != nil {
		uc.observer.ObserveCollection(result)
	}
	return result
}

// merge applies one collection inside a single transaction. Nothing is visible
// unless every record was either merged or rejected by validation.
func (uc *LoadUseCase) merge(ctx context.Context, c domain.Collection, result *domain.CollectionResult) error {
	tx, err := uc.catalog.BeginLoad(ctx)
	if err != nil {
		return domain.WrapError(domain.ErrTransaction, "begin load", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	observedAt := c.ObservedAt()
	posIDs := make(map[string]int64)
	articleIDs := make(map[string]int64)

	err = uc.staging.Records(ctx, c, func(staged domain.StagedRecord) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.Read++
		if staged.Err != nil {
			uc.reject(result, staged, staged.Err)
			return nil
		}
		rec, err := NormalizeRecord(staged.Record, observedAt)
		if err != nil {
			uc.reject(result, staged, err)
			return nil
		}

		posID, ok := posIDs[rec.PointOfSale.Code]
		if !ok {
			posID, err = tx.UpsertPointOfSale(ctx, rec.PointOfSale)
			if err != nil {
				return fmt.Errorf("upsert point of sale %s: %w", rec.PointOfSale.Code, err)
			}
			posIDs[rec.PointOfSale.Code] = posID
		}
		articleID, ok := articleIDs[rec.Article.SKU]
		if !ok {
			articleID, err = tx.UpsertArticle(ctx, rec.Article)
			if err != nil {
				return fmt.Errorf("upsert article %s: %w", rec.Article.SKU, err)
			}
			articleIDs[rec.Article.SKU] = articleID
		}

		obs := rec.Observation
		obs.ArticleID = articleID
		obs.PointOfSaleID = posID
		obs.CollectionKey = c.Key
		inserted, err := tx.InsertObservation(ctx, obs)
		if err != nil {
			return fmt.Errorf("insert observation sku=%s pos=%s: %w", rec.Article.SKU, rec.PointOfSale.Code, err)
		}
		if inserted {
			result.Inserted++
		} else {
			result.Duplicates++
		}
		return nil
	})
	if err != nil {
		if isPermanentLoadError(err) || domain.IsKind(err, domain.ErrTransaction) {
			return err
		}
		return domain.WrapError(domain.ErrTransaction, "merge collection "+c.Key, err)
	}

	if err := tx.Commit(); err != nil {
		return domain.WrapError(domain.ErrTransaction, "commit collection "+c.Key, err)
	}
	committed = true
	return nil
}

func (uc *LoadUseCase) reject(result *domain.CollectionResult, staged domain.StagedRecord, err error) {
	result.RejectedCount++
	if len(result.Rejected) < maxReportedRejections {
		result.Rejected = append(result.Rejected, domain.RecordRejection{
			Shard:  staged.Shard,
			Line:   staged.Line,
			SKU:    staged.Record.SKU,
			Reason: err.Error(),
		})
	}
	uc.logger.Warn("record_rejected",
		"collection", result.Key,
		"shard", staged.Shard,
		"line", staged.Line,
		"sku", staged.Record.SKU,
		"error", err,
	)
}

// isPermanentLoadError marks failures that a plain retry cannot fix: unexpected
// natural-key collisions and collections whose shards cannot be read.
func isPermanentLoadError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return domain.IsKind(err, domain.ErrIntegrityViolation) || domain.IsKind(err, domain.ErrInvalidInput)
}
