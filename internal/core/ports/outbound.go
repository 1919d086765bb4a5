package ports

import (
	"context"
	"io"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

// StagingStore owns the durable staging area and the state of its collections.
type StagingStore interface {
	Create(ctx context.Context) (CollectionWriter, error)
	Get(ctx context.Context, key string) (domain.Collection, error)
	List(ctx context.Context) ([]domain.Collection, error)
	ListUnprocessed(ctx context.Context) ([]domain.Collection, error)
	Records(ctx context.Context, c domain.Collection, fn func(domain.StagedRecord) error) error

	MarkProcessing(ctx context.Context, key string) (domain.Collection, error)
	MarkProcessed(ctx context.Context, key string) error
	MarkFailed(ctx context.Context, key, reason string) error
	Release(ctx context.Context, key, reason string) error
	Reset(ctx context.Context, key string) error
}

// CollectionWriter appends records to an open, not yet visible collection.
type CollectionWriter interface {
	Key() string
	Append(ctx context.Context, rec domain.RawRecord) error
	Seal(ctx context.Context) (domain.Collection, error)
	Abort() error
}

// CatalogStore opens one all-or-nothing merge scope per collection.
type CatalogStore interface {
	BeginLoad(ctx context.Context) (LoadTx, error)
}

type LoadTx interface {
	UpsertPointOfSale(ctx context.Context, pos domain.PointOfSale) (int64, error)
	UpsertArticle(ctx context.Context, article domain.Article) (int64, error)
	InsertObservation(ctx context.Context, obs domain.PriceObservation) (bool, error)
	Commit() error
	Rollback() error
}

// RunLocker provides process-level exclusivity for pipeline writers.
type RunLocker interface {
	TryLock(ctx context.Context, name string) (unlock func(), err error)
}

// TagStore persists tag assignments and the review queue.
type TagStore interface {
	ListCandidates(ctx context.Context) ([]domain.Article, error)
	BeginTagging(ctx context.Context) (TagTx, error)
}

type TagTx interface {
	SyncTags(ctx context.Context, dict domain.TagDictionary) (map[string]int64, error)
	ArticleBySKU(ctx context.Context, sku string) (domain.Article, error)
	TagByLabel(ctx context.Context, label string) (domain.Tag, error)
	AssignTag(ctx context.Context, tag domain.ArticleTag) (bool, error)
	SaveReview(ctx context.Context, review domain.AmbiguousMatch) error
	ClearReviews(ctx context.Context, articleIDs []int64) error
	Commit() error
	Rollback() error
}

// DictionarySource yields the tag dictionary for one tagging run.
type DictionarySource interface {
	Load(ctx context.Context) (domain.TagDictionary, error)
}

// SimilarityScorer rates how well a phrase matches a description, in [0,1].
type SimilarityScorer interface {
	Similarity(description, phrase string) float64
}

// ReportRepository is the read model behind reports.
type ReportRepository interface {
	LatestPrices(ctx context.Context, filter domain.ReportFilter) ([]domain.PriceRow, error)
	BrandTags(ctx context.Context, brand string) ([]string, error)
	ListUntagged(ctx context.Context, limit int) ([]domain.Article, error)
	ListReviews(ctx context.Context) ([]domain.AmbiguousMatch, error)
}

// CollectionEvents announces sealed collections to workers.
type CollectionEvents interface {
	PublishCollectionSealed(ctx context.Context, key string) error
	SubscribeCollectionSealed(ctx context.Context, handler func(context.Context, string) error) error
}

// PipelineObserver receives run outcomes, typically for metrics.
type PipelineObserver interface {
	ObserveCollection(result domain.CollectionResult)
	ObserveTagging(summary domain.TagSummary)
}

// ReportExporter renders a report into a downloadable document.
type ReportExporter interface {
	ContentType() string
	Extension() string
	WriteReport(w io.Writer, sheet, groupHeader string, report domain.Report) error
}
