package ports

import (
	"context"
	"io"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

// Stager is the inbound contract for writing extracted records to staging.
type Stager interface {
	StageJSONL(ctx context.Context, inputs ...io.Reader) (domain.Collection, error)
}

// Loader drains sealed staging collections into the catalog.
type Loader interface {
	Run(ctx context.Context) (domain.LoadSummary, error)
	LoadCollection(ctx context.Context, key string) (domain.CollectionResult, error)
}

// Tagger assigns canonical tags to untagged articles.
type Tagger interface {
	Run(ctx context.Context) (domain.TagSummary, error)
	AssignManual(ctx context.Context, sku, label string) error
}

// ReportService is the read-only reporting surface.
type ReportService interface {
	ByTag(ctx context.Context) (domain.Report, error)
	ByBrand(ctx context.Context) (domain.Report, error)
	BrandCompetition(ctx context.Context, brand string) (domain.Report, error)
	Untagged(ctx context.Context, limit int) ([]domain.Article, error)
	Reviews(ctx context.Context) ([]domain.AmbiguousMatch, error)
}

// CollectionReader exposes staging state to operators.
type CollectionReader interface {
	List(ctx context.Context) ([]domain.Collection, error)
}
