package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/pricewatch/internal/core/domain"
	"github.com/kirillkom/pricewatch/internal/core/ports"
)

const (
	defaultUntaggedLimit = 100
	maxUntaggedLimit     = 1000
)

type ReportUseCase struct {
	repo ports.ReportRepository
}

func NewReportUseCase(repo ports.ReportRepository) *ReportUseCase {
	return &ReportUseCase{repo: repo}
}

// ByTag groups the latest price of every tagged article under each of its tags.
func (uc *ReportUseCase) ByTag(ctx context.Context) (domain.Report, error) {
	rows, err := uc.repo.LatestPrices(ctx, domain.ReportFilter{TaggedOnly: true})
	if err != nil {
		return nil, fmt.Errorf("report by tag: %w", err)
	}
	return groupRows(rows, func(r domain.PriceRow) string { return r.Tag }, false), nil
}

func (uc *ReportUseCase) ByBrand(ctx context.Context) (domain.Report, error) {
	rows, err := uc.repo.LatestPrices(ctx, domain.ReportFilter{})
	if err != nil {
		return nil, fmt.Errorf("report by brand: %w", err)
	}
	return groupRows(rows, func(r domain.PriceRow) string { return r.Brand }, false), nil
}

// BrandCompetition compares the brand against every other brand sharing one of
// its tags. Each price point carries its brand.
func (uc *ReportUseCase) BrandCompetition(ctx context.Context, brand string) (domain.Report, error) {
	brand = strings.ToLower(strings.TrimSpace(brand))
	if brand == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "brand competition", errors.New("brand is required"))
	}
	tags, err := uc.repo.BrandTags(ctx, brand)
	if err != nil {
		return nil, fmt.Errorf("brand tags: %w", err)
	}
	if len(tags) == 0 {
		return domain.Report{}, nil
	}
	rows, err := uc.repo.LatestPrices(ctx, domain.ReportFilter{TaggedOnly: true, Tags: tags})
	if err != nil {
		return nil, fmt.Errorf("brand competition: %w", err)
	}
	return groupRows(rows, func(r domain.PriceRow) string { return r.Tag }, true), nil
}

func (uc *ReportUseCase) Untagged(ctx context.Context, limit int) ([]domain.Article, error) {
	switch {
	case limit <= 0:
		limit = defaultUntaggedLimit
	case limit > maxUntaggedLimit:
		limit = maxUntaggedLimit
	}
	articles, err := uc.repo.ListUntagged(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list untagged: %w", err)
	}
	if articles == nil {
		articles = []domain.Article{}
	}
	return articles, nil
}

func (uc *ReportUseCase) Reviews(ctx context.Context) ([]domain.AmbiguousMatch, error) {
	reviews, err := uc.repo.ListReviews(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	if reviews == nil {
		reviews = []domain.AmbiguousMatch{}
	}
	return reviews, nil
}

func groupRows(rows []domain.PriceRow, groupOf func(domain.PriceRow) string, withBrand bool) domain.Report {
	report := make(domain.Report)
	for _, row := range rows {
		group := groupOf(row)
		if group == "" {
			continue
		}
		byDesc, ok := report[group]
		if !ok {
			byDesc = make(map[string][]domain.PricePoint)
			report[group] = byDesc
		}
		point := domain.PricePoint{PointOfSale: row.PointOfSale, Price: row.PriceCents}
		if withBrand {
			point.Brand = row.Brand
		}
		byDesc[row.Description] = append(byDesc[row.Description], point)
	}
	return report
}
