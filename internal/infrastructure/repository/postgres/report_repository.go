package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// ReportRepository reads committed catalog state only; it never takes the
// writer lock.
type ReportRepository struct {
	db *sql.DB
}

func NewReportRepository(db *sql.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

func latestPrices() sq.SelectBuilder {
	return psql.Select("DISTINCT ON (o.article_id, o.point_of_sale_id) o.article_id, o.point_of_sale_id, o.price_cents").
		From("price_observations o").
		OrderBy("o.article_id", "o.point_of_sale_id", "o.observed_at DESC")
}

// LatestPrices returns one row per (article, point of sale) with its most
// recent price. With TaggedOnly the rows fan out once per tag.
func (r *ReportRepository) LatestPrices(ctx context.Context, f domain.ReportFilter) ([]domain.PriceRow, error) {
	tagColumn := "'' AS tag"
	if f.TaggedOnly {
		tagColumn = "t.label AS tag"
	}
	q := psql.Select(tagColumn, "a.brand", "a.sku", "a.description", "p.code", "l.price_cents").
		FromSelect(latestPrices(), "l").
		Join("articles a ON a.id = l.article_id").
		Join("points_of_sale p ON p.id = l.point_of_sale_id")
	if f.TaggedOnly {
		q = q.Join("article_tags atg ON atg.article_id = a.id").
			Join("tags t ON t.id = atg.tag_id")
		if len(f.Tags) > 0 {
			q = q.Where("t.label = ANY(?)", pq.Array(f.Tags))
		}
	}
	if f.Brand != "" {
		q = q.Where(sq.Eq{"a.brand": f.Brand})
	}
	q = q.OrderBy("tag", "a.brand", "a.description", "p.code")

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build latest prices query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query latest prices: %w", err)
	}
	defer rows.Close()

	var out []domain.PriceRow
	for rows.Next() {
		var row domain.PriceRow
		if err := rows.Scan(&row.Tag, &row.Brand, &row.SKU, &row.Description, &row.PointOfSale, &row.PriceCents); err != nil {
			return nil, fmt.Errorf("scan price row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price rows: %w", err)
	}
	return out, nil
}

func (r *ReportRepository) BrandTags(ctx context.Context, brand string) ([]string, error) {
	query, args, err := psql.Select("DISTINCT t.label").
		From("tags t").
		Join("article_tags atg ON atg.tag_id = t.id").
		Join("articles a ON a.id = atg.article_id").
		Where(sq.Eq{"a.brand": brand}).
		OrderBy("t.label").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build brand tags query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query brand tags: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("scan brand tag: %w", err)
		}
		out = append(out, label)
	}
	return out, rows.Err()
}

// ListUntagged lists articles without any tag, automatic or manual.
func (r *ReportRepository) ListUntagged(ctx context.Context, limit int) ([]domain.Article, error) {
	query, args, err := psql.Select("a.id", "a.sku", "a.description", "a.brand", "a.package").
		From("articles a").
		Where("NOT EXISTS (SELECT 1 FROM article_tags t WHERE t.article_id = a.id)").
		OrderBy("a.description", "a.sku").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build untagged query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query untagged: %w", err)
	}
	defer rows.Close()

	var out []domain.Article
	for rows.Next() {
		var a domain.Article
		if err := rows.Scan(&a.ID, &a.SKU, &a.Description, &a.Brand, &a.Package); err != nil {
			return nil, fmt.Errorf("scan untagged: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *ReportRepository) ListReviews(ctx context.Context) ([]domain.AmbiguousMatch, error) {
	query, args, err := psql.Select(
		"r.article_id", "a.sku", "a.description", "r.suggested_label", "r.score",
		"r.reason", "r.candidates", "r.run_id", "r.updated_at",
	).
		From("tag_reviews r").
		Join("articles a ON a.id = r.article_id").
		OrderBy("r.score DESC", "a.sku").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build reviews query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	var out []domain.AmbiguousMatch
	for rows.Next() {
		var (
			m          domain.AmbiguousMatch
			reason     string
			candidates []byte
		)
		if err := rows.Scan(&m.ArticleID, &m.SKU, &m.Description, &m.SuggestedLabel, &m.Score,
			&reason, &candidates, &m.RunID, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		m.Reason = domain.AmbiguityReason(reason)
		if len(candidates) > 0 {
			if err := json.Unmarshal(candidates, &m.Candidates); err != nil {
				return nil, fmt.Errorf("decode review candidates: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
