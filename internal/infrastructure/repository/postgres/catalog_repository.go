package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/pricewatch/internal/core/domain"
	"github.com/kirillkom/pricewatch/internal/core/ports"
)

type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) BeginLoad(ctx context.Context) (ports.LoadTx, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, mapWriteError("begin load tx", err)
	}
	return &loadTx{tx: tx}, nil
}

type loadTx struct {
	tx *sql.Tx
}

// UpsertPointOfSale resolves the row by code. Descriptive columns are filled
// in when they were empty and otherwise kept.
func (t *loadTx) UpsertPointOfSale(ctx context.Context, pos domain.PointOfSale) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
INSERT INTO points_of_sale (code, chain, address, province_code, province, city)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (code) DO UPDATE SET
	chain = COALESCE(NULLIF(points_of_sale.chain, ''), EXCLUDED.chain),
	address = COALESCE(NULLIF(points_of_sale.address, ''), EXCLUDED.address),
	province_code = COALESCE(NULLIF(points_of_sale.province_code, ''), EXCLUDED.province_code),
	province = COALESCE(NULLIF(points_of_sale.province, ''), EXCLUDED.province),
	city = COALESCE(NULLIF(points_of_sale.city, ''), EXCLUDED.city)
RETURNING id
`, pos.Code, pos.Chain, pos.Address, pos.ProvinceCode, pos.Province, pos.City).Scan(&id)
	if err != nil {
		return 0, mapWriteError("upsert point of sale", err)
	}
	return id, nil
}

// UpsertArticle resolves the row by sku. The first description seen is kept so
// tagging input does not drift between loads.
func (t *loadTx) UpsertArticle(ctx context.Context, a domain.Article) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
INSERT INTO articles (sku, description, brand, package)
VALUES ($1, $2, $3, $4)
ON CONFLICT (sku) DO UPDATE SET
	brand = COALESCE(NULLIF(articles.brand, ''), EXCLUDED.brand),
	package = COALESCE(NULLIF(articles.package, ''), EXCLUDED.package)
RETURNING id
`, a.SKU, a.Description, a.Brand, a.Package).Scan(&id)
	if err != nil {
		return 0, mapWriteError("upsert article", err)
	}
	return id, nil
}

// InsertObservation reports false when the (article, pos, observed_at) key
// already exists; the stored row is left untouched.
func (t *loadTx) InsertObservation(ctx context.Context, o domain.PriceObservation) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO price_observations (
	article_id, point_of_sale_id, observed_at, price_cents, promo_price_cents, in_stock, collection_key
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (article_id, point_of_sale_id, observed_at) DO NOTHING
`, o.ArticleID, o.PointOfSaleID, o.ObservedAt, o.PriceCents, o.PromoPriceCents, o.InStock, o.CollectionKey)
	if err != nil {
		return false, mapWriteError("insert observation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert observation rows affected: %w", err)
	}
	return n == 1, nil
}

func (t *loadTx) Commit() error {
	return mapWriteError("commit load tx", t.tx.Commit())
}

func (t *loadTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback load tx: %w", err)
	}
	return nil
}
