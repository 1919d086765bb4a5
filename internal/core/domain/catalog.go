package domain

import "time"

type Article struct {
	ID          int64  `json:"id"`
	SKU         string `json:"sku"`
	Description string `json:"description"`
	Brand       string `json:"brand"`
	Package     string `json:"package,omitempty"`
}

type PointOfSale struct {
	ID           int64  `json:"id"`
	Code         string `json:"code"`
	Chain        string `json:"chain,omitempty"`
	Address      string `json:"address,omitempty"`
	ProvinceCode string `json:"province_code,omitempty"`
	Province     string `json:"province,omitempty"`
	City         string `json:"city,omitempty"`
}

type PriceObservation struct {
	ArticleID       int64     `json:"article_id"`
	PointOfSaleID   int64     `json:"point_of_sale_id"`
	ObservedAt      time.Time `json:"observed_at"`
	PriceCents      int64     `json:"price_cents"`
	PromoPriceCents *int64    `json:"promo_price_cents,omitempty"`
	InStock         *bool     `json:"in_stock,omitempty"`
	CollectionKey   string    `json:"collection_key"`
}

// NormalizedRecord is the canonical triple derived from one RawRecord.
type NormalizedRecord struct {
	Article     Article
	PointOfSale PointOfSale
	Observation PriceObservation
}

type TagMethod string

const (
	TagMethodAutomatic TagMethod = "automatic"
	TagMethodManual    TagMethod = "manual"
)

type Tag struct {
	ID     int64  `json:"id"`
	Label  string `json:"label"`
	Parent string `json:"parent,omitempty"`
}

type ArticleTag struct {
	ArticleID  int64     `json:"article_id"`
	TagID      int64     `json:"tag_id"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Method     TagMethod `json:"method"`
	AssignedAt time.Time `json:"assigned_at"`
	RunID      string    `json:"run_id,omitempty"`
}
