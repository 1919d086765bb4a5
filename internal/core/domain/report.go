package domain

// PricePoint is the latest observed price of an article at one point of sale.
type PricePoint struct {
	PointOfSale string `json:"point_of_sale"`
	Price       int64  `json:"price"`
	Brand       string `json:"brand,omitempty"`
}

// Report groups descriptions under a tag or brand: group -> description -> prices.
type Report map[string]map[string][]PricePoint

// PriceRow is one flattened row of the latest-price read model.
type PriceRow struct {
	Tag         string
	Brand       string
	SKU         string
	Description string
	PointOfSale string
	PriceCents  int64
}

type ReportFilter struct {
	Brand      string
	TaggedOnly bool
	Tags       []string
}
