package usecase

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

type province struct {
	code string
	name string
}

// provinces maps the upstream province codes and spellings to one canonical pair.
var provinces = map[string]province{
	"ar-a": {"ar-a", "Salta"}, "salta": {"ar-a", "Salta"},
	"ar-b": {"ar-b", "Buenos Aires"}, "buenos aires": {"ar-b", "Buenos Aires"},
	"ar-c": {"ar-c", "CABA"}, "caba": {"ar-c", "CABA"}, "capital federal": {"ar-c", "CABA"},
	"ar-d": {"ar-d", "San Luis"}, "san luis": {"ar-d", "San Luis"},
	"ar-e": {"ar-e", "Entre Rios"}, "entre rios": {"ar-e", "Entre Rios"},
	"ar-f": {"ar-f", "La Rioja"}, "la rioja": {"ar-f", "La Rioja"},
	"ar-g": {"ar-g", "Santiago del Estero"}, "santiago del estero": {"ar-g", "Santiago del Estero"},
	"ar-h": {"ar-h", "Chaco"}, "chaco": {"ar-h", "Chaco"},
	"ar-j": {"ar-j", "San Juan"}, "san juan": {"ar-j", "San Juan"},
	"ar-k": {"ar-k", "Catamarca"}, "catamarca": {"ar-k", "Catamarca"},
	"ar-l": {"ar-l", "La Pampa"}, "la pampa": {"ar-l", "La Pampa"},
	"ar-m": {"ar-m", "Mendoza"}, "mendoza": {"ar-m", "Mendoza"},
	"ar-n": {"ar-n", "Misiones"}, "misiones": {"ar-n", "Misiones"},
	"ar-p": {"ar-p", "Formosa"}, "formosa": {"ar-p", "Formosa"},
	"ar-q": {"ar-q", "Neuquén"}, "neuquen": {"ar-q", "Neuquén"}, "neuquén": {"ar-q", "Neuquén"},
	"ar-r": {"ar-r", "Río Negro"}, "rio negro": {"ar-r", "Río Negro"}, "río negro": {"ar-r", "Río Negro"},
	"ar-s": {"ar-s", "Santa Fe"}, "santa fe": {"ar-s", "Santa Fe"}, "santa fé": {"ar-s", "Santa Fe"},
	"ar-t": {"ar-t", "Tucumán"}, "tucuman": {"ar-t", "Tucumán"}, "tucumán": {"ar-t", "Tucumán"},
	"ar-u": {"ar-u", "Chubut"}, "chubut": {"ar-u", "Chubut"},
	"ar-v": {"ar-v", "Tierra del Fuego"}, "tierra del fuego": {"ar-v", "Tierra del Fuego"},
	"ar-w": {"ar-w", "Corrientes"}, "corrientes": {"ar-w", "Corrientes"},
	"ar-x": {"ar-x", "Córdoba"}, "cordoba": {"ar-x", "Córdoba"}, "córdoba": {"ar-x", "Córdoba"},
	"ar-y": {"ar-y", "Jujuy"}, "jujuy": {"ar-y", "Jujuy"},
	"ar-z": {"ar-z", "Santa Cruz"}, "santa cruz": {"ar-z", "Santa Cruz"},
}

// NormalizeRecord maps one raw record onto the canonical article, point of sale
// and observation shapes. Records without sku, point of sale or price are rejected
// with domain.ErrValidation; optional fields become nil instead.
func NormalizeRecord(raw domain.RawRecord, observedAt time.Time) (domain.NormalizedRecord, error) {
	sku := strings.TrimSpace(raw.SKU)
	posCode := strings.TrimSpace(raw.PointOfSaleID)

	var missing []string
	if sku == "" {
		missing = append(missing, "sku")
	}
	if posCode == "" {
		missing = append(missing, "pos_id")
	}
	if strings.TrimSpace(string(raw.Price)) == "" {
		missing = append(missing, "price")
	}
	if len(missing) > 0 {
		return domain.NormalizedRecord{}, domain.WrapError(
			domain.ErrValidation, "normalize record",
			fmt.Errorf("missing required fields: %s", strings.Join(missing, ", ")),
		)
	}

	price, err := amountToCents(raw.Price)
	if err != nil {
		return domain.NormalizedRecord{}, domain.WrapError(domain.ErrValidation, "normalize price", err)
	}

	var promo *int64
	if strings.TrimSpace(string(raw.PromoPrice)) != "" {
		cents, err := amountToCents(raw.PromoPrice)
		if err != nil {
			return domain.NormalizedRecord{}, domain.WrapError(domain.ErrValidation, "normalize promo price", err)
		}
		promo = &cents
	}

	var inStock *bool
	if raw.InStock != nil {
		v := *raw.InStock
		inStock = &v
	}

	description := cleanText(raw.Description)
	if description == "" {
		description = sku
	}
	prov := resolveProvince(raw.Province)

	return domain.NormalizedRecord{
		Article: domain.Article{
			SKU:         sku,
			Description: description,
			Brand:       deriveBrand(raw.Brand, description),
			Package:     cleanText(raw.Package),
		},
		PointOfSale: domain.PointOfSale{
			Code:         posCode,
			Chain:        cleanText(raw.Chain),
			Address:      cleanText(raw.Address),
			ProvinceCode: prov.code,
			Province:     prov.name,
			City:         cleanText(raw.City),
		},
		Observation: domain.PriceObservation{
			ObservedAt:      observedAt.UTC(),
			PriceCents:      price,
			PromoPriceCents: promo,
			InStock:         inStock,
		},
	}, nil
}

// maxCents is 2^63 as a float; anything at or above it does not fit int64.
const maxCents = float64(1 << 63)

func amountToCents(amount domain.RawAmount) (int64, error) {
	s := strings.TrimSpace(string(amount))
	s = strings.TrimPrefix(s, "$")
	if !strings.Contains(s, ".") && strings.Count(s, ",") == 1 {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("amount %q is not a number", string(amount))
	}
	if v < 0 {
		return 0, errors.New("amount must not be negative")
	}
	cents := math.Round(v * 100)
	if cents >= maxCents {
		return 0, fmt.Errorf("amount %q is out of range", string(amount))
	}
	return int64(cents), nil
}

func cleanText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func deriveBrand(brand, description string) string {
	if b := cleanText(brand); b != "" {
		return b
	}
	if fields := strings.Fields(description); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func resolveProvince(raw string) province {
	key := cleanText(raw)
	if key == "" {
		return province{}
	}
	if p, ok := provinces[key]; ok {
		return p
	}
	return province{name: strings.TrimSpace(raw)}
}
