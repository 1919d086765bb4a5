package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type CollectionState string

const (
	CollectionUnprocessed CollectionState = "unprocessed"
	CollectionProcessing  CollectionState = "processing"
	CollectionProcessed   CollectionState = "processed"
	CollectionFailed      CollectionState = "failed"
)

// CollectionKeyLayout is the sortable directory name of a staging collection.
const CollectionKeyLayout = "20060102T150405Z"

// Collection is a sealed batch of raw records staged by one extraction run.
type Collection struct {
	Key       string          `json:"key"`
	CreatedAt time.Time       `json:"created_at"`
	SealedAt  time.Time       `json:"sealed_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	State     CollectionState `json:"state"`
	Shards    []string        `json:"shards"`
	Records   int             `json:"records"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
}

// ObservedAt is the observation time shared by every record of the collection.
func (c Collection) ObservedAt() time.Time {
	return c.CreatedAt.UTC().Truncate(time.Second)
}

// Eligible reports whether a loader run should pick the collection up.
// A collection left in processing by a crashed run is retried like an unprocessed one.
func (c Collection) Eligible() bool {
	return c.State == CollectionUnprocessed || c.State == CollectionProcessing
}

// CanTransition lists the legal moves of the staging state machine.
func CanTransition(from, to CollectionState) bool {
	switch to {
	case CollectionProcessing:
		return from == CollectionUnprocessed || from == CollectionProcessing
	case CollectionProcessed, CollectionFailed:
		return from == CollectionProcessing
	case CollectionUnprocessed:
		return from == CollectionProcessing || from == CollectionFailed || from == CollectionProcessed
	default:
		return false
	}
}

// RawAmount keeps the textual form of a price as extracted; upstream sends both
// JSON numbers and quoted strings.
type RawAmount string

func (a *RawAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = RawAmount(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a number or string: %w", err)
	}
	*a = RawAmount(n.String())
	return nil
}

func (a RawAmount) MarshalJSON() ([]byte, error) {
	if a == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(a))
}

// RawRecord is one extracted price reading, as written to a staging shard.
type RawRecord struct {
	PointOfSaleID string    `json:"pos_id"`
	SKU           string    `json:"sku"`
	Description   string    `json:"description"`
	Brand         string    `json:"brand,omitempty"`
	Package       string    `json:"package,omitempty"`
	Price         RawAmount `json:"price"`
	PromoPrice    RawAmount `json:"promo_price,omitempty"`
	InStock       *bool     `json:"in_stock,omitempty"`
	Chain         string    `json:"chain,omitempty"`
	Address       string    `json:"address,omitempty"`
	Province      string    `json:"province,omitempty"`
	City          string    `json:"city,omitempty"`
}

// StagedRecord is a record read back from a shard. Err is set when the line
// could not be decoded; Line is 1-based within the shard.
type StagedRecord struct {
	Shard  string
	Line   int
	Record RawRecord
	Err    error
}
