package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

type eventsFake struct {
	published []string
	err       error
}

func (f *eventsFake) PublishCollectionSealed(_ context.Context, key string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, key)
	return nil
}

func (f *eventsFake) SubscribeCollectionSealed(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

func TestStageJSONLSealsAndPublishes(t *testing.T) {
	staging := newStagingFake()
	events := &eventsFake{}
	uc := NewStageUseCase(staging, events, nil)

	in := strings.NewReader(`{"pos_id":"p1","sku":"s1","price":10.5}
not json

{"pos_id":"p1","sku":"s2","price":"7,25","in_stock":false}
`)
	other := strings.NewReader(`{"pos_id":"p2","sku":"s1","price":11}`)

	c, err := uc.StageJSONL(context.Background(), in, other)
	if err != nil {
		t.Fatalf("StageJSONL() error = %v", err)
	}
	w := staging.created[0]
	if !w.sealed || w.aborted {
		t.Fatalf("expected sealed writer, got %+v", w)
	}
	if len(w.records) != 3 {
		t.Fatalf("expected 3 staged records, got %d", len(w.records))
	}
	if w.records[0].Price != "10.5" || w.records[1].Price != "7,25" {
		t.Fatalf("unexpected prices: %q %q", w.records[0].Price, w.records[1].Price)
	}
	if len(events.published) != 1 || events.published[0] != c.Key {
		t.Fatalf("expected sealed event for %s, got %v", c.Key, events.published)
	}
}

func TestStageJSONLDropsRecordsTheStoreRefuses(t *testing.T) {
	staging := newStagingFake()
	staging.refuseSKU = "huge"
	uc := NewStageUseCase(staging, nil, nil)

	in := strings.NewReader(`{"pos_id":"p1","sku":"s1","price":1}
{"pos_id":"p1","sku":"huge","price":1}
{"pos_id":"p1","sku":"s3","price":1}
`)
	if _, err := uc.StageJSONL(context.Background(), in); err != nil {
		t.Fatalf("StageJSONL() error = %v", err)
	}
	w := staging.created[0]
	if len(w.records) != 2 || w.records[1].SKU != "s3" {
		t.Fatalf("expected refused record skipped, got %+v", w.records)
	}
}

func TestStageJSONLAbortsEmptyInput(t *testing.T) {
	staging := newStagingFake()
	uc := NewStageUseCase(staging, nil, nil)

	_, err := uc.StageJSONL(context.Background(), strings.NewReader("\n\n"))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if !staging.created[0].aborted || staging.created[0].sealed {
		t.Fatalf("expected aborted writer")
	}
}

func TestStageJSONLIgnoresPublishFailure(t *testing.T) {
	uc := NewStageUseCase(newStagingFake(), &eventsFake{err: errors.New("nats down")}, nil)

	if _, err := uc.StageJSONL(context.Background(), strings.NewReader(`{"pos_id":"p","sku":"s","price":1}`)); err != nil {
		t.Fatalf("expected staging to succeed without the event bus, got %v", err)
	}
}
