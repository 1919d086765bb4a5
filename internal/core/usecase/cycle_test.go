package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

type loaderStub struct {
	summary domain.LoadSummary
	err     error
	calls   int
}

func (l *loaderStub) Run(context.Context) (domain.LoadSummary, error) {
	l.calls++
	return l.summary, l.err
}

func (l *loaderStub) LoadCollection(context.Context, string) (domain.CollectionResult, error) {
	return domain.CollectionResult{}, errors.New("not implemented")
}

type taggerStub struct {
	calls int
	err   error
}

func (t *taggerStub) Run(context.Context) (domain.TagSummary, error) {
	t.calls++
	return domain.TagSummary{RunID: "tag-run"}, t.err
}

func (t *taggerStub) AssignManual(context.Context, string, string) error { return nil }

func TestCycleRunsLoadThenTag(t *testing.T) {
	loader := &loaderStub{summary: domain.LoadSummary{RunID: "load-run", Collections: []domain.CollectionResult{{State: domain.CollectionFailed}}}}
	tagger := &taggerStub{}

	out, err := NewCycleUseCase(loader, tagger).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Load.RunID != "load-run" || out.Tag == nil || out.Tag.RunID != "tag-run" {
		t.Fatalf("unexpected summary: %+v", out)
	}
}

func TestCycleStopsWhenLoaderCannotStart(t *testing.T) {
	loader := &loaderStub{err: domain.ErrLoaderBusy}
	tagger := &taggerStub{}

	_, err := NewCycleUseCase(loader, tagger).Run(context.Background())
	if !domain.IsKind(err, domain.ErrLoaderBusy) {
		t.Fatalf("expected busy error, got %v", err)
	}
	if tagger.calls != 0 {
		t.Fatalf("tagger must not run after a load error")
	}
}
