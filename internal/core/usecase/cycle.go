package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/pricewatch/internal/core/domain"
	"github.com/kirillkom/pricewatch/internal/core/ports"
)

// CycleUseCase runs the loader and then the tagging engine, the order the
// pipeline is scheduled in.
type CycleUseCase struct {
	loader ports.Loader
	tagger ports.Tagger
}

func NewCycleUseCase(loader ports.Loader, tagger ports.Tagger) *CycleUseCase {
	return &CycleUseCase{loader: loader, tagger: tagger}
}

// Run tags even when some collections failed to load; a failed collection does
// not invalidate articles committed by the others.
func (uc *CycleUseCase) Run(ctx context.Context) (domain.CycleSummary, error) {
	var out domain.CycleSummary

	load, err := uc.loader.Run(ctx)
	out.Load = load
	if err != nil {
		return out, fmt.Errorf("load: %w", err)
	}
	if uc.tagger == nil {
		return out, nil
	}

	tag, err := uc.tagger.Run(ctx)
	if err != nil {
		return out, fmt.Errorf("tag: %w", err)
	}
	out.Tag = &tag
	return out, nil
}
