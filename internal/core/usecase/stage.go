package usecase

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/kirillkom/pricewatch/internal/core/domain"
	"github.com/kirillkom/pricewatch/internal/core/ports"
)

const maxStageLineBytes = 4 << 20

type StageUseCase struct {
	staging ports.StagingStore
	events  ports.CollectionEvents
	logger  *slog.Logger
}

func NewStageUseCase(staging ports.StagingStore, events ports.CollectionEvents, logger *slog.Logger) *StageUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &StageUseCase{
		staging: staging,
		events:  events,
		logger:  logger.With("component", "stager"),
	}
}

// StageJSONL copies extracted line-delimited records into a new collection and
// seals it. Lines that do not decode are logged and dropped; the collection is
// never made visible when nothing could be staged.
func (uc *StageUseCase) StageJSONL(ctx context.Context, inputs ...io.Reader) (domain.Collection, error) {
	w, err := uc.staging.Create(ctx)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("create collection: %w", err)
	}
	sealed := false
	defer func() {
		if !sealed {
			_ = w.Abort()
		}
	}()

	staged, dropped := 0, 0
	for i, in := range inputs {
		n, d, err := uc.copyRecords(ctx, w, in, i)
		staged += n
		dropped += d
		if err != nil {
			return domain.Collection{}, err
		}
	}
	if staged == 0 {
		return domain.Collection{}, domain.WrapError(domain.ErrInvalidInput, "stage records", errors.New("no records to stage"))
	}

	c, err := w.Seal(ctx)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("seal collection: %w", err)
	}
	sealed = true
	uc.logger.Info("collection_staged", "collection", c.Key, "records", staged, "dropped", dropped, "shards", len(c.Shards))

	if uc.events != nil {
		if err := uc.events.PublishCollectionSealed(ctx, c.Key); err != nil {
			// The collection is durable; the next scheduled load picks it up.
			uc.logger.Warn("collection_event_publish_failed", "collection", c.Key, "error", err)
		}
	}
	return c, nil
}

func (uc *StageUseCase) copyRecords(ctx context.Context, w ports.CollectionWriter, in io.Reader, input int) (int, int, error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStageLineBytes)

	staged, dropped, line := 0, 0, 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec domain.RawRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			dropped++
			uc.logger.Warn("stage_line_dropped", "input", input, "line", line, "error", err)
			continue
		}
		if err := w.Append(ctx, rec); err != nil {
			if domain.IsKind(err, domain.ErrValidation) {
				dropped++
				uc.logger.Warn("stage_line_dropped", "input", input, "line", line, "error", err)
				continue
			}
			return staged, dropped, fmt.Errorf("append record: %w", err)
		}
		staged++
	}
	if err := scanner.Err(); err != nil {
		return staged, dropped, domain.WrapError(domain.ErrInvalidInput, "read input", err)
	}
	return staged, dropped, nil
}
