package localfs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

// Writer fills an unsealed collection. Nothing it writes is visible to
// readers until Seal publishes the sentinel.
type Writer struct {
	store   *Store
	key     string
	dir     string
	created time.Time

	shards  []string
	file    *os.File
	buf     *bufio.Writer
	inShard int
	records int
	closed  bool
}

func newWriter(s *Store, key, dir string, created time.Time) *Writer {
	return &Writer{store: s, key: key, dir: dir, created: created}
}

func (w *Writer) Key() string { return w.key }

func (w *Writer) Append(ctx context.Context, rec domain.RawRecord) error {
	if w.closed {
		return errors.New("collection writer is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if len(line) > w.store.maxRecordBytes {
		return domain.WrapError(domain.ErrValidation, "append record",
			fmt.Errorf("record is %d bytes, limit %d", len(line), w.store.maxRecordBytes))
	}
	if w.file == nil || w.inShard >= w.store.shardRecords {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	line = append(line, '\n')
	if _, err := w.buf.Write(line); err != nil {
		return fmt.Errorf("write shard: %w", err)
	}
	w.inShard++
	w.records++
	return nil
}

// Seal flushes the shards and writes the sentinel in state unprocessed.
func (w *Writer) Seal(ctx context.Context) (domain.Collection, error) {
	if w.closed {
		return domain.Collection{}, errors.New("collection writer is closed")
	}
	if err := ctx.Err(); err != nil {
		return domain.Collection{}, err
	}
	if err := w.closeShard(); err != nil {
		return domain.Collection{}, err
	}

	now := w.store.now().UTC()
	c := domain.Collection{
		Key:       w.key,
		CreatedAt: w.created,
		SealedAt:  now,
		UpdatedAt: now,
		State:     domain.CollectionUnprocessed,
		Shards:    append([]string{}, w.shards...),
		Records:   w.records,
	}
	if err := writeSentinel(w.dir, c); err != nil {
		return domain.Collection{}, fmt.Errorf("seal %s: %w", w.key, err)
	}
	w.closed = true
	return c, nil
}

// Abort drops the unsealed directory.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.file != nil {
		_ = w.file.Close()
	}
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("remove unsealed collection: %w", err)
	}
	return nil
}

func (w *Writer) rotate() error {
	if err := w.closeShard(); err != nil {
		return err
	}
	name := fmt.Sprintf("shard-%04d.jsonl", len(w.shards)+1)
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create shard: %w", err)
	}
	w.file = f
	w.buf = bufio.NewWriter(f)
	w.shards = append(w.shards, name)
	w.inShard = 0
	return nil
}

func (w *Writer) closeShard() error {
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	if err := w.buf.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush shard: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync shard: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close shard: %w", err)
	}
	return nil
}
