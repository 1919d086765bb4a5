package localfs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/pricewatch/internal/core/domain"
	"github.com/kirillkom/pricewatch/internal/core/ports"
)

const (
	DefaultShardRecords   = 5000
	DefaultMaxRecordBytes = 4 << 20
	maxKeyCollisions      = 3600
)

type Options struct {
	ShardRecords int
	// MaxRecordBytes bounds one encoded shard line. Longer records are
	// refused on append and rejected individually on read.
	MaxRecordBytes int
	Now            func() time.Time
	Logger         *slog.Logger
}

// Store keeps collections as timestamped directories of JSONL shards. The
// collection.json sentinel inside each directory is the only state readers trust.
type Store struct {
	root           string
	shardRecords   int
	maxRecordBytes int
	now            func() time.Time
	logger         *slog.Logger

	// mu serialises sentinel read-modify-write within this process; the
	// writer lock keeps other processes out.
	mu sync.Mutex
}

func New(root string, opts Options) (*Store, error) {
	if root == "" {
		root = "./data/staging"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	if opts.ShardRecords <= 0 {
		opts.ShardRecords = DefaultShardRecords
	}
	if opts.MaxRecordBytes <= 0 {
		opts.MaxRecordBytes = DefaultMaxRecordBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		root:           root,
		shardRecords:   opts.ShardRecords,
		maxRecordBytes: opts.MaxRecordBytes,
		now:            opts.Now,
		logger:         opts.Logger.With("component", "staging"),
	}, nil
}

// Create reserves a new collection directory. The key is the creation second;
// when it is taken the next free second is used.
func (s *Store) Create(ctx context.Context) (ports.CollectionWriter, error) {
	created := s.now().UTC().Truncate(time.Second)
	for i := 0; i < maxKeyCollisions; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := created.Format(domain.CollectionKeyLayout)
		dir := filepath.Join(s.root, key)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return newWriter(s, key, dir, created), nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create collection dir: %w", err)
		}
		created = created.Add(time.Second)
	}
	return nil, fmt.Errorf("create collection: no free key after %d attempts", maxKeyCollisions)
}

func (s *Store) Get(_ context.Context, key string) (domain.Collection, error) {
	dir, err := s.dir(key)
	if err != nil {
		return domain.Collection{}, err
	}
	c, err := readSentinel(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Collection{}, domain.WrapError(domain.ErrNotFound, "get collection", fmt.Errorf("%s is missing or unsealed", key))
	}
	return c, err
}

// List returns every sealed collection, oldest first.
func (s *Store) List(ctx context.Context) ([]domain.Collection, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read staging dir: %w", err)
	}
	out := make([]domain.Collection, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() || !validKey(entry.Name()) {
			continue
		}
		c, err := readSentinel(filepath.Join(s.root, entry.Name()))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			s.logger.Warn("collection_unreadable", "collection", entry.Name(), "error", err)
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ListUnprocessed also returns collections left in processing by a crashed run.
func (s *Store) ListUnprocessed(ctx context.Context) ([]domain.Collection, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if c.Eligible() {
			out = append(out, c)
		}
	}
	return out, nil
}

// Records streams every shard line of c in order. Lines that fail to decode
// or exceed the record size limit are passed to fn with Err set; a missing or
// unreadable shard aborts with domain.ErrInvalidInput.
func (s *Store) Records(ctx context.Context, c domain.Collection, fn func(domain.StagedRecord) error) error {
	dir, err := s.dir(c.Key)
	if err != nil {
		return err
	}
	for _, shard := range c.Shards {
		if err := s.readShard(ctx, filepath.Join(dir, filepath.Base(shard)), shard, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) readShard(ctx context.Context, path, shard string, fn func(domain.StagedRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "open shard "+shard, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	line := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, size, readErr := readLine(r, s.maxRecordBytes)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return domain.WrapError(domain.ErrInvalidInput, "read shard "+shard, readErr)
		}
		if readErr == nil || size > 0 {
			line++
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 || size > s.maxRecordBytes {
			staged := domain.StagedRecord{Shard: shard, Line: line}
			switch {
			case size > s.maxRecordBytes:
				staged.Err = domain.WrapError(domain.ErrValidation, "decode record",
					fmt.Errorf("line is %d bytes, limit %d", size, s.maxRecordBytes))
			default:
				if err := json.Unmarshal(raw, &staged.Record); err != nil {
					staged.Err = domain.WrapError(domain.ErrValidation, "decode record", err)
				}
			}
			if err := fn(staged); err != nil {
				return err
			}
		}
		if readErr != nil {
			return nil
		}
	}
}

// readLine returns the next line without its terminator and the line's full
// length. Past limit the content is discarded and only the length is kept, so
// an oversized line costs no more memory than the limit.
func readLine(r *bufio.Reader, limit int) ([]byte, int, error) {
	var (
		buf  []byte
		size int
	)
	for {
		chunk, err := r.ReadSlice('\n')
		size += len(chunk)
		if size <= limit+1 {
			buf = append(buf, chunk...)
		} else {
			buf = nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if n := len(chunk); n > 0 && chunk[n-1] == '\n' {
			size--
		}
		return bytes.TrimRight(buf, "\r\n"), size, err
	}
}

func (s *Store) MarkProcessing(_ context.Context, key string) (domain.Collection, error) {
	return s.transition(key, func(c *domain.Collection) error {
		if !domain.CanTransition(c.State, domain.CollectionProcessing) {
			return illegal(c.State, domain.CollectionProcessing)
		}
		c.State = domain.CollectionProcessing
		c.Attempts++
		return nil
	})
}

func (s *Store) MarkProcessed(_ context.Context, key string) error {
	_, err := s.transition(key, func(c *domain.Collection) error {
		if !domain.CanTransition(c.State, domain.CollectionProcessed) {
			return illegal(c.State, domain.CollectionProcessed)
		}
		c.State = domain.CollectionProcessed
		c.LastError = ""
		return nil
	})
	return err
}

func (s *Store) MarkFailed(_ context.Context, key, reason string) error {
	_, err := s.transition(key, func(c *domain.Collection) error {
		if !domain.CanTransition(c.State, domain.CollectionFailed) {
			return illegal(c.State, domain.CollectionFailed)
		}
		c.State = domain.CollectionFailed
		c.LastError = reason
		return nil
	})
	return err
}

// Release hands a rolled-back collection back to the next run.
func (s *Store) Release(_ context.Context, key, reason string) error {
	_, err := s.transition(key, func(c *domain.Collection) error {
		if c.State != domain.CollectionProcessing {
			return illegal(c.State, domain.CollectionUnprocessed)
		}
		c.State = domain.CollectionUnprocessed
		c.LastError = reason
		return nil
	})
	return err
}

// Reset is the operator path back to unprocessed for failed or processed collections.
func (s *Store) Reset(_ context.Context, key string) error {
	_, err := s.transition(key, func(c *domain.Collection) error {
		if c.State != domain.CollectionFailed && c.State != domain.CollectionProcessed {
			return illegal(c.State, domain.CollectionUnprocessed)
		}
		c.State = domain.CollectionUnprocessed
		c.LastError = ""
		return nil
	})
	if err == nil {
		s.logger.Info("collection_reset", "collection", key)
	}
	return err
}

func (s *Store) transition(key string, apply func(*domain.Collection) error) (domain.Collection, error) {
	dir, err := s.dir(key)
	if err != nil {
		return domain.Collection{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := readSentinel(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Collection{}, domain.WrapError(domain.ErrNotFound, "transition collection", fmt.Errorf("%s is missing or unsealed", key))
	}
	if err != nil {
		return domain.Collection{}, err
	}
	if err := apply(&c); err != nil {
		return domain.Collection{}, domain.WrapError(domain.ErrCollectionState, "transition "+key, err)
	}
	c.UpdatedAt = s.now().UTC()
	if err := writeSentinel(dir, c); err != nil {
		return domain.Collection{}, fmt.Errorf("write sentinel %s: %w", key, err)
	}
	return c, nil
}

func (s *Store) dir(key string) (string, error) {
	if !validKey(key) {
		return "", domain.WrapError(domain.ErrInvalidInput, "collection key", fmt.Errorf("%q is not a collection key", key))
	}
	return filepath.Join(s.root, key), nil
}

func validKey(key string) bool {
	_, err := time.Parse(domain.CollectionKeyLayout, key)
	return err == nil
}

func illegal(from, to domain.CollectionState) error {
	return fmt.Errorf("cannot move from %s to %s", from, to)
}
