package localfs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

const sentinelName = "collection.json"

// readSentinel returns fs.ErrNotExist for an unsealed collection directory.
func readSentinel(dir string) (domain.Collection, error) {
	raw, err := os.ReadFile(filepath.Join(dir, sentinelName))
	if err != nil {
		return domain.Collection{}, err
	}
	var c domain.Collection
	if err := json.Unmarshal(raw, &c); err != nil {
		return domain.Collection{}, domain.WrapError(domain.ErrInvalidInput, "decode sentinel", err)
	}
	c.Key = filepath.Base(dir)
	return c, nil
}

// writeSentinel replaces the sentinel atomically: readers see the old file or
// the new one, never a partial write.
func writeSentinel(dir string, c domain.Collection) error {
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sentinel: %w", err)
	}
	return writeFileAtomic(dir, sentinelName, raw)
}

func writeFileAtomic(dir, name string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, fs.ErrInvalid) {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}
