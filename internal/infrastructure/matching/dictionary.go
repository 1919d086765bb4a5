package matching

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

// FileDictionary reads the tag dictionary from a YAML file on every Load, so
// edits take effect on the next tagging run without a restart.
type FileDictionary struct {
	path string
}

func NewFileDictionary(path string) *FileDictionary {
	return &FileDictionary{path: path}
}

func (d *FileDictionary) Load(_ context.Context) (domain.TagDictionary, error) {
	raw, err := os.ReadFile(d.path)
	if err != nil {
		return domain.TagDictionary{}, domain.WrapError(domain.ErrDictionary, "read dictionary", err)
	}
	return LoadDictionary(raw)
}

// LoadDictionary decodes a YAML dictionary. Unknown keys are rejected. When the
// file carries no version the content hash stands in for it.
func LoadDictionary(raw []byte) (domain.TagDictionary, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var dict domain.TagDictionary
	if err := dec.Decode(&dict); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty document")
		}
		return domain.TagDictionary{}, domain.WrapError(domain.ErrDictionary, "decode dictionary", err)
	}
	if dict.Version == "" {
		sum := sha256.Sum256(raw)
		dict.Version = fmt.Sprintf("sha256:%s", hex.EncodeToString(sum[:6]))
	}
	return dict, nil
}
