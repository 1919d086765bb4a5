package matching

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/pricewatch/internal/core/domain"
	"github.com/kirillkom/pricewatch/internal/core/usecase"
)

func TestScorerSimilarity(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 1.0, s.Similarity("Leche Entera La Serenísima 1L", "leche entera"))
	assert.Equal(t, 1.0, s.Similarity("YERBA MATE PLAYADITO", "Yerba-Mate"))
	assert.Equal(t, 0.0, s.Similarity("", "leche"))
	assert.Equal(t, 0.0, s.Similarity("leche", "  "))

	typo := s.Similarity("lehce entera 1l", "leche entera")
	assert.Greater(t, typo, 0.8)
	assert.Less(t, typo, 1.0)

	unrelated := s.Similarity("detergente limon", "leche entera")
	assert.Less(t, unrelated, 0.5)
}

func TestScorerIsCaseAndAccentInsensitive(t *testing.T) {
	s := NewScorer()
	assert.Equal(t, s.Similarity("AZÚCAR LEDESMA", "azucar"), s.Similarity("azucar ledesma", "AZUCAR"))
}

func TestLoadDictionary(t *testing.T) {
	dict, err := LoadDictionary([]byte(`
tags:
  - label: LECHE
    parent: LACTEOS
    phrases: [leche entera]
  - label: LACTEOS
    phrases: [lacteo]
`))
	require.NoError(t, err)
	require.Len(t, dict.Entries, 2)
	assert.Equal(t, "LACTEOS", dict.Entries[0].Parent)
	assert.Contains(t, dict.Version, "sha256:")
	require.NoError(t, usecase.ValidateDictionary(dict))
}

func TestLoadDictionaryRejectsUnknownFields(t *testing.T) {
	_, err := LoadDictionary([]byte("tags:\n  - label: A\n    synonyms: [x]\n"))
	assert.True(t, domain.IsKind(err, domain.ErrDictionary))

	_, err = LoadDictionary(nil)
	assert.True(t, domain.IsKind(err, domain.ErrDictionary))
}

func TestFileDictionaryLoadsShippedDictionary(t *testing.T) {
	dict, err := NewFileDictionary(filepath.Join("..", "..", "..", "configs", "tags.yaml")).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-03", dict.Version)
	require.NoError(t, usecase.ValidateDictionary(dict))
}

func TestFileDictionaryMissingFile(t *testing.T) {
	_, err := NewFileDictionary(filepath.Join(t.TempDir(), "nope.yaml")).Load(context.Background())
	assert.True(t, domain.IsKind(err, domain.ErrDictionary))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
