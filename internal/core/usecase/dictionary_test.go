package usecase

import (
	"testing"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

func TestValidateDictionary(t *testing.T) {
	tests := []struct {
		name    string
		entries []domain.DictionaryEntry
		wantErr bool
	}{
		{name: "valid", entries: testDictionary().Entries},
		{name: "empty", entries: nil, wantErr: true},
		{name: "blank label", entries: []domain.DictionaryEntry{{Label: " ", Phrases: []string{"x"}}}, wantErr: true},
		{
			name:    "duplicate after folding",
			entries: []domain.DictionaryEntry{{Label: "Azúcar"}, {Label: "azucar"}},
			wantErr: true,
		},
		{name: "blank phrase", entries: []domain.DictionaryEntry{{Label: "a", Phrases: []string{"ok", "--"}}}, wantErr: true},
		{name: "unknown parent", entries: []domain.DictionaryEntry{{Label: "a", Parent: "b"}}, wantErr: true},
		{
			name:    "parent cycle",
			entries: []domain.DictionaryEntry{{Label: "a", Parent: "b"}, {Label: "b", Parent: "c"}, {Label: "c", Parent: "a"}},
			wantErr: true,
		},
		{name: "self parent", entries: []domain.DictionaryEntry{{Label: "a", Parent: "a"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDictionary(domain.TagDictionary{Entries: tt.entries})
			if tt.wantErr && !domain.IsKind(err, domain.ErrDictionary) {
				t.Fatalf("expected dictionary error, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
