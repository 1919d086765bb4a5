package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

// ValidateDictionary rejects the whole dictionary on the first malformed entry.
// A partially usable dictionary would make matching depend on which entries
// happened to survive, so nothing is skipped.
func ValidateDictionary(dict domain.TagDictionary) error {
	if len(dict.Entries) == 0 {
		return domain.WrapError(domain.ErrDictionary, "validate dictionary", fmt.Errorf("no tags defined"))
	}

	labels := make(map[string]string, len(dict.Entries))
	for i, entry := range dict.Entries {
		label := strings.TrimSpace(entry.Label)
		folded := domain.FoldText(label)
		if folded == "" {
			return domain.WrapError(domain.ErrDictionary, "validate dictionary", fmt.Errorf("entry %d: empty label", i))
		}
		if prev, ok := labels[folded]; ok {
			return domain.WrapError(domain.ErrDictionary, "validate dictionary",
				fmt.Errorf("entry %d: label %q duplicates %q", i, label, prev))
		}
		labels[folded] = label

		for j, phrase := range entry.Phrases {
			if domain.FoldText(phrase) == "" {
				return domain.WrapError(domain.ErrDictionary, "validate dictionary",
					fmt.Errorf("tag %q: phrase %d is empty", label, j))
			}
		}
	}

	parents := make(map[string]string, len(dict.Entries))
	for _, entry := range dict.Entries {
		if strings.TrimSpace(entry.Parent) == "" {
			continue
		}
		child := domain.FoldText(entry.Label)
		parent := domain.FoldText(entry.Parent)
		if _, ok := labels[parent]; !ok {
			return domain.WrapError(domain.ErrDictionary, "validate dictionary",
				fmt.Errorf("tag %q: unknown parent %q", entry.Label, entry.Parent))
		}
		parents[child] = parent
	}
	for start := range parents {
		seen := map[string]bool{start: true}
		for cur, ok := parents[start]; ok; cur, ok = parents[cur] {
			if seen[cur] {
				return domain.WrapError(domain.ErrDictionary, "validate dictionary",
					fmt.Errorf("tag %q: parent cycle", labels[start]))
			}
			seen[cur] = true
		}
	}
	return nil
}
