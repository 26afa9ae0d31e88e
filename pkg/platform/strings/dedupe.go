// Package strings cleans user-supplied string lists such as upload tags.
package strings

import (
	"strings"
)

// SplitList splits raw on sep and returns the trimmed, non-empty elements with
// case-insensitive duplicates removed. The first spelling of each element wins
// and order is preserved. An input with no elements returns nil.
//
//	SplitList(" Deed, land ,deed,,", ",") // []string{"Deed", "land"}
func SplitList(raw, sep string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(raw, sep))
}

// DedupeAndTrim trims each value and drops empties and case-insensitive
// duplicates, keeping the first spelling. Returns nil when nothing remains.
func DedupeAndTrim(values []string) []string {
	var result []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
