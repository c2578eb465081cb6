// Package strings normalises configured name lists (actions, field names, target types).
package strings

import "strings"

// Normalize trims every value, applies fold when it is non-nil, then drops empty values
// and duplicates. The first occurrence keeps its position. A nil or empty input yields nil.
func Normalize(values []string, fold func(string) string) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if fold != nil {
			v = fold(v)
		}
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// NormalizeFold is Normalize with case folding, for case-insensitive names.
func NormalizeFold(values []string) []string {
	return Normalize(values, strings.ToLower)
}
