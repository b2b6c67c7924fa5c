package orchestrator

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// minAliasLen is the shortest alias considered when matching plan text.
const minAliasLen = 4

// AliasFunc derives the shorthand a coordinator may use for a specialist key.
type AliasFunc func(key string) string

// LastCapitalizedWord returns the final capitalised fragment of a CamelCase
// key ("ClinicalDataExtractor" gives "Extractor"). A trailing acronym is kept
// whole. Keys without uppercase letters fall back to their last word split
// on '_', '-' or space.
func LastCapitalizedWord(key string) string {
	runes := []rune(key)
	start := -1
	for i, r := range runes {
		if !unicode.IsUpper(r) {
			continue
		}
		prevUpper := i > 0 && unicode.IsUpper(runes[i-1])
		nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
		if !prevUpper || nextLower {
			start = i
		}
	}
	if start >= 0 {
		return string(runes[start:])
	}

	fields := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == '-' || unicode.IsSpace(r)
	})
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// ResolveRequired returns the roster names referenced by plan, in roster
// order. A name matches when it appears in the plan case-insensitively, or
// when its alias does and the alias is at least four characters long and
// differs from the name. When nothing matches every name is returned.
func ResolveRequired(plan string, names []string, alias AliasFunc) []string {
	lower := strings.ToLower(plan)
	var required []string
	for _, name := range names {
		if strings.Contains(lower, strings.ToLower(name)) {
			required = append(required, name)
			continue
		}
		if alias == nil {
			continue
		}
		a := alias(name)
		if a == name || utf8.RuneCountInString(a) < minAliasLen {
			continue
		}
		if strings.Contains(lower, strings.ToLower(a)) {
			required = append(required, name)
		}
	}
	if len(required) == 0 {
		return append([]string(nil), names...)
	}
	return required
}
