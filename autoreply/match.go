package autoreply

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"atendigram/models"

	"golang.org/x/text/cases"
)

// Fold casers are stateless and safe for concurrent use.
var folder = cases.Fold()

func fold(s string) string {
	return folder.String(s)
}

func usableKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out = append(out, fold(k))
	}
	return out
}

// Matches reports whether text triggers keywords under mode. Blank keywords are
// ignored and a keyword list with nothing usable never matches.
func Matches(keywords []string, mode models.MatchMode, text string) bool {
	kws := usableKeywords(keywords)
	if len(kws) == 0 {
		return false
	}
	folded := fold(text)

	switch mode {
	case models.MatchContains:
		for _, k := range kws {
			if strings.Contains(folded, k) {
				return true
			}
		}
		return false
	case models.MatchExact:
		trimmed := strings.TrimSpace(folded)
		for _, k := range kws {
			if trimmed == k {
				return true
			}
		}
		return false
	case models.MatchAny:
		for _, k := range kws {
			if containsWord(folded, k) {
				return true
			}
		}
		return false
	case models.MatchAll:
		for _, k := range kws {
			if !containsWord(folded, k) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// containsWord finds word in text with non-word runes (or the text edges) on
// both sides of the occurrence.
func containsWord(text, word string) bool {
	for start := 0; start <= len(text)-len(word); {
		i := strings.Index(text[start:], word)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(word)

		before, after := true, true
		if i > 0 {
			r, _ := utf8.DecodeLastRuneInString(text[:i])
			before = !isWordRune(r)
		}
		if end < len(text) {
			r, _ := utf8.DecodeRuneInString(text[end:])
			after = !isWordRune(r)
		}
		if before && after {
			return true
		}

		_, size := utf8.DecodeRuneInString(text[i:])
		start = i + size
	}
	return false
}
