package autoreply

import (
	"testing"

	"atendigram/models"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name     string
		keywords []string
		mode     models.MatchMode
		text     string
		want     bool
	}{
		{"any whole word", []string{"preço", "valor"}, models.MatchAny, "qual o preço?", true},
		{"any case insensitive", []string{"preço"}, models.MatchAny, "QUAL O PREÇO", true},
		{"any inside word", []string{"pre"}, models.MatchAny, "qual o preço?", false},
		{"any underscore joins words", []string{"oi"}, models.MatchAny, "oi_tudo", false},
		{"any digits join words", []string{"plano"}, models.MatchAny, "plano2", false},
		{"any second occurrence", []string{"oi"}, models.MatchAny, "oito oi", true},
		{"any no keyword", []string{"preço"}, models.MatchAny, "bom dia", false},
		{"all every word", []string{"plano", "anual"}, models.MatchAll, "quero o plano anual", true},
		{"all missing one", []string{"plano", "anual"}, models.MatchAll, "quero o plano mensal", false},
		{"contains substring", []string{"pre"}, models.MatchContains, "qual o preço?", true},
		{"contains folded", []string{"ÁGUA"}, models.MatchContains, "tem água gelada?", true},
		{"accents are significant", []string{"preco"}, models.MatchAny, "qual o preço?", false},
		{"accents are significant in contains", []string{"cardapio"}, models.MatchContains, "Manda o CARDÁPIO", false},
		{"contains none", []string{"xyz"}, models.MatchContains, "qual o preço?", false},
		{"exact trimmed", []string{"oi"}, models.MatchExact, "  OI  ", true},
		{"exact keyword trimmed", []string{" menu "}, models.MatchExact, "Menu", true},
		{"exact extra words", []string{"oi"}, models.MatchExact, "oi tudo bem", false},
		{"blank keywords ignored", []string{"", "  "}, models.MatchContains, "anything", false},
		{"blank mixed with usable", []string{"", "oi"}, models.MatchAny, "oi", true},
		{"empty keywords", nil, models.MatchAll, "oi", false},
		{"unknown mode", []string{"oi"}, models.MatchMode("regex"), "oi", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.keywords, tt.mode, tt.text); got != tt.want {
				t.Fatalf("Matches(%q, %s, %q) = %v, want %v", tt.keywords, tt.mode, tt.text, got, tt.want)
			}
		})
	}
}

func TestContainsWordEdges(t *testing.T) {
	if !containsWord("oi", "oi") {
		t.Fatal("whole text should match")
	}
	if !containsWord("ação!", "ação") {
		t.Fatal("multi-byte word followed by punctuation should match")
	}
	if containsWord("reação", "ação") {
		t.Fatal("suffix of a longer word should not match")
	}
}
