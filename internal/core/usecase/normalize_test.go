package usecase

import (
	"reflect"
	"testing"
)

func TestNormalizeTextFoldsFormatting(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  What   IS\tConscience? ", "what is conscience"},
		{"What is conscience", "what is conscience"},
		{"Café au lait", "cafe au lait"},
		{"naïve  résumé", "naive resume"},
		{"right/wrong, roughly", "right wrong roughly"},
		{"", ""},
		{"   ", ""},
		{"?!", ""},
	}
	for _, tc := range cases {
		if got := normalizeText(tc.in); got != tc.want {
			t.Fatalf("normalizeText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeTextIsIdempotent(t *testing.T) {
	in := "  What   IS  Conscience? "
	once := normalizeText(in)
	if twice := normalizeText(once); twice != once {
		t.Fatalf("second normalization changed output: %q -> %q", once, twice)
	}
}

func TestTokenizeSplitsAlphanumeric(t *testing.T) {
	got := tokenize("What is conscience, really? v2")
	want := []string{"what", "is", "conscience", "really", "v2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tokenize = %v, want %v", got, want)
	}
}

func TestContentTokensDropsStopWords(t *testing.T) {
	got := contentTokens([]string{"what", "is", "the", "meaning", "of", "conscience"})
	want := []string{"meaning", "conscience"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("contentTokens = %v, want %v", got, want)
	}
}

func TestStemBucketsInflections(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"running", "runn"},
		{"walked", "walk"},
		{"notes", "not"},
		{"cat", "cat"},
		{"studies", "stud"},
	}
	for _, tc := range cases {
		if got := stem(tc.in); got != tc.want {
			t.Fatalf("stem(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if stem("reading") != stem("readings") {
		t.Fatalf("inflections of the same word should share a stem")
	}
}

func TestEditDistance(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"conscience", "conscience", 0},
		{"conscince", "conscience", 1},
		{"kitten", "sitting", 3},
		{"", "abc", 3},
		{"abc", "", 3},
	}
	for _, tc := range cases {
		if got := editDistance(tc.a, tc.b); got != tc.want {
			t.Fatalf("editDistance(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestFuzzyToleranceScalesWithLength(t *testing.T) {
	cases := []struct {
		length int
		want   int
	}{
		{3, 0},
		{4, 0},
		{5, 1},
		{7, 1},
		{8, 2},
		{12, 2},
	}
	for _, tc := range cases {
		if got := fuzzyTolerance(tc.length); got != tc.want {
			t.Fatalf("fuzzyTolerance(%d) = %d, want %d", tc.length, got, tc.want)
		}
	}
}
