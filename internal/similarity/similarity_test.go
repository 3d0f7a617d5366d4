package similarity

import (
	"math"
	"testing"
)

func TestCompareStrings(t *testing.T) {
	tests := []struct {
		name  string
		left  string
		right string
		want  float64
	}{
		{"identical", "naruto", "naruto", 1},
		{"disjoint", "abc", "xyz", 0},
		{"partial", "night", "nacht", 0.25},
		{"whitespace ignored", "one piece", "onepiece", 1},
		{"single rune equal", "a", "a", 1},
		{"single rune different", "a", "b", 0},
		{"single rune vs long", "a", "ab", 0},
		{"both empty", "", "", 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CompareStrings(tc.left, tc.right)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("CompareStrings(%q, %q) = %v, want %v", tc.left, tc.right, got, tc.want)
			}
		})
	}
}

func TestCompareStringsBounded(t *testing.T) {
	pairs := [][2]string{
		{"aaaa", "aa"},
		{"kaguya-sama", "kaguya-sama wa kokurasetai"},
		{"進撃の巨人", "進撃の巨人 season 2"},
	}
	for _, pair := range pairs {
		score := CompareStrings(pair[0], pair[1])
		if score < 0 || score > 1 {
			t.Fatalf("score out of range for %q/%q: %v", pair[0], pair[1], score)
		}
	}
}

func TestSimilaritySymmetricOnSanitizedInput(t *testing.T) {
	pairs := [][2]string{
		{"shingeki no kyojin", "shingeki no kyojin season 2"},
		{"one piece", "one punch man"},
		{"kimetsu no yaiba", "kimetsu no yaiba movie"},
	}
	for _, pair := range pairs {
		forward := Similarity(pair[0], pair[1])
		backward := Similarity(pair[1], pair[0])
		if forward.Score != backward.Score {
			t.Fatalf("asymmetric score for %q/%q: %v vs %v", pair[0], pair[1], forward.Score, backward.Score)
		}
	}
}

func TestSimilarityDeterministic(t *testing.T) {
	first := Similarity("Kaguya-sama", "Kaguya-sama wa Kokurasetai")
	for i := 0; i < 10; i++ {
		if got := Similarity("Kaguya-sama", "Kaguya-sama wa Kokurasetai"); got != first {
			t.Fatalf("non-deterministic result: %+v vs %+v", got, first)
		}
	}
}

func TestSimilarityAcceptsPrefixTitle(t *testing.T) {
	result := Similarity("Kaguya-sama", "Kaguya-sama wa Kokurasetai")
	if !result.Accepted {
		t.Fatalf("expected accepted, got %+v", result)
	}
	if result.Score <= DefaultThreshold {
		t.Fatalf("expected score above %v, got %v", DefaultThreshold, result.Score)
	}
}

func TestSimilarityRejectsUnrelated(t *testing.T) {
	result := Similarity("Kaguya-sama", "Unrelated Show")
	if result.Accepted {
		t.Fatalf("expected rejection, got %+v", result)
	}
	if result.Score >= DefaultThreshold {
		t.Fatalf("expected score below %v, got %v", DefaultThreshold, result.Score)
	}
}

func TestSimilarityUsesAltNames(t *testing.T) {
	result := Similarity("Boku no Hero Academia", "My Hero Academia", "Boku no Hero Academia")
	if result.Score != 1 || !result.Accepted {
		t.Fatalf("expected exact alt match, got %+v", result)
	}
}

func TestSimilarityAtOverridesThreshold(t *testing.T) {
	strict := SimilarityAt(0.99, "Kaguya-sama", "Kaguya-sama wa Kokurasetai")
	if strict.Accepted {
		t.Fatalf("expected strict threshold to reject, got %+v", strict)
	}
	loose := SimilarityAt(0.1, "Kaguya-sama", "Kaguya-sama wa Kokurasetai")
	if !loose.Accepted {
		t.Fatalf("expected loose threshold to accept, got %+v", loose)
	}
}

func TestSanitizeTitle(t *testing.T) {
	tests := map[string]string{
		"Kaguya-sama (Dub)":              "kaguya-sama",
		"Naruto (TV)":                    "naruto",
		"One Piece [BD] Disc 2":          "one piece",
		"Attack on Titan English Dubbed": "attack on titan",
		"Devilman Crybaby (Uncensored)":  "devilman crybaby",
		"Cowboy Bebop Dual Audio":        "cowboy bebop",
		"Frieren":                        "frieren",
	}
	for input, want := range tests {
		if got := SanitizeTitle(input); got != want {
			t.Fatalf("SanitizeTitle(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestSimilaritySanitizesProviderSide(t *testing.T) {
	result := Similarity("Naruto", "Naruto (Dub)")
	if result.Score != 1 {
		t.Fatalf("expected dub marker to be ignored, got %+v", result)
	}
}

func TestNormalizeFoldsAccents(t *testing.T) {
	if got := Normalize("  Pokémon "); got != "pokemon" {
		t.Fatalf("unexpected normalized value %q", got)
	}
}

func TestBestOfPicksHighestVariant(t *testing.T) {
	result := BestOf(DefaultThreshold, []string{"Shingeki no Kyojin", "Attack on Titan"}, "Attack on Titan")
	if result.Score != 1 {
		t.Fatalf("expected best variant to match exactly, got %+v", result)
	}
	if empty := BestOf(DefaultThreshold, nil, "Attack on Titan"); empty.Score != 0 || empty.Accepted {
		t.Fatalf("expected zero result without variants, got %+v", empty)
	}
}

func TestCheckItem(t *testing.T) {
	thresholds := DefaultThresholds()

	tests := []struct {
		name string
		a    Fields
		b    Fields
		want float64
	}{
		{
			name: "all shared fields match",
			a:    Fields{Title: "Naruto", Year: 2002, Format: "TV"},
			b:    Fields{Title: "Naruto", Year: 2002},
			want: 1,
		},
		{
			name: "year mismatch halves confidence",
			a:    Fields{Title: "Naruto", Year: 2002},
			b:    Fields{Title: "Naruto", Year: 2003},
			want: 0.5,
		},
		{
			name: "format aliases compare equal",
			a:    Fields{Title: "Your Name", Format: "Movie"},
			b:    Fields{Title: "Your Name", Format: "film"},
			want: 1,
		},
		{
			name: "absent fields are excluded",
			a:    Fields{Title: "Naruto"},
			b:    Fields{Title: "Naruto", Native: "ナルト", Year: 2002},
			want: 1,
		},
		{
			name: "nothing comparable",
			a:    Fields{Title: "Naruto"},
			b:    Fields{Year: 2002},
			want: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CheckItem(tc.a, tc.b, thresholds); math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("CheckItem() = %v, want %v", got, tc.want)
			}
		})
	}
}
