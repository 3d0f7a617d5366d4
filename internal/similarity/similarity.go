package similarity

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultThreshold is the acceptance cut used when callers do not override it.
const DefaultThreshold = 0.6

type Result struct {
	Accepted bool    `json:"accepted"`
	Score    float64 `json:"score"`
}

var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\((?:dub|sub|uncensored|uncut|tv)\)`),
	regexp.MustCompile(`(?i)\[(?:dub|sub|uncensored|bd|blu-?ray|\d{3,4}p)\]`),
	regexp.MustCompile(`(?i)\b(?:english|japanese)\s+(?:dub|sub)(?:bed)?\b`),
	regexp.MustCompile(`(?i)\b(?:dub|sub)(?:bed)?\b`),
	regexp.MustCompile(`(?i)\buncensored\b`),
	regexp.MustCompile(`(?i)\b(?:dual|multi)[\s-]*audio\b`),
	regexp.MustCompile(`(?i)\b(?:blu-?ray|bd)\s*(?:box)?\b`),
	regexp.MustCompile(`(?i)\bdis[ck]\s*\d+\b`),
	regexp.MustCompile(`(?i)\btv\s*$`),
}

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	emptyBrackets     = regexp.MustCompile(`\(\s*\)|\[\s*\]`)
)

// SanitizeTitle lowercases a provider title and strips release annotations
// such as dub/sub markers, disc numbers and a trailing "(TV)".
func SanitizeTitle(title string) string {
	value := strings.ToLower(strings.TrimSpace(title))
	for _, pattern := range noisePatterns {
		value = pattern.ReplaceAllString(value, " ")
	}
	value = emptyBrackets.ReplaceAllString(value, " ")
	value = whitespacePattern.ReplaceAllString(value, " ")
	return strings.TrimSpace(value)
}

// Normalize lowercases and folds accents ("Pokémon" -> "pokemon").
func Normalize(value string) string {
	folder := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, value)
	if err != nil {
		folded = value
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// CompareStrings returns the Dice coefficient over character bigrams,
// ignoring whitespace. Strings shorter than two runes only score on equality.
func CompareStrings(first, second string) float64 {
	a := []rune(whitespacePattern.ReplaceAllString(first, ""))
	b := []rune(whitespacePattern.ReplaceAllString(second, ""))

	if string(a) == string(b) {
		if len(a) == 0 {
			return 0
		}
		return 1
	}
	if len(a) < 2 || len(b) < 2 {
		return 0
	}

	counts := make(map[[2]rune]int, len(a)-1)
	for i := 0; i < len(a)-1; i++ {
		counts[[2]rune{a[i], a[i+1]}]++
	}

	shared := 0
	for i := 0; i < len(b)-1; i++ {
		bigram := [2]rune{b[i], b[i+1]}
		if counts[bigram] > 0 {
			counts[bigram]--
			shared++
		}
	}

	return 2 * float64(shared) / float64(len(a)+len(b)-2)
}

// Similarity compares a canonical title against a provider title and its
// alternates. Only the provider side is sanitized.
func Similarity(canonical, provider string, alts ...string) Result {
	return SimilarityAt(DefaultThreshold, canonical, provider, alts...)
}

func SimilarityAt(threshold float64, canonical, provider string, alts ...string) Result {
	left := Normalize(canonical)
	best := CompareStrings(left, Normalize(SanitizeTitle(provider)))
	for _, alt := range alts {
		if strings.TrimSpace(alt) == "" {
			continue
		}
		if score := CompareStrings(left, Normalize(SanitizeTitle(alt))); score > best {
			best = score
		}
	}
	return Result{Accepted: best > threshold, Score: best}
}

// BestOf scores every canonical variant against the provider title and
// returns the highest result.
func BestOf(threshold float64, canonical []string, provider string, alts ...string) Result {
	var best Result
	for _, title := range canonical {
		if strings.TrimSpace(title) == "" {
			continue
		}
		if result := SimilarityAt(threshold, title, provider, alts...); result.Score > best.Score {
			best = result
		}
	}
	return best
}
