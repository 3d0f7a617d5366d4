package similarity

import (
	"strconv"
	"strings"
)

// Fields is the comparable subset of a search hit or catalog record.
// Zero values mean "absent".
type Fields struct {
	Title  string
	Romaji string
	Native string
	Year   int
	Format string
}

// Thresholds are the per-field scores a comparison must exceed to count as
// matched. Exact equality always matches.
type Thresholds struct {
	Title  float64
	Romaji float64
	Native float64
	Year   float64
	Format float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Title:  0.5,
		Romaji: 0.5,
		Native: 0.5,
		Year:   0.9,
		Format: 0.7,
	}
}

// CheckItem compares each field present in both sets and returns the ratio
// of matched fields to compared fields. No comparable field yields 0.
func CheckItem(a, b Fields, thresholds Thresholds) float64 {
	compared := 0
	matched := 0

	check := func(left, right string, threshold float64) {
		left = Normalize(left)
		right = Normalize(right)
		if left == "" || right == "" {
			return
		}
		compared++
		if left == right || CompareStrings(left, right) > threshold {
			matched++
		}
	}

	check(a.Title, b.Title, thresholds.Title)
	check(a.Romaji, b.Romaji, thresholds.Romaji)
	check(a.Native, b.Native, thresholds.Native)
	check(yearString(a.Year), yearString(b.Year), thresholds.Year)
	check(normalizeFormat(a.Format), normalizeFormat(b.Format), thresholds.Format)

	if compared == 0 {
		return 0
	}
	return float64(matched) / float64(compared)
}

func yearString(year int) string {
	if year <= 0 {
		return ""
	}
	return strconv.Itoa(year)
}

func normalizeFormat(format string) string {
	value := strings.ToUpper(strings.TrimSpace(format))
	value = strings.ReplaceAll(value, " ", "_")
	switch value {
	case "TV_SERIES", "SERIES":
		return "TV"
	case "FILM":
		return "MOVIE"
	}
	return value
}
