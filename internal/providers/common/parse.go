package common

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	tagPattern    = regexp.MustCompile(`<[^>]+>`)
	numberPattern = regexp.MustCompile(`[0-9]+(?:[.,][0-9]+)?`)
	yearPattern   = regexp.MustCompile(`\b(19[0-9]{2}|20[0-9]{2})\b`)
)

func CleanHTMLText(raw string) string {
	value := strings.TrimSpace(raw)
	value = html.UnescapeString(value)
	value = tagPattern.ReplaceAllString(value, " ")
	value = strings.Join(strings.Fields(value), " ")
	return value
}

// ParseNumber returns the first number in labels such as "Episode 12" or
// "Ch. 10.5". Unparseable input yields 0.
func ParseNumber(raw string) float64 {
	match := numberPattern.FindString(raw)
	if match == "" {
		return 0
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", "."), 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

// ParseYear extracts a four digit year between 1900 and 2099.
func ParseYear(raw string) int {
	match := yearPattern.FindString(raw)
	if match == "" {
		return 0
	}
	year, _ := strconv.Atoi(match)
	return year
}

// ParseEndpoints splits a comma separated mirror list, dropping blanks and
// duplicates. fallback is used when nothing remains.
func ParseEndpoints(raw, fallback string) []string {
	parts := strings.Split(raw, ",")
	items := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		endpoint := strings.TrimRight(strings.TrimSpace(part), "/")
		if endpoint == "" {
			continue
		}
		if _, exists := seen[endpoint]; exists {
			continue
		}
		seen[endpoint] = struct{}{}
		items = append(items, endpoint)
	}
	if len(items) == 0 {
		return []string{strings.TrimRight(fallback, "/")}
	}
	return items
}

func CompactSnippet(raw string, maxLen int) string {
	value := CleanHTMLText(raw)
	if value == "" {
		return "empty response body"
	}
	if len(value) <= maxLen {
		return value
	}
	if maxLen < 4 {
		return value[:maxLen]
	}
	return value[:maxLen-3] + "..."
}
