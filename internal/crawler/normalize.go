package crawler

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultDescriptionLimit caps stored descriptions, in runes.
const DefaultDescriptionLimit = 500

// Ellipsis marks a truncated description.
const Ellipsis = "..."

// TagSeparator joins tag lists for tabular export.
const TagSeparator = "; "

var countSuffixes = map[string]float64{
	"k": 1e3,
	"m": 1e6,
	"b": 1e9,
}

// ParseCount converts human-readable counters such as "1.2k", "3M", "1,234",
// "87%" or "12 views" into an integer. The boolean is false when no number
// could be read.
func ParseCount(raw string) (int64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" || s == "n/a" {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	if fields := strings.Fields(s); len(fields) > 0 {
		s = fields[0]
	}
	s = strings.TrimSuffix(s, "%")

	multiplier := 1.0
	for suffix, m := range countSuffixes {
		if strings.HasSuffix(s, suffix) {
			multiplier = m
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}
	value, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	scaled := math.Round(value * multiplier)
	if scaled >= math.MaxInt64 || scaled < math.MinInt64 {
		return 0, false
	}
	return int64(scaled), true
}

// ParseCountPtr is ParseCount returning nil for unreadable input.
func ParseCountPtr(raw string) *int64 {
	v, ok := ParseCount(raw)
	if !ok {
		return nil
	}
	return &v
}

// TruncateDescription collapses whitespace and caps s at limit runes,
// appending Ellipsis when text was cut. A non-positive limit uses
// DefaultDescriptionLimit.
func TruncateDescription(s string, limit int) string {
	if limit <= 0 {
		limit = DefaultDescriptionLimit
	}
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit])) + Ellipsis
}

// JoinTags renders a tag list for export.
func JoinTags(tags []string) string {
	return strings.Join(tags, TagSeparator)
}

// SplitTags parses a joined tag list, dropping blanks and duplicates.
func SplitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return NormalizeTags(strings.Split(raw, ";"))
}

// NormalizeTags trims tags and removes blanks and duplicates, keeping order.
func NormalizeTags(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, tag := range in {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// NumericID parses an item id for ordering; unparsable ids sort as zero.
func NumericID(id string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
