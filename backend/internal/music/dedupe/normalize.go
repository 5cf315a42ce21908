package dedupe

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// bracketPattern finds bracketed and parenthetical annotations:
// "(Official Video)", "[HD]", "(Live)".
var bracketPattern = regexp.MustCompile(`\(([^)]*)\)|\[([^\]]*)\]|\{([^}]*)\}`)

// marketingAnnotations are upload-noise phrases that re-uploads append to
// otherwise identical titles. Bracketed segments whose content reduces to one
// of these are dropped entirely; content-bearing segments like "(live)" are
// kept, because a live cut genuinely is a different recording.
var marketingAnnotations = map[string]struct{}{
	"officialvideo":      {},
	"officialmusicvideo": {},
	"officialaudio":      {},
	"officialvisualizer": {},
	"lyricvideo":         {},
	"lyrics":             {},
	"visualizer":         {},
	"remastered":         {},
	"remaster":           {},
	"fullalbum":          {},
	"audio":              {},
	"hd":                 {},
	"hq":                 {},
	"4k":                 {},
	"mv":                 {},
}

// Keeps letters and digits of any script so non-Latin titles survive
// normalization.
var nonAlnumPattern = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// NormalizeTitle reduces a track title to a comparable form: lower-cased,
// marketing annotations removed, then stripped down to letters and digits.
func NormalizeTitle(title string) string {
	s := strings.ToLower(title)
	s = bracketPattern.ReplaceAllStringFunc(s, func(match string) string {
		inner := nonAlnumPattern.ReplaceAllString(match, "")
		if _, noise := marketingAnnotations[inner]; noise {
			return " "
		}
		return match
	})
	s = nonAlnumPattern.ReplaceAllString(s, "")
	// Suffixes may stack ("... lyrics hd"); trim until stable.
	for {
		trimmed := s
		for noise := range marketingAnnotations {
			trimmed = strings.TrimSuffix(trimmed, noise)
		}
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

// NormalizeAuthor reduces an author/channel name for comparison.
func NormalizeAuthor(author string) string {
	return nonAlnumPattern.ReplaceAllString(strings.ToLower(author), "")
}

// levenshtein computes the rune-level edit distance between two strings using
// two rolling rows.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minInt(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Similarity returns the normalized Levenshtein similarity of two already
// normalized titles: (maxLen - distance) / maxLen, in [0, 1]. Lengths and
// distance are in runes.
func Similarity(a, b string) float64 {
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}
	return float64(maxLen-levenshtein(a, b)) / float64(maxLen)
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
