package history

import (
	"regexp"
	"sort"
	"strings"

	"cadence/backend/internal/music"
)

// Metadata is what related-query building knows about a track. It is derived
// once from the title/author and cached; it is never consulted for duplicate
// decisions.
type Metadata struct {
	Artist    string   `json:"artist"`
	Tags      []string `json:"tags"`
	ViewCount int64    `json:"view_count"`
}

// HasTag reports whether a tag was extracted for the track.
func (m *Metadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// GenreTags returns only the tags that are recognized genre keywords.
func (m *Metadata) GenreTags() []string {
	var genres []string
	for _, t := range m.Tags {
		if _, ok := genreKeywords[t]; ok {
			genres = append(genres, t)
		}
	}
	return genres
}

// genreKeywords maps a normalized keyword found in titles to the tag stored
// for it. Multi-word genres are matched as substrings of the lowered title.
var genreKeywords = map[string]string{
	"rock":          "rock",
	"metal":         "metal",
	"pop":           "pop",
	"jazz":          "jazz",
	"blues":         "blues",
	"hip hop":       "hip hop",
	"hiphop":        "hip hop",
	"rap":           "rap",
	"lofi":          "lofi",
	"lo-fi":         "lofi",
	"edm":           "edm",
	"techno":        "techno",
	"house":         "house",
	"trance":        "trance",
	"dubstep":       "dubstep",
	"drum and bass": "drum and bass",
	"dnb":           "drum and bass",
	"classical":     "classical",
	"country":       "country",
	"indie":         "indie",
	"punk":          "punk",
	"folk":          "folk",
	"reggae":        "reggae",
	"r&b":           "rnb",
	"rnb":           "rnb",
	"soul":          "soul",
	"funk":          "funk",
	"disco":         "disco",
	"ambient":       "ambient",
	"synthwave":     "synthwave",
	"phonk":         "phonk",
	"kpop":          "kpop",
	"k-pop":         "kpop",
	"jpop":          "jpop",
	"j-pop":         "jpop",
}

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

var genreKeywordOrder = func() []string {
	keys := make([]string, 0, len(genreKeywords))
	for k := range genreKeywords {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}()

func sortedGenreKeywords() []string {
	return genreKeywordOrder
}

// DeriveMetadata extracts searchable tags from a track's title and author:
// genre keywords, the artist name, a release year if present, and live or
// acoustic markers.
func DeriveMetadata(track music.Track) Metadata {
	lowered := strings.ToLower(track.Title)

	var tags []string
	seen := make(map[string]struct{})
	add := func(tag string) {
		if tag == "" {
			return
		}
		if _, dup := seen[tag]; dup {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	// Sorted keyword order keeps tag extraction deterministic.
	for _, keyword := range sortedGenreKeywords() {
		if containsWord(lowered, keyword) {
			add(genreKeywords[keyword])
		}
	}

	if year := yearPattern.FindString(lowered); year != "" {
		add(year)
	}

	if containsWord(lowered, "live") {
		add("live")
	}
	if containsWord(lowered, "acoustic") {
		add("acoustic")
	}

	artist := strings.TrimSpace(track.Author)
	if artist != "" {
		add(strings.ToLower(artist))
	}

	return Metadata{
		Artist:    artist,
		Tags:      tags,
		ViewCount: track.ViewCount,
	}
}

// containsWord reports whether keyword occurs in s on word boundaries, so
// "rock" does not match "rocket" while "hip hop" still matches as a phrase.
func containsWord(s, keyword string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], keyword)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(keyword)
		beforeOK := start == 0 || !isWordChar(s[start-1])
		afterOK := end == len(s) || !isWordChar(s[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
