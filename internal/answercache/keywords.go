package answercache

import (
	"regexp"
	"sort"
	"strings"
)

var wordRe = regexp.MustCompile(`[a-z0-9]+`)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "of": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "and": true, "or": true, "not": true,
	"it": true, "its": true, "this": true, "that": true, "with": true,
	"what": true, "which": true, "who": true, "how": true, "why": true,
	"does": true, "do": true, "did": true, "can": true, "could": true,
	"will": true, "would": true, "should": true, "about": true, "from": true,
}

// Keywords extracts the sorted set of content words used for
// nearest-neighbor lookup over canonical questions.
func Keywords(text string) []string {
	seen := map[string]bool{}
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if len(w) < 3 || stopwords[w] {
			continue
		}
		seen[w] = true
	}
	out := make([]string, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// jaccard computes set overlap of two keyword lists
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, w := range a {
		set[w] = true
	}
	inter := 0
	for _, w := range b {
		if set[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
