package fallback

import (
	"regexp"
	"strings"
)

var (
	tokenRe    = regexp.MustCompile(`[A-Za-z0-9]+`)
	properRe   = regexp.MustCompile(`\b[A-Z][a-z0-9]+(?:\s+[A-Z][a-z0-9]+)*\b`)
	tagRe      = regexp.MustCompile(`<[^>]*>`)
	wsRe       = regexp.MustCompile(`\s+`)
	sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]+|[^.!?]+$`)
)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "of": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "and": true, "or": true, "not": true,
	"it": true, "its": true, "this": true, "that": true, "with": true,
	"what": true, "which": true, "who": true, "how": true, "why": true,
	"does": true, "do": true, "did": true, "can": true, "could": true,
	"will": true, "would": true, "should": true, "about": true, "from": true,
	"tell": true, "me": true, "please": true, "explain": true,
}

// SearchTerms turns a raw question into provider search terms: proper
// nouns first (they anchor the topic), then remaining content words.
func SearchTerms(query string, domainHint string) string {
	var terms []string
	seen := map[string]bool{}

	for _, pn := range properRe.FindAllString(query, -1) {
		key := strings.ToLower(pn)
		if stopwords[key] || seen[key] {
			continue
		}
		seen[key] = true
		terms = append(terms, pn)
	}
	for _, w := range tokenRe.FindAllString(strings.ToLower(query), -1) {
		if len(w) < 3 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}

	out := strings.Join(terms, " ")
	if domainHint != "" {
		out = domainHint + " " + out
	}
	return strings.TrimSpace(out)
}

// keywords is the lowercase content-word set used for overlap scoring
func keywords(text string) map[string]bool {
	out := map[string]bool{}
	for _, w := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		if len(w) < 3 || stopwords[w] {
			continue
		}
		out[w] = true
	}
	return out
}

// overlap is the fraction of query keywords present in the text
func overlap(queryKw map[string]bool, text string) float64 {
	if len(queryKw) == 0 {
		return 0
	}
	textKw := keywords(text)
	n := 0
	for w := range queryKw {
		if textKw[w] {
			n++
		}
	}
	return float64(n) / float64(len(queryKw))
}

// CleanContent strips markup, collapses whitespace, and caps size
func CleanContent(raw string, sizeCap int) string {
	t := tagRe.ReplaceAllString(raw, " ")
	t = strings.TrimSpace(wsRe.ReplaceAllString(t, " "))
	if sizeCap > 0 && len(t) > sizeCap {
		t = t[:sizeCap]
		if i := strings.LastIndexByte(t, ' '); i > 0 {
			t = t[:i]
		}
	}
	return t
}

// sentences splits cleaned text into sentence units
func sentences(text string) []string {
	var out []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
