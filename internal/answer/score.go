package answer

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/generator"
)

// Weights combine the three candidate scores; they must sum to 1
type Weights struct {
	Perplexity float64
	Relevance  float64
	Quality    float64
}

var scoreTokenRe = regexp.MustCompile(`[a-z0-9]+`)

func tokenSet(text string) map[string]bool {
	out := map[string]bool{}
	for _, w := range scoreTokenRe.FindAllString(strings.ToLower(text), -1) {
		if len(w) >= 2 {
			out[w] = true
		}
	}
	return out
}

func setOverlap(reference map[string]bool, text string) float64 {
	if len(reference) == 0 {
		return 0
	}
	tokens := tokenSet(text)
	n := 0
	for w := range reference {
		if tokens[w] {
			n++
		}
	}
	return float64(n) / float64(len(reference))
}

// perplexityScore maps sequence perplexity into (0,1]; candidates without
// log-probs score a neutral 0.5.
func perplexityScore(c *generator.Completion) float64 {
	ppl := c.Perplexity()
	if ppl == 0 {
		return 0.5
	}
	return 1 / (1 + ppl/10)
}

// relevanceScore blends query-token overlap, context-use, and a bonus for
// explicit grounding phrases from the configured lexicon.
func relevanceScore(query, text, context string, grounding []string) float64 {
	q := setOverlap(tokenSet(query), text)
	c := 0.0
	if context != "" {
		c = setOverlap(tokenSet(context), text)
	}
	bonus := 0.0
	lower := strings.ToLower(text)
	for _, g := range grounding {
		if strings.Contains(lower, strings.ToLower(g)) {
			bonus += 0.1
		}
	}
	if bonus > 0.2 {
		bonus = 0.2
	}
	return clamp01(0.5*q + 0.3*c + bonus)
}

// preferred answer length band in characters
const (
	minPreferredLen = 50
	maxPreferredLen = 2000
)

var structureRe = regexp.MustCompile(`(?m)^\s*(?:[-*]|\d+[.)])\s`)

// qualityScore rewards the preferred length band and visible structure,
// and penalizes answers that open with a banned prefix.
func qualityScore(text string, bannedPrefixes []string) float64 {
	if text == "" {
		return 0
	}
	n := len(text)
	var s float64
	switch {
	case n >= minPreferredLen && n <= maxPreferredLen:
		s = 0.6
	case n < minPreferredLen:
		s = 0.6 * float64(n) / minPreferredLen
	default:
		s = 0.6 * maxPreferredLen / float64(n)
	}
	if strings.Count(text, ".")+strings.Count(text, "!")+strings.Count(text, "?") >= 2 {
		s += 0.2
	}
	if structureRe.MatchString(text) || strings.Contains(text, "\n\n") {
		s += 0.2
	}
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range bannedPrefixes {
		if strings.HasPrefix(lower, strings.ToLower(p)) {
			s -= 0.5
			break
		}
	}
	return clamp01(s)
}

// scoreCandidates fills in all score fields
func scoreCandidates(cands []*candidate, query, context string, grounding, bannedPrefixes []string, w Weights) {
	for _, c := range cands {
		c.perplexity = perplexityScore(c.completion)
		c.relevance = relevanceScore(query, c.completion.Text, context, grounding)
		c.quality = qualityScore(c.completion.Text, bannedPrefixes)
		c.final = w.Perplexity*c.perplexity + w.Relevance*c.relevance + w.Quality*c.quality
	}
}

// selectBest returns the argmax by final score; ties break on quality
// score, then on the lower schedule seed for determinism.
func selectBest(cands []*candidate) *candidate {
	if len(cands) == 0 {
		return nil
	}
	sorted := make([]*candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].final != sorted[j].final {
			return sorted[i].final > sorted[j].final
		}
		if sorted[i].quality != sorted[j].quality {
			return sorted[i].quality > sorted[j].quality
		}
		return sorted[i].seed < sorted[j].seed
	})
	return sorted[0]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
