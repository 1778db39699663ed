package answer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/generator"
)

func TestPerplexityScore(t *testing.T) {
	// no logprobs -> neutral 0.5
	assert.InDelta(t, 0.5, perplexityScore(&generator.Completion{}), 1e-9)

	// perplexity 10 -> 1/(1+1) = 0.5; lower perplexity scores higher
	confident := &generator.Completion{TokenLogProbs: []float64{-0.01, -0.01}}
	sloppy := &generator.Completion{TokenLogProbs: []float64{-3, -3}}
	assert.Greater(t, perplexityScore(confident), perplexityScore(sloppy))
}

func TestRelevanceScoreRewardsOverlapAndGrounding(t *testing.T) {
	query := "what is the typescript compiler"
	grounded := "The TypeScript compiler, according to the context, transforms source files."
	offTopic := "Pasta is best cooked al dente."

	g := []string{"according to the context"}
	assert.Greater(t,
		relevanceScore(query, grounded, "", g),
		relevanceScore(query, offTopic, "", g))

	// grounding bonus is visible
	plain := "The TypeScript compiler transforms source files."
	assert.Greater(t,
		relevanceScore(query, grounded, "", g),
		relevanceScore(query, plain, "", g))
}

func TestQualityScoreLengthBandAndBannedPrefix(t *testing.T) {
	good := strings.Repeat("A solid sentence about the topic. ", 5)
	tiny := "No."
	banned := "As an AI model, " + good

	assert.Greater(t, qualityScore(good, nil), qualityScore(tiny, nil))
	assert.Greater(t, qualityScore(good, []string{"as an ai"}), qualityScore(banned, []string{"as an ai"}))
	assert.Zero(t, qualityScore("", nil))
}

func TestSelectBestTieBreaks(t *testing.T) {
	a := &candidate{seed: 2, final: 0.8, quality: 0.5}
	b := &candidate{seed: 0, final: 0.8, quality: 0.7}
	c := &candidate{seed: 1, final: 0.8, quality: 0.7}

	// higher quality wins the tie; equal quality falls to lower seed
	got := selectBest([]*candidate{a, b, c})
	require.NotNil(t, got)
	assert.Equal(t, 0, got.seed)

	assert.Nil(t, selectBest(nil))
}

func TestScoreCandidatesFinalIsWeightedSum(t *testing.T) {
	cand := &candidate{completion: &generator.Completion{
		Text:          "The answer mentions typescript and compilers in a full sentence. It is long enough to clear the minimum and has two sentences.",
		TokenLogProbs: []float64{-0.5},
	}}
	w := Weights{Perplexity: 0.3, Relevance: 0.4, Quality: 0.3}
	scoreCandidates([]*candidate{cand}, "typescript compilers", "", nil, nil, w)

	expected := 0.3*cand.perplexity + 0.4*cand.relevance + 0.3*cand.quality
	assert.InDelta(t, expected, cand.final, 1e-9)
	assert.Greater(t, cand.final, 0.0)
}
