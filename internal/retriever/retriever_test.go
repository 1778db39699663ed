package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/vectordb"
)

type stubEmbedder struct{ err error }

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0, 0}, nil
}

type stubIndex struct {
	hits []vectordb.ScoredChunk
	err  error
	k    int
	doc  string
}

func (s *stubIndex) Search(_ context.Context, _ []float32, k int, documentID string) ([]vectordb.ScoredChunk, error) {
	s.k = k
	s.doc = documentID
	return s.hits, s.err
}

func chunk(ord int, score float64) vectordb.ScoredChunk {
	return vectordb.ScoredChunk{
		Ref:   vectordb.ChunkRef{DocumentID: "doc-1", Ordinal: ord},
		Score: score,
	}
}

func TestRetrieveAppliesScoreFloorAndOrder(t *testing.T) {
	idx := &stubIndex{hits: []vectordb.ScoredChunk{
		chunk(0, 0.9), chunk(1, 0.55), chunk(2, 0.1), chunk(3, 0.75),
	}}
	r := New(Config{TopK: 10, ScoreFloor: 0.2}, &stubEmbedder{}, idx, nil)

	got, err := r.Retrieve(context.Background(), "what is x", 0, "doc-1")
	require.NoError(t, err)
	require.Len(t, got, 3)

	// sorted descending, nothing below the floor
	assert.Equal(t, 0, got[0].Ref.Ordinal)
	assert.Equal(t, 3, got[1].Ref.Ordinal)
	assert.Equal(t, 1, got[2].Ref.Ordinal)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
	assert.Equal(t, 10, idx.k)
	assert.Equal(t, "doc-1", idx.doc)
}

func TestRetrieveEmptyResultIsNotAnError(t *testing.T) {
	idx := &stubIndex{hits: []vectordb.ScoredChunk{chunk(0, 0.05)}}
	r := New(Config{TopK: 5, ScoreFloor: 0.2}, &stubEmbedder{}, idx, nil)

	got, err := r.Retrieve(context.Background(), "unrelated", 0, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrievePropagatesEmbedderError(t *testing.T) {
	r := New(Config{}, &stubEmbedder{err: errors.New("down")}, &stubIndex{}, nil)
	_, err := r.Retrieve(context.Background(), "q", 0, "")
	require.Error(t, err)
}

func TestRetrieveExplicitKOverridesDefault(t *testing.T) {
	idx := &stubIndex{}
	r := New(Config{TopK: 10, ScoreFloor: 0.2}, &stubEmbedder{}, idx, nil)
	_, err := r.Retrieve(context.Background(), "q", 3, "")
	require.NoError(t, err)
	assert.Equal(t, 3, idx.k)
}
