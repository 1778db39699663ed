package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/vectordb"
)

func passage(ord int, score float64, text string) vectordb.ScoredChunk {
	return vectordb.ScoredChunk{
		Ref:   vectordb.ChunkRef{DocumentID: "doc-1", Ordinal: ord},
		Text:  text,
		Score: score,
	}
}

func scoringServer(t *testing.T, scores map[string]float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		out := make([]float64, len(req.Passages))
		for i, p := range req.Passages {
			out[i] = scores[p]
		}
		_ = json.NewEncoder(w).Encode(rerankResponse{Scores: out})
	}))
}

func TestRerankReordersByCrossEncoderScore(t *testing.T) {
	srv := scoringServer(t, map[string]float64{"P1": 0.9, "P2": 0.1, "P3": 0.8})
	defer srv.Close()

	r := New(Config{Enabled: true, BaseURL: srv.URL, TopK: 5, MinScore: 0.05}, nil)
	out := r.Rerank(context.Background(), "q", []vectordb.ScoredChunk{
		passage(1, 0.4, "P1"), passage(2, 0.9, "P2"), passage(3, 0.7, "P3"),
	})

	require.False(t, out.Degraded)
	require.Len(t, out.Passages, 3)
	assert.Equal(t, "P1", out.Passages[0].Chunk.Text)
	assert.Equal(t, "P3", out.Passages[1].Chunk.Text)
	assert.Equal(t, "P2", out.Passages[2].Chunk.Text)
	assert.InDelta(t, 0.9, out.Passages[0].Score, 1e-9)
}

func TestRerankDropsBelowMinScoreAndTruncates(t *testing.T) {
	srv := scoringServer(t, map[string]float64{"a": 0.9, "b": 0.1, "c": 0.8, "d": 0.7})
	defer srv.Close()

	r := New(Config{Enabled: true, BaseURL: srv.URL, TopK: 2, MinScore: 0.2}, nil)
	out := r.Rerank(context.Background(), "q", []vectordb.ScoredChunk{
		passage(0, 0.5, "a"), passage(1, 0.5, "b"), passage(2, 0.5, "c"), passage(3, 0.5, "d"),
	})

	require.Len(t, out.Passages, 2)
	assert.Equal(t, "a", out.Passages[0].Chunk.Text)
	assert.Equal(t, "c", out.Passages[1].Chunk.Text)
}

func TestRerankTieBreaksOnRetrievalOrder(t *testing.T) {
	srv := scoringServer(t, map[string]float64{"first": 0.5, "second": 0.5})
	defer srv.Close()

	r := New(Config{Enabled: true, BaseURL: srv.URL, TopK: 5, MinScore: 0.1}, nil)
	out := r.Rerank(context.Background(), "q", []vectordb.ScoredChunk{
		passage(0, 0.9, "first"), passage(1, 0.8, "second"),
	})

	require.Len(t, out.Passages, 2)
	assert.Equal(t, "first", out.Passages[0].Chunk.Text)
	assert.Equal(t, "second", out.Passages[1].Chunk.Text)
}

func TestRerankDegradesToPassthroughWhenUnavailable(t *testing.T) {
	r := New(Config{Enabled: true, BaseURL: "http://127.0.0.1:1", TopK: 2}, nil)
	out := r.Rerank(context.Background(), "q", []vectordb.ScoredChunk{
		passage(0, 0.9, "a"), passage(1, 0.8, "b"), passage(2, 0.7, "c"),
	})

	require.True(t, out.Degraded)
	require.Len(t, out.Passages, 2)
	assert.Equal(t, "a", out.Passages[0].Chunk.Text)
	assert.InDelta(t, 0.9, out.Passages[0].Score, 1e-9)
}

func TestRerankDisabledIsPassthrough(t *testing.T) {
	r := New(Config{Enabled: false, TopK: 5}, nil)
	out := r.Rerank(context.Background(), "q", []vectordb.ScoredChunk{passage(0, 0.6, "x")})
	assert.True(t, out.Degraded)
	require.Len(t, out.Passages, 1)
}

func TestRerankTruncatesInput(t *testing.T) {
	var got int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		got = len(req.Passages)
		_ = json.NewEncoder(w).Encode(rerankResponse{Scores: make([]float64, len(req.Passages))})
	}))
	defer srv.Close()

	r := New(Config{Enabled: true, BaseURL: srv.URL, InputMax: 3, TopK: 5}, nil)
	in := make([]vectordb.ScoredChunk, 6)
	for i := range in {
		in[i] = passage(i, 0.5, "t")
	}
	r.Rerank(context.Background(), "q", in)
	assert.Equal(t, 3, got)
}
