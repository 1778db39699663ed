package generator

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/faults"
)

func TestCompleteParsesLogProbs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.LogProbs)
		assert.InDelta(t, 0.7, req.Temperature, 1e-9)

		_ = json.NewEncoder(w).Encode(completionResponse{
			Text:          "  An answer.  ",
			TokenLogProbs: []float64{-0.5, -1.5},
			Confidence:    0.8,
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	out, err := c.Complete(context.Background(), "q", Params{Temperature: 0.7, TopP: 0.9}, 0)
	require.NoError(t, err)

	assert.Equal(t, "An answer.", out.Text)
	assert.InDelta(t, 0.8, out.Confidence, 1e-9)
	// mean logprob -1.0 -> perplexity e
	assert.InDelta(t, math.E, out.Perplexity(), 1e-9)
}

func TestPerplexityZeroWithoutLogProbs(t *testing.T) {
	c := Completion{Text: "x"}
	assert.Zero(t, c.Perplexity())
}

func TestCompleteUnreachable(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, nil)
	_, err := c.Complete(context.Background(), "q", Params{}, 0)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindDependencyUnavailable))
}

func TestCompleteCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	start := time.Now()
	_, err := c.Complete(ctx, "q", Params{}, 0)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindDeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)
}

func TestCondenseBuildsPrompt(t *testing.T) {
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		prompt = req.Prompt
		_ = json.NewEncoder(w).Encode(completionResponse{Text: "Short summary."})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	out, err := c.Condense(context.Background(), "what is x", "x is a thing with many parts")
	require.NoError(t, err)
	assert.Equal(t, "Short summary.", out)
	assert.Contains(t, prompt, "what is x")
	assert.Contains(t, prompt, "x is a thing")
}
