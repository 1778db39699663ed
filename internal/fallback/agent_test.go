package fallback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	hits []Hit
	err  error
	last string
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Search(_ context.Context, terms string, _ int) ([]Hit, error) {
	s.last = terms
	return s.hits, s.err
}

func TestSearchTermsExtractsProperNounsFirst(t *testing.T) {
	got := SearchTerms("What is the Python interpreter doing?", "")
	assert.Contains(t, got, "Python")
	assert.NotContains(t, got, "what")
	// proper noun leads
	assert.Equal(t, 0, indexOf(got, "Python"))

	hinted := SearchTerms("how do rockets work", "physics")
	assert.Equal(t, 0, indexOf(hinted, "physics"))
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestCleanContentStripsMarkupAndCaps(t *testing.T) {
	got := CleanContent("<p>Hello   <b>world</b></p>\n\nmore   text", 0)
	assert.Equal(t, "Hello world more text", got)

	capped := CleanContent("alpha beta gamma delta", 12)
	assert.Equal(t, "alpha beta", capped)
}

func TestShouldTrigger(t *testing.T) {
	poor := []*regexp.Regexp{regexp.MustCompile(`(?i)i cannot answer`)}
	long := "This answer is comfortably longer than the minimum length requirement."

	assert.True(t, ShouldTrigger(0.5, 0.6, long, 50, poor))
	assert.False(t, ShouldTrigger(0.9, 0.6, long, 50, poor))
	assert.True(t, ShouldTrigger(0.9, 0.6, "too short", 50, poor))
	assert.True(t, ShouldTrigger(0.9, 0.6, "I cannot answer that question, unfortunately for you.", 50, poor))
}

func TestSearchAndAnswerSynthesizesWithProvenance(t *testing.T) {
	p := &stubProvider{hits: []Hit{
		{Title: "Go (language)", Body: "Go is a compiled language. It has goroutines.", Domain: "wikipedia.org"},
		{Title: "Unrelated", Body: "Something about cooking pasta sauce.", Domain: "example.com"},
	}}
	a := NewAgentWithProvider(Config{
		MaxResults:   3,
		TrustWeights: map[string]float64{"wikipedia.org": 0.9},
		DefaultTrust: 0.3,
	}, p, nil)

	res, err := a.SearchAndAnswer(context.Background(), "what is the Go language")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Contains(t, res.Text, "Go is a compiled language.")
	assert.Contains(t, res.Text, "[1]")
	assert.Greater(t, res.Confidence, 0.0)
	require.NotEmpty(t, res.Sources)
	assert.Equal(t, "Go (language)", res.Sources[0].Title)
	assert.Contains(t, p.last, "Go")
}

func TestSearchAndAnswerEmptyHits(t *testing.T) {
	a := NewAgentWithProvider(Config{}, &stubProvider{}, nil)
	res, err := a.SearchAndAnswer(context.Background(), "anything at all")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestSearchAndAnswerProviderError(t *testing.T) {
	a := NewAgentWithProvider(Config{}, &stubProvider{err: context.DeadlineExceeded}, nil)
	_, err := a.SearchAndAnswer(context.Background(), "anything")
	require.Error(t, err)
}

func TestWikipediaProviderParsesSearchAndExtracts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("list") {
		case "search":
			_, _ = w.Write([]byte(`{"query":{"search":[{"title":"TypeScript","snippet":"..."}]}}`))
		default:
			_, _ = w.Write([]byte(`{"query":{"pages":{"123":{"title":"TypeScript","extract":"TypeScript is a typed superset of JavaScript."}}}}`))
		}
	}))
	defer srv.Close()

	p := newWikipediaProvider(srv.URL, time.Second)
	hits, err := p.Search(context.Background(), "TypeScript", 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "TypeScript", hits[0].Title)
	assert.Contains(t, hits[0].Body, "typed superset")
	assert.Equal(t, "wikipedia.org", hits[0].Domain)
}

func TestWebsearchProviderScoresDomains(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(websearchResponse{Results: []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Snippet string `json:"snippet"`
		}{
			{Title: "Docs", URL: "https://www.golang.org/doc", Snippet: "Official documentation."},
		}})
	}))
	defer srv.Close()

	p := newWebsearchProvider(srv.URL, "key-1", time.Second)
	hits, err := p.Search(context.Background(), "go docs", 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "golang.org", hits[0].Domain)
}

func TestLLMProviderReportsSelfConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(llmResponse{Text: "X", Confidence: 0.9})
	}))
	defer srv.Close()

	p := newLLMProvider(srv.URL, time.Second)
	hits, err := p.Search(context.Background(), "question", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "X", hits[0].Body)
	assert.InDelta(t, 0.9, hits[0].SelfConfidence, 1e-9)
}

func TestSearchAndAnswerHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewAgentWithProvider(Config{}, &stubProvider{hits: []Hit{{Title: "t", Body: "body text here."}}}, nil)
	_, err := a.SearchAndAnswer(ctx, "query")
	require.Error(t, err)
}
