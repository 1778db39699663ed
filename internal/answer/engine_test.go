package answer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/answercache"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/docstore"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/fallback"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/faults"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/generator"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/reranker"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/vectordb"
)

// --- stubs ---

type stubStore struct {
	status docstore.Status
	err    error
}

func (s *stubStore) GetOwned(_ context.Context, id, _ string) (*docstore.Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	st := s.status
	if st == "" {
		st = docstore.StatusIndexed
	}
	return &docstore.Document{ID: id, Status: st}, nil
}

type stubRetriever struct {
	hits []vectordb.ScoredChunk
	err  error
}

func (s *stubRetriever) Retrieve(context.Context, string, int, string) ([]vectordb.ScoredChunk, error) {
	return s.hits, s.err
}

type passthroughReranker struct{}

func (passthroughReranker) Rerank(_ context.Context, _ string, passages []vectordb.ScoredChunk) reranker.Output {
	out := reranker.Output{}
	for _, p := range passages {
		out.Passages = append(out.Passages, reranker.Ranked{Chunk: p, Score: p.Score})
	}
	return out
}

type stubGenerator struct {
	complete func(ctx context.Context, prompt string, p generator.Params, maxTokens int) (*generator.Completion, error)
}

func (s *stubGenerator) Complete(ctx context.Context, prompt string, p generator.Params, maxTokens int) (*generator.Completion, error) {
	return s.complete(ctx, prompt, p, maxTokens)
}

func (s *stubGenerator) Condense(_ context.Context, _, passage string) (string, error) {
	return passage, nil
}

type stubFallback struct {
	result *fallback.Result
	err    error
	calls  int64
}

func (s *stubFallback) SearchAndAnswer(context.Context, string) (*fallback.Result, error) {
	atomic.AddInt64(&s.calls, 1)
	return s.result, s.err
}

type stubCache struct {
	mu      sync.Mutex
	entry   *answercache.Entry
	match   string
	records []string
}

func (s *stubCache) Lookup(context.Context, string, string) (*answercache.Entry, string, bool) {
	if s.entry == nil {
		return nil, "", false
	}
	return s.entry, s.match, true
}

func (s *stubCache) RecordInteraction(_ context.Context, fp, _, _ string, _ float64, _ bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, fp)
}

// --- helpers ---

func passages(texts ...string) []vectordb.ScoredChunk {
	out := make([]vectordb.ScoredChunk, len(texts))
	for i, txt := range texts {
		out[i] = vectordb.ScoredChunk{
			Ref:   vectordb.ChunkRef{DocumentID: "doc-1", Ordinal: i},
			Text:  txt,
			Score: 0.8,
		}
	}
	return out
}

func goodCompletion(text string) *generator.Completion {
	return &generator.Completion{Text: text, TokenLogProbs: []float64{-0.1, -0.1}}
}

func baseRequest() Request {
	return Request{Question: "What is TypeScript?", DocumentID: "doc-1", UserID: "user-1"}
}

func newTestEngine(t *testing.T, cfg Config, deps Deps) *Engine {
	t.Helper()
	if deps.Store == nil {
		deps.Store = &stubStore{}
	}
	if deps.Reranker == nil {
		deps.Reranker = passthroughReranker{}
	}
	e, err := NewEngine(cfg, deps)
	require.NoError(t, err)
	return e
}

const localAnswer = "TypeScript is a strongly typed superset of JavaScript that compiles to plain JavaScript and adds static types."

// --- tests ---

func TestAnswerLocalHappyPath(t *testing.T) {
	gen := &stubGenerator{complete: func(context.Context, string, generator.Params, int) (*generator.Completion, error) {
		return goodCompletion(localAnswer), nil
	}}
	e := newTestEngine(t, Config{ConfidenceFloor: 0.1}, Deps{
		Retriever: &stubRetriever{hits: passages("TypeScript is a strongly typed superset of JavaScript.")},
		Generator: gen,
	})

	ans, err := e.Answer(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, OriginLocal, ans.Origin)
	assert.Contains(t, ans.Text, "TypeScript")
	assert.GreaterOrEqual(t, ans.Confidence, 0.1)
	assert.LessOrEqual(t, ans.Confidence, 1.0)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, "doc-1", ans.Sources[0].DocumentID)
	assert.False(t, ans.Metadata.FallbackUsed)
}

func TestBestOfNSelectionIsDeterministic(t *testing.T) {
	schedule := []generator.Params{
		{Temperature: 0.7, TopP: 0.9},
		{Temperature: 0.5, TopP: 0.9},
		{Temperature: 0.9, TopP: 0.9},
	}
	byTemp := map[float64]*generator.Completion{
		0.7: {Text: "A."},
		0.5: goodCompletion("B: TypeScript is a typed superset of JavaScript. It compiles to JavaScript and checks types."),
		0.9: {Text: "C is a medium answer without the key words present here at all."},
	}
	gen := &stubGenerator{complete: func(_ context.Context, _ string, p generator.Params, _ int) (*generator.Completion, error) {
		return byTemp[p.Temperature], nil
	}}
	e := newTestEngine(t, Config{
		ConfidenceFloor:  0.1,
		SamplingSchedule: schedule,
		Weights:          Weights{Perplexity: 0.3, Relevance: 0.4, Quality: 0.3},
	}, Deps{
		Retriever: &stubRetriever{hits: passages("TypeScript is a typed superset of JavaScript.")},
		Generator: gen,
	})

	req := baseRequest()
	req.Options.NCandidates = 3
	req.Options.Mode = ModeUltraFast

	for i := 0; i < 100; i++ {
		ans, err := e.Answer(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(ans.Text, "B:"), "run %d selected %q", i, ans.Text)
	}
}

func TestRerankOrderingShapesContext(t *testing.T) {
	// real reranker against a scripted cross-encoder
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Passages []string `json:"passages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		scores := map[string]float64{"P1": 0.9, "P2": 0.1, "P3": 0.8}
		out := make([]float64, len(req.Passages))
		for i, p := range req.Passages {
			out[i] = scores[p]
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"scores": out})
	}))
	defer srv.Close()

	var prompt string
	gen := &stubGenerator{complete: func(_ context.Context, p string, _ generator.Params, _ int) (*generator.Completion, error) {
		prompt = p
		return goodCompletion(localAnswer), nil
	}}

	hits := []vectordb.ScoredChunk{
		{Ref: vectordb.ChunkRef{DocumentID: "doc-1", Ordinal: 0}, Text: "P1", Score: 0.4},
		{Ref: vectordb.ChunkRef{DocumentID: "doc-1", Ordinal: 1}, Text: "P2", Score: 0.9},
		{Ref: vectordb.ChunkRef{DocumentID: "doc-1", Ordinal: 2}, Text: "P3", Score: 0.7},
	}
	e := newTestEngine(t, Config{ConfidenceFloor: 0.1}, Deps{
		Retriever: &stubRetriever{hits: hits},
		Reranker:  reranker.New(reranker.Config{Enabled: true, BaseURL: srv.URL, TopK: 5, MinScore: 0.05}, nil),
		Generator: gen,
	})

	req := baseRequest()
	req.Options.Mode = ModeUltraFast
	ans, err := e.Answer(context.Background(), req)
	require.NoError(t, err)

	i1 := strings.Index(prompt, "P1")
	i2 := strings.Index(prompt, "P2")
	i3 := strings.Index(prompt, "P3")
	require.True(t, i1 >= 0 && i2 >= 0 && i3 >= 0)
	assert.Less(t, i1, i3)
	assert.Less(t, i3, i2)

	assert.True(t, ans.Metadata.RerankApplied)
	require.Len(t, ans.Sources, 3)
	assert.Equal(t, 0, ans.Sources[0].ChunkOrdinal)
	assert.Equal(t, 2, ans.Sources[1].ChunkOrdinal)
	assert.Equal(t, 1, ans.Sources[2].ChunkOrdinal)
}

func TestQualityGateTriggersFallback(t *testing.T) {
	gen := &stubGenerator{complete: func(context.Context, string, generator.Params, int) (*generator.Completion, error) {
		// scores well below a 0.8 floor
		return &generator.Completion{Text: "A weak local answer without relevant words attached to it."}, nil
	}}
	fb := &stubFallback{result: &fallback.Result{Text: "X", Confidence: 0.9}}
	e := newTestEngine(t, Config{ConfidenceFloor: 0.8}, Deps{
		Retriever: &stubRetriever{hits: passages("some document content about the topic")},
		Generator: gen,
		Fallback:  fb,
	})

	req := baseRequest()
	req.Options.Mode = ModeUltraFast
	ans, err := e.Answer(context.Background(), req)
	require.NoError(t, err)

	assert.Contains(t, []string{OriginExternal, OriginHybrid}, ans.Origin)
	assert.Contains(t, ans.Text, "X")
	assert.True(t, ans.Metadata.FallbackUsed)
	assert.Equal(t, int64(1), atomic.LoadInt64(&fb.calls))
}

func TestCancellationReturnsQuicklyAndLeaksNothing(t *testing.T) {
	var active int64
	gen := &stubGenerator{complete: func(ctx context.Context, _ string, _ generator.Params, _ int) (*generator.Completion, error) {
		atomic.AddInt64(&active, 1)
		defer atomic.AddInt64(&active, -1)
		select {
		case <-time.After(time.Second):
			return goodCompletion("too late"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	e := newTestEngine(t, Config{ConfidenceFloor: 0.1}, Deps{
		Retriever: &stubRetriever{hits: passages("content")},
		Generator: gen,
	})

	req := baseRequest()
	req.Options.Mode = ModeUltraFast
	deadlineMs := int64(100)
	req.Options.DeadlineMs = &deadlineMs

	start := time.Now()
	ans, err := e.Answer(context.Background(), req)
	took := time.Since(start)

	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindDeadlineExceeded))
	assert.Less(t, took, 150*time.Millisecond)
	require.NotNil(t, ans)
	assert.Equal(t, OriginInternalError, ans.Origin)
	assert.Zero(t, ans.Confidence)

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt64(&active), "generator tasks must not outlive cancellation")
}

func TestEmptyRetrievalFallbackDisabled(t *testing.T) {
	e := newTestEngine(t, Config{}, Deps{
		Retriever: &stubRetriever{},
		Generator: &stubGenerator{complete: func(context.Context, string, generator.Params, int) (*generator.Completion, error) {
			t.Fatal("generator must not run without evidence")
			return nil, nil
		}},
	})

	req := baseRequest()
	off := false
	req.Options.AllowExternalFallback = &off

	ans, err := e.Answer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OriginFallbackError, ans.Origin)
	assert.Zero(t, ans.Confidence)
	assert.Empty(t, ans.Sources)
	assert.Equal(t, msgNoEvidence, ans.Text)
}

func TestEmptyRetrievalUsesFallback(t *testing.T) {
	fb := &stubFallback{result: &fallback.Result{Text: "External knowledge.", Confidence: 0.7}}
	e := newTestEngine(t, Config{}, Deps{
		Retriever: &stubRetriever{},
		Generator: &stubGenerator{complete: func(context.Context, string, generator.Params, int) (*generator.Completion, error) {
			return nil, faults.New(faults.KindInternal, "unreachable")
		}},
		Fallback: fb,
	})

	ans, err := e.Answer(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, OriginExternal, ans.Origin)
	assert.Contains(t, ans.Text, "External knowledge.")
	assert.InDelta(t, 0.7, ans.Confidence, 1e-9)
}

func TestSingleCandidateStillScores(t *testing.T) {
	gen := &stubGenerator{complete: func(context.Context, string, generator.Params, int) (*generator.Completion, error) {
		return goodCompletion(localAnswer), nil
	}}
	e := newTestEngine(t, Config{ConfidenceFloor: 0.1}, Deps{
		Retriever: &stubRetriever{hits: passages("TypeScript is a typed superset of JavaScript.")},
		Generator: gen,
	})

	req := baseRequest()
	req.Options.NCandidates = 1
	req.Options.Mode = ModeUltraFast
	ans, err := e.Answer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, ans.Metadata.CandidatesGenerated)
	assert.Greater(t, ans.Confidence, 0.0)
}

func TestInvalidOptionsRejected(t *testing.T) {
	e := newTestEngine(t, Config{}, Deps{
		Retriever: &stubRetriever{},
		Generator: &stubGenerator{complete: func(context.Context, string, generator.Params, int) (*generator.Completion, error) {
			return nil, nil
		}},
	})

	req := baseRequest()
	req.Options.NCandidates = 11
	_, err := e.Answer(context.Background(), req)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindInvalidInput))

	req = baseRequest()
	req.Options.ResponseFormat = "interpretive_dance"
	_, err = e.Answer(context.Background(), req)
	assert.True(t, faults.IsKind(err, faults.KindInvalidInput))
}

func TestDocumentNotReady(t *testing.T) {
	e := newTestEngine(t, Config{}, Deps{
		Store:     &stubStore{status: docstore.StatusExtracting},
		Retriever: &stubRetriever{},
		Generator: &stubGenerator{complete: func(context.Context, string, generator.Params, int) (*generator.Completion, error) {
			return nil, nil
		}},
	})

	_, err := e.Answer(context.Background(), baseRequest())
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindNotReady))
}

func TestExactCacheHitServesImmediately(t *testing.T) {
	cache := &stubCache{
		entry: &answercache.Entry{
			Fingerprint:   "fp-cached",
			Question:      "what is typescript?",
			Answer:        "TypeScript is a typed superset of JavaScript.",
			HitCount:      6,
			PositiveVotes: 3,
		},
		match: "exact",
	}
	e := newTestEngine(t, Config{}, Deps{
		Retriever: &stubRetriever{},
		Generator: &stubGenerator{complete: func(context.Context, string, generator.Params, int) (*generator.Completion, error) {
			t.Fatal("cache hit must not reach the generator")
			return nil, nil
		}},
		Cache: cache,
	})

	ans, err := e.Answer(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, OriginLocal, ans.Origin)
	assert.True(t, ans.Metadata.CacheHit)
	assert.Equal(t, cache.entry.Answer, ans.Text)
	// hit statistics updated against the canonical fingerprint
	assert.Equal(t, []string{"fp-cached"}, cache.records)
}

func TestZeroDeadlineFailsImmediately(t *testing.T) {
	e := newTestEngine(t, Config{}, Deps{
		Retriever: &stubRetriever{},
		Generator: &stubGenerator{complete: func(context.Context, string, generator.Params, int) (*generator.Completion, error) {
			return nil, nil
		}},
	})

	req := baseRequest()
	zero := int64(0)
	req.Options.DeadlineMs = &zero
	_, err := e.Answer(context.Background(), req)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindDeadlineExceeded))
}

func TestOverloadedWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 8)
	gen := &stubGenerator{complete: func(ctx context.Context, _ string, _ generator.Params, _ int) (*generator.Completion, error) {
		started <- struct{}{}
		select {
		case <-block:
		case <-ctx.Done():
		}
		return goodCompletion(localAnswer), nil
	}}
	e := newTestEngine(t, Config{ConfidenceFloor: 0.1, MaxInFlight: 1, QueueSize: 1}, Deps{
		Retriever: &stubRetriever{hits: passages("content words")},
		Generator: gen,
	})

	req := baseRequest()
	req.Options.Mode = ModeUltraFast
	req.Options.NCandidates = 1

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = e.Answer(context.Background(), req)
	}()
	<-started // first request holds the only slot

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = e.Answer(context.Background(), req) // sits in the queue
	}()
	time.Sleep(50 * time.Millisecond)

	_, err := e.Answer(context.Background(), req)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindOverloaded))

	close(block)
	wg.Wait()
}

func TestFallbackFailureYieldsFallbackError(t *testing.T) {
	gen := &stubGenerator{complete: func(context.Context, string, generator.Params, int) (*generator.Completion, error) {
		return &generator.Completion{Text: "weak"}, nil
	}}
	fb := &stubFallback{err: faults.New(faults.KindDependencyUnavailable, "source down")}
	e := newTestEngine(t, Config{ConfidenceFloor: 0.9}, Deps{
		Retriever: &stubRetriever{hits: passages("content")},
		Generator: gen,
		Fallback:  fb,
	})

	req := baseRequest()
	req.Options.Mode = ModeUltraFast
	ans, err := e.Answer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OriginFallbackError, ans.Origin)
	assert.Zero(t, ans.Confidence)
	assert.Equal(t, msgNoAnswer, ans.Text)
}

func TestMaxSourcesCap(t *testing.T) {
	gen := &stubGenerator{complete: func(context.Context, string, generator.Params, int) (*generator.Completion, error) {
		return goodCompletion(localAnswer), nil
	}}
	e := newTestEngine(t, Config{ConfidenceFloor: 0.1}, Deps{
		Retriever: &stubRetriever{hits: passages("p0 text", "p1 text", "p2 text", "p3 text")},
		Generator: gen,
	})

	req := baseRequest()
	req.Options.MaxSources = 2
	req.Options.Mode = ModeUltraFast
	ans, err := e.Answer(context.Background(), req)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(ans.Sources), 2)
}
