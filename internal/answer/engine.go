package answer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/answercache"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/classifier"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/docstore"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/embeddings"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/fallback"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/faults"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/generator"
	ometrics "github.com/Shubh2310-developer/Engunity-AI-sub002/internal/metrics"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/reranker"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/tracing"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/vectordb"
)

// deterministic user-safe failure messages
const (
	msgNoEvidence = "No relevant content was found in the document to answer this question."
	msgNoAnswer   = "No reliable answer could be produced from the document or external sources."
	msgDeadline   = "The request timed out before an answer could be produced."
	msgOverloaded = "The service is at capacity; please retry shortly."
	msgInternal   = "An internal error prevented answering this question."
)

// Collaborator interfaces; the application root injects concrete
// implementations once at startup.

type Retriever interface {
	Retrieve(ctx context.Context, queryText string, k int, documentID string) ([]vectordb.ScoredChunk, error)
}

type Reranker interface {
	Rerank(ctx context.Context, query string, passages []vectordb.ScoredChunk) reranker.Output
}

type Generator interface {
	Complete(ctx context.Context, prompt string, params generator.Params, maxTokens int) (*generator.Completion, error)
	Condense(ctx context.Context, query, passage string) (string, error)
}

type Classifier interface {
	Classify(ctx context.Context, text string) classifier.Record
}

type FallbackAgent interface {
	SearchAndAnswer(ctx context.Context, query string) (*fallback.Result, error)
}

type Cache interface {
	Lookup(ctx context.Context, fingerprint, question string) (*answercache.Entry, string, bool)
	RecordInteraction(ctx context.Context, fingerprint, question, answer string, latencyMs float64, passedGate bool)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type DocumentGetter interface {
	GetOwned(ctx context.Context, id, ownerID string) (*docstore.Document, error)
}

// Config drives every pipeline threshold
type Config struct {
	NCandidates      int
	MaxTokens        int
	ContextBudget    int // tokens
	SamplingSchedule []generator.Params
	Weights          Weights
	GroundingPhrases []string

	ConfidenceFloor    float64
	MinAnswerLength    int
	BannedPhrases      []string
	PoorAnswerPatterns []string

	SimilarityFloor float64 // cache near-duplicate cosine threshold
	RetrieverTopK   int

	DefaultDeadline time.Duration
	MaxInFlight     int
	QueueSize       int
}

// Deps are the engine's constructor-injected collaborators. Fallback,
// Cache, and Classifier may be nil and degrade gracefully.
type Deps struct {
	Store      DocumentGetter
	Retriever  Retriever
	Reranker   Reranker
	Generator  Generator
	Classifier Classifier
	Fallback   FallbackAgent
	Cache      Cache
	Embedder   Embedder
	Logger     *zap.Logger
}

// Engine orchestrates the full answering pipeline:
// classify, retrieve, rerank, condense, generate-N, score, select,
// quality-gate, fallback, format.
type Engine struct {
	cfg    Config
	deps   Deps
	poor   []*regexp.Regexp
	slots  chan struct{}
	queued int32
	log    *zap.Logger
}

func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if cfg.NCandidates <= 0 {
		cfg.NCandidates = 5
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.ContextBudget <= 0 {
		cfg.ContextBudget = 2000
	}
	if len(cfg.SamplingSchedule) == 0 {
		cfg.SamplingSchedule = []generator.Params{
			{Temperature: 0.7, TopP: 0.9},
			{Temperature: 0.5, TopP: 0.9},
			{Temperature: 0.9, TopP: 0.9},
			{Temperature: 0.3, TopP: 0.95},
			{Temperature: 1.0, TopP: 0.85},
		}
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = Weights{Perplexity: 0.3, Relevance: 0.4, Quality: 0.3}
	}
	if sum := cfg.Weights.Perplexity + cfg.Weights.Relevance + cfg.Weights.Quality; sum < 0.999 || sum > 1.001 {
		return nil, faults.New(faults.KindInvalidInput, "score weights must sum to 1, got %.3f", sum)
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = 0.6
	}
	if cfg.MinAnswerLength <= 0 {
		cfg.MinAnswerLength = 50
	}
	if cfg.SimilarityFloor <= 0 {
		cfg.SimilarityFloor = 0.98
	}
	if cfg.RetrieverTopK <= 0 {
		cfg.RetrieverTopK = 10
	}
	if cfg.DefaultDeadline == 0 {
		cfg.DefaultDeadline = 60 * time.Second
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 32
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	poor := make([]*regexp.Regexp, 0, len(cfg.PoorAnswerPatterns))
	for _, p := range cfg.PoorAnswerPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, faults.Wrap(faults.KindInvalidInput, err, "poor-answer pattern %q", p)
		}
		poor = append(poor, re)
	}

	return &Engine{
		cfg:   cfg,
		deps:  deps,
		poor:  poor,
		slots: make(chan struct{}, cfg.MaxInFlight),
		log:   deps.Logger,
	}, nil
}

// Answer runs one request through the pipeline. Every terminal outcome
// except cancellation yields a well-formed Answer; the error carries the
// fault kind for transport mapping.
func (e *Engine) Answer(ctx context.Context, req Request) (*Answer, error) {
	start := time.Now()
	ometrics.AnswersStarted.Inc()

	if strings.TrimSpace(req.Question) == "" || req.DocumentID == "" || req.UserID == "" {
		err := faults.New(faults.KindInvalidInput, "question, document_id and user_id are required")
		return e.failure(msgInternal, OriginInternalError, start, Metadata{}), err
	}
	opts := req.Options
	if err := opts.normalize(e.cfg.ConfidenceFloor); err != nil {
		return e.failure(msgInternal, OriginInternalError, start, Metadata{}), err
	}

	release, err := e.acquire(ctx)
	if err != nil {
		ometrics.RequestsRejected.WithLabelValues("answer").Inc()
		return e.failure(msgOverloaded, OriginInternalError, start, Metadata{}), err
	}
	defer release()

	deadline := e.cfg.DefaultDeadline
	if opts.DeadlineMs != nil {
		deadline = time.Duration(*opts.DeadlineMs) * time.Millisecond
	}
	if deadline <= 0 {
		err := faults.New(faults.KindDeadlineExceeded, "request deadline already expired")
		return e.failure(msgDeadline, OriginInternalError, start, Metadata{}), err
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ctx, span := tracing.StartSpan(ctx, "answer.pipeline")
	defer span.End()

	ans, err := e.run(ctx, req, &opts, start)
	if ans != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		ometrics.RecordAnswerMetrics(ans.Origin, status, time.Since(start).Seconds(), ans.Metadata.CandidatesGenerated)
	}
	return ans, err
}

func (e *Engine) run(ctx context.Context, req Request, opts *Options, start time.Time) (*Answer, error) {
	floor := *opts.ConfidenceFloor
	meta := Metadata{}

	// document must exist, be owned, and be fully indexed
	doc, err := e.deps.Store.GetOwned(ctx, req.DocumentID, req.UserID)
	if err != nil {
		return e.failure(msgInternal, OriginInternalError, start, meta), err
	}
	switch doc.Status {
	case docstore.StatusIndexed:
	case docstore.StatusFailed:
		err := faults.New(faults.KindInternal, "document %s failed ingestion", req.DocumentID)
		return e.failure(msgInternal, OriginInternalError, start, meta), err
	default:
		err := faults.New(faults.KindNotReady, "document %s is still ingesting", req.DocumentID)
		return e.failure(msgInternal, OriginInternalError, start, meta), err
	}

	norm := classifier.Normalize(req.Question)
	fp := classifier.Fingerprint(norm)

	// adaptive cache consult
	if ans := e.consultCache(ctx, fp, norm, start, &meta); ans != nil {
		return ans, nil
	}

	// classify; definition-type queries lower the fallback threshold
	if e.deps.Classifier != nil {
		stageStart := time.Now()
		rec := e.deps.Classifier.Classify(ctx, norm)
		ometrics.RecordStageMetrics("classify", time.Since(stageStart).Seconds())
		meta.ClassificationLabel = rec.Label
		if rec.Label == "definition" && floor > 0.1 {
			floor -= 0.1
		}
	}

	// retrieve
	stageStart := time.Now()
	passages, err := e.deps.Retriever.Retrieve(ctx, norm, e.cfg.RetrieverTopK, req.DocumentID)
	ometrics.RecordStageMetrics("retrieve", time.Since(stageStart).Seconds())
	if err != nil {
		e.log.Warn("Retrieval failed, treating as empty evidence", zap.Error(err))
		passages = nil
	}
	if len(passages) == 0 {
		if opts.fallbackAllowed() && e.deps.Fallback != nil {
			return e.fallbackOnly(ctx, req, opts, norm, fp, start, meta)
		}
		ans := e.failure(msgNoEvidence, OriginFallbackError, start, meta)
		e.updateCache(fp, norm, ans.Text, start, false)
		return ans, nil
	}

	// rerank
	stageStart = time.Now()
	ranked := e.deps.Reranker.Rerank(ctx, norm, passages)
	ometrics.RecordStageMetrics("rerank", time.Since(stageStart).Seconds())
	meta.RerankApplied = !ranked.Degraded
	meta.RerankDegraded = ranked.Degraded

	// condense; originals are kept for citation
	condensed := e.condense(ctx, norm, ranked.Passages, opts.Mode)

	// assemble context inside the token budget, in rerank order
	contextText, included := assembleContext(condensed, e.cfg.ContextBudget)

	// generate N candidates in parallel
	stageStart = time.Now()
	n := opts.NCandidates
	cands := e.generateCandidates(ctx, norm, contextText, n)
	ometrics.RecordStageMetrics("generate", time.Since(stageStart).Seconds())
	ometrics.CandidatesGenerated.Observe(float64(len(cands)))
	meta.CandidatesGenerated = len(cands)

	if len(cands) == 0 {
		if ctx.Err() != nil {
			err := faults.Wrap(faults.KindDeadlineExceeded, ctx.Err(), "deadline expired during generation")
			return e.failure(msgDeadline, OriginInternalError, start, meta), err
		}
		if opts.fallbackAllowed() && e.deps.Fallback != nil {
			return e.fallbackOnly(ctx, req, opts, norm, fp, start, meta)
		}
		err := faults.New(faults.KindDependencyUnavailable, "all generation candidates failed")
		return e.failure(msgInternal, OriginInternalError, start, meta), err
	}

	// score and select; non-suspending
	scoreCandidates(cands, norm, contextText, e.cfg.GroundingPhrases, e.cfg.BannedPhrases, e.cfg.Weights)
	best := selectBest(cands)
	confidence := best.final

	// quality gate
	gated, reason := e.gate(confidence, floor, best.completion.Text, len(passages))
	if gated {
		ometrics.QualityGateTriggered.WithLabelValues(reason).Inc()
	}

	origin := OriginLocal
	text := best.completion.Text

	if gated && opts.fallbackAllowed() && e.deps.Fallback != nil {
		ext, ferr := e.deps.Fallback.SearchAndAnswer(ctx, req.Question)
		meta.FallbackUsed = true
		switch {
		case ferr == nil && ext != nil && ext.Text != "":
			if len(included) > 0 {
				origin = OriginHybrid
				text = ext.Text + "\n\n" + text
			} else {
				origin = OriginExternal
				text = ext.Text
			}
			confidence = clamp01(confidence * ext.Confidence)
		default:
			if ferr != nil {
				e.log.Warn("External fallback failed", zap.Error(ferr))
			}
			origin = OriginFallbackError
			text = msgNoAnswer
			confidence = 0
		}
	}

	// post-process and format
	final := applyFormat(postProcess(text, e.cfg.BannedPhrases), opts.ResponseFormat)

	ans := &Answer{
		Text:             final,
		Confidence:       clamp01(confidence),
		Sources:          e.sources(ranked.Passages, included, opts.MaxSources),
		Origin:           origin,
		ProcessingTimeMs: elapsed(start),
		Metadata:         meta,
	}
	if origin == OriginFallbackError {
		ans.Sources = nil
	}

	// cache update, exactly once per request, after formatting
	passed := !gated || origin == OriginExternal || origin == OriginHybrid
	e.updateCache(fp, norm, ans.Text, start, passed && ans.Confidence > 0)
	return ans, nil
}

// consultCache serves a promoted entry when the fingerprint matches
// exactly or a keyword neighbor is confirmed by embedding similarity.
func (e *Engine) consultCache(ctx context.Context, fp, norm string, start time.Time, meta *Metadata) *Answer {
	if e.deps.Cache == nil {
		return nil
	}
	entry, match, ok := e.deps.Cache.Lookup(ctx, fp, norm)
	if !ok {
		return nil
	}
	if match != "exact" {
		if e.deps.Embedder == nil {
			return nil
		}
		qv, err1 := e.deps.Embedder.Embed(ctx, norm)
		cv, err2 := e.deps.Embedder.Embed(ctx, entry.Question)
		if err1 != nil || err2 != nil || embeddings.Cosine(qv, cv) < e.cfg.SimilarityFloor {
			return nil
		}
	}

	e.deps.Cache.RecordInteraction(ctx, entry.Fingerprint, entry.Question, entry.Answer, float64(elapsed(start)), true)
	m := *meta
	m.CacheHit = true
	return &Answer{
		Text:             entry.Answer,
		Confidence:       voteConfidence(entry),
		Origin:           OriginLocal,
		ProcessingTimeMs: elapsed(start),
		Metadata:         m,
	}
}

// voteConfidence is a Laplace-smoothed positive-vote ratio
func voteConfidence(entry *answercache.Entry) float64 {
	return float64(1+entry.PositiveVotes) / float64(2+entry.PositiveVotes+entry.NegativeVotes)
}

// fallbackOnly answers from the external source with no local evidence
func (e *Engine) fallbackOnly(ctx context.Context, req Request, opts *Options, norm, fp string, start time.Time, meta Metadata) (*Answer, error) {
	meta.FallbackUsed = true
	ext, err := e.deps.Fallback.SearchAndAnswer(ctx, req.Question)
	if err != nil || ext == nil || ext.Text == "" {
		if err != nil {
			e.log.Warn("External fallback failed", zap.Error(err))
		}
		ans := e.failure(msgNoAnswer, OriginFallbackError, start, meta)
		e.updateCache(fp, norm, ans.Text, start, false)
		return ans, nil
	}

	final := applyFormat(postProcess(ext.Text, e.cfg.BannedPhrases), opts.ResponseFormat)
	ans := &Answer{
		Text:             final,
		Confidence:       clamp01(ext.Confidence),
		Origin:           OriginExternal,
		ProcessingTimeMs: elapsed(start),
		Metadata:         meta,
	}
	e.updateCache(fp, norm, ans.Text, start, ans.Confidence > 0)
	return ans, nil
}

// condense asks the generator for query-focused summaries; failures keep
// the original passage text. Skipped entirely in ultra-fast mode.
func (e *Engine) condense(ctx context.Context, query string, ranked []reranker.Ranked, mode string) []reranker.Ranked {
	if mode == ModeUltraFast {
		return ranked
	}
	out := make([]reranker.Ranked, len(ranked))
	copy(out, ranked)

	stageStart := time.Now()
	for i := range out {
		if ctx.Err() != nil {
			break
		}
		summary, err := e.deps.Generator.Condense(ctx, query, out[i].Chunk.Text)
		if err == nil && summary != "" {
			out[i].Chunk.Text = summary
		}
	}
	ometrics.RecordStageMetrics("condense", time.Since(stageStart).Seconds())
	return out
}

// assembleContext joins passages with stable delimiters until the token
// budget is spent; returns the context and the included passage indexes.
func assembleContext(ranked []reranker.Ranked, budget int) (string, []int) {
	var b strings.Builder
	var included []int
	used := 0
	for i, r := range ranked {
		tokens := len(strings.Fields(r.Chunk.Text))
		if used+tokens > budget && used > 0 {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(r.Chunk.Text)
		used += tokens
		included = append(included, i)
		if used >= budget {
			break
		}
	}
	return b.String(), included
}

const answerPrompt = "Answer the question using only the context below. Cite facts from the context.\n\nContext:\n%s\n\nQuestion: %s\n\nAnswer:"

// generateCandidates launches n independent generations in parallel and
// returns the survivors; individual failures only drop that candidate.
func (e *Engine) generateCandidates(ctx context.Context, query, contextText string, n int) []*candidate {
	prompt := fmt.Sprintf(answerPrompt, contextText, query)
	schedule := e.cfg.SamplingSchedule

	results := make([]*candidate, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			params := schedule[i%len(schedule)]
			params.Seed = i
			comp, err := e.deps.Generator.Complete(ctx, prompt, params, e.cfg.MaxTokens)
			if err != nil {
				ometrics.CandidateFailures.Inc()
				e.log.Debug("Candidate generation failed", zap.Int("seed", i), zap.Error(err))
				return
			}
			if comp.Text == "" {
				return
			}
			results[i] = &candidate{completion: comp, seed: i}
		}(i)
	}
	wg.Wait()

	out := make([]*candidate, 0, n)
	for _, c := range results {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// gate decides whether the selected candidate needs external help
func (e *Engine) gate(confidence, floor float64, text string, retrieved int) (bool, string) {
	if retrieved == 0 {
		return true, "no_evidence"
	}
	if confidence < floor {
		return true, "low_confidence"
	}
	if len(text) < e.cfg.MinAnswerLength {
		return true, "too_short"
	}
	for _, re := range e.poor {
		if re.MatchString(text) {
			return true, "poor_answer"
		}
	}
	return false, ""
}

func (e *Engine) sources(ranked []reranker.Ranked, included []int, max int) []Source {
	out := make([]Source, 0, len(included))
	for _, i := range included {
		if len(out) >= max {
			break
		}
		c := ranked[i].Chunk
		out = append(out, Source{
			DocumentID:   c.Ref.DocumentID,
			ChunkOrdinal: c.Ref.Ordinal,
			Snippet:      snippet(c.Text, 200),
			Score:        ranked[i].Score,
		})
	}
	return out
}

func snippet(text string, max int) string {
	if len(text) <= max {
		return text
	}
	t := text[:max]
	if i := strings.LastIndexByte(t, ' '); i > 0 {
		t = t[:i]
	}
	return t + "…"
}

// updateCache records the interaction on a detached context so a slow
// flush never outlives the request deadline handling.
func (e *Engine) updateCache(fp, question, answerText string, start time.Time, passedGate bool) {
	if e.deps.Cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	e.deps.Cache.RecordInteraction(ctx, fp, question, answerText, float64(elapsed(start)), passedGate)
}

func (e *Engine) failure(msg, origin string, start time.Time, meta Metadata) *Answer {
	return &Answer{
		Text:             msg,
		Confidence:       0,
		Origin:           origin,
		ProcessingTimeMs: elapsed(start),
		Metadata:         meta,
	}
}

// acquire implements backpressure: a bounded in-flight pool with a
// bounded wait queue; overflow fails fast with Overloaded.
func (e *Engine) acquire(ctx context.Context) (func(), error) {
	release := func() { <-e.slots }
	select {
	case e.slots <- struct{}{}:
		return release, nil
	default:
	}

	if q := atomic.AddInt32(&e.queued, 1); q > int32(e.cfg.QueueSize) {
		atomic.AddInt32(&e.queued, -1)
		return nil, faults.New(faults.KindOverloaded, "request queue full")
	}
	ometrics.QueueDepth.WithLabelValues("answer").Set(float64(atomic.LoadInt32(&e.queued)))
	defer func() {
		atomic.AddInt32(&e.queued, -1)
		ometrics.QueueDepth.WithLabelValues("answer").Set(float64(atomic.LoadInt32(&e.queued)))
	}()

	select {
	case e.slots <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		return nil, faults.Wrap(faults.KindDeadlineExceeded, ctx.Err(), "cancelled while queued")
	}
}
