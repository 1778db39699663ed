package fallback

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/faults"
	ometrics "github.com/Shubh2310-developer/Engunity-AI-sub002/internal/metrics"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/tracing"
)

// Config controls the external source client
type Config struct {
	Enabled        bool
	Provider       string // wikipedia | websearch | llm
	MaxResults     int
	ContentSizeCap int
	SearchTimeout  time.Duration
	FetchTimeout   time.Duration
	// trust weight per domain for open-web scoring; missing domains get
	// DefaultTrust
	TrustWeights  map[string]float64
	DefaultTrust  float64
	MaxConcurrent int
	RatePerSecond float64
	DomainHint    string

	WikipediaBaseURL string
	SearchBaseURL    string
	SearchAPIKey     string
	LLMBaseURL       string
}

// Source is one provenance reference in a fallback result
type Source struct {
	Title string  `json:"title"`
	URL   string  `json:"url,omitempty"`
	Score float64 `json:"score"`
}

// Result is the synthesized external answer
type Result struct {
	Text       string
	Confidence float64
	Sources    []Source
}

// Agent queries the configured external knowledge source when local
// answering fails the quality gate.
type Agent struct {
	cfg      Config
	provider Provider
	limiter  *rate.Limiter
	sem      chan struct{}
	log      *zap.Logger
}

func NewAgent(cfg Config, logger *zap.Logger) (*Agent, error) {
	c := cfg
	if c.MaxResults <= 0 {
		c.MaxResults = 3
	}
	if c.ContentSizeCap <= 0 {
		c.ContentSizeCap = 4000
	}
	if c.SearchTimeout == 0 {
		c.SearchTimeout = 10 * time.Second
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 5
	}
	if c.DefaultTrust <= 0 {
		c.DefaultTrust = 0.5
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var provider Provider
	switch c.Provider {
	case "wikipedia", "":
		provider = newWikipediaProvider(c.WikipediaBaseURL, c.FetchTimeout)
	case "websearch":
		if c.SearchBaseURL == "" {
			return nil, faults.New(faults.KindInvalidInput, "websearch provider requires a search base url")
		}
		provider = newWebsearchProvider(c.SearchBaseURL, c.SearchAPIKey, c.FetchTimeout)
	case "llm":
		if c.LLMBaseURL == "" {
			return nil, faults.New(faults.KindInvalidInput, "llm provider requires a base url")
		}
		provider = newLLMProvider(c.LLMBaseURL, c.FetchTimeout)
	default:
		return nil, faults.New(faults.KindInvalidInput, "unknown fallback provider %q", c.Provider)
	}

	return &Agent{
		cfg:      c,
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(c.RatePerSecond), c.MaxConcurrent),
		sem:      make(chan struct{}, c.MaxConcurrent),
		log:      logger,
	}, nil
}

// NewAgentWithProvider injects a provider directly; used in tests
func NewAgentWithProvider(cfg Config, provider Provider, logger *zap.Logger) *Agent {
	a, _ := NewAgent(Config{
		Enabled:        cfg.Enabled,
		Provider:       "wikipedia",
		MaxResults:     cfg.MaxResults,
		ContentSizeCap: cfg.ContentSizeCap,
		SearchTimeout:  cfg.SearchTimeout,
		FetchTimeout:   cfg.FetchTimeout,
		TrustWeights:   cfg.TrustWeights,
		DefaultTrust:   cfg.DefaultTrust,
		MaxConcurrent:  cfg.MaxConcurrent,
		RatePerSecond:  cfg.RatePerSecond,
		DomainHint:     cfg.DomainHint,
	}, logger)
	a.provider = provider
	return a
}

// ShouldTrigger is the quality-gate predicate for invoking the fallback
func ShouldTrigger(localConfidence, confidenceFloor float64, answer string, minLength int, poorAnswer []*regexp.Regexp) bool {
	if localConfidence < confidenceFloor {
		return true
	}
	if len(answer) < minLength {
		return true
	}
	for _, re := range poorAnswer {
		if re.MatchString(answer) {
			return true
		}
	}
	return false
}

// SearchAndAnswer queries the external source and synthesizes one reply
// with per-sentence provenance markers.
func (a *Agent) SearchAndAnswer(ctx context.Context, query string) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "fallback.search_and_answer")
	defer span.End()

	// concurrency cap then rate limit, both honoring cancellation
	select {
	case a.sem <- struct{}{}:
		defer func() { <-a.sem }()
	case <-ctx.Done():
		return nil, faults.Wrap(faults.KindDeadlineExceeded, ctx.Err(), "fallback cancelled while queued")
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, faults.Wrap(faults.KindDeadlineExceeded, err, "fallback rate limit wait")
	}

	start := time.Now()
	searchCtx, cancel := context.WithTimeout(ctx, a.cfg.SearchTimeout)
	defer cancel()

	terms := SearchTerms(query, a.cfg.DomainHint)
	hits, err := a.provider.Search(searchCtx, terms, a.cfg.MaxResults)
	if err != nil {
		ometrics.RecordFallbackMetrics(a.provider.Name(), "error", time.Since(start).Seconds())
		return nil, faults.Wrap(faults.KindDependencyUnavailable, err, "external source search")
	}
	if len(hits) == 0 {
		ometrics.RecordFallbackMetrics(a.provider.Name(), "empty", time.Since(start).Seconds())
		return nil, nil
	}

	result := a.synthesize(query, hits)
	ometrics.RecordFallbackMetrics(a.provider.Name(), "ok", time.Since(start).Seconds())
	a.log.Debug("Fallback answered",
		zap.String("provider", a.provider.Name()),
		zap.Int("hits", len(hits)),
		zap.Float64("confidence", result.Confidence),
		zap.Duration("took", time.Since(start)),
	)
	return result, nil
}

type scoredHit struct {
	Hit
	score float64
}

// synthesize scores hits by keyword overlap and domain trust, then joins
// the best sentences with provenance markers into a single reply.
func (a *Agent) synthesize(query string, hits []Hit) *Result {
	qkw := keywords(query)

	scored := make([]scoredHit, 0, len(hits))
	for _, h := range hits {
		h.Body = CleanContent(h.Body, a.cfg.ContentSizeCap)
		if h.Body == "" {
			continue
		}
		s := 0.6*overlap(qkw, h.Title+" "+h.Body) + 0.4*a.trust(h.Domain)
		if h.SelfConfidence > 0 {
			s = h.SelfConfidence
		}
		scored = append(scored, scoredHit{Hit: h, score: s})
	}
	if len(scored) == 0 {
		return &Result{}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	var b strings.Builder
	sources := make([]Source, 0, len(scored))
	budget := a.cfg.ContentSizeCap
	for i, sh := range scored {
		sources = append(sources, Source{Title: sh.Title, URL: sh.URL, Score: clamp01(sh.score)})

		for _, sent := range sentences(sh.Body) {
			if b.Len()+len(sent) > budget {
				break
			}
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(sent)
			fmt.Fprintf(&b, " [%d]", i+1)
		}
		if b.Len() >= budget {
			break
		}
	}

	return &Result{
		Text:       b.String(),
		Confidence: clamp01(scored[0].score),
		Sources:    sources,
	}
}

func (a *Agent) trust(domain string) float64 {
	if domain == "" {
		return a.cfg.DefaultTrust
	}
	if w, ok := a.cfg.TrustWeights[domain]; ok {
		return w
	}
	return a.cfg.DefaultTrust
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
