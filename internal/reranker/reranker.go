package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/circuitbreaker"
	ometrics "github.com/Shubh2310-developer/Engunity-AI-sub002/internal/metrics"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/tracing"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/vectordb"
)

// Config controls cross-encoder reranking
type Config struct {
	Enabled  bool
	BaseURL  string
	Timeout  time.Duration
	InputMax int
	TopK     int
	MinScore float64
}

// Ranked is a passage with its cross-encoder score attached. When the
// reranker degrades to pass-through the retrieval score is carried over.
type Ranked struct {
	Chunk vectordb.ScoredChunk
	Score float64
}

// Output is the rerank result; Degraded marks pass-through ordering
type Output struct {
	Passages []Ranked
	Degraded bool
}

// Reranker reorders retrieved passages via an external cross-encoder
// service. Unavailability never fails a request: the component degrades
// to a pass-through that preserves retrieval order.
type Reranker struct {
	cfg   Config
	http  *http.Client
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Reranker {
	c := cfg
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.InputMax <= 0 {
		c.InputMax = 20
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.MinScore <= 0 {
		c.MinScore = 0.2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{Timeout: c.Timeout}
	return &Reranker{
		cfg:   c,
		http:  httpClient,
		httpw: circuitbreaker.NewHTTPWrapper(httpClient, "reranker", "reranker", logger),
		log:   logger,
	}
}

type rerankRequest struct {
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Rerank reorders passages by cross-encoder score, drops scores below the
// minimum, and truncates to top-k. Ties keep retrieval order.
func (r *Reranker) Rerank(ctx context.Context, query string, passages []vectordb.ScoredChunk) Output {
	if len(passages) == 0 {
		return Output{}
	}
	if len(passages) > r.cfg.InputMax {
		passages = passages[:r.cfg.InputMax]
	}
	if !r.cfg.Enabled {
		return r.passthrough(passages)
	}

	ctx, span := tracing.StartSpan(ctx, "reranker.rerank")
	defer span.End()

	scores, err := r.score(ctx, query, passages)
	if err != nil {
		ometrics.RerankRequests.WithLabelValues("degraded").Inc()
		r.log.Warn("Reranker unavailable, preserving retrieval order", zap.Error(err))
		return r.passthrough(passages)
	}

	ranked := make([]Ranked, 0, len(passages))
	for i, p := range passages {
		if scores[i] < r.cfg.MinScore {
			continue
		}
		ranked = append(ranked, Ranked{Chunk: p, Score: scores[i]})
	}
	// stable sort keeps retrieval order for equal scores
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > r.cfg.TopK {
		ranked = ranked[:r.cfg.TopK]
	}

	ometrics.RerankRequests.WithLabelValues("ok").Inc()
	return Output{Passages: ranked}
}

func (r *Reranker) passthrough(passages []vectordb.ScoredChunk) Output {
	n := len(passages)
	if n > r.cfg.TopK {
		n = r.cfg.TopK
	}
	out := make([]Ranked, n)
	for i := 0; i < n; i++ {
		out[i] = Ranked{Chunk: passages[i], Score: passages[i].Score}
	}
	return Output{Passages: out, Degraded: true}
}

func (r *Reranker) score(ctx context.Context, query string, passages []vectordb.ScoredChunk) ([]float64, error) {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	buf, _ := json.Marshal(rerankRequest{Query: query, Passages: texts})

	url := r.cfg.BaseURL + "/rerank"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := r.httpw.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reranker returned status %d", resp.StatusCode)
	}

	var rr rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, err
	}
	if len(rr.Scores) != len(passages) {
		return nil, fmt.Errorf("reranker returned %d scores for %d passages", len(rr.Scores), len(passages))
	}
	return rr.Scores, nil
}
