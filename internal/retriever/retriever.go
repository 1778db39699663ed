package retriever

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	ometrics "github.com/Shubh2310-developer/Engunity-AI-sub002/internal/metrics"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/tracing"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/vectordb"
)

// Config controls retrieval behavior
type Config struct {
	TopK       int
	ScoreFloor float64
}

// Embedder turns query text into a unit vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex answers top-k similarity queries
type VectorIndex interface {
	Search(ctx context.Context, vec []float32, k int, documentID string) ([]vectordb.ScoredChunk, error)
}

// Retriever combines the embedder and the vector index behind one call
type Retriever struct {
	cfg      Config
	embedder Embedder
	index    VectorIndex
	logger   *zap.Logger
}

func New(cfg Config, embedder Embedder, index VectorIndex, logger *zap.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.ScoreFloor <= 0 {
		cfg.ScoreFloor = 0.2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{cfg: cfg, embedder: embedder, index: index, logger: logger}
}

// Retrieve returns passages relevant to the query, sorted by score
// descending with everything below the score floor dropped. An empty
// result is not an error; it signals the caller to fall back.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, k int, documentID string) ([]vectordb.ScoredChunk, error) {
	ctx, span := tracing.StartSpan(ctx, "retriever.retrieve")
	defer span.End()

	if k <= 0 {
		k = r.cfg.TopK
	}
	start := time.Now()

	vec, err := r.embedder.Embed(ctx, queryText)
	if err != nil {
		ometrics.RetrievalRequests.WithLabelValues("embed_error").Inc()
		return nil, err
	}

	hits, err := r.index.Search(ctx, vec, k, documentID)
	if err != nil {
		ometrics.RetrievalRequests.WithLabelValues("search_error").Inc()
		return nil, err
	}

	kept := hits[:0]
	for _, h := range hits {
		if h.Score >= r.cfg.ScoreFloor {
			kept = append(kept, h)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })

	ometrics.RetrievalRequests.WithLabelValues("ok").Inc()
	ometrics.RetrievalPassages.Observe(float64(len(kept)))
	r.logger.Debug("Retrieval completed",
		zap.String("document_id", documentID),
		zap.Int("hits", len(hits)),
		zap.Int("kept", len(kept)),
		zap.Duration("took", time.Since(start)),
	)
	return kept, nil
}
