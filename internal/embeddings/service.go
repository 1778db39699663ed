package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/faults"
	ometrics "github.com/Shubh2310-developer/Engunity-AI-sub002/internal/metrics"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/tracing"
)

// Service provides embedding generation with caching. Vectors leaving this
// component are always L2-normalized.
type Service struct {
	cfg   Config
	http  *http.Client
	cache EmbeddingCache
	lru   *LocalLRU
}

// NewService creates an embedding service. cache may be nil for LRU-only mode.
func NewService(cfg Config, cache EmbeddingCache) *Service {
	c := cfg
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "text-embedding-3-small"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.MaxLRU == 0 {
		c.MaxLRU = 2048
	}

	httpClient := &http.Client{Timeout: c.Timeout}
	return &Service{cfg: c, http: httpClient, cache: cache, lru: NewLocalLRU(c.MaxLRU)}
}

// GetConfig returns the current configuration
func (s *Service) GetConfig() Config { return s.cfg }

// ModelVersion returns the version tag stored alongside every index so
// vectors can be invalidated when the embedding model changes.
func (s *Service) ModelVersion() string { return s.cfg.DefaultModel }

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

// Embed returns the unit vector for a single text using the configured provider
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	m := s.cfg.DefaultModel
	key := MakeKey(m, text)

	// LRU first
	if v, ok := s.lru.Get(ctx, key); ok {
		ometrics.RecordEmbeddingMetrics(m, "lru_hit", 0)
		return v, nil
	}
	// Redis next
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, key); ok {
			s.lru.Set(ctx, key, v, 30*time.Minute)
			ometrics.RecordEmbeddingMetrics(m, "cache_hit", 0)
			return v, nil
		}
	}

	vecs, err := s.callService(ctx, []string{text}, m)
	if err != nil {
		return nil, err
	}
	out := vecs[0]

	s.lru.Set(ctx, key, out, 30*time.Minute)
	if s.cache != nil {
		s.cache.Set(ctx, key, out, s.cfg.CacheTTL)
	}
	return out, nil
}

// EmbedBatch generates embeddings for multiple texts in a single request.
// This is more efficient than calling Embed repeatedly during ingestion.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	m := s.cfg.DefaultModel

	results := make([][]float32, len(texts))
	uncachedTexts := []string{}
	uncachedIndices := []int{}

	for i, text := range texts {
		key := MakeKey(m, text)

		if v, ok := s.lru.Get(ctx, key); ok {
			results[i] = v
			ometrics.RecordEmbeddingMetrics(m, "lru_hit", 0)
			continue
		}
		if s.cache != nil {
			if v, ok := s.cache.Get(ctx, key); ok {
				results[i] = v
				s.lru.Set(ctx, key, v, 30*time.Minute)
				ometrics.RecordEmbeddingMetrics(m, "cache_hit", 0)
				continue
			}
		}

		uncachedTexts = append(uncachedTexts, text)
		uncachedIndices = append(uncachedIndices, i)
	}

	// All cached
	if len(uncachedTexts) == 0 {
		return results, nil
	}

	vecs, err := s.callService(ctx, uncachedTexts, m)
	if err != nil {
		return nil, err
	}

	for i, out := range vecs {
		idx := uncachedIndices[i]
		results[idx] = out

		key := MakeKey(m, uncachedTexts[i])
		s.lru.Set(ctx, key, out, 30*time.Minute)
		if s.cache != nil {
			s.cache.Set(ctx, key, out, s.cfg.CacheTTL)
		}
	}
	return results, nil
}

func (s *Service) callService(ctx context.Context, texts []string, model string) ([][]float32, error) {
	start := time.Now()

	url := fmt.Sprintf("%s/embeddings/", s.cfg.BaseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	payload := embedRequest{Texts: texts, Model: model}
	buf, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := s.http.Do(req)
	if err != nil {
		ometrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		return nil, faults.Wrap(faults.KindDependencyUnavailable, err, "embedding service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		ometrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		body, _ := io.ReadAll(resp.Body)
		return nil, faults.New(faults.KindDependencyUnavailable,
			"embedding service returned %d: %s", resp.StatusCode, string(body))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		ometrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		return nil, faults.Wrap(faults.KindDependencyUnavailable, err, "decode embedding response")
	}
	if len(er.Embeddings) != len(texts) {
		return nil, faults.New(faults.KindDependencyUnavailable,
			"embedding service returned %d embeddings for %d texts", len(er.Embeddings), len(texts))
	}

	out := make([][]float32, len(er.Embeddings))
	for i, embedding := range er.Embeddings {
		v := make([]float32, len(embedding))
		for j, f := range embedding {
			v[j] = float32(f)
		}
		normalize(v)
		out[i] = v
	}

	status := "ok"
	if len(texts) > 1 {
		status = "batch_ok"
	}
	ometrics.RecordEmbeddingMetrics(model, status, time.Since(start).Seconds())
	return out, nil
}

// normalize scales v to unit L2 norm in place; zero vectors are left alone
func normalize(v []float32) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}

// Cosine returns the cosine similarity of two unit vectors
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
