package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/circuitbreaker"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/faults"
	ometrics "github.com/Shubh2310-developer/Engunity-AI-sub002/internal/metrics"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/tracing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// pointNamespace makes point IDs deterministic per (document_id, chunk_ordinal)
// so upserts are idempotent.
var pointNamespace = uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")

// Client is a minimal Qdrant HTTP client
type Client struct {
	cfg   Config
	http  *http.Client
	base  string
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

// NewClient creates a vector index client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	c := cfg
	if c.Port == 0 {
		c.Port = 6333
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Collection == "" {
		c.Collection = "document_chunks"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{Timeout: c.Timeout}
	httpw := circuitbreaker.NewHTTPWrapper(httpClient, "qdrant", "vectordb", logger)
	return &Client{
		cfg:   c,
		http:  httpClient,
		base:  fmt.Sprintf("http://%s:%d", c.Host, c.Port),
		httpw: httpw,
		log:   logger,
	}
}

// GetConfig returns the current configuration
func (c *Client) GetConfig() Config { return c.cfg }

// PointID derives the deterministic point UUID for a chunk reference
func PointID(ref ChunkRef) string {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s:%d", ref.DocumentID, ref.Ordinal))).String()
}

// EnsureCollection creates the chunk collection if it does not exist
func (c *Client) EnsureCollection(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.base, c.cfg.Collection)
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     c.cfg.Dimensions,
			"distance": "Cosine",
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpw.Do(req)
	if err != nil {
		return faults.Wrap(faults.KindDependencyUnavailable, err, "qdrant unreachable")
	}
	defer resp.Body.Close()
	// 409 means the collection already exists
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return faults.New(faults.KindDependencyUnavailable, "qdrant create collection status %d", resp.StatusCode)
	}
	return nil
}

// Upsert writes chunk points. Idempotent on (document_id, chunk_ordinal):
// point IDs are derived from the reference, so re-upserting overwrites.
func (c *Client) Upsert(ctx context.Context, points []ChunkPoint) error {
	if len(points) == 0 {
		return nil
	}
	start := time.Now()

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.base, c.cfg.Collection)
	ctx, span := tracing.StartHTTPSpan(ctx, "PUT", url)
	defer span.End()

	type qdrantPointIn struct {
		ID      string                 `json:"id"`
		Vector  []float32              `json:"vector"`
		Payload map[string]interface{} `json:"payload"`
	}
	pts := make([]qdrantPointIn, 0, len(points))
	for _, p := range points {
		pts = append(pts, qdrantPointIn{
			ID:     PointID(p.Ref),
			Vector: p.Vector,
			Payload: map[string]interface{}{
				"document_id":   p.Ref.DocumentID,
				"chunk_ordinal": p.Ref.Ordinal,
				"text":          p.Text,
				"char_start":    p.CharStart,
				"char_end":      p.CharEnd,
				"content_hash":  p.ContentHash,
				"model_version": p.ModelVersion,
			},
		})
	}
	buf, _ := json.Marshal(map[string]interface{}{"points": pts})

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		ometrics.VectorUpserts.WithLabelValues(c.cfg.Collection, "error").Inc()
		return faults.Wrap(faults.KindDependencyUnavailable, err, "qdrant upsert failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		ometrics.VectorUpserts.WithLabelValues(c.cfg.Collection, "error").Inc()
		return faults.New(faults.KindDependencyUnavailable, "qdrant upsert status %d", resp.StatusCode)
	}

	ometrics.VectorUpserts.WithLabelValues(c.cfg.Collection, "ok").Inc()
	c.log.Debug("Upserted chunk points",
		zap.Int("count", len(points)),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// qdrant search request/response (simplified)
type qdrantQueryRequest struct {
	Query          []float32              `json:"query"`
	Limit          int                    `json:"limit"`
	ScoreThreshold *float64               `json:"score_threshold,omitempty"`
	WithPayload    bool                   `json:"with_payload"`
	Filter         map[string]interface{} `json:"filter,omitempty"`
}

type qdrantPoint struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

type qdrantQueryResponse struct {
	Result struct {
		Points []qdrantPoint `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

// Search returns the top-k most similar chunks, optionally filtered to one
// document. Raw cosine scores in [-1,1] are mapped to [0,1] via (s+1)/2
// before leaving this component.
func (c *Client) Search(ctx context.Context, vec []float32, k int, documentID string) ([]ScoredChunk, error) {
	if k <= 0 {
		k = 10
	}
	start := time.Now()

	url := fmt.Sprintf("%s/collections/%s/points/query", c.base, c.cfg.Collection)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	var filter map[string]interface{}
	if documentID != "" {
		filter = map[string]interface{}{
			"must": []map[string]interface{}{
				{"key": "document_id", "match": map[string]interface{}{"value": documentID}},
			},
		}
	}
	reqBody := qdrantQueryRequest{Query: vec, Limit: k, WithPayload: true, Filter: filter}
	buf, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		ometrics.RecordVectorSearchMetrics(c.cfg.Collection, "error", time.Since(start).Seconds())
		return nil, faults.Wrap(faults.KindDependencyUnavailable, err, "qdrant search failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		ometrics.RecordVectorSearchMetrics(c.cfg.Collection, "error", time.Since(start).Seconds())
		return nil, faults.New(faults.KindDependencyUnavailable, "qdrant search status %d", resp.StatusCode)
	}

	var qr qdrantQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		ometrics.RecordVectorSearchMetrics(c.cfg.Collection, "error", time.Since(start).Seconds())
		return nil, faults.Wrap(faults.KindDependencyUnavailable, err, "decode qdrant response")
	}

	out := make([]ScoredChunk, 0, len(qr.Result.Points))
	for _, p := range qr.Result.Points {
		sc := ScoredChunk{Score: (p.Score + 1) / 2}
		if v, ok := p.Payload["document_id"].(string); ok {
			sc.Ref.DocumentID = v
		}
		if v, ok := p.Payload["chunk_ordinal"].(float64); ok {
			sc.Ref.Ordinal = int(v)
		}
		if v, ok := p.Payload["text"].(string); ok {
			sc.Text = v
		}
		if v, ok := p.Payload["char_start"].(float64); ok {
			sc.CharStart = int(v)
		}
		if v, ok := p.Payload["char_end"].(float64); ok {
			sc.CharEnd = int(v)
		}
		out = append(out, sc)
	}

	ometrics.RecordVectorSearchMetrics(c.cfg.Collection, "ok", time.Since(start).Seconds())
	return out, nil
}

// DeleteDocument removes all chunk points belonging to a document
func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.base, c.cfg.Collection)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	body := map[string]interface{}{
		"filter": map[string]interface{}{
			"must": []map[string]interface{}{
				{"key": "document_id", "match": map[string]interface{}{"value": documentID}},
			},
		},
	}
	buf, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		return faults.Wrap(faults.KindDependencyUnavailable, err, "qdrant delete failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return faults.New(faults.KindDependencyUnavailable, "qdrant delete status %d", resp.StatusCode)
	}
	return nil
}

// Healthy reports whether the index answers its readiness probe
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/readyz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
