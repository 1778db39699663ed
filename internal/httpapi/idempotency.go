package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Idempotency replays cached responses for repeated ingestion requests
// carrying the same Idempotency-Key. Only successful responses are cached;
// a failed attempt may be retried with the same key.
type Idempotency struct {
	redis  *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

func NewIdempotency(rdb *redis.Client, logger *zap.Logger) *Idempotency {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Idempotency{redis: rdb, logger: logger, ttl: 24 * time.Hour}
}

type idempotentResult struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
	Timestamp  time.Time           `json:"timestamp"`
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	written    bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK, body: &bytes.Buffer{}}
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.written {
		r.statusCode = code
		r.written = true
		r.ResponseWriter.WriteHeader(code)
	}
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Middleware wraps a handler with idempotency-key replay
func (im *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if im.redis == nil || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		cacheKey := im.cacheKey(r, key)

		if cached, err := im.get(ctx, cacheKey); err == nil && cached != nil {
			im.logger.Debug("Replaying idempotent response",
				zap.String("idempotency_key", key),
				zap.String("path", r.URL.Path))
			for h, values := range cached.Headers {
				for _, v := range values {
					w.Header().Add(h, v)
				}
			}
			w.Header().Set("X-Idempotency-Cached", "true")
			w.Header().Set("X-Idempotency-Key", key)
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		}

		recorder := newResponseRecorder(w)
		next.ServeHTTP(recorder, r)

		if recorder.statusCode >= 200 && recorder.statusCode < 300 {
			result := &idempotentResult{
				StatusCode: recorder.statusCode,
				Headers:    recorder.Header(),
				Body:       recorder.body.Bytes(),
				Timestamp:  time.Now(),
			}
			if err := im.put(ctx, cacheKey, result); err != nil {
				im.logger.Error("Failed to cache idempotent response",
					zap.Error(err), zap.String("idempotency_key", key))
			}
		}
	})
}

// cacheKey hashes the key together with the caller, path, and body so a
// reused key cannot replay across users or different payloads.
func (im *Idempotency) cacheKey(r *http.Request, key string) string {
	h := sha256.New()
	h.Write([]byte(key))
	h.Write([]byte(userID(r)))
	h.Write([]byte(r.URL.Path))
	if r.Body != nil {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		h.Write(body)
	}
	return "idempotency:" + hex.EncodeToString(h.Sum(nil))[:16]
}

func (im *Idempotency) get(ctx context.Context, key string) (*idempotentResult, error) {
	data, err := im.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	var result idempotentResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (im *Idempotency) put(ctx context.Context, key string, result *idempotentResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return im.redis.Set(ctx, key, data, im.ttl).Err()
}
