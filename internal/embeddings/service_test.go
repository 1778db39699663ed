package embeddings

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEmbedServer(t *testing.T, calls *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Deterministic 3-dim vector per text
		out := make([][]float64, len(req.Texts))
		for i, text := range req.Texts {
			out[i] = []float64{float64(len(text)), 1, 2}
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: out, Dimensions: 3, ModelUsed: req.Model})
	}))
}

func TestEmbedReturnsUnitVector(t *testing.T) {
	var calls int64
	srv := newEmbedServer(t, &calls)
	defer srv.Close()

	svc := NewService(Config{BaseURL: srv.URL}, nil)
	vec, err := svc.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Len(t, vec, 3)

	var norm float64
	for _, f := range vec {
		norm += float64(f) * float64(f)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestEmbedUsesLRUOnSecondCall(t *testing.T) {
	var calls int64
	srv := newEmbedServer(t, &calls)
	defer srv.Close()

	svc := NewService(Config{BaseURL: srv.URL}, nil)
	ctx := context.Background()

	_, err := svc.Embed(ctx, "repeat me")
	require.NoError(t, err)
	_, err = svc.Embed(ctx, "repeat me")
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestEmbedBatchMixesCachedAndFresh(t *testing.T) {
	var calls int64
	srv := newEmbedServer(t, &calls)
	defer srv.Close()

	svc := NewService(Config{BaseURL: srv.URL}, nil)
	ctx := context.Background()

	_, err := svc.Embed(ctx, "cached")
	require.NoError(t, err)

	vecs, err := svc.EmbedBatch(ctx, []string{"cached", "fresh one", "fresh two"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 3)
	}
	// One initial call plus one batch call for the two misses
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestRedisCacheRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cache, err := NewRedisCache(mr.Addr())
	require.NoError(t, err)

	ctx := context.Background()
	in := []float32{0.25, -0.5, 0.75}
	cache.Set(ctx, "emb:test", in, time.Minute)

	out, ok := cache.Get(ctx, "emb:test")
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestRedisCacheRejectsForeignPayload(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cache, err := NewRedisCache(mr.Addr())
	require.NoError(t, err)

	// a value some other writer left behind must read as a miss
	require.NoError(t, mr.Set("emb:foreign", "xyz"))
	_, ok := cache.Get(context.Background(), "emb:foreign")
	assert.False(t, ok)
}

func TestLocalLRUExpiresEntries(t *testing.T) {
	lru := NewLocalLRU(4)
	ctx := context.Background()

	lru.Set(ctx, "k", []float32{1, 2}, -time.Second)
	_, ok := lru.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMakeKeySeparatesModels(t *testing.T) {
	assert.NotEqual(t, MakeKey("model-a", "text"), MakeKey("model-b", "text"))
	assert.Equal(t, MakeKey("model-a", "text"), MakeKey("model-a", "text"))
}

func TestLocalLRUEvictsOldest(t *testing.T) {
	lru := NewLocalLRU(2)
	ctx := context.Background()

	lru.Set(ctx, "a", []float32{1}, time.Minute)
	lru.Set(ctx, "b", []float32{2}, time.Minute)
	lru.Set(ctx, "c", []float32{3}, time.Minute)

	_, ok := lru.Get(ctx, "a")
	assert.False(t, ok)
	_, ok = lru.Get(ctx, "c")
	assert.True(t, ok)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
}
