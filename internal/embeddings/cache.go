package embeddings

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/circuitbreaker"
	"github.com/go-redis/redis/v8"
)

// EmbeddingCache stores computed vectors keyed by MakeKey. Misses and
// backend failures are indistinguishable to callers; both report !ok.
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, v []float32, ttl time.Duration)
}

// MakeKey derives the cache key for one (model, text) pair. The model is
// part of the key so a model switch never serves stale vectors.
func MakeKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return "emb:" + hex.EncodeToString(sum[:16])
}

// LocalLRU is the in-process tier: bounded, TTL-aware, safe for
// concurrent use. Entries expire lazily on lookup.
type LocalLRU struct {
	mu      sync.Mutex
	cap     int
	order   *list.List               // front = most recently used
	entries map[string]*list.Element // key -> element holding *vecEntry
}

type vecEntry struct {
	key     string
	vec     []float32
	expires time.Time
}

func NewLocalLRU(capacity int) *LocalLRU {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LocalLRU{
		cap:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

func (l *LocalLRU) Get(_ context.Context, key string) ([]float32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.entries[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*vecEntry)
	if !time.Now().Before(ent.expires) {
		l.drop(el, ent)
		return nil, false
	}
	l.order.MoveToFront(el)
	return ent.vec, true
}

func (l *LocalLRU) Set(_ context.Context, key string, v []float32, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.entries[key]; ok {
		ent := el.Value.(*vecEntry)
		ent.vec = v
		ent.expires = time.Now().Add(ttl)
		l.order.MoveToFront(el)
		return
	}
	ent := &vecEntry{key: key, vec: v, expires: time.Now().Add(ttl)}
	l.entries[key] = l.order.PushFront(ent)
	for l.order.Len() > l.cap {
		back := l.order.Back()
		l.drop(back, back.Value.(*vecEntry))
	}
}

// drop removes one entry; caller holds l.mu.
func (l *LocalLRU) drop(el *list.Element, ent *vecEntry) {
	l.order.Remove(el)
	delete(l.entries, ent.key)
}

// RedisCache is the shared tier, so replicas of the service reuse each
// other's vectors. All calls go through the circuit breaker: when Redis
// is down reads miss and writes are dropped, and embedding requests fall
// through to the model service instead of failing.
type RedisCache struct {
	cli *circuitbreaker.RedisWrapper
}

func NewRedisCache(addr string) (*RedisCache, error) {
	wrapped := circuitbreaker.NewRedisWrapper(redis.NewClient(&redis.Options{Addr: addr}), nil)

	// fail startup fast on a bad address rather than at first query
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := wrapped.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisCache{cli: wrapped}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	raw, err := r.cli.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return unpackVector(raw)
}

func (r *RedisCache) Set(ctx context.Context, key string, v []float32, ttl time.Duration) {
	_ = r.cli.Set(ctx, key, packVector(v), ttl).Err()
}

// packVector serializes a vector as consecutive little-endian float32
// words. No header: the dimension is implied by the payload length.
func packVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// unpackVector is the inverse of packVector. A payload whose length is
// not a multiple of 4 was not written by us and reads as a miss.
func unpackVector(raw []byte) ([]float32, bool) {
	if len(raw)%4 != 0 {
		return nil, false
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out, true
}
