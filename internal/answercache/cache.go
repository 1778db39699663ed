package answercache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/circuitbreaker"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/faults"
	ometrics "github.com/Shubh2310-developer/Engunity-AI-sub002/internal/metrics"
)

// Config controls the adaptive cache
type Config struct {
	Path               string // sqlite file
	PromotionThreshold int
	FlushEvery         int
	KeywordJaccard     float64
	RedisAddr          string        // optional hot tier
	RedisTTL           time.Duration // promoted-entry TTL in the hot tier
}

// entry is the in-memory record for one question fingerprint
type entry struct {
	Fingerprint    string
	Question       string
	Answer         string
	Keywords       []string
	HitCount       int
	PositiveVotes  int
	NegativeVotes  int
	TotalLatencyMs float64
	FirstSeenAt    time.Time
	LastSeenAt     time.Time
	Promoted       bool
	PromotedAt     time.Time
	dirty          bool
}

func (e *entry) eligible() bool {
	return e.Promoted && e.PositiveVotes >= e.NegativeVotes
}

// Entry is the immutable snapshot handed to callers
type Entry struct {
	Fingerprint   string
	Question      string
	Answer        string
	HitCount      int
	PositiveVotes int
	NegativeVotes int
	AvgLatencyMs  float64
}

// Cache learns canonical question/answer pairs from repeated interactions.
// Updates go to memory synchronously and flush to sqlite every FlushEvery
// interactions or on Close; a crash loses at most the last batch.
type Cache struct {
	cfg    Config
	db     *sqlx.DB
	redis  *circuitbreaker.RedisWrapper
	logger *zap.Logger

	// mu guards entries; promoted reads take the read lock
	mu      sync.RWMutex
	entries map[string]*entry

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	flushMu      sync.Mutex
	interactions int

	embeddingVersion string
}

// Open loads the persisted tables into memory
func Open(cfg Config, logger *zap.Logger) (*Cache, error) {
	if cfg.PromotionThreshold <= 0 {
		cfg.PromotionThreshold = 5
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 10
	}
	if cfg.KeywordJaccard <= 0 {
		cfg.KeywordJaccard = 0.6
	}
	if cfg.RedisTTL == 0 {
		cfg.RedisTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := openSqlite(cfg.Path)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependencyUnavailable, err, "open answer cache store")
	}

	c := &Cache{
		cfg:     cfg,
		db:      db,
		logger:  logger,
		entries: make(map[string]*entry),
		locks:   make(map[string]*sync.Mutex),
	}
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		c.redis = circuitbreaker.NewRedisWrapper(rc, logger)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.load(ctx); err != nil {
		db.Close()
		return nil, faults.Wrap(faults.KindDependencyUnavailable, err, "load answer cache tables")
	}
	ometrics.AnswerCacheSize.Set(float64(len(c.entries)))

	logger.Info("Adaptive cache loaded",
		zap.String("path", cfg.Path),
		zap.Int("entries", len(c.entries)),
		zap.Int("promotion_threshold", cfg.PromotionThreshold),
	)
	return c, nil
}

func (c *Cache) lockFor(fp string) *sync.Mutex {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	l, ok := c.locks[fp]
	if !ok {
		l = &sync.Mutex{}
		c.locks[fp] = l
	}
	return l
}

// Lookup finds a serving-eligible entry: exact fingerprint first, then the
// nearest promoted question by keyword Jaccard overlap. The second return
// names the match type ("exact" or "keyword"); callers confirm keyword
// matches with an embedding similarity check before serving.
func (c *Cache) Lookup(ctx context.Context, fingerprint, question string) (*Entry, string, bool) {
	c.mu.RLock()
	if e, ok := c.entries[fingerprint]; ok && e.eligible() {
		snap := snapshot(e)
		c.mu.RUnlock()
		ometrics.AnswerCacheHits.WithLabelValues("exact").Inc()
		return snap, "exact", true
	}

	// keyword nearest neighbor over promoted questions
	qkw := Keywords(question)
	var best *entry
	var bestScore float64
	for _, e := range c.entries {
		if !e.eligible() {
			continue
		}
		if s := jaccard(qkw, e.Keywords); s > bestScore {
			best, bestScore = e, s
		}
	}
	if best != nil && bestScore >= c.cfg.KeywordJaccard {
		snap := snapshot(best)
		c.mu.RUnlock()
		ometrics.AnswerCacheHits.WithLabelValues("keyword").Inc()
		return snap, "keyword", true
	}
	c.mu.RUnlock()

	// hot tier shared across processes
	if c.redis != nil {
		if b, err := c.redis.Get(ctx, redisKey(fingerprint)).Bytes(); err == nil {
			var snap Entry
			if json.Unmarshal(b, &snap) == nil && snap.Answer != "" {
				ometrics.AnswerCacheHits.WithLabelValues("redis").Inc()
				return &snap, "exact", true
			}
		}
	}

	ometrics.AnswerCacheMisses.Inc()
	return nil, "", false
}

// RecordInteraction updates question stats after a formatted answer and
// promotes the entry once it crosses the threshold with net-positive votes.
// passedGate must reflect the quality gate outcome for this answer.
func (c *Cache) RecordInteraction(ctx context.Context, fingerprint, question, answer string, latencyMs float64, passedGate bool) {
	lock := c.lockFor(fingerprint)
	lock.Lock()

	now := time.Now()
	c.mu.Lock()
	e, ok := c.entries[fingerprint]
	if !ok {
		e = &entry{
			Fingerprint: fingerprint,
			Question:    question,
			Keywords:    Keywords(question),
			FirstSeenAt: now,
		}
		c.entries[fingerprint] = e
	}
	e.HitCount++
	e.TotalLatencyMs += latencyMs
	e.LastSeenAt = now
	e.dirty = true

	promoted := false
	if !e.Promoted && passedGate &&
		e.HitCount >= c.cfg.PromotionThreshold &&
		e.PositiveVotes >= e.NegativeVotes {
		e.Answer = answer
		e.Promoted = true
		e.PromotedAt = now
		promoted = true
	}
	var snap *Entry
	if promoted {
		snap = snapshot(e)
	}
	size := len(c.entries)
	c.mu.Unlock()
	lock.Unlock()

	ometrics.AnswerCacheSize.Set(float64(size))
	if promoted {
		ometrics.AnswerCachePromotions.Inc()
		c.hotSet(ctx, snap)
		c.logger.Info("Cache entry promoted",
			zap.String("fingerprint", fingerprint),
			zap.Int("hit_count", snap.HitCount),
		)
	}
	c.maybeFlush(ctx)
}

// Feedback applies a vote to an answered fingerprint. Net-negative votes
// demote the entry out of the serving set.
func (c *Cache) Feedback(ctx context.Context, fingerprint string, positive bool) error {
	lock := c.lockFor(fingerprint)
	lock.Lock()

	c.mu.Lock()
	e, ok := c.entries[fingerprint]
	if !ok {
		c.mu.Unlock()
		lock.Unlock()
		return faults.New(faults.KindInvalidInput, "unknown fingerprint %s", fingerprint)
	}
	if positive {
		e.PositiveVotes++
	} else {
		e.NegativeVotes++
	}
	demoted := false
	if e.Promoted && e.NegativeVotes > e.PositiveVotes {
		e.Promoted = false
		e.Answer = ""
		demoted = true
	}
	e.dirty = true
	c.mu.Unlock()
	lock.Unlock()

	if demoted {
		ometrics.AnswerCacheDemotions.WithLabelValues("feedback").Inc()
		c.hotDel(ctx, fingerprint)
	}
	c.maybeFlush(ctx)
	return nil
}

// SetEmbeddingVersion demotes every promoted entry when the embedding
// model changes; cached answers may cite stale vectors otherwise.
func (c *Cache) SetEmbeddingVersion(ctx context.Context, version string) {
	c.mu.Lock()
	if c.embeddingVersion == version {
		c.mu.Unlock()
		return
	}
	changed := c.embeddingVersion != ""
	c.embeddingVersion = version
	var dropped []string
	if changed {
		for fp, e := range c.entries {
			if e.Promoted {
				e.Promoted = false
				e.Answer = ""
				e.dirty = true
				dropped = append(dropped, fp)
			}
		}
	}
	c.mu.Unlock()

	for _, fp := range dropped {
		ometrics.AnswerCacheDemotions.WithLabelValues("embedding_version").Inc()
		c.hotDel(ctx, fp)
	}
	if len(dropped) > 0 {
		c.logger.Warn("Embedding version changed, demoted cached answers",
			zap.String("version", version),
			zap.Int("demoted", len(dropped)),
		)
	}
	if err := c.Flush(ctx); err != nil {
		c.logger.Error("Cache flush failed", zap.Error(err))
	}
}

func (c *Cache) maybeFlush(ctx context.Context) {
	c.flushMu.Lock()
	c.interactions++
	due := c.interactions >= c.cfg.FlushEvery
	if due {
		c.interactions = 0
	}
	c.flushMu.Unlock()

	if due {
		// flush failure never fails the request
		if err := c.Flush(ctx); err != nil {
			c.logger.Error("Cache flush failed", zap.Error(err))
		}
	}
}

// Flush writes all dirty entries to sqlite in one transaction
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	var dirty []*entry
	for _, e := range c.entries {
		if e.dirty {
			cp := *e
			dirty = append(dirty, &cp)
		}
	}
	version := c.embeddingVersion
	c.mu.Unlock()

	if len(dirty) == 0 {
		return nil
	}
	if err := c.persist(ctx, dirty, version); err != nil {
		ometrics.AnswerCacheFlushes.WithLabelValues("error").Inc()
		return err
	}

	c.mu.Lock()
	for _, cp := range dirty {
		if e, ok := c.entries[cp.Fingerprint]; ok {
			e.dirty = false
		}
	}
	c.mu.Unlock()

	ometrics.AnswerCacheFlushes.WithLabelValues("ok").Inc()
	return nil
}

// Close flushes pending updates and releases the store
func (c *Cache) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		c.logger.Error("Final cache flush failed", zap.Error(err))
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
	return c.db.Close()
}

func (c *Cache) hotSet(ctx context.Context, snap *Entry) {
	if c.redis == nil {
		return
	}
	b, _ := json.Marshal(snap)
	_ = c.redis.Set(ctx, redisKey(snap.Fingerprint), b, c.cfg.RedisTTL).Err()
}

func (c *Cache) hotDel(ctx context.Context, fp string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, redisKey(fp)).Err()
}

func redisKey(fp string) string { return "qa:promoted:" + fp }

func snapshot(e *entry) *Entry {
	avg := 0.0
	if e.HitCount > 0 {
		avg = e.TotalLatencyMs / float64(e.HitCount)
	}
	return &Entry{
		Fingerprint:   e.Fingerprint,
		Question:      e.Question,
		Answer:        e.Answer,
		HitCount:      e.HitCount,
		PositiveVotes: e.PositiveVotes,
		NegativeVotes: e.NegativeVotes,
		AvgLatencyMs:  avg,
	}
}
