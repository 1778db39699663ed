package classifier

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	ometrics "github.com/Shubh2310-developer/Engunity-AI-sub002/internal/metrics"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/tracing"
)

const (
	ruleConfidence = 0.95
	// confidence assigned when ML is below threshold and we fall back to
	// the default label, explicitly flagging low certainty
	lowCertaintyConfidence = 0.5
)

// Config controls the hybrid classifier
type Config struct {
	MLBaseURL     string
	MLThreshold   float64
	CacheCapacity int
	Timeout       time.Duration
}

// Record is one classification outcome
type Record struct {
	Fingerprint  string
	Label        string
	Confidence   float64
	Method       string // "rule" or "ml"
	Distribution map[string]float64
}

// Classifier labels query text: rules first, ML for the residue, with a
// FIFO cache keyed by content hash. ML unavailability degrades to
// rules-only and never fails a request.
type Classifier struct {
	cfg   Config
	rules *RuleSet
	http  *http.Client
	log   *zap.Logger

	mu    sync.Mutex
	cache map[string]Record
	order []string // FIFO eviction order
}

func New(cfg Config, rules *RuleSet, logger *zap.Logger) *Classifier {
	c := cfg
	if c.MLThreshold <= 0 {
		c.MLThreshold = 0.6
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = 10_000
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		cfg:   c,
		rules: rules,
		http:  &http.Client{Timeout: c.Timeout},
		log:   logger,
		cache: make(map[string]Record, c.CacheCapacity),
	}
}

var (
	wsRe = regexp.MustCompile(`\s+`)
	// bracketed numeric citations and (Author, 2020) style markers
	citationRe = regexp.MustCompile(`\[\d+(?:\s*,\s*\d+)*\]|\([A-Z][A-Za-z.\s]+(?:et al\.?)?,?\s*\d{4}[a-z]?\)`)
)

// Normalize lower-cases, collapses whitespace, and canonicalizes citation
// markers to a placeholder so rules match regardless of citation style.
func Normalize(text string) string {
	t := citationRe.ReplaceAllString(text, "[CITATION]")
	t = strings.ToLower(strings.TrimSpace(t))
	return wsRe.ReplaceAllString(t, " ")
}

// Fingerprint is a stable hash of the normalized text
func Fingerprint(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}

// Classify labels a single text
func (c *Classifier) Classify(ctx context.Context, text string) Record {
	return c.BatchClassify(ctx, []string{text})[0]
}

// BatchClassify labels several texts. Duplicates within the batch and
// cache hits never repeat ML work; at most one ML call is made.
func (c *Classifier) BatchClassify(ctx context.Context, texts []string) []Record {
	ctx, span := tracing.StartSpan(ctx, "classifier.batch_classify")
	defer span.End()

	out := make([]Record, len(texts))
	fps := make([]string, len(texts))
	norms := make([]string, len(texts))

	// residue that needs the ML path, deduplicated by fingerprint
	pendingIdx := make(map[string][]int)
	var pendingFPs []string
	var pendingTexts []string

	for i, text := range texts {
		norm := Normalize(text)
		fp := Fingerprint(norm)
		norms[i], fps[i] = norm, fp

		if rec, ok := c.cacheGet(fp); ok {
			ometrics.ClassifierCacheHits.Inc()
			out[i] = rec
			continue
		}
		if label := c.rules.Match(norm); label != "" {
			rec := Record{
				Fingerprint:  fp,
				Label:        label,
				Confidence:   ruleConfidence,
				Method:       "rule",
				Distribution: c.rules.syntheticDistribution(label, ruleConfidence),
			}
			ometrics.ClassifierRequests.WithLabelValues("rule").Inc()
			c.cachePut(fp, rec)
			out[i] = rec
			continue
		}
		if _, seen := pendingIdx[fp]; !seen {
			pendingFPs = append(pendingFPs, fp)
			pendingTexts = append(pendingTexts, norm)
		}
		pendingIdx[fp] = append(pendingIdx[fp], i)
	}

	if len(pendingFPs) == 0 {
		return out
	}

	mlRecs, err := c.classifyML(ctx, pendingTexts)
	if err != nil {
		c.log.Warn("ML classifier unavailable, rules-only degradation", zap.Error(err))
		for _, fp := range pendingFPs {
			rec := Record{
				Fingerprint:  fp,
				Label:        c.rules.DefaultLabel(),
				Confidence:   0.0,
				Method:       "rule",
				Distribution: c.rules.syntheticDistribution(c.rules.DefaultLabel(), 1),
			}
			for _, i := range pendingIdx[fp] {
				out[i] = rec
			}
		}
		return out
	}

	for j, fp := range pendingFPs {
		rec := mlRecs[j]
		rec.Fingerprint = fp
		rec.Method = "ml"
		if rec.Confidence < c.cfg.MLThreshold {
			rec.Label = c.rules.DefaultLabel()
			rec.Confidence = lowCertaintyConfidence
		}
		ometrics.ClassifierRequests.WithLabelValues("ml").Inc()
		c.cachePut(fp, rec)
		for _, i := range pendingIdx[fp] {
			out[i] = rec
		}
	}
	return out
}

type mlRequest struct {
	Texts []string `json:"texts"`
}

type mlResult struct {
	Label        string             `json:"label"`
	Confidence   float64            `json:"confidence"`
	Distribution map[string]float64 `json:"distribution"`
}

type mlResponse struct {
	Results []mlResult `json:"results"`
}

func (c *Classifier) classifyML(ctx context.Context, texts []string) ([]Record, error) {
	buf, _ := json.Marshal(mlRequest{Texts: texts})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.MLBaseURL+"/classify", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}

	var mr mlResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, err
	}
	if len(mr.Results) != len(texts) {
		return nil, &statusError{code: -1}
	}

	recs := make([]Record, len(mr.Results))
	for i, r := range mr.Results {
		recs[i] = Record{Label: r.Label, Confidence: r.Confidence, Distribution: r.Distribution}
	}
	return recs, nil
}

type statusError struct{ code int }

func (e *statusError) Error() string {
	if e.code < 0 {
		return "ml classifier returned mismatched result count"
	}
	return "ml classifier returned status " + http.StatusText(e.code)
}

func (c *Classifier) cacheGet(fp string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.cache[fp]
	return rec, ok
}

func (c *Classifier) cachePut(fp string, rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.cache[fp]; exists {
		return
	}
	if len(c.order) >= c.cfg.CacheCapacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.cache, oldest)
	}
	c.cache[fp] = rec
	c.order = append(c.order, fp)
}
