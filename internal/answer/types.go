package answer

import (
	"time"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/faults"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/generator"
)

// Response formats
const (
	FormatBrief    = "brief"
	FormatDetailed = "detailed"
	FormatBulleted = "bulleted"
)

// Answer origins
const (
	OriginLocal         = "local"
	OriginExternal      = "external"
	OriginHybrid        = "hybrid"
	OriginFallbackError = "fallback_error"
	OriginInternalError = "internal_error"
)

// Processing modes
const (
	ModeStandard  = "standard"
	ModeUltraFast = "ultra_fast" // skips chunk condensation
)

// Options tune a single answer request. Zero values take documented
// defaults; out-of-range values are rejected at validation.
type Options struct {
	ResponseFormat        string
	MaxSources            int
	NCandidates           int
	AllowExternalFallback *bool
	ConfidenceFloor       *float64
	Mode                  string
	// DeadlineMs overrides the configured total deadline; an explicit 0
	// expires immediately
	DeadlineMs *int64
}

func (o *Options) fallbackAllowed() bool {
	return o.AllowExternalFallback == nil || *o.AllowExternalFallback
}

// normalize applies defaults and validates ranges
func (o *Options) normalize(defaultFloor float64) error {
	if o.ResponseFormat == "" {
		o.ResponseFormat = FormatDetailed
	}
	switch o.ResponseFormat {
	case FormatBrief, FormatDetailed, FormatBulleted:
	default:
		return faults.New(faults.KindInvalidInput, "unknown response_format %q", o.ResponseFormat)
	}
	if o.Mode == "" {
		o.Mode = ModeStandard
	}
	switch o.Mode {
	case ModeStandard, ModeUltraFast:
	default:
		return faults.New(faults.KindInvalidInput, "unknown mode %q", o.Mode)
	}
	if o.MaxSources == 0 {
		o.MaxSources = 5
	}
	if o.MaxSources < 0 {
		return faults.New(faults.KindInvalidInput, "max_sources must be non-negative")
	}
	if o.NCandidates == 0 {
		o.NCandidates = 5
	}
	if o.NCandidates < 1 || o.NCandidates > 10 {
		return faults.New(faults.KindInvalidInput, "n_candidates must be in [1,10], got %d", o.NCandidates)
	}
	if o.ConfidenceFloor == nil {
		f := defaultFloor
		o.ConfidenceFloor = &f
	}
	if *o.ConfidenceFloor < 0 || *o.ConfidenceFloor > 1 {
		return faults.New(faults.KindInvalidInput, "confidence_floor must be in [0,1]")
	}
	return nil
}

// Request is one question against one indexed document
type Request struct {
	Question   string
	DocumentID string
	UserID     string
	Options    Options
}

// Source is a citation returned with the answer
type Source struct {
	DocumentID   string  `json:"document_id"`
	ChunkOrdinal int     `json:"chunk_ordinal"`
	Snippet      string  `json:"snippet"`
	Score        float64 `json:"score"`
}

// Metadata describes how the answer was produced
type Metadata struct {
	CandidatesGenerated int    `json:"candidates_generated"`
	RerankApplied       bool   `json:"rerank_applied"`
	RerankDegraded      bool   `json:"rerank_degraded,omitempty"`
	FallbackUsed        bool   `json:"fallback_used"`
	ClassificationLabel string `json:"classification_label"`
	CacheHit            bool   `json:"cache_hit"`
}

// Answer is the terminal result of a request. Failures share this schema
// with a deterministic user-safe message and zero confidence.
type Answer struct {
	Text             string   `json:"answer"`
	Confidence       float64  `json:"confidence"`
	Sources          []Source `json:"sources"`
	Origin           string   `json:"origin"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	Metadata         Metadata `json:"metadata"`
}

// candidate is one scored generation trial
type candidate struct {
	completion *generator.Completion
	seed       int // schedule index, deterministic tie-break
	perplexity float64
	relevance  float64
	quality    float64
	final      float64
}

// elapsed returns the wall time since start in whole milliseconds
func elapsed(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
