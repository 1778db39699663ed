package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/faults"
	ometrics "github.com/Shubh2310-developer/Engunity-AI-sub002/internal/metrics"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/tracing"
)

// Config controls the generator client
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
}

// Params are the sampling knobs for one invocation
type Params struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	Seed        int     `json:"seed"`
}

// Completion is one generation trial with its log-prob summary
type Completion struct {
	Text          string
	TokenLogProbs []float64
	Confidence    float64
	Params        Params
}

// Perplexity derives sequence perplexity from token log-probs.
// Returns 0 when no log-probs were reported.
func (c *Completion) Perplexity() float64 {
	if len(c.TokenLogProbs) == 0 {
		return 0
	}
	var sum float64
	for _, lp := range c.TokenLogProbs {
		sum += lp
	}
	return math.Exp(-sum / float64(len(c.TokenLogProbs)))
}

// Client drives the external text-generation service. Invocations are
// independent; cancellation is cooperative through the request context.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	c := cfg
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: c, http: &http.Client{Timeout: c.Timeout}, log: logger}
}

type completionRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	Seed        int     `json:"seed"`
	LogProbs    bool    `json:"logprobs"`
}

type completionResponse struct {
	Text          string    `json:"text"`
	TokenLogProbs []float64 `json:"token_logprobs"`
	Confidence    float64   `json:"confidence"`
}

// Complete runs one generation trial with the given sampling parameters
func (c *Client) Complete(ctx context.Context, prompt string, params Params, maxTokens int) (*Completion, error) {
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	start := time.Now()

	url := c.cfg.BaseURL + "/completions"
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	buf, _ := json.Marshal(completionRequest{
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		Seed:        params.Seed,
		LogProbs:    true,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		ometrics.GenerationRequests.WithLabelValues("error").Inc()
		if ctx.Err() != nil {
			return nil, faults.Wrap(faults.KindDeadlineExceeded, ctx.Err(), "generation cancelled")
		}
		return nil, faults.Wrap(faults.KindDependencyUnavailable, err, "generator unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		ometrics.GenerationRequests.WithLabelValues("error").Inc()
		body, _ := io.ReadAll(resp.Body)
		return nil, faults.New(faults.KindDependencyUnavailable,
			"generator returned %d: %s", resp.StatusCode, string(body))
	}

	var cr completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		ometrics.GenerationRequests.WithLabelValues("error").Inc()
		return nil, faults.Wrap(faults.KindDependencyUnavailable, err, "decode generator response")
	}

	ometrics.GenerationRequests.WithLabelValues("ok").Inc()
	ometrics.GenerationLatency.Observe(time.Since(start).Seconds())
	return &Completion{
		Text:          strings.TrimSpace(cr.Text),
		TokenLogProbs: cr.TokenLogProbs,
		Confidence:    cr.Confidence,
		Params:        params,
	}, nil
}

// condensePrompt asks for a short fact summary constrained to the query
const condensePrompt = "Summarize the passage below in 2-3 sentences, keeping only facts relevant to the question. Do not add information.\n\nQuestion: %s\n\nPassage:\n%s\n\nSummary:"

// Condense produces a 2-3 sentence query-focused summary of a passage.
// Runs at low temperature so condensation stays faithful.
func (c *Client) Condense(ctx context.Context, query, passage string) (string, error) {
	prompt := fmt.Sprintf(condensePrompt, query, passage)
	out, err := c.Complete(ctx, prompt, Params{Temperature: 0.1, TopP: 0.9}, 160)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}
