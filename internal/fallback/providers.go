package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Hit is one raw result from a knowledge source
type Hit struct {
	Title   string
	URL     string
	Body    string
	Domain  string
	// confidence reported by the provider itself; 0 means unscored
	SelfConfidence float64
}

// Provider retrieves candidate content for search terms
type Provider interface {
	Name() string
	Search(ctx context.Context, terms string, maxResults int) ([]Hit, error)
}

// --- public encyclopedia (Wikipedia-compatible MediaWiki API) ---

type wikipediaProvider struct {
	baseURL string
	http    *http.Client
}

func newWikipediaProvider(baseURL string, timeout time.Duration) *wikipediaProvider {
	if baseURL == "" {
		baseURL = "https://en.wikipedia.org"
	}
	return &wikipediaProvider{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (p *wikipediaProvider) Name() string { return "wikipedia" }

type wikiSearchResponse struct {
	Query struct {
		Search []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
		} `json:"search"`
	} `json:"query"`
}

type wikiExtractResponse struct {
	Query struct {
		Pages map[string]struct {
			Title   string `json:"title"`
			Extract string `json:"extract"`
		} `json:"pages"`
	} `json:"query"`
}

func (p *wikipediaProvider) Search(ctx context.Context, terms string, maxResults int) ([]Hit, error) {
	q := url.Values{}
	q.Set("action", "query")
	q.Set("list", "search")
	q.Set("srsearch", terms)
	q.Set("srlimit", fmt.Sprintf("%d", maxResults))
	q.Set("format", "json")

	var sr wikiSearchResponse
	if err := p.getJSON(ctx, q, &sr); err != nil {
		return nil, err
	}
	if len(sr.Query.Search) == 0 {
		return nil, nil
	}

	titles := make([]string, 0, len(sr.Query.Search))
	for _, s := range sr.Query.Search {
		titles = append(titles, s.Title)
	}

	q = url.Values{}
	q.Set("action", "query")
	q.Set("prop", "extracts")
	q.Set("explaintext", "1")
	q.Set("exintro", "1")
	q.Set("titles", strings.Join(titles, "|"))
	q.Set("format", "json")

	var er wikiExtractResponse
	if err := p.getJSON(ctx, q, &er); err != nil {
		return nil, err
	}

	extracts := make(map[string]string, len(er.Query.Pages))
	for _, pg := range er.Query.Pages {
		extracts[pg.Title] = pg.Extract
	}

	hits := make([]Hit, 0, len(titles))
	for _, title := range titles {
		body := extracts[title]
		if body == "" {
			continue
		}
		hits = append(hits, Hit{
			Title:  title,
			URL:    p.baseURL + "/wiki/" + url.PathEscape(strings.ReplaceAll(title, " ", "_")),
			Body:   body,
			Domain: "wikipedia.org",
		})
	}
	return hits, nil
}

func (p *wikipediaProvider) getJSON(ctx context.Context, q url.Values, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/w/api.php?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wikipedia returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// --- general web search (JSON search gateway) ---

type websearchProvider struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newWebsearchProvider(baseURL, apiKey string, timeout time.Duration) *websearchProvider {
	return &websearchProvider{baseURL: baseURL, apiKey: apiKey, http: &http.Client{Timeout: timeout}}
}

func (p *websearchProvider) Name() string { return "websearch" }

type websearchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	} `json:"results"`
}

func (p *websearchProvider) Search(ctx context.Context, terms string, maxResults int) ([]Hit, error) {
	q := url.Values{}
	q.Set("q", terms)
	q.Set("limit", fmt.Sprintf("%d", maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search gateway returned status %d", resp.StatusCode)
	}

	var wr websearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(wr.Results))
	for _, r := range wr.Results {
		hits = append(hits, Hit{
			Title:  r.Title,
			URL:    r.URL,
			Body:   r.Snippet,
			Domain: domainOf(r.URL),
		})
	}
	return hits, nil
}

func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(u.Host, "www.")
}

// --- alternative large-model service ---

type llmProvider struct {
	baseURL string
	http    *http.Client
}

func newLLMProvider(baseURL string, timeout time.Duration) *llmProvider {
	return &llmProvider{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (p *llmProvider) Name() string { return "llm" }

type llmRequest struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

type llmResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func (p *llmProvider) Search(ctx context.Context, terms string, _ int) ([]Hit, error) {
	buf, _ := json.Marshal(llmRequest{
		Prompt:    "Answer concisely and factually: " + terms,
		MaxTokens: 512,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/completions", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fallback model returned status %d", resp.StatusCode)
	}

	var lr llmResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, err
	}
	if strings.TrimSpace(lr.Text) == "" {
		return nil, nil
	}
	return []Hit{{
		Title:          "model response",
		Body:           lr.Text,
		SelfConfidence: lr.Confidence,
	}}, nil
}
