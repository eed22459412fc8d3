package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SearchProvider names one member of a SearchChain's priority list.
type SearchProvider string

const (
	SearchProviderSearxng SearchProvider = "searxng"
	SearchProviderSerper  SearchProvider = "serper"
	SearchProviderBrave   SearchProvider = "brave"
)

// providerSearcher is the narrow interface each concrete provider satisfies.
type providerSearcher interface {
	search(ctx context.Context, query string, k int) ([]SearchResult, error)
}

// SearchChain tries each configured provider in order and returns the first
// non-empty result set, per spec.md §4.4's search workflow: a
// provider outage degrades search quality, it never fails the step.
type SearchChain struct {
	order            []SearchProvider
	providers        map[SearchProvider]providerSearcher
	errCounts        map[SearchProvider]int
	limiter          *RateLimiter
	perProviderLimit int
}

// WithRateLimiter attaches a shared RateLimiter and the per-provider
// requests-per-window ceiling it should enforce. Skipping a rate-limited
// provider is treated the same as a provider error: the chain falls
// through to the next one rather than failing the step.
func (c *SearchChain) WithRateLimiter(limiter *RateLimiter, perProviderLimit int) *SearchChain {
	c.limiter = limiter
	c.perProviderLimit = perProviderLimit
	return c
}

// NewSearchChain builds a SearchChain from whichever credentials are
// non-empty, tried in the given priority order.
func NewSearchChain(order []SearchProvider, searxngURL, serperAPIKey, braveAPIKey string, httpClient *http.Client, timeout time.Duration) *SearchChain {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	providers := map[SearchProvider]providerSearcher{}
	if searxngURL != "" {
		providers[SearchProviderSearxng] = &searxngSearcher{baseURL: searxngURL, client: httpClient}
	}
	if serperAPIKey != "" {
		providers[SearchProviderSerper] = &serperSearcher{apiKey: serperAPIKey, client: httpClient}
	}
	if braveAPIKey != "" {
		providers[SearchProviderBrave] = &braveSearcher{apiKey: braveAPIKey, client: httpClient}
	}
	return &SearchChain{order: order, providers: providers, errCounts: map[SearchProvider]int{}}
}

// Search implements Searcher by walking the priority list until one
// provider returns results. If every provider that answered returned no
// results, Search returns an empty set and no error.
func (c *SearchChain) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	var lastErr error
	answered := false
	for _, name := range c.order {
		p, ok := c.providers[name]
		if !ok {
			continue
		}
		if allowed, err := c.limiter.Allow(ctx, string(name), c.perProviderLimit); err != nil {
			lastErr = err
			continue
		} else if !allowed {
			c.errCounts[name]++
			lastErr = fmt.Errorf("%s: rate limit exceeded", name)
			continue
		}
		results, err := p.search(ctx, query, k)
		if err != nil {
			c.errCounts[name]++
			lastErr = err
			continue
		}
		if len(results) == 0 {
			answered = true
			continue
		}
		return results, nil
	}
	if answered {
		return nil, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("all search providers exhausted: %w", lastErr)
	}
	return nil, fmt.Errorf("no search providers configured")
}

// ErrorCounts reports how many times each provider has failed, for the
// Tool Gateway's observability surface (spec.md §4.4).
func (c *SearchChain) ErrorCounts() map[SearchProvider]int {
	out := make(map[SearchProvider]int, len(c.errCounts))
	for k, v := range c.errCounts {
		out[k] = v
	}
	return out
}

// serperSearcher hits https://google.serper.dev/search, the provider the
// teacher's tools/web_search/serper adapter uses.
type serperSearcher struct {
	apiKey string
	client *http.Client
}

func (s *serperSearcher) search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	payload := map[string]any{"q": query, "num": k}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://google.serper.dev/search", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("serper: status %d", resp.StatusCode)
	}

	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(raw.Organic))
	for i, item := range raw.Organic {
		if i >= k {
			break
		}
		out = append(out, SearchResult{Title: item.Title, URL: item.Link, Snippet: item.Snippet})
	}
	return out, nil
}

// braveSearcher hits the Brave Search API, the second provider the
// teacher's tools/web_search factory supports.
type braveSearcher struct {
	apiKey string
	client *http.Client
}

func (b *braveSearcher) search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	url := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d", urlQuery(query), k)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Subscription-Token", b.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("brave: status %d", resp.StatusCode)
	}

	var raw struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(raw.Web.Results))
	for i, item := range raw.Web.Results {
		if i >= k {
			break
		}
		out = append(out, SearchResult{Title: item.Title, URL: item.URL, Snippet: item.Description})
	}
	return out, nil
}

// searxngSearcher hits a self-hosted SearXNG instance, the first entry in
// the default priority order since it carries no API key cost.
type searxngSearcher struct {
	baseURL string
	client  *http.Client
}

func (sx *searxngSearcher) search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	url := fmt.Sprintf("%s/search?q=%s&format=json", strings.TrimRight(sx.baseURL, "/"), urlQuery(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := sx.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("searxng: status %d", resp.StatusCode)
	}

	var raw struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(raw.Results))
	for i, item := range raw.Results {
		if i >= k {
			break
		}
		out = append(out, SearchResult{Title: item.Title, URL: item.URL, Snippet: item.Content})
	}
	return out, nil
}

func urlQuery(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "+")
}

var _ Searcher = (*SearchChain)(nil)
