package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"github.com/deepresearch/orchestrator/internal/helpers"
)

// HeadlessFetcher retrieves a URL's rendered HTML through chromedp, extracts
// its readable content with go-readability, and falls back to a direct,
// bluemonday-sanitized HTTP GET when headless rendering fails (spec.md
// §4.4's fetch workflow).
type HeadlessFetcher struct {
	timeout     time.Duration
	maxChars    int
	userAgent   string
	chromedpOn  bool
	directHTTP  *http.Client
}

// NewHeadlessFetcher constructs a HeadlessFetcher. chromedpEnabled lets
// operators disable headless rendering entirely (e.g. no Chrome binary in
// the deployment image) and fall straight to the direct-HTTP path.
func NewHeadlessFetcher(chromedpEnabled bool, timeoutMS, maxChars int, userAgent string, directTimeout time.Duration) *HeadlessFetcher {
	if maxChars <= 0 {
		maxChars = 20000
	}
	if timeoutMS <= 0 {
		timeoutMS = 15000
	}
	return &HeadlessFetcher{
		timeout:    time.Duration(timeoutMS) * time.Millisecond,
		maxChars:   maxChars,
		userAgent:  userAgent,
		chromedpOn: chromedpEnabled,
		directHTTP: &http.Client{Timeout: directTimeout},
	}
}

// Fetch implements gateway.Fetcher.
func (f *HeadlessFetcher) Fetch(ctx context.Context, rawURL string) (FetchResult, error) {
	if strings.TrimSpace(rawURL) == "" {
		return FetchResult{}, errors.New("invalid url")
	}

	if f.chromedpOn {
		if res, err := f.fetchHeadless(ctx, rawURL); err == nil {
			return res, nil
		}
	}
	return f.fetchDirect(ctx, rawURL)
}

func (f *HeadlessFetcher) fetchHeadless(ctx context.Context, rawURL string) (FetchResult, error) {
	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(f.userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(cctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	if err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return FetchResult{}, fmt.Errorf("headless fetch: %w", err)
	}

	parsed, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return FetchResult{}, fmt.Errorf("extract readable content: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) > f.maxChars {
		text = text[:f.maxChars]
	}
	return FetchResult{URL: rawURL, Title: strings.TrimSpace(article.Title), Content: text, Status: 200}, nil
}

// fetchDirect is the fallback path: a plain HTTP GET with the response body
// stripped of markup via bluemonday's strict policy and its whitespace
// collapsed to single spaces, used when headless
// rendering is disabled or the target blocks browser automation.
func (f *HeadlessFetcher) fetchDirect(ctx context.Context, rawURL string) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.directHTTP.Do(req)
	if err != nil {
		return FetchResult{URL: rawURL, Status: 599}, fmt.Errorf("direct fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{URL: rawURL, Status: resp.StatusCode}, err
	}

	text := strings.Join(strings.Fields(helpers.SanitizeHTMLStrict(string(body))), " ")
	if len(text) > f.maxChars {
		text = text[:f.maxChars]
	}
	return FetchResult{URL: rawURL, Content: strings.TrimSpace(text), Status: resp.StatusCode}, nil
}

var _ Fetcher = (*HeadlessFetcher)(nil)
