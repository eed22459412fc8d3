package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHeadlessFetcherDirectFallbackStripsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><script>evil()</script><p>Hello world</p></body></html>"))
	}))
	defer srv.Close()

	f := NewHeadlessFetcher(false, 0, 0, "test-agent", 5*time.Second)
	res, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Status)
	}
	if contains(res.Content, "evil()") {
		t.Fatalf("expected script content stripped, got %q", res.Content)
	}
	if !contains(res.Content, "Hello world") {
		t.Fatalf("expected visible text preserved, got %q", res.Content)
	}
}

func TestHeadlessFetcherRejectsEmptyURL(t *testing.T) {
	f := NewHeadlessFetcher(false, 0, 0, "test-agent", time.Second)
	if _, err := f.Fetch(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestHeadlessFetcherTruncatesToMaxChars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<p>" + string(make([]byte, 100, 100)) + "word content here</p>"))
	}))
	defer srv.Close()

	f := NewHeadlessFetcher(false, 0, 5, "test-agent", 5*time.Second)
	res, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(res.Content) > 5 {
		t.Fatalf("expected content truncated to 5 chars, got %d: %q", len(res.Content), res.Content)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
