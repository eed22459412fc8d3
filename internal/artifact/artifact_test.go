package artifact

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestReportKeyAndRawDocumentKey(t *testing.T) {
	if got := ReportKey("job-1", FormatMarkdown); got != "reports/job-1/report.md" {
		t.Fatalf("unexpected report key: %s", got)
	}
	if got := RawDocumentKey("job-1", 3, 1); got != "raw/job-1/3-1.json" {
		t.Fatalf("unexpected raw document key: %s", got)
	}
}

func TestS3StorePutAndGetSigned(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	endpoint := strings.TrimPrefix(srv.URL, "http://")
	store := NewS3Store(endpoint, "us-east-1", "bucket", "key", "secret", false)

	url, err := store.Put(context.Background(), "raw/job-1/1-0.json", []byte(`{"ok":true}`), "application/json")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Fatalf("expected PUT, got %s", gotMethod)
	}
	if gotPath != "/bucket/raw/job-1/1-0.json" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if !strings.Contains(url, "raw/job-1/1-0.json") {
		t.Fatalf("unexpected url: %s", url)
	}

	signed, err := store.GetSigned(context.Background(), "raw/job-1/1-0.json", time.Minute)
	if err != nil {
		t.Fatalf("get signed: %v", err)
	}
	if !strings.Contains(signed, "signature=") || !strings.Contains(signed, "expires=") {
		t.Fatalf("expected signed url params, got %s", signed)
	}
}

func TestMarkdownRendererRendersMarkdown(t *testing.T) {
	r := NewMarkdownRenderer()
	out, err := r.Render(context.Background(), "# Report\n\nbody", FormatMarkdown)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if string(out.Data) != "# Report\n\nbody" {
		t.Fatalf("unexpected data: %s", out.Data)
	}
	if len(out.Checksum) != 64 {
		t.Fatalf("expected sha256 hex checksum, got %q", out.Checksum)
	}
}

func TestMarkdownRendererRejectsBinaryFormats(t *testing.T) {
	r := NewMarkdownRenderer()
	if _, err := r.Render(context.Background(), "body", FormatPDF); err == nil {
		t.Fatalf("expected error for unimplemented pdf rendering")
	}
	if _, err := r.Render(context.Background(), "body", FormatDOCX); err == nil {
		t.Fatalf("expected error for unimplemented docx rendering")
	}
}
