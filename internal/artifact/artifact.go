// Package artifact is the blob sink for raw fetched documents and rendered
// report files (spec.md §4's Artifact Store, §6's Store interface). Object
// storage internals and PDF/DOCX rendering are out of scope per spec.md §1;
// this package defines the interfaces and ships one concrete adapter of
// each so the Pipeline Executor has something real to call.
package artifact

import (
	"context"
	"time"
)

// Store is the blob-service contract spec.md §6 names: put and
// getSigned, keyed by the stable layouts
// raw/{jobId}/{stepOrder}-{i}.json and reports/{jobId}/report.{md,pdf,docx}.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	GetSigned(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// RenderFormat names one of the output formats a Renderer can produce.
type RenderFormat string

const (
	FormatMarkdown RenderFormat = "md"
	FormatPDF      RenderFormat = "pdf"
	FormatDOCX     RenderFormat = "docx"
)

// Rendered is one rendered report asset, ready to be handed to a Store.
type Rendered struct {
	Format      RenderFormat
	ContentType string
	Data        []byte
	Checksum    string // SHA-256 hex digest
}

// Renderer turns a finalized report body into one or more rendered assets.
type Renderer interface {
	Render(ctx context.Context, report string, format RenderFormat) (Rendered, error)
}

// ReportKey builds the stable object key for a job's rendered report.
func ReportKey(jobID string, format RenderFormat) string {
	return "reports/" + jobID + "/report." + string(format)
}

// RawDocumentKey builds the stable object key for a step's i-th raw fetch.
func RawDocumentKey(jobID string, stepOrder, index int) string {
	return "raw/" + jobID + "/" + itoa(stepOrder) + "-" + itoa(index) + ".json"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
