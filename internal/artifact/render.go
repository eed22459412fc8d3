package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// MarkdownRenderer renders the Finalize phase's report body directly, and
// returns documented-unsupported errors for the binary formats. PDF/DOCX
// rendering internals are out of scope (spec.md §1). Finalize calls this
// Renderer for the Markdown format only; it does not request PDF or DOCX.
type MarkdownRenderer struct{}

func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{}
}

// Render implements artifact.Renderer.
func (r *MarkdownRenderer) Render(ctx context.Context, report string, format RenderFormat) (Rendered, error) {
	switch format {
	case FormatMarkdown:
		data := []byte(report)
		sum := sha256.Sum256(data)
		return Rendered{
			Format:      FormatMarkdown,
			ContentType: "text/markdown; charset=utf-8",
			Data:        data,
			Checksum:    hex.EncodeToString(sum[:]),
		}, nil
	case FormatPDF, FormatDOCX:
		return Rendered{}, fmt.Errorf("artifact: %s rendering not implemented", format)
	default:
		return Rendered{}, fmt.Errorf("artifact: unknown render format %q", format)
	}
}

var _ Renderer = (*MarkdownRenderer)(nil)
