package document

import (
	"errors"
	"strings"
)

// NoContentSummary is recorded for documents whose extraction produced no text.
const NoContentSummary = "no content extracted"

// ErrEmptyContent marks a document that yielded no chunks. It is reported as a
// warning, never as a failure.
var ErrEmptyContent = errors.New("document has no extractable content")

// Budget is the maximum number of characters per chunk for a run.
type Budget int

// Document is one source file moving through the pipeline.
type Document struct {
	ID      string  // Source filename
	Source  string  // Full path of the source file
	Text    string  // Raw extracted text
	Chunks  []Chunk // Ordered chunks of Text
	Summary string  // Per-document summary, set after synthesis
}

// Chunk is a contiguous, paragraph-aligned slice of a document's text.
type Chunk struct {
	DocumentID string
	Index      int    // 0-based processing order
	Text       string // Exact span of the document text
	Summary    string // Set after chunk summarization
}

// Len returns the chunk length in characters.
func (c Chunk) Len() int {
	return CharCount(c.Text)
}

// ChunkSummaries returns the chunk summaries in index order.
func (d *Document) ChunkSummaries() []string {
	out := make([]string, len(d.Chunks))
	for i, c := range d.Chunks {
		out[i] = c.Summary
	}
	return out
}

// Reassemble concatenates chunk texts in index order.
func Reassemble(chunks []Chunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Text)
	}
	return sb.String()
}

// DocumentSummary is one labeled input to the comparative synthesis.
type DocumentSummary struct {
	DocumentID string
	Summary    string
}

// CharCount counts characters (runes), the unit every budget is expressed in.
func CharCount(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}
