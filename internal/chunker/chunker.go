package chunker

import (
	"regexp"
	"strings"

	"github.com/dgallion1/chaptergest/internal/document"
)

// paragraphBreak matches a blank-line boundary: a newline followed by one or
// more whitespace-only lines.
var paragraphBreak = regexp.MustCompile(`\n(?:[ \t\r\f\v]*\n)+`)

// Split breaks text into ordered, paragraph-aligned chunks of at most budget
// characters. Concatenating the chunk texts in order yields text exactly.
//
// Paragraphs are accumulated greedily; a paragraph that would push the current
// chunk past the budget starts a new chunk. A paragraph longer than the budget
// becomes a chunk of its own and is never split.
func Split(documentID, text string, budget document.Budget) []document.Chunk {
	if text == "" {
		return nil
	}
	limit := int(budget)

	var chunks []document.Chunk
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, document.Chunk{
			DocumentID: documentID,
			Index:      len(chunks),
			Text:       current.String(),
		})
		current.Reset()
		currentLen = 0
	}

	for _, para := range Paragraphs(text) {
		paraLen := document.CharCount(para)
		if currentLen > 0 && currentLen+paraLen > limit {
			flush()
		}
		current.WriteString(para)
		currentLen += paraLen
	}
	flush()

	return chunks
}

// Paragraphs splits text on blank-line boundaries. Each returned span keeps
// its trailing separator, and leading blank lines stay attached to the first
// paragraph, so the spans always concatenate back to text.
func Paragraphs(text string) []string {
	if text == "" {
		return nil
	}

	var spans []string
	start := 0
	for _, loc := range paragraphBreak.FindAllStringIndex(text, -1) {
		if strings.TrimSpace(text[start:loc[0]]) == "" {
			continue
		}
		spans = append(spans, text[start:loc[1]])
		start = loc[1]
	}

	if start < len(text) {
		rest := text[start:]
		if len(spans) > 0 && strings.TrimSpace(rest) == "" {
			spans[len(spans)-1] += rest
		} else {
			spans = append(spans, rest)
		}
	}
	return spans
}
