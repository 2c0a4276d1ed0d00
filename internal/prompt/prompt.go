package prompt

import (
	"fmt"
	"strings"

	"github.com/dgallion1/chaptergest/internal/document"
)

// DefaultLanguage is the output language when none is configured.
const DefaultLanguage = "Brazilian Portuguese"

// System instructions per reduction stage.
const (
	ChunkSystem    = "You summarize passages of scientific texts. Write only the summary."
	DocumentSystem = "You merge partial summaries of one scientific text into a single coherent summary. Write only the summary."
	ChapterSystem  = "You are an expert in education and scientific research who writes book chapters comparing research papers."
)

// Chunk builds the prompt for one chunk of a document.
func Chunk(language, documentID string, index, total int, text string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Summarize the passage below in %s, following the formal written standard of the language.\n", lang(language))
	sb.WriteString("Keep the main ideas, findings and arguments. Write fluent prose, without lists or headings.\n")
	fmt.Fprintf(&sb, "The passage is part %d of %d of the document %q.\n\n", index+1, total, documentID)
	sb.WriteString("---\n")
	sb.WriteString(strings.TrimSpace(text))
	return sb.String()
}

// Document builds the prompt that merges ordered chunk summaries into one
// document summary. Empty summaries are skipped.
func Document(language, documentID string, summaries []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The partial summaries below cover, in order, the document %q.\n", documentID)
	fmt.Fprintf(&sb, "Write one cohesive summary of the whole document in %s, as continuous prose, ", lang(language))
	sb.WriteString("synthesizing its main contributions. Do not use markdown.\n\n")
	sb.WriteString("---\n")
	n := 0
	for _, s := range summaries {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n++
		fmt.Fprintf(&sb, "[%d] %s\n\n", n, s)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Chapter builds the comparative chapter prompt over all document summaries,
// labeled by identifier in the order given.
func Chapter(language string, summaries []document.DocumentSummary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Based on the summaries of the papers below, write a book chapter in %s, ", lang(language))
	sb.WriteString("following the formal written standard of the language. Compare the works, highlighting:\n")
	sb.WriteString("- common points\n")
	sb.WriteString("- theoretical or methodological conflicts\n")
	sb.WriteString("- the main contributions of each paper\n")
	sb.WriteString("- gaps for future research\n")
	sb.WriteString("Write continuous prose that is detailed, fluid and cohesive, like a book chapter. ")
	sb.WriteString("Do not use markdown formatting. Do not include bibliographic references. ")
	sb.WriteString("Keep the text clear and accessible, avoiding technical jargon.\n\n")
	for _, ds := range summaries {
		fmt.Fprintf(&sb, "Paper %q:\n%s\n\n", ds.DocumentID, strings.TrimSpace(ds.Summary))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func lang(language string) string {
	if strings.TrimSpace(language) == "" {
		return DefaultLanguage
	}
	return language
}
