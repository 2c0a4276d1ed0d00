package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgallion1/chaptergest/internal/parser"
)

// WriteChapter writes the chapter to path as plain text, creating parent
// directories. With stripMarkdown, leftover markup from the model is removed.
// The file is replaced atomically.
func WriteChapter(path, chapter string, stripMarkdown bool) error {
	if stripMarkdown {
		chapter = parser.PlainText([]byte(chapter))
	}
	chapter = strings.TrimSpace(chapter) + "\n"

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".chapter-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(chapter); err != nil {
		tmp.Close()
		return fmt.Errorf("write chapter: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close chapter: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write chapter: %w", err)
	}
	return nil
}
