package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Parser converts raw document bytes into plain text. Paragraphs are
// separated by a blank line.
type Parser interface {
	Parse(ctx context.Context, r io.Reader, filename string) (string, error)
}

// SupportedExtensions lists file extensions that can be extracted.
var SupportedExtensions = map[string]bool{
	".pdf":      true,
	".txt":      true,
	".md":       true,
	".markdown": true,
	".html":     true,
	".htm":      true,
	".docx":     true,
}

// ErrUnsupported is returned for files with an unknown extension.
var ErrUnsupported = errors.New("unsupported file extension")

// ExtractionError is a source that could not be read or decoded.
type ExtractionError struct {
	Source string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Options tunes PDF extraction.
type Options struct {
	FallbackPdftotext bool
	OCR               OCROptions
}

// Extractor reads source files from disk.
type Extractor struct {
	opts Options
	log  *slog.Logger
}

func NewExtractor(opts Options, log *slog.Logger) *Extractor {
	return &Extractor{opts: opts, log: log}
}

// ForFile returns the parser for a filename.
func (e *Extractor) ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{FallbackPdftotext: e.opts.FallbackPdftotext, OCR: e.opts.OCR, log: e.log}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
}

// ExtractFile returns the text of the file at path. Failures are
// *ExtractionError. An empty result is not an error.
func (e *Extractor) ExtractFile(ctx context.Context, path string) (string, error) {
	p, err := e.ForFile(path)
	if err != nil {
		return "", &ExtractionError{Source: path, Err: err}
	}

	f, err := os.Open(path)
	if err != nil {
		return "", &ExtractionError{Source: path, Err: err}
	}
	defer f.Close()

	text, err := p.Parse(ctx, f, filepath.Base(path))
	if err != nil {
		return "", &ExtractionError{Source: path, Err: err}
	}
	return text, nil
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Scan lists the supported files directly inside dir, sorted by name.
// Hidden files and subdirectories are ignored.
func Scan(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !IsSupportedExtension(name) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	slices.Sort(out)
	return out, nil
}

// joinParagraphs trims each paragraph, drops empty ones and joins the rest
// with a blank line.
func joinParagraphs(paras []string) string {
	kept := paras[:0:0]
	for _, p := range paras {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

// spoolTemp copies r into a temp file for libraries that need a seekable file.
// The caller removes the returned path.
func spoolTemp(r io.Reader, pattern string) (*os.File, int64, error) {
	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return nil, 0, fmt.Errorf("create temp file: %w", err)
	}
	size, err := io.Copy(tmp, r)
	if err == nil {
		_, err = tmp.Seek(0, io.SeekStart)
	}
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, 0, fmt.Errorf("write temp file: %w", err)
	}
	return tmp, size, nil
}
