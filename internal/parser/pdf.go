package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFParser handles PDF files. Native text is read page by page with the Go
// reader; pages without text go through OCR when it is available. When the
// Go reader cannot open the file, pdftotext is tried if enabled.
type PDFParser struct {
	FallbackPdftotext bool
	OCR               OCROptions

	log *slog.Logger
}

func (p *PDFParser) Parse(ctx context.Context, r io.Reader, filename string) (string, error) {
	// ledongthuc/pdf and the external tools need a file on disk.
	tmp, _, err := spoolTemp(r, "chaptergest-pdf-*.pdf")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	pageCount, err := countPages(tmp)
	tmp.Close()
	if err != nil {
		p.logger().Warn("pdf validation failed", "document", filename, "error", err)
	}

	pages, err := extractPDFPages(tmpPath)
	if err != nil {
		if !p.FallbackPdftotext {
			return "", fmt.Errorf("extract pdf text: %w", err)
		}
		text, ferr := extractPdftotext(ctx, tmpPath)
		if ferr != nil {
			return "", fmt.Errorf("extract pdf text: %w", errors.Join(err, ferr))
		}
		pages = strings.Split(text, "\f")
	}
	if len(pages) < pageCount {
		pages = append(pages, make([]string, pageCount-len(pages))...)
	}

	ocr := newOCR(p.OCR)
	ocrPages := 0
	for i, page := range pages {
		if strings.TrimSpace(page) != "" || !ocr.available() {
			continue
		}
		text, err := ocr.page(ctx, tmpPath, i+1)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			p.logger().Warn("ocr failed", "document", filename, "page", i+1, "error", err)
			continue
		}
		pages[i] = text
		ocrPages++
	}
	if ocrPages > 0 {
		p.logger().Info("ocr applied", "document", filename, "pages", ocrPages)
	}

	return joinParagraphs(pages), nil
}

func (p *PDFParser) logger() *slog.Logger {
	if p.log == nil {
		return slog.Default()
	}
	return p.log
}

// countPages validates the file with pdfcpu and returns its page count.
func countPages(rs io.ReadSeeker) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.PageCount(rs, conf)
}

// extractPDFPages returns the native text of each page, "" for pages that
// carry none.
func extractPDFPages(path string) (pages []string, err error) {
	// The reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("pdf reader: %v", r)
		}
	}()

	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	numPages := reader.NumPage()
	pages = make([]string, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages[i-1] = text
	}
	return pages, nil
}

func extractPdftotext(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, "pdftotext", "-layout", path, "-")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w", err)
	}
	return string(out), nil
}
