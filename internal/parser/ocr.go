package parser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// OCROptions configures OCR for pages without a text layer.
type OCROptions struct {
	Enabled   bool
	Languages string // tesseract language list, e.g. "eng+por"
	DPI       int
}

type ocrRunner struct {
	opts      OCROptions
	pdftoppm  string
	tesseract string
}

func newOCR(opts OCROptions) *ocrRunner {
	r := &ocrRunner{opts: opts}
	if !opts.Enabled {
		return r
	}
	if opts.Languages == "" {
		r.opts.Languages = "eng+por"
	}
	if opts.DPI <= 0 {
		r.opts.DPI = 300
	}
	r.pdftoppm, _ = exec.LookPath("pdftoppm")
	r.tesseract, _ = exec.LookPath("tesseract")
	return r
}

func (r *ocrRunner) available() bool {
	return r.opts.Enabled && r.pdftoppm != "" && r.tesseract != ""
}

// page renders one page with pdftoppm and reads it back with tesseract.
func (r *ocrRunner) page(ctx context.Context, pdfPath string, pageNum int) (string, error) {
	tmpDir, err := os.MkdirTemp("", "chaptergest-ocr-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	pageStr := strconv.Itoa(pageNum)
	render := exec.CommandContext(ctx, r.pdftoppm,
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(r.opts.DPI),
		"-singlefile",
		pdfPath,
		prefix,
	)
	if out, err := render.CombinedOutput(); err != nil {
		return "", fmt.Errorf("pdftoppm: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}

	read := exec.CommandContext(ctx, r.tesseract, prefix+".png", "stdout", "-l", r.opts.Languages)
	out, err := read.Output()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return string(out), nil
}
