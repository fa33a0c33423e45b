// Package ocr extracts raw text and page counts from archive intake files.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "deu"
	DPI           int    // rasterization DPI for scanned PDFs, default 300
	MaxPages      int    // 0 = no limit
	Timeout       time.Duration

	// MinTextChars is the text length below which a PDF is treated as a scan and OCRed.
	MinTextChars int
}

type Result struct {
	Text     string
	Pages    int
	Format   string // constants.PDF | constants.IMAGE | constants.TXT
	Method   string // "pdf-text" | "pdf-ocr" | "image-ocr" | "plain"
	Duration time.Duration
	Warnings []string
}

type Extractor struct {
	cfg    Config
	runner Runner
	pages  *PageCounter
	logger *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRunner replaces the external command runner.
func WithRunner(r Runner) Option {
	return func(e *Extractor) { e.runner = r }
}

// WithPageCounter replaces the page counter.
func WithPageCounter(p *PageCounter) Option {
	return func(e *Extractor) { e.pages = p }
}

func NewExtractor(cfg Config, logger *slog.Logger, opts ...Option) (*Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "deu"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.MinTextChars <= 0 {
		cfg.MinTextChars = 20
	}
	e := &Extractor{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
	for _, o := range opts {
		o(e)
	}
	if e.pages == nil {
		pc, err := NewPageCounter(DefaultPageCacheSize, logger)
		if err != nil {
			return nil, err
		}
		e.pages = pc
	}
	return e, nil
}

// ExtractText returns the normalized text and page count of the file at path.
// Unreadable or corrupt input yields an error wrapping common.ErrExtractionFailure.
func (e *Extractor) ExtractText(ctx context.Context, path string) (string, int, error) {
	res, err := e.Extract(ctx, path)
	if err != nil {
		return "", 0, err
	}
	return res.Text, res.Pages, nil
}

// Extract picks a strategy based on file extension.
func (e *Extractor) Extract(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	ext := constants.NormalizeExt(filepath.Ext(path))
	e.logger.Debug("starting text extraction", "path", path, "ext", ext)

	var (
		res Result
		err error
	)
	switch format := constants.MapExtToFormat(ext); format {
	case constants.PDF:
		res, err = e.extractPDF(ctx, path)
	case constants.IMAGE:
		res, err = e.extractImage(ctx, path)
	case constants.TXT:
		res, err = e.extractPlain(path)
	default:
		err = fmt.Errorf("unsupported extension %q", ext)
	}
	res.Duration = time.Since(start)
	if err != nil {
		e.logger.Error("text extraction failed", "path", path, "method", res.Method, "error", err)
		return res, fmt.Errorf("%w: %s: %w", common.ErrExtractionFailure, path, err)
	}
	res.Text = Normalize(res.Text)
	e.logger.Debug("text extracted", "path", path, "method", res.Method, "pages", res.Pages,
		"chars", len(res.Text), "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

func (e *Extractor) extractPDF(ctx context.Context, path string) (Result, error) {
	res := Result{Format: constants.PDF, Method: "pdf-text"}
	pages, perr := e.pages.Count(ctx, path)
	if perr != nil {
		res.Warnings = append(res.Warnings, "page count: "+perr.Error())
	}

	text, ffPages, warns, err := e.pdfToText(ctx, path)
	res.Warnings = append(res.Warnings, warns...)
	if err == nil && len(strings.TrimSpace(text)) >= e.cfg.MinTextChars {
		res.Text = text
		res.Pages = pages
		if perr != nil {
			res.Pages = ffPages
		}
		return res, nil
	}
	if err != nil && perr != nil {
		return res, err
	}

	res.Method = "pdf-ocr"
	text, ocrPages, warns, err := e.pdfToOCR(ctx, path)
	res.Warnings = append(res.Warnings, warns...)
	if err != nil {
		return res, err
	}
	res.Text = text
	res.Pages = pages
	if perr != nil {
		res.Pages = ocrPages
	}
	return res, nil
}

func (e *Extractor) pdfToText(ctx context.Context, path string) (text string, pages int, warnings []string, err error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", 0, []string{err.Error()}, err
	}
	text = string(out)
	// pdftotext separates pages with a form feed
	pages = 1 + strings.Count(strings.TrimRight(text, "\f"), "\f")
	return text, pages, nil, nil
}

func (e *Extractor) pdfToOCR(ctx context.Context, path string) (text string, pages int, warnings []string, err error) {
	tmpDir, err := os.MkdirTemp("", "archive-pp-*")
	if err != nil {
		return "", 0, nil, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.logger.Warn("failed to remove temp dir", "dir", tmpDir, "error", err)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	args := []string{"-r", fmt.Sprintf("%d", e.cfg.DPI), "-png"}
	if e.cfg.MaxPages > 0 {
		args = append(args, "-l", fmt.Sprintf("%d", e.cfg.MaxPages))
	}
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	if _, err := e.runner.Run(ctx, e.cfg.Pdftoppm, append(args, path, prefix)...); err != nil {
		return "", 0, nil, err
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	if len(matches) == 0 {
		return "", 0, []string{"pdftoppm produced no images"}, fmt.Errorf("no pages rendered")
	}
	sortPages(matches)

	var b strings.Builder
	var warns []string
	for _, img := range matches {
		txt, w, err := e.tesseractOCR(ctx, img)
		if err != nil {
			warns = append(warns, err.Error())
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\f\n")
		}
		b.WriteString(txt)
		warns = append(warns, w...)
	}
	return b.String(), len(matches), warns, nil
}

func (e *Extractor) extractImage(ctx context.Context, path string) (Result, error) {
	res := Result{Format: constants.IMAGE, Method: "image-ocr", Pages: 1}
	txt, warns, err := e.tesseractOCR(ctx, path)
	res.Warnings = warns
	if err != nil {
		return res, err
	}
	res.Text = txt
	return res, nil
}

func (e *Extractor) tesseractOCR(ctx context.Context, path string) (string, []string, error) {
	// tesseract <file> stdout -l <lang>
	out, err := e.runner.Run(ctx, e.cfg.Tesseract, path, "stdout", "-l", e.cfg.TesseractLang)
	if err != nil {
		return "", nil, err
	}
	return string(out), nil, nil
}

func (e *Extractor) extractPlain(path string) (Result, error) {
	res := Result{Format: constants.TXT, Method: "plain", Pages: 1}
	data, err := os.ReadFile(path)
	if err != nil {
		return res, err
	}
	if !utf8.Valid(data) {
		return res, fmt.Errorf("text file is not valid UTF-8")
	}
	res.Text = string(data)
	return res, nil
}
