// Package extract turns uploaded medical documents into plain text.
//
// Extraction never fails loudly: every problem ends up in Result.Error with
// Success=false, so one bad file in a batch does not abort the others.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/sakif/inforx/internal/ocr"
)

// File is a named document body. Ext, when set, overrides the extension of
// Name for dispatch; callers pass the extension the upload was validated as.
type File struct {
	Name string
	Ext  string
	Data []byte
}

func (f File) kind() string {
	ext := f.Ext
	if ext == "" {
		ext = filepath.Ext(f.Name)
	}
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Result is the outcome of extracting one file. Confidence is set for OCR only.
type Result struct {
	Text       string   `json:"text"`
	FileName   string   `json:"fileName"`
	Success    bool     `json:"success"`
	Confidence *float64 `json:"confidence,omitempty"`
	Error      string   `json:"error,omitempty"`
	PageCount  int      `json:"pageCount,omitempty"`
}

// PDFExtractor pulls text out of a PDF.
type PDFExtractor interface {
	ExtractPDF(ctx context.Context, name string, data []byte) (text string, pages int, err error)
}

// Pipeline dispatches files to the extractor matching their extension.
type Pipeline struct {
	pdf    PDFExtractor
	ocr    ocr.Engine
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConcurrency sets how many files the pipeline may process at once,
// across every caller sharing it. The default is 1.
func WithConcurrency(n int64) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.sem = semaphore.NewWeighted(n)
		}
	}
}

// NewPipeline builds a pipeline. A nil engine disables image OCR.
func NewPipeline(pdf PDFExtractor, engine ocr.Engine, logger *slog.Logger, opts ...Option) *Pipeline {
	if engine == nil {
		engine = ocr.Disabled{}
	}
	p := &Pipeline{
		pdf:    pdf,
		ocr:    engine,
		sem:    semaphore.NewWeighted(1),
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Placeholder is the text reported for files of an unsupported type.
func Placeholder(name string) string {
	return fmt.Sprintf("[File: %s] Content could not be extracted from this file type.", name)
}

// Extract extracts a single file. It waits for a slot in the pipeline's
// concurrency budget first.
func (p *Pipeline) Extract(ctx context.Context, f File) Result {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Result{FileName: f.Name, Error: err.Error()}
	}
	defer p.sem.Release(1)
	return p.extract(ctx, f)
}

func (p *Pipeline) extract(ctx context.Context, f File) Result {
	res := Result{FileName: f.Name}

	var err error
	switch f.kind() {
	case ".pdf":
		if p.pdf == nil {
			err = fmt.Errorf("pdf extraction is not configured")
			break
		}
		res.Text, res.PageCount, err = p.pdf.ExtractPDF(ctx, f.Name, f.Data)
	case ".docx":
		res.Text, err = DOCXText(f.Data)
	case ".txt":
		res.Text = strings.ToValidUTF8(string(f.Data), "")
	case ".png", ".jpg", ".jpeg":
		var out *ocr.Result
		out, err = p.ocr.Recognize(ctx, f.Data, ocr.LangEnglish)
		if err == nil {
			res.Text = out.Text
			conf := out.Confidence
			res.Confidence = &conf
		}
	default:
		res.Text = Placeholder(f.Name)
	}

	if err != nil {
		p.logger.Warn("extraction failed",
			slog.String("file", f.Name),
			slog.String("error", err.Error()),
		)
		return Result{FileName: f.Name, Error: err.Error()}
	}

	res.Success = true
	return res
}

// ExtractAll extracts files one after another. The result at index i
// belongs to files[i].
func (p *Pipeline) ExtractAll(ctx context.Context, files []File) []Result {
	results := make([]Result, len(files))
	for i, f := range files {
		results[i] = p.Extract(ctx, f)
	}
	return results
}

// Combine joins the text of successful results, each preceded by a header
// naming its file.
func Combine(results []Result) string {
	var b strings.Builder
	for _, r := range results {
		if !r.Success {
			continue
		}
		b.WriteString("\n\n--- ")
		b.WriteString(r.FileName)
		b.WriteString(" ---\n")
		b.WriteString(r.Text)
	}
	return b.String()
}
