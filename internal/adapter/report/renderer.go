package report

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"clinicrew/internal/domain"
	"clinicrew/internal/infra/config"
	"clinicrew/internal/infra/tracer"
)

var _ domain.ReportRenderer = (*Renderer)(nil)

// PDFPrinter turns a standalone HTML document into PDF bytes.
type PDFPrinter interface {
	PrintPDF(ctx context.Context, html string) ([]byte, error)
}

// Renderer writes a markdown report and, when a PDF printer is set, a PDF
// next to it. A PDF failure is logged and the markdown path still returned.
type Renderer struct {
	dir     string
	timeout time.Duration
	pdf     PDFPrinter
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithPDF enables PDF output through p.
func WithPDF(p PDFPrinter) Option { return func(r *Renderer) { r.pdf = p } }

// WithClock overrides the time source used for file names.
func WithClock(now func() time.Time) Option { return func(r *Renderer) { r.now = now } }

// New builds a renderer from config. PDF output uses headless Chrome when
// cfg.PDF is set.
func New(cfg config.ReportsConfig, logger *slog.Logger, opts ...Option) *Renderer {
	r := &Renderer{
		dir:     cfg.Dir,
		timeout: cfg.Timeout,
		logger:  logger,
		now:     time.Now,
	}
	if r.timeout <= 0 {
		r.timeout = 30 * time.Second
	}
	if cfg.PDF {
		r.pdf = NewChromePrinter(logger)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render implements domain.ReportRenderer.
func (r *Renderer) Render(ctx context.Context, rec domain.PatientRecord, notes []domain.ClinicalNote) ([]string, error) {
	ctx, span := tracer.StartSpan(ctx, "report.render")
	defer span.End()

	now := r.now()
	md := Markdown(rec, notes, now)

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: create report dir: %v", domain.ErrReportRender, err)
	}
	base := slug(rec.Patient)
	if rec.Room != "" {
		base += "-room-" + slug(rec.Room)
	}
	base += "-" + now.UTC().Format("20060102-150405")

	mdPath := filepath.Join(r.dir, base+".md")
	if err := os.WriteFile(mdPath, []byte(md), 0o644); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: write markdown: %v", domain.ErrReportRender, err)
	}
	paths := []string{mdPath}

	if r.pdf != nil {
		pdfPath := filepath.Join(r.dir, base+".pdf")
		if err := r.writePDF(ctx, rec.Patient, md, pdfPath); err != nil {
			r.logger.Warn("pdf report failed, markdown kept", "patient", rec.Patient, "error", err)
		} else {
			paths = append(paths, pdfPath)
		}
	}

	span.SetAttributes(tracer.IntAttr("report.files", len(paths)))
	tracer.SetOK(span)
	r.logger.Info("clinical report written", "patient", rec.Patient, "files", paths)
	return paths, nil
}

func (r *Renderer) writePDF(ctx context.Context, title, md, path string) error {
	doc, err := HTML(title, md)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := r.pdf.PrintPDF(ctx, doc)
	if err != nil {
		return fmt.Errorf("%w: print pdf: %v", domain.ErrReportRender, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write pdf: %v", domain.ErrReportRender, err)
	}
	return nil
}

var mdConverter = goldmark.New(goldmark.WithExtensions(extension.Table))

const htmlShell = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title>
<style>
body { font-family: sans-serif; margin: 2cm; color: #222; }
table { border-collapse: collapse; width: 100%%; }
td, th { border: 1px solid #bbb; padding: 4px 8px; text-align: left; }
h1 { font-size: 20pt; }
</style></head><body>
%s
</body></html>`

// HTML converts the markdown report into a standalone page.
func HTML(title, md string) (string, error) {
	var buf bytes.Buffer
	if err := mdConverter.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("%w: markdown to html: %v", domain.ErrReportRender, err)
	}
	return fmt.Sprintf(htmlShell, html.EscapeString(title), buf.String()), nil
}
