// Package capture renders the printable day sheet through headless Chromium.
package capture

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	appLog "agendacal/internal/log"
)

const (
	DefaultTimeout = 30 * time.Second
	// ReadySelector is set by the print page once its tables are filled.
	ReadySelector = `[data-ready="true"]`
)

// PDFOptions defines a single print job.
type PDFOptions struct {
	// URL to print, e.g. "http://127.0.0.1:8080/print?date=2025-11-14".
	URL string

	// Landscape prints the week sheet sideways.
	Landscape bool

	// Timeout bounds the whole job. Zero uses DefaultTimeout.
	Timeout time.Duration
}

// Printer turns a page into PDF bytes.
type Printer interface {
	PrintPDF(ctx context.Context, opts PDFOptions) ([]byte, error)
}

// Chromium is the chromedp-backed Printer.
type Chromium struct {
	// ExecAllocatorOptions are appended to chromedp's defaults. Empty means
	// chromedp picks the local Chrome binary with its default flags.
	ExecAllocatorOptions []chromedp.ExecAllocatorOption
}

// PrintPDF navigates to opts.URL, waits for ReadySelector and prints the
// page with backgrounds.
func (c Chromium) PrintPDF(parent context.Context, opts PDFOptions) ([]byte, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("capture: URL is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	allocCtx := parent
	if len(c.ExecAllocatorOptions) > 0 {
		var cancelAlloc context.CancelFunc
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:], c.ExecAllocatorOptions...)
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(parent, allocOpts...)
		defer cancelAlloc()
	}

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	started := time.Now()
	var pdf []byte
	tasks := chromedp.Tasks{
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithLandscape(opts.Landscape).
				WithPreferCSSPageSize(true).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	appLog.Debug("pdf printed", "bytes", len(pdf), "took", time.Since(started).String())
	return pdf, nil
}

// WriteFile prints opts.URL to path.
func WriteFile(ctx context.Context, p Printer, opts PDFOptions, path string) error {
	pdf, err := p.PrintPDF(ctx, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PDF: %w", err)
	}
	return nil
}
