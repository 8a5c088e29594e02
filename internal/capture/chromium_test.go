package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type fakePrinter struct {
	got PDFOptions
	err error
}

func (f *fakePrinter) PrintPDF(_ context.Context, opts PDFOptions) ([]byte, error) {
	f.got = opts
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.7"), nil
}

func TestWriteFile(t *testing.T) {
	p := &fakePrinter{}
	path := filepath.Join(t.TempDir(), "dia.pdf")
	opts := PDFOptions{URL: "http://127.0.0.1:8080/print?date=2025-11-14", Landscape: true}
	if err := WriteFile(context.Background(), p, opts, path); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != "%PDF-1.7" {
		t.Fatalf("file = %q, %v", b, err)
	}
	if p.got != opts {
		t.Fatalf("options = %+v", p.got)
	}
}

func TestWriteFilePropagatesError(t *testing.T) {
	boom := errors.New("no chrome")
	path := filepath.Join(t.TempDir(), "dia.pdf")
	err := WriteFile(context.Background(), &fakePrinter{err: boom}, PDFOptions{URL: "x"}, path)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("file written on failure")
	}
}

func TestChromiumRequiresURL(t *testing.T) {
	if _, err := (Chromium{}).PrintPDF(context.Background(), PDFOptions{}); err == nil {
		t.Fatal("missing URL accepted")
	}
}
