package ledger

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/JakeFAU/snp-citation-crawler/internal/citation"
)

type syncer interface {
	Sync() error
}

// WriterOptions tunes OpenWriter.
type WriterOptions struct {
	// Header writes the column header when the store is empty.
	Header bool
}

// Writer appends outcomes to the store. Rows already on disk are never
// touched; each Drain ends with a flush and, for files, an fsync.
type Writer struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	buf    *bufio.Writer
	rows   int
}

// NewWriter wraps an arbitrary destination.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		out: w,
		buf: bufio.NewWriter(w),
	}
}

// OpenWriter opens path for appending, creating it when missing.
func OpenWriter(path string, opts WriterOptions) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat store %s: %w", path, err)
	}
	w := NewWriter(f)
	w.closer = f
	if opts.Header && info.Size() == 0 {
		if _, err := w.buf.WriteString(Header + "\n"); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
		if err := w.commit(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return w, nil
}

// Drain appends every non-failed outcome in batch and returns the number of
// rows written. Outcomes reused from the ledger are already on disk and are
// skipped as well.
// The context is ignored so the final drain still lands after cancellation.
func (w *Writer) Drain(_ context.Context, batch []citation.Outcome) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var (
		scratch []byte
		rows    int
	)
	for _, o := range batch {
		if o.Failed() || o.FromLedger {
			continue
		}
		var n int
		scratch, n = appendRows(scratch[:0], o.ID, *o.Result)
		if _, err := w.buf.Write(scratch); err != nil {
			return rows, fmt.Errorf("write rows for %s: %w", o.ID, err)
		}
		rows += n
	}
	if rows == 0 {
		return 0, nil
	}
	if err := w.commit(); err != nil {
		return rows, err
	}
	w.rows += rows
	return rows, nil
}

// Rows returns the number of rows appended since the writer was opened.
func (w *Writer) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Close flushes pending data and closes the underlying file, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	flushErr := w.buf.Flush()
	if w.closer == nil {
		if flushErr != nil {
			return fmt.Errorf("flush store: %w", flushErr)
		}
		return nil
	}
	closeErr := w.closer.Close()
	w.closer = nil
	if flushErr != nil {
		return fmt.Errorf("flush store: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close store: %w", closeErr)
	}
	return nil
}

func (w *Writer) commit() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush store: %w", err)
	}
	if s, ok := w.out.(syncer); ok {
		if err := s.Sync(); err != nil {
			return fmt.Errorf("sync store: %w", err)
		}
	}
	return nil
}
