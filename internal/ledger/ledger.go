package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/snp-citation-crawler/internal/citation"
)

// maxLineBytes bounds a single store row; long author lists can exceed the
// bufio.Scanner default.
const maxLineBytes = 4 * 1024 * 1024

// Parse failures. They indicate a corrupted store and are never skipped.
var (
	ErrFieldCount         = errors.New("unexpected field count")
	ErrOrphanRow          = errors.New("continuation row without identifier")
	ErrMarkerContinuation = errors.New("continuation row after no-citation marker")
)

// ParseError reports the 1-based line a parse failure occurred on.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("ledger line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load rebuilds the ledger from a store previously written by Writer.
func Load(r io.Reader) (citation.Ledger, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	ledger := citation.Ledger{}
	var (
		current  citation.Identifier
		inMarker bool
		line     int
	)
	for sc.Scan() {
		line++
		text := strings.TrimSuffix(sc.Text(), "\r")
		if text == "" {
			continue
		}
		if line == 1 && text == Header {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != Columns {
			return nil, &ParseError{
				Line: line,
				Err:  fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(fields), Columns),
			}
		}
		head, rest := fields[0], fields[1:]
		switch {
		case head != "":
			current = citation.Identifier(head)
			inMarker = isPlaceholder(rest)
			rs := ledger[current]
			if !inMarker {
				rs.Records = append(rs.Records, fieldsToRecord(rest))
			}
			ledger[current] = rs
		case current == "":
			return nil, &ParseError{Line: line, Err: ErrOrphanRow}
		case inMarker || isPlaceholder(rest):
			return nil, &ParseError{Line: line, Err: fmt.Errorf("%w (%s)", ErrMarkerContinuation, current)}
		default:
			rs := ledger[current]
			rs.Records = append(rs.Records, fieldsToRecord(rest))
			ledger[current] = rs
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	return ledger, nil
}

// LoadFile loads the store at path, creating it empty when it does not exist.
func LoadFile(path string) (citation.Ledger, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	ledger, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("load ledger %s: %w", path, err)
	}
	return ledger, nil
}
