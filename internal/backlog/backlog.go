// Package backlog reads the identifier list a run works through.
package backlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/snp-citation-crawler/internal/citation"
)

// Read returns the identifiers in r, one per line, in file order. Blank lines
// are ignored and surrounding whitespace is trimmed.
func Read(r io.Reader) ([]citation.Identifier, error) {
	sc := bufio.NewScanner(r)
	var (
		ids  []citation.Identifier
		line int
	)
	for sc.Scan() {
		line++
		token := strings.TrimSpace(sc.Text())
		if token == "" {
			continue
		}
		if strings.ContainsAny(token, " \t") {
			return nil, fmt.Errorf("backlog line %d: %q is not a single identifier", line, token)
		}
		ids = append(ids, citation.Identifier(token))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan backlog: %w", err)
	}
	return ids, nil
}

// ReadFile reads the backlog stored at path.
func ReadFile(path string) ([]citation.Identifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open backlog: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return Read(f)
}

// Pending filters ids down to those absent from ledger, dropping repeats so
// every identifier is submitted at most once. The second return value counts
// what was filtered out.
func Pending(ids []citation.Identifier, ledger citation.Ledger) ([]citation.Identifier, int) {
	seen := make(map[citation.Identifier]struct{}, len(ids))
	out := make([]citation.Identifier, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, done := ledger.Lookup(id); done {
			continue
		}
		out = append(out, id)
	}
	return out, len(ids) - len(out)
}
