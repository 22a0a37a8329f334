package backlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/snp-citation-crawler/internal/citation"
)

func TestRead(t *testing.T) {
	t.Parallel()

	ids, err := Read(strings.NewReader("rs1\n\n  rs2  \r\nrs3"))
	require.NoError(t, err)
	require.Equal(t, []citation.Identifier{"rs1", "rs2", "rs3"}, ids)
}

func TestReadRejectsMultipleTokens(t *testing.T) {
	t.Parallel()

	_, err := Read(strings.NewReader("rs1\nrs2 rs3\n"))
	require.ErrorContains(t, err, "line 2")
}

func TestReadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rs.txt")
	require.NoError(t, os.WriteFile(path, []byte("rs7\nrs8\n"), 0o600))

	ids, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestPending(t *testing.T) {
	t.Parallel()

	ids := []citation.Identifier{"rs1", "rs2", "rs1", "rs3", "rs4"}
	ledger := citation.Ledger{"rs2": {}, "rs4": {}}

	pending, skipped := Pending(ids, ledger)
	require.Equal(t, []citation.Identifier{"rs1", "rs3"}, pending)
	require.Equal(t, 3, skipped)

	pending, skipped = Pending(ids, nil)
	require.Len(t, pending, 4)
	require.Equal(t, 1, skipped)
}
