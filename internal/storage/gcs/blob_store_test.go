package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/snp-citation-crawler/internal/hash/sha256"
)

func newTestClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b", Object: "o"})
	require.Error(t, err)

	client := newTestClient(t, http.NotFoundHandler())
	_, err = New(client, Config{Object: "o"})
	require.Error(t, err)
	_, err = New(client, Config{Bucket: "b", Object: " "})
	require.Error(t, err)
}

func TestUploadSendsReport(t *testing.T) {
	t.Parallel()

	const (
		bucket = "reports"
		object = "citations/output.tsv"
		report = "rs2\t-\t-\t-\t-\t-\n"
	)

	received := make(chan string, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", bucket))
		assert.Equal(t, object, r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		received <- string(body)

		fmt.Fprintln(w, `{"name": "`+object+`", "bucket": "`+bucket+`"}`)
	})

	store, err := New(newTestClient(t, handler), Config{Bucket: bucket, Object: object})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "output.txt")
	require.NoError(t, os.WriteFile(path, []byte(report), 0o600))

	uri, err := store.Upload(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "gs://reports/citations/output.tsv", uri)

	body := <-received
	assert.Contains(t, body, report)
	assert.Contains(t, body, "text/tab-separated-values")
	digest, _, err := sha256.New().Digest(strings.NewReader(report))
	require.NoError(t, err)
	assert.Contains(t, body, digest)
}

func TestUploadMissingFile(t *testing.T) {
	t.Parallel()

	store, err := New(newTestClient(t, http.NotFoundHandler()), Config{Bucket: "b", Object: "o"})
	require.NoError(t, err)

	_, err = store.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "open report")
}

func TestUploadServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"denied"}}`, http.StatusForbidden)
	})
	store, err := New(newTestClient(t, handler), Config{Bucket: "b", Object: "o"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "output.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err = store.Upload(context.Background(), path)
	require.Error(t, err)
}
