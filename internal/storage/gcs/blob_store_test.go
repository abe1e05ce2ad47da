package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "raw-pages"})
	require.NoError(t, err)
	return store
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "raw-pages"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{Bucket: " "})
	require.Error(t, err)
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/raw-pages/o")
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))
		assert.Equal(t, "0", r.URL.Query().Get("ifGenerationMatch"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `"name":"raw/run-1/abc.html"`)
		assert.Contains(t, string(body), "text/html")
		assert.Contains(t, string(body), "<html>job</html>")

		fmt.Fprintln(w, `{"name":"raw/run-1/abc.html","bucket":"raw-pages"}`)
	})
	store := newTestStore(t, handler)

	uri, err := store.PutObject(context.Background(), "/raw/run-1/abc.html", "text/html", strings.NewReader("<html>job</html>"))
	require.NoError(t, err)
	assert.Equal(t, "gs://raw-pages/raw/run-1/abc.html", uri)
}

func TestPutObjectExistingObjectIsArchived(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		fmt.Fprintln(w, `{"error":{"code":412,"message":"conditionNotMet"}}`)
	})
	store := newTestStore(t, handler)

	uri, err := store.PutObject(context.Background(), "raw/run-1/abc.html", "text/html", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "gs://raw-pages/raw/run-1/abc.html", uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	store := newTestStore(t, handler)

	_, err := store.PutObject(context.Background(), "raw/run-1/abc.html", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler())
	for _, path := range []string{"  ", " / ", "///"} {
		_, err := store.PutObject(context.Background(), path, "", strings.NewReader("x"))
		require.Error(t, err, "path %q", path)
	}
}
