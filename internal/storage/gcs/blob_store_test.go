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

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client := newTestClient(t, http.NotFoundHandler())
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObject_UploadsWithPrefix(t *testing.T) {
	t.Parallel()

	const object = "crawler/snapshots/run-1/go/1-abc.html"
	bodies := make(chan string, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/b/snapshots-bucket/o")
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		bodies <- string(body)
		fmt.Fprintf(w, `{"name": %q, "bucket": "snapshots-bucket"}`, object)
	})
	store, err := New(newTestClient(t, handler), Config{Bucket: "snapshots-bucket", Prefix: "/crawler/"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "snapshots/run-1/go/1-abc.html", "text/html", strings.NewReader("<html>page</html>"))
	require.NoError(t, err)
	assert.Equal(t, "gs://snapshots-bucket/"+object, uri)
	body := <-bodies
	assert.Contains(t, body, object)
	assert.Contains(t, body, "<html>page</html>")
}

func TestPutObject_ServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": {"code": 403, "message": "denied"}}`, http.StatusForbidden)
	})
	store, err := New(newTestClient(t, handler), Config{Bucket: "b"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "x.html", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}

func TestPutObject_EmptyPath(t *testing.T) {
	t.Parallel()

	store, err := New(newTestClient(t, http.NotFoundHandler()), Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader("x"))
	require.Error(t, err)
}
