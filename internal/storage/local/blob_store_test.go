package local_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/joblisting-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates missing directory", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "snapshots")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("missing base dir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{BaseDir: "  "})
		assert.Error(t, err)
	})

	t.Run("base dir is a file", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})

	t.Run("marker file is removed", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("writes nested snapshot", func(t *testing.T) {
		path := "snapshots/run-1/python/1-abcdef012345.html"
		uri, err := store.PutObject(ctx, path, "text/html", strings.NewReader("<html></html>"))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(dir, path), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(dir, path))
		require.NoError(t, err)
		assert.Equal(t, "<html></html>", string(got))
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "text/html", strings.NewReader("x"))
		assert.Error(t, err)
	})

	t.Run("path traversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../outside.html", "text/html", strings.NewReader("x"))
		assert.Error(t, err)
	})

	t.Run("failed read leaves no file", func(t *testing.T) {
		_, err := store.PutObject(ctx, "broken/page.html", "text/html", failingReader{})
		require.Error(t, err)
		entries, err := os.ReadDir(filepath.Join(dir, "broken"))
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }
