package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

func newTestRoot(t *testing.T) (string, *FilesystemStorage) {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "img"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "img", "cat.png"), []byte("cat"), 0o644))

	fs, err := NewFilesystemStorage(root)
	require.NoError(t, err)
	return root, fs
}

func TestReadSource(t *testing.T) {
	t.Parallel()
	_, fs := newTestRoot(t)
	ctx := context.Background()

	for _, key := range []string{"img/cat.png", "/img/cat.png", "img/./cat.png"} {
		data, err := fs.ReadSource(ctx, key)
		require.NoError(t, err, key)
		assert.Equal(t, []byte("cat"), data)
	}
}

func TestReadSourceNotFound(t *testing.T) {
	t.Parallel()
	_, fs := newTestRoot(t)
	ctx := context.Background()

	for _, key := range []string{"", "/", "img/dog.png", "img", "img/cat.png/x"} {
		_, err := fs.ReadSource(ctx, key)
		assert.ErrorIs(t, err, imagecache.ErrSourceNotFound, key)
	}
}

func TestReadSourceRejectsTraversal(t *testing.T) {
	t.Parallel()

	parent := t.TempDir()
	root := filepath.Join(parent, "public")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.png"), []byte("secret"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(parent, "secret.png"), filepath.Join(root, "link.png")))

	fs, err := NewFilesystemStorage(root)
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"../secret.png", "/../secret.png", "img/../../secret.png", "link.png"} {
		_, err := fs.ReadSource(ctx, key)
		require.ErrorIs(t, err, imagecache.ErrSourceNotFound, key)
		assert.NotContains(t, err.Error(), parent)
	}
}

func TestExists(t *testing.T) {
	t.Parallel()
	_, fs := newTestRoot(t)
	ctx := context.Background()

	ok, err := fs.Exists(ctx, "img/cat.png")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fs.Exists(ctx, "img/dog.png")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = fs.Exists(ctx, "../etc/passwd")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewFilesystemStorageErrors(t *testing.T) {
	t.Parallel()

	_, err := NewFilesystemStorage("")
	assert.ErrorIs(t, err, imagecache.ErrConfig)

	_, err = NewFilesystemStorage(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, imagecache.ErrConfig)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = NewFilesystemStorage(file)
	assert.ErrorIs(t, err, imagecache.ErrConfig)
}
