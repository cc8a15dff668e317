package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// FilesystemStorage implements Reader for a local image root directory
type FilesystemStorage struct {
	baseDir string
}

// NewFilesystemStorage creates a reader rooted at baseDir. The directory must exist.
func NewFilesystemStorage(baseDir string) (*FilesystemStorage, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("%w: image root is empty", imagecache.ErrConfig)
	}

	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: image root: %v", imagecache.ErrConfig, err)
	}
	// Resolve symlinks once so containment checks compare real paths
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: image root: %v", imagecache.ErrConfig, err)
	}

	info, err := os.Stat(real)
	if err != nil {
		return nil, fmt.Errorf("%w: image root: %v", imagecache.ErrConfig, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: image root is not a directory", imagecache.ErrConfig)
	}

	return &FilesystemStorage{
		baseDir: real,
	}, nil
}

// ReadSource returns the bytes of the image at key
func (fs *FilesystemStorage) ReadSource(ctx context.Context, key string) ([]byte, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", imagecache.ErrSourceNotFound, key)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", imagecache.ErrSourceNotFound, key)
		}
		return nil, fmt.Errorf("%w: read source %s", imagecache.ErrStoreIO, key)
	}

	return data, nil
}

// Exists checks if a regular file exists at the given key
func (fs *FilesystemStorage) Exists(ctx context.Context, key string) (bool, error) {
	path, err := fs.resolve(key)
	if err != nil {
		if errors.Is(err, imagecache.ErrSourceNotFound) {
			return false, nil
		}
		return false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat source %s", imagecache.ErrStoreIO, key)
	}

	return info.Mode().IsRegular(), nil
}

// resolve maps a root-relative key to an absolute path inside baseDir.
// Keys may start with "/" (site-root relative). Anything escaping the root,
// directly or through a symlink, is reported as not found.
func (fs *FilesystemStorage) resolve(key string) (string, error) {
	rel := strings.TrimLeft(filepath.FromSlash(key), string(filepath.Separator))

	// Security: prevent directory traversal
	if rel == "" || strings.ContainsRune(rel, 0) || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %s", imagecache.ErrSourceNotFound, key)
	}

	path := filepath.Join(fs.baseDir, rel)
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%w: %s", imagecache.ErrSourceNotFound, key)
		}
		return "", fmt.Errorf("%w: resolve source %s", imagecache.ErrStoreIO, key)
	}

	inside, err := filepath.Rel(fs.baseDir, real)
	if err != nil || !filepath.IsLocal(inside) {
		return "", fmt.Errorf("%w: %s", imagecache.ErrSourceNotFound, key)
	}

	return real, nil
}

// isNotFound also treats ENOTDIR as missing: a path component that is a
// regular file cannot name an image
func isNotFound(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
