package storage

import (
	"context"
)

// Reader provides read access to source images
type Reader interface {
	// ReadSource returns the bytes of the image at the given root-relative path
	ReadSource(ctx context.Context, key string) ([]byte, error)

	// Exists checks if a source image exists at the given path
	Exists(ctx context.Context, key string) (bool, error)
}
