// Package transform turns source image bytes into optimized artifacts. It is
// pure: the same input always yields the same bytes.
package transform

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// Engine applies transform specs to source images
type Engine struct {
	filter imaging.ResampleFilter
}

// New creates a transform engine that resamples with Lanczos
func New() *Engine {
	return &Engine{filter: imaging.Lanczos}
}

// Transform applies spec to the source bytes and returns the output bytes and
// their content type. The spec is validated before the source is decoded.
func (e *Engine) Transform(source []byte, spec imagecache.Spec) ([]byte, string, error) {
	if spec == nil {
		return nil, "", fmt.Errorf("%w: transform is missing", imagecache.ErrValidation)
	}
	if err := spec.Validate(); err != nil {
		return nil, "", err
	}

	img, err := decode(source)
	if err != nil {
		return nil, "", err
	}

	switch s := spec.(type) {
	case imagecache.Resize:
		return e.resize(img, s)
	case imagecache.Blur:
		return e.blur(img, s)
	default:
		return nil, "", fmt.Errorf("%w: unsupported transform %T", imagecache.ErrValidation, spec)
	}
}

func decode(source []byte) (image.Image, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("%w: empty source", imagecache.ErrDecode)
	}
	img, err := imaging.Decode(bytes.NewReader(source), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", imagecache.ErrDecode, err)
	}
	return img, nil
}
