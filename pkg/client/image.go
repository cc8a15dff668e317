package client

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// Image is what a page renderer needs to emit one optimized <img>
type Image struct {
	// Src is the optimized image URL, or the original source for remote images
	Src string
	// Placeholder is a CSS background-image value, empty when no blur was requested
	Placeholder string
	// Optimized is false for sources the cache does not handle
	Optimized bool
}

// Resolve builds the image description for src. When blur is set, the
// placeholder is inlined from snap if present and requested from the
// handler otherwise. A nil snap falls back to the unoptimized source.
func Resolve(snap *imagecache.Snapshot, src string, resize imagecache.Resize, blur bool) (Image, error) {
	// Only static images are cached
	if strings.HasPrefix(src, "http") || snap == nil {
		return Image{Src: src}, nil
	}

	key := imagecache.Key{Source: src, Spec: resize}
	if err := key.Validate(); err != nil {
		return Image{}, err
	}

	url, err := key.URL(snap.APIHandlerPath)
	if err != nil {
		return Image{}, err
	}
	img := Image{Src: url, Optimized: true}

	if blur {
		img.Placeholder, err = Placeholder(snap, src)
		if err != nil {
			return Image{}, err
		}
	}
	return img, nil
}

// Placeholder returns a CSS background-image value for the default blur of src
func Placeholder(snap *imagecache.Snapshot, src string) (string, error) {
	key := imagecache.Key{Source: src, Spec: imagecache.DefaultBlur()}

	if svg, ok := snap.Lookup(key); ok {
		encoded := base64.StdEncoding.EncodeToString([]byte(svg))
		return fmt.Sprintf("url('data:%s;base64,%s')", imagecache.ContentTypeSVG, encoded), nil
	}

	url, err := key.URL(snap.APIHandlerPath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("url('%s')", url), nil
}
