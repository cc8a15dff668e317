package transform

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// resize fits img inside the requested box and encodes it as JPEG. Images
// already inside the box are not enlarged.
func (e *Engine) resize(img image.Image, spec imagecache.Resize) ([]byte, string, error) {
	fitted := imaging.Fit(img, spec.Width, spec.Height, e.filter)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(spec.Quality)); err != nil {
		return nil, "", fmt.Errorf("%w: jpeg: %v", imagecache.ErrEncode, err)
	}

	return buf.Bytes(), imagecache.ContentTypeJPEG, nil
}
