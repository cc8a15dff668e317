package transform

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// The filter blurs the embedded raster by sigma and forces full alpha so the
// edges do not fade to transparent.
const svgTemplate = `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">` +
	`<filter id="b" color-interpolation-filters="sRGB"><feGaussianBlur stdDeviation="%d"/>` +
	`<feComponentTransfer><feFuncA type="discrete" tableValues="1 1"/></feComponentTransfer></filter>` +
	`<image width="100%%" height="100%%" preserveAspectRatio="none" filter="url(#b)" href="data:image/png;base64,%s"/></svg>`

// blur downsizes img to the raster box, blurs it, and embeds it in an SVG
// placeholder of SvgWidth x SvgHeight.
func (e *Engine) blur(img image.Image, spec imagecache.Blur) ([]byte, string, error) {
	small := imaging.Fit(img, spec.Width, spec.Height, e.filter)

	// sigma is given in SVG units; scale it down to raster pixels
	if spec.Sigma > 0 {
		rasterSigma := float64(spec.Sigma) * float64(small.Bounds().Dx()) / float64(spec.SvgWidth)
		small = imaging.Blur(small, rasterSigma)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, small, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return nil, "", fmt.Errorf("%w: png: %v", imagecache.ErrEncode, err)
	}

	svg := fmt.Sprintf(svgTemplate,
		spec.SvgWidth, spec.SvgHeight, spec.SvgWidth, spec.SvgHeight,
		spec.Sigma,
		base64.StdEncoding.EncodeToString(buf.Bytes()),
	)

	return []byte(svg), imagecache.ContentTypeSVG, nil
}
