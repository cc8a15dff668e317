//go:build property

package transform

import (
	"bytes"
	"image/jpeg"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// TestResizeProperties checks that every valid resize decodes, fits the
// requested box, and keeps the source aspect ratio up to one pixel of rounding.
func TestResizeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	parameters.MinSuccessfulTests = 60

	properties := gopter.NewProperties(parameters)
	e := New()

	properties.Property("resize output fits bounds and keeps aspect ratio", prop.ForAll(
		func(srcW, srcH, w, h, q int) bool {
			src := testPNG(t, srcW, srcH)
			out, _, err := e.Transform(src, imagecache.Resize{Width: w, Height: h, Quality: q})
			if err != nil {
				return false
			}
			cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
			if err != nil {
				return false
			}
			if cfg.Width > w || cfg.Height > h {
				return false
			}
			return abs(cfg.Width*srcH-cfg.Height*srcW) <= max(srcW, srcH)
		},
		gen.IntRange(1, 300),
		gen.IntRange(1, 300),
		gen.IntRange(1, 200),
		gen.IntRange(1, 200),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
