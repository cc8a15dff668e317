package transform

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// testPNG builds a w x h PNG whose colour varies along both axes
func testPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / max(w-1, 1)),
				G: uint8(y * 255 / max(h-1, 1)),
				B: uint8((x ^ y) & 0xff),
				A: 0xff,
			})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// smoothPNG builds a w x h PNG with a horizontal gradient only
func smoothPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x * 255 / max(w-1, 1))
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: 128, B: 255 - v, A: 0xff})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestResizeFitsBounds(t *testing.T) {
	t.Parallel()

	e := New()
	src := testPNG(t, 2000, 1000)

	out, contentType, err := e.Transform(src, imagecache.Resize{Width: 300, Height: 300, Quality: 80})
	require.NoError(t, err)
	assert.Equal(t, imagecache.ContentTypeJPEG, contentType)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Width)
	assert.Equal(t, 150, cfg.Height)
}

func TestResizeTallSource(t *testing.T) {
	t.Parallel()

	out, _, err := New().Transform(testPNG(t, 600, 1200), imagecache.Resize{Width: 300, Height: 300, Quality: 50})
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 150, cfg.Width)
	assert.Equal(t, 300, cfg.Height)
}

func TestResizeDoesNotUpscale(t *testing.T) {
	t.Parallel()

	out, _, err := New().Transform(testPNG(t, 100, 50), imagecache.NewResize(300, 300))
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestResizeQualityAffectsSize(t *testing.T) {
	t.Parallel()

	e := New()
	src := testPNG(t, 800, 600)

	low, _, err := e.Transform(src, imagecache.Resize{Width: 400, Height: 400, Quality: 5})
	require.NoError(t, err)
	high, _, err := e.Transform(src, imagecache.Resize{Width: 400, Height: 400, Quality: 100})
	require.NoError(t, err)

	assert.Less(t, len(low), len(high))
}

func TestTransformIsDeterministic(t *testing.T) {
	t.Parallel()

	e := New()
	src := testPNG(t, 640, 480)

	for _, spec := range []imagecache.Spec{imagecache.NewResize(200, 200), imagecache.DefaultBlur()} {
		a, _, err := e.Transform(src, spec)
		require.NoError(t, err)
		b, _, err := e.Transform(src, spec)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestValidationBeforeDecode(t *testing.T) {
	t.Parallel()

	garbage := []byte("definitely not an image")

	_, _, err := New().Transform(garbage, imagecache.Resize{Width: 0, Height: 100, Quality: 50})
	assert.ErrorIs(t, err, imagecache.ErrValidation)
	assert.NotErrorIs(t, err, imagecache.ErrDecode)

	_, _, err = New().Transform(garbage, imagecache.Resize{Width: 10, Height: 100, Quality: 150})
	assert.ErrorIs(t, err, imagecache.ErrValidation)

	_, _, err = New().Transform(garbage, nil)
	assert.ErrorIs(t, err, imagecache.ErrValidation)
}

func TestDecodeError(t *testing.T) {
	t.Parallel()

	_, _, err := New().Transform([]byte("definitely not an image"), imagecache.NewResize(10, 10))
	assert.ErrorIs(t, err, imagecache.ErrDecode)

	_, _, err = New().Transform(nil, imagecache.DefaultBlur())
	assert.ErrorIs(t, err, imagecache.ErrDecode)
}

var embeddedPNG = regexp.MustCompile(`href="data:image/png;base64,([A-Za-z0-9+/=]+)"`)

func TestBlurPlaceholder(t *testing.T) {
	t.Parallel()

	out, contentType, err := New().Transform(smoothPNG(t, 2000, 1000), imagecache.Blur{
		Width: 20, Height: 20, SvgWidth: 100, SvgHeight: 100, Sigma: 15,
	})
	require.NoError(t, err)
	assert.Equal(t, imagecache.ContentTypeSVG, contentType)

	svg := string(out)
	assert.Less(t, len(out), 1024, "placeholder should be sub-kilobyte, got %d bytes", len(out))
	assert.Contains(t, svg, `<svg xmlns="http://www.w3.org/2000/svg"`)
	assert.Contains(t, svg, `viewBox="0 0 100 100"`)
	assert.Contains(t, svg, `stdDeviation="15"`)

	m := embeddedPNG.FindStringSubmatch(svg)
	require.Len(t, m, 2)
	raw, err := base64.StdEncoding.DecodeString(m[1])
	require.NoError(t, err)

	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Width)
	assert.Equal(t, 10, cfg.Height)
}

func TestBlurZeroSigma(t *testing.T) {
	t.Parallel()

	out, _, err := New().Transform(smoothPNG(t, 64, 64), imagecache.Blur{
		Width: 8, Height: 8, SvgWidth: 40, SvgHeight: 40, Sigma: 0,
	})
	require.NoError(t, err)
	assert.Contains(t, string(out), `stdDeviation="0"`)
}
