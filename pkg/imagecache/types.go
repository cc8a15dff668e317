// Package imagecache holds the data model shared by the image optimizer and
// its HTTP clients: keys, transform specs, artifacts and the snapshot payload.
package imagecache

import "fmt"

// Kind identifies a transform variant
type Kind string

// Transform kinds
const (
	KindResize Kind = "resize"
	KindBlur   Kind = "blur"
)

// Content types produced by the transform engine
const (
	ContentTypeJPEG = "image/jpeg"
	ContentTypeSVG  = "image/svg+xml"
)

// DefaultQuality is the resize quality used when none is given
const DefaultQuality = 75

// Spec is a transform specification. Only the values Resize and Blur are
// valid; pointers to them are rejected by Key.Validate.
type Spec interface {
	Kind() Kind
	Validate() error
	isSpec()
}

// Resize scales a source to fit within Width x Height, keeping its aspect ratio,
// and encodes it with the given Quality (0-100).
type Resize struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	Quality int `json:"quality"`
}

// NewResize returns a Resize with the default quality
func NewResize(width, height int) Resize {
	return Resize{Width: width, Height: height, Quality: DefaultQuality}
}

// Kind implements Spec
func (Resize) Kind() Kind { return KindResize }

// Validate implements Spec
func (r Resize) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: resize bounds must be positive, got %dx%d", ErrValidation, r.Width, r.Height)
	}
	if r.Quality < 0 || r.Quality > 100 {
		return fmt.Errorf("%w: quality must be within [0,100], got %d", ErrValidation, r.Quality)
	}
	return nil
}

func (Resize) isSpec() {}

// Blur produces a small blurred raster of Width x Height wrapped in an SVG
// document of SvgWidth x SvgHeight.
type Blur struct {
	Width     int `json:"width"`
	Height    int `json:"height"`
	SvgWidth  int `json:"svg_width"`
	SvgHeight int `json:"svg_height"`
	Sigma     int `json:"sigma"`
}

// DefaultBlur returns the placeholder settings used by the image component
func DefaultBlur() Blur {
	return Blur{Width: 20, Height: 20, SvgWidth: 100, SvgHeight: 100, Sigma: 15}
}

// Kind implements Spec
func (Blur) Kind() Kind { return KindBlur }

// Validate implements Spec
func (b Blur) Validate() error {
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("%w: blur raster must be positive, got %dx%d", ErrValidation, b.Width, b.Height)
	}
	if b.SvgWidth <= 0 || b.SvgHeight <= 0 {
		return fmt.Errorf("%w: svg size must be positive, got %dx%d", ErrValidation, b.SvgWidth, b.SvgHeight)
	}
	if b.Sigma < 0 {
		return fmt.Errorf("%w: sigma must not be negative, got %d", ErrValidation, b.Sigma)
	}
	return nil
}

func (Blur) isSpec() {}

// Key identifies one transformed version of one source image. Keys are
// comparable with ==.
type Key struct {
	Source string
	Spec   Spec
}

// Validate checks the source and the spec
func (k Key) Validate() error {
	if k.Source == "" {
		return fmt.Errorf("%w: source is empty", ErrValidation)
	}
	switch k.Spec.(type) {
	case nil:
		return fmt.Errorf("%w: transform is missing", ErrValidation)
	case Resize, Blur:
		return k.Spec.Validate()
	default:
		return fmt.Errorf("%w: unsupported transform %T", ErrValidation, k.Spec)
	}
}

// Kind returns the kind of the key's spec, or "" if it has none
func (k Key) Kind() Kind {
	if k.Spec == nil {
		return ""
	}
	return k.Spec.Kind()
}

// Artifact is the output of a transform. Data must not be modified once built.
type Artifact struct {
	Key         Key
	ContentType string
	Data        []byte
}

// InlineText returns the textual form of a Blur artifact, or "" for other kinds
func (a Artifact) InlineText() string {
	if a.Key.Kind() != KindBlur {
		return ""
	}
	return string(a.Data)
}
