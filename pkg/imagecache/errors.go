package imagecache

import "errors"

var (
	// ErrValidation is returned when a transform has out-of-range parameters
	ErrValidation = errors.New("invalid transform")

	// ErrMalformedKey is returned when an encoded key cannot be decoded
	ErrMalformedKey = errors.New("malformed image key")

	// ErrSourceNotFound is returned when the source does not resolve under the image root
	ErrSourceNotFound = errors.New("source image not found")

	// ErrDecode is returned when source bytes are not a supported raster format
	ErrDecode = errors.New("image decode failed")

	// ErrEncode is returned when output generation fails
	ErrEncode = errors.New("image encode failed")

	// ErrStoreIO is returned when the persistent store cannot be read or written
	ErrStoreIO = errors.New("image store I/O failed")

	// ErrConfig is returned when the optimizer is missing or misconfigured
	ErrConfig = errors.New("image optimizer not configured")
)
