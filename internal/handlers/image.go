package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/tendant/simple-image-cache/internal/metrics"
	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// CacheControl is sent with every artifact. Artifacts never change once built.
const CacheControl = "public, max-age=31536000, immutable"

// Resolver resolves keys to artifacts, building them if needed
type Resolver interface {
	Resolve(ctx context.Context, key imagecache.Key) (imagecache.Artifact, error)
}

// ImageHandler serves artifacts at GET {handlerPath}/{encodedKey}
type ImageHandler struct {
	resolver    Resolver
	handlerPath string
	metrics     *metrics.Metrics
}

// NewImageHandler creates an artifact handler mounted at handlerPath
func NewImageHandler(resolver Resolver, handlerPath string, m *metrics.Metrics) *ImageHandler {
	return &ImageHandler{
		resolver:    resolver,
		handlerPath: strings.TrimRight(handlerPath, "/"),
		metrics:     m,
	}
}

// ServeHTTP handles GET and HEAD {handlerPath}/{encodedKey}
func (h *ImageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		h.fail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if h.resolver == nil {
		log.Printf("Image request without optimizer: %v", imagecache.ErrConfig)
		h.fail(w, http.StatusInternalServerError, "Image optimizer unavailable")
		return
	}

	encoded, ok := strings.CutPrefix(r.URL.Path, h.handlerPath+"/")
	if !ok || encoded == "" || strings.Contains(encoded, "/") {
		h.fail(w, http.StatusNotFound, "Not found")
		return
	}

	key, err := imagecache.DecodeKey(encoded)
	if err != nil {
		h.fail(w, http.StatusBadRequest, "Invalid image key")
		return
	}
	if err := key.Validate(); err != nil {
		status, msg := statusFor(err)
		h.fail(w, status, msg)
		return
	}

	d, err := key.Digest()
	if err != nil {
		h.fail(w, http.StatusBadRequest, "Invalid image key")
		return
	}
	etag := `"` + d.Encoded() + `"`

	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", CacheControl)
		w.WriteHeader(http.StatusNotModified)
		h.metrics.Response(http.StatusNotModified)
		return
	}

	a, err := h.resolver.Resolve(r.Context(), key)
	if err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			// Client went away; the build carries on without it
			return
		}
		status, msg := statusFor(err)
		log.Printf("Image request failed: src=%s kind=%s status=%d: %v", key.Source, key.Kind(), status, err)
		h.fail(w, status, msg)
		return
	}

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.Header().Set("Cache-Control", CacheControl)
	w.Header().Set("ETag", etag)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	h.metrics.Response(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(a.Data); err != nil {
		log.Printf("Failed to write image response: %v", err)
	}
}

func (h *ImageHandler) fail(w http.ResponseWriter, status int, msg string) {
	h.metrics.Response(status)
	http.Error(w, msg, status)
}

// statusFor maps the error taxonomy to a status and a body that never
// includes internal paths
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, imagecache.ErrMalformedKey):
		return http.StatusBadRequest, "Invalid image key"
	case errors.Is(err, imagecache.ErrValidation):
		return http.StatusBadRequest, "Invalid transform"
	case errors.Is(err, imagecache.ErrSourceNotFound):
		return http.StatusNotFound, "Image not found"
	case errors.Is(err, imagecache.ErrDecode):
		return http.StatusInternalServerError, "Image could not be decoded"
	case errors.Is(err, imagecache.ErrEncode):
		return http.StatusInternalServerError, "Image could not be encoded"
	case errors.Is(err, imagecache.ErrStoreIO):
		return http.StatusInternalServerError, "Image cache unavailable"
	case errors.Is(err, imagecache.ErrConfig):
		return http.StatusInternalServerError, "Image optimizer unavailable"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// etagMatches reports whether If-None-Match names etag. "*" is not honoured
// since it would answer 304 for keys that were never built.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}
