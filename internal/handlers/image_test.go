package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image-cache/internal/metrics"
	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

const handlerPath = "/cache/image"

type fakeResolver struct {
	calls atomic.Int32
	errs  map[string]error
}

func (f *fakeResolver) Resolve(_ context.Context, key imagecache.Key) (imagecache.Artifact, error) {
	f.calls.Add(1)
	if err := key.Validate(); err != nil {
		return imagecache.Artifact{}, err
	}
	if err, ok := f.errs[key.Source]; ok {
		return imagecache.Artifact{}, err
	}
	return imagecache.Artifact{Key: key, ContentType: imagecache.ContentTypeJPEG, Data: []byte("jpeg:" + key.Source)}, nil
}

func keyURL(t *testing.T, key imagecache.Key) string {
	t.Helper()
	u, err := key.URL(handlerPath)
	require.NoError(t, err)
	return u
}

func serve(h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestImageHandlerServesArtifact(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())
	h := NewImageHandler(&fakeResolver{}, handlerPath+"/", m)
	key := imagecache.Key{Source: "/img/cat.png", Spec: imagecache.NewResize(100, 100)}

	rec := serve(h, http.MethodGet, keyURL(t, key), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg:/img/cat.png", rec.Body.String())
	assert.Equal(t, imagecache.ContentTypeJPEG, rec.Header().Get("Content-Type"))
	assert.Equal(t, CacheControl, rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "immutable")

	d, err := key.Digest()
	require.NoError(t, err)
	assert.Equal(t, `"`+d.Encoded()+`"`, rec.Header().Get("ETag"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Responses.WithLabelValues("200")))
}

func TestImageHandlerHead(t *testing.T) {
	t.Parallel()

	h := NewImageHandler(&fakeResolver{}, handlerPath, nil)
	key := imagecache.Key{Source: "a.png", Spec: imagecache.NewResize(10, 10)}

	rec := serve(h, http.MethodHead, keyURL(t, key), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	assert.Equal(t, "10", rec.Header().Get("Content-Length"))
}

func TestImageHandlerNotModified(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{}
	h := NewImageHandler(resolver, handlerPath, nil)
	key := imagecache.Key{Source: "a.png", Spec: imagecache.NewResize(10, 10)}
	d, err := key.Digest()
	require.NoError(t, err)

	rec := serve(h, http.MethodGet, keyURL(t, key), http.Header{"If-None-Match": {`W/"nope", "` + d.Encoded() + `"`}})
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Equal(t, int32(0), resolver.calls.Load(), "conditional hit must not build")
}

func TestImageHandlerValidatesBeforeConditional(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{}
	h := NewImageHandler(resolver, handlerPath, nil)
	invalid := imagecache.Key{Source: "a.png", Spec: imagecache.Resize{Width: 0, Height: 10, Quality: 50}}
	d, err := invalid.Digest()
	require.NoError(t, err)

	for _, inm := range []string{"*", `"` + d.Encoded() + `"`} {
		rec := serve(h, http.MethodGet, keyURL(t, invalid), http.Header{"If-None-Match": {inm}})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "If-None-Match: %s", inm)
	}
	assert.Equal(t, int32(0), resolver.calls.Load())
}

func TestImageHandlerIgnoresWildcardConditional(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{errs: map[string]error{
		"missing.png": fmt.Errorf("%w: missing.png", imagecache.ErrSourceNotFound),
	}}
	h := NewImageHandler(resolver, handlerPath, nil)
	wildcard := http.Header{"If-None-Match": {"*"}}

	rec := serve(h, http.MethodGet, keyURL(t, imagecache.Key{Source: "missing.png", Spec: imagecache.NewResize(10, 10)}), wildcard)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h, http.MethodGet, keyURL(t, imagecache.Key{Source: "a.png", Spec: imagecache.NewResize(10, 10)}), wildcard)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg:a.png", rec.Body.String())
}

func TestImageHandlerErrors(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{errs: map[string]error{
		"missing.png": fmt.Errorf("%w: missing.png", imagecache.ErrSourceNotFound),
		"broken.png":  fmt.Errorf("%w: unknown format", imagecache.ErrDecode),
		"encode.png":  fmt.Errorf("%w: jpeg", imagecache.ErrEncode),
		"disk.png":    fmt.Errorf("%w: write /var/cache/secret/ab/abcdef: no space left", imagecache.ErrStoreIO),
	}}
	h := NewImageHandler(resolver, handlerPath, nil)

	resize := func(src string) string {
		return keyURL(t, imagecache.Key{Source: src, Spec: imagecache.NewResize(10, 10)})
	}

	cases := []struct {
		name   string
		target string
		status int
	}{
		{"malformed key", handlerPath + "/!!!notbase64", http.StatusBadRequest},
		{"invalid transform", keyURL(t, imagecache.Key{Source: "a.png", Spec: imagecache.Resize{Width: 0, Height: 100, Quality: 50}}), http.StatusBadRequest},
		{"source not found", resize("missing.png"), http.StatusNotFound},
		{"decode error", resize("broken.png"), http.StatusInternalServerError},
		{"encode error", resize("encode.png"), http.StatusInternalServerError},
		{"store error", resize("disk.png"), http.StatusInternalServerError},
		{"no key", handlerPath + "/", http.StatusNotFound},
		{"nested path", handlerPath + "/a/b", http.StatusNotFound},
		{"outside prefix", "/other/abc", http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(h, http.MethodGet, tc.target, nil)
			assert.Equal(t, tc.status, rec.Code)
			assert.NotContains(t, rec.Body.String(), "/var/cache")
		})
	}
}

func TestImageHandlerMethodNotAllowed(t *testing.T) {
	t.Parallel()

	h := NewImageHandler(&fakeResolver{}, handlerPath, nil)
	rec := serve(h, http.MethodPost, handlerPath+"/abc", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}

func TestImageHandlerWithoutResolver(t *testing.T) {
	t.Parallel()

	h := NewImageHandler(nil, handlerPath, nil)
	rec := serve(h, http.MethodGet, handlerPath+"/abc", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type fixedSnapshot imagecache.Snapshot

func (s fixedSnapshot) Snapshot() imagecache.Snapshot { return imagecache.Snapshot(s) }

func TestSnapshotHandler(t *testing.T) {
	t.Parallel()

	key := imagecache.Key{Source: "a.png", Spec: imagecache.DefaultBlur()}
	h := NewSnapshotHandler(fixedSnapshot{
		APIHandlerPath: handlerPath,
		Cache:          []imagecache.Entry{{Key: key, Text: "<svg/>"}},
	})

	rec := serve(h, http.MethodGet, "/api/image-config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap imagecache.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, handlerPath, snap.APIHandlerPath)
	text, ok := snap.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, "<svg/>", text)

	rec = serve(h, http.MethodPost, "/api/image-config", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(NewSnapshotHandler(nil), http.MethodGet, "/api/image-config", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	rec := serve(http.HandlerFunc(HandleHealth), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}
