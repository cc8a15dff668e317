// Package optimizer wires the image cache together: a source image root, the
// transform engine, the on-disk store, the in-memory placeholder index and
// the build coordinator, plus the HTTP handlers that expose them.
//
// Typical use:
//
//	opt, err := optimizer.New(optimizer.Config{
//		HandlerPath: "/cache/image",
//		ImageRoot:   "./public",
//		CacheDir:    "./cache/image",
//		Workers:     1,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	opt.Mount(mux, "/api/image-config")
package optimizer

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tendant/simple-image-cache/internal/coordinator"
	"github.com/tendant/simple-image-cache/internal/handlers"
	"github.com/tendant/simple-image-cache/internal/index"
	"github.com/tendant/simple-image-cache/internal/metrics"
	"github.com/tendant/simple-image-cache/internal/storage"
	"github.com/tendant/simple-image-cache/internal/store"
	"github.com/tendant/simple-image-cache/internal/transform"
	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// DefaultHandlerPath is used when Config.HandlerPath is empty
const DefaultHandlerPath = "/cache/image"

// BuildRecorder is notified after every durable build
type BuildRecorder interface {
	RecordBuild(ctx context.Context, a imagecache.Artifact, elapsed time.Duration) error
}

// Config holds the construction parameters of an Optimizer
type Config struct {
	HandlerPath string                // URL prefix artifacts are served under
	ImageRoot   string                // Directory source paths are resolved against
	CacheDir    string                // Directory artifacts are persisted to
	Workers     int                   // Concurrent transforms; defaults to runtime.NumCPU()
	Registerer  prometheus.Registerer // Optional: metrics registry
	Recorder    BuildRecorder         // Optional: build ledger
}

// Optimizer serves optimized versions of static images
type Optimizer struct {
	handlerPath string
	store       *store.Store
	index       *index.Index
	coord       *coordinator.Coordinator
	metrics     *metrics.Metrics
}

// New validates cfg and builds an Optimizer
func New(cfg Config) (*Optimizer, error) {
	handlerPath := cfg.HandlerPath
	if handlerPath == "" {
		handlerPath = DefaultHandlerPath
	}
	if !strings.HasPrefix(handlerPath, "/") {
		return nil, fmt.Errorf("%w: handler path must start with /, got %q", imagecache.ErrConfig, handlerPath)
	}
	handlerPath = strings.TrimRight(handlerPath, "/")

	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}

	sources, err := storage.NewFilesystemStorage(cfg.ImageRoot)
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg.CacheDir)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Registerer != nil {
		m = metrics.New(cfg.Registerer)
	}

	idx := index.New(handlerPath)
	opts := []coordinator.Option{coordinator.WithMetrics(m)}
	if cfg.Recorder != nil {
		opts = append(opts, coordinator.WithRecorder(cfg.Recorder))
	}

	coord, err := coordinator.New(sources, transform.New(), st, idx, workers, opts...)
	if err != nil {
		return nil, err
	}

	return &Optimizer{
		handlerPath: handlerPath,
		store:       st,
		index:       idx,
		coord:       coord,
		metrics:     m,
	}, nil
}

// Resolve returns the artifact for key, building and storing it on first use
func (o *Optimizer) Resolve(ctx context.Context, key imagecache.Key) (imagecache.Artifact, error) {
	if o == nil {
		return imagecache.Artifact{}, imagecache.ErrConfig
	}
	return o.coord.Resolve(ctx, key)
}

// Snapshot returns the handler path and every known Blur placeholder
func (o *Optimizer) Snapshot() imagecache.Snapshot {
	return o.index.Snapshot()
}

// Warm publishes Blur artifacts already in the store to the index, so a
// restarted process can inline placeholders before they are requested again.
// It returns the number of placeholders published.
func (o *Optimizer) Warm(ctx context.Context) (int, error) {
	published := 0
	err := o.store.Keys(func(key imagecache.Key) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if key.Kind() != imagecache.KindBlur {
			return nil
		}
		a, ok, err := o.store.Get(key)
		if err != nil {
			log.Printf("Skipping unreadable placeholder for %s: %v", key.Source, err)
			return nil
		}
		if ok && o.index.Add(a) {
			published++
		}
		return nil
	})
	return published, err
}

// HandlerPath returns the URL prefix artifacts are served under
func (o *Optimizer) HandlerPath() string {
	return o.handlerPath
}

// Workers returns the build concurrency limit
func (o *Optimizer) Workers() int {
	return o.coord.Workers()
}

// URL returns the artifact URL for key
func (o *Optimizer) URL(key imagecache.Key) (string, error) {
	return key.URL(o.handlerPath)
}

// Handler returns the artifact handler for {HandlerPath}/{encodedKey}
func (o *Optimizer) Handler() http.Handler {
	return handlers.NewImageHandler(o.coord, o.handlerPath, o.metrics)
}

// SnapshotHandler returns a handler serving the snapshot as JSON
func (o *Optimizer) SnapshotHandler() http.Handler {
	return handlers.NewSnapshotHandler(o.index)
}

// Mount registers the artifact handler, and the snapshot handler when
// snapshotPath is not empty, on mux
func (o *Optimizer) Mount(mux *http.ServeMux, snapshotPath string) {
	mux.Handle(o.handlerPath+"/", o.Handler())
	if snapshotPath != "" {
		mux.Handle(snapshotPath, o.SnapshotHandler())
	}
}
