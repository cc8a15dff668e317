// Package coordinator resolves image keys to artifacts. It serves stored
// artifacts directly, shares one build between all concurrent requests for
// the same key, and bounds how many transforms run at once.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/tendant/simple-image-cache/internal/metrics"
	"github.com/tendant/simple-image-cache/internal/storage"
	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// SourceReader loads source image bytes
type SourceReader = storage.Reader

// Transformer applies a transform spec to source bytes
type Transformer interface {
	Transform(source []byte, spec imagecache.Spec) ([]byte, string, error)
}

// Store is the durable artifact store
type Store interface {
	Get(key imagecache.Key) (imagecache.Artifact, bool, error)
	Put(a imagecache.Artifact) error
}

// Index holds inlineable artifacts in memory
type Index interface {
	Get(key imagecache.Key) (string, bool)
	Add(a imagecache.Artifact) bool
}

// DefaultRecordTimeout bounds a single Recorder call
const DefaultRecordTimeout = 5 * time.Second

// Recorder is notified after every durable build. Calls run in the
// background and never delay callers of Resolve.
type Recorder interface {
	RecordBuild(ctx context.Context, a imagecache.Artifact, elapsed time.Duration) error
}

// Coordinator deduplicates and throttles builds
type Coordinator struct {
	sources  SourceReader
	engine   Transformer
	store    Store
	index    Index
	workers  int
	slots    *semaphore.Weighted
	flights  singleflight.Group
	metrics  *metrics.Metrics
	recorder Recorder

	recordTimeout time.Duration
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithMetrics records build and cache metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithRecorder reports every durable build to r
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// WithRecordTimeout overrides DefaultRecordTimeout
func WithRecordTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.recordTimeout = d
	}
}

// New creates a coordinator that runs at most workers transforms at a time
func New(sources SourceReader, engine Transformer, store Store, index Index, workers int, opts ...Option) (*Coordinator, error) {
	if sources == nil || engine == nil || store == nil || index == nil {
		return nil, fmt.Errorf("%w: coordinator dependencies are required", imagecache.ErrConfig)
	}
	if workers < 1 {
		return nil, fmt.Errorf("%w: workers must be at least 1, got %d", imagecache.ErrConfig, workers)
	}

	c := &Coordinator{
		sources: sources,
		engine:  engine,
		store:   store,
		index:   index,
		workers: workers,
		slots:   semaphore.NewWeighted(int64(workers)),

		recordTimeout: DefaultRecordTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Workers returns the build concurrency limit
func (c *Coordinator) Workers() int {
	return c.workers
}

// Resolve returns the artifact for key, building it if needed.
//
// Concurrent calls for the same key share a single build. If ctx is done
// before the build finishes, Resolve returns ctx.Err() but the build keeps
// running for the remaining callers. Failed builds are not remembered: the
// next call starts over.
func (c *Coordinator) Resolve(ctx context.Context, key imagecache.Key) (imagecache.Artifact, error) {
	if err := key.Validate(); err != nil {
		return imagecache.Artifact{}, err
	}

	if a, ok, err := c.lookup(key); err != nil || ok {
		return a, err
	}

	d, err := key.Digest()
	if err != nil {
		return imagecache.Artifact{}, err
	}

	// Builds outlive any single caller
	buildCtx := context.WithoutCancel(ctx)

	var leader bool
	ch := c.flights.DoChan(d.String(), func() (any, error) {
		leader = true
		return c.build(buildCtx, key)
	})

	select {
	case <-ctx.Done():
		return imagecache.Artifact{}, ctx.Err()
	case res := <-ch:
		if !leader {
			c.metrics.Coalesce()
		}
		if res.Err != nil {
			return imagecache.Artifact{}, res.Err
		}
		a, _ := res.Val.(imagecache.Artifact) //nolint:errcheck // build always returns an Artifact
		return a, nil
	}
}

// lookup checks the index and then the store. Stored Blur artifacts are
// published to the index on the way out.
func (c *Coordinator) lookup(key imagecache.Key) (imagecache.Artifact, bool, error) {
	if text, ok := c.index.Get(key); ok {
		c.metrics.StoreHit(key.Kind())
		return imagecache.Artifact{Key: key, ContentType: imagecache.ContentTypeSVG, Data: []byte(text)}, true, nil
	}

	a, ok, err := c.store.Get(key)
	if err != nil || !ok {
		return a, false, err
	}
	c.index.Add(a)
	c.metrics.StoreHit(key.Kind())
	return a, true, nil
}

// build runs inside a flight. The artifact is stored, and published to the
// index, before any waiter sees it.
func (c *Coordinator) build(ctx context.Context, key imagecache.Key) (imagecache.Artifact, error) {
	// Another flight may have finished between our miss and joining this one
	if a, ok, err := c.lookup(key); err != nil || ok {
		return a, err
	}

	// Missing sources fail without waiting for a slot
	exists, err := c.sources.Exists(ctx, key.Source)
	if err != nil {
		return imagecache.Artifact{}, err
	}
	if !exists {
		return imagecache.Artifact{}, fmt.Errorf("%w: %s", imagecache.ErrSourceNotFound, key.Source)
	}

	runID := uuid.New().String()

	a, elapsed, err := c.transform(ctx, runID, key)
	c.metrics.ObserveBuild(key.Kind(), err, elapsed)
	if err != nil {
		log.Printf("[%s] Build failed for %s: %v", runID, key.Source, err)
		return imagecache.Artifact{}, err
	}

	c.index.Add(a)
	log.Printf("[%s] Built %s for %s: %d bytes in %s", runID, key.Kind(), key.Source, len(a.Data), elapsed)

	if c.recorder != nil {
		go c.record(runID, a, elapsed)
	}

	return a, nil
}

// transform holds one slot while it reads, transforms and stores the artifact
func (c *Coordinator) transform(ctx context.Context, runID string, key imagecache.Key) (imagecache.Artifact, time.Duration, error) {
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return imagecache.Artifact{}, 0, err
	}
	c.metrics.SlotAcquired()
	defer func() {
		c.slots.Release(1)
		c.metrics.SlotReleased()
	}()

	log.Printf("[%s] Building %s for %s", runID, key.Kind(), key.Source)
	start := time.Now()

	source, err := c.sources.ReadSource(ctx, key.Source)
	if err != nil {
		return imagecache.Artifact{}, time.Since(start), err
	}

	data, contentType, err := c.engine.Transform(source, key.Spec)
	if err != nil {
		return imagecache.Artifact{}, time.Since(start), err
	}

	a := imagecache.Artifact{Key: key, ContentType: contentType, Data: data}
	if err := c.store.Put(a); err != nil {
		return imagecache.Artifact{}, time.Since(start), err
	}
	return a, time.Since(start), nil
}

// record reports a finished build. Failures are only logged.
func (c *Coordinator) record(runID string, a imagecache.Artifact, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), c.recordTimeout)
	defer cancel()

	if err := c.recorder.RecordBuild(ctx, a, elapsed); err != nil {
		log.Printf("[%s] Failed to record build: %v", runID, err)
	}
}
