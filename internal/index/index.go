// Package index keeps the inlineable (Blur) artifacts in memory so page
// renderers can embed placeholders without a round trip.
package index

import (
	"sort"
	"sync"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// Index is a concurrency-safe set of Blur artifacts. Resize artifacts are
// never held here.
type Index struct {
	handlerPath string

	mu      sync.RWMutex
	entries map[imagecache.Key]string
}

// New creates an empty index serving artifacts under handlerPath
func New(handlerPath string) *Index {
	return &Index{
		handlerPath: handlerPath,
		entries:     make(map[imagecache.Key]string),
	}
}

// Add publishes a durably stored artifact. Artifacts of other kinds are
// ignored and false is returned.
func (i *Index) Add(a imagecache.Artifact) bool {
	if a.Key.Kind() != imagecache.KindBlur {
		return false
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.entries[a.Key]; ok {
		return false
	}
	i.entries[a.Key] = string(a.Data)
	return true
}

// Get returns the inline text for key
func (i *Index) Get(key imagecache.Key) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	text, ok := i.entries[key]
	return text, ok
}

// Len returns the number of indexed artifacts
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}

// HandlerPath returns the path prefix artifacts are served under
func (i *Index) HandlerPath() string {
	return i.handlerPath
}

// Snapshot returns a point-in-time copy of the index, ordered by encoded key
func (i *Index) Snapshot() imagecache.Snapshot {
	i.mu.RLock()
	entries := make([]imagecache.Entry, 0, len(i.entries))
	for k, text := range i.entries {
		entries = append(entries, imagecache.Entry{Key: k, Text: text})
	}
	i.mu.RUnlock()

	order := make(map[imagecache.Key]string, len(entries))
	for _, e := range entries {
		enc, _ := e.Key.Encode() //nolint:errcheck // indexed keys always carry a Blur spec
		order[e.Key] = enc
	}
	sort.Slice(entries, func(a, b int) bool {
		return order[entries[a].Key] < order[entries[b].Key]
	})

	return imagecache.Snapshot{
		APIHandlerPath: i.handlerPath,
		Cache:          entries,
	}
}
