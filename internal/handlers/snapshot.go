package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// SnapshotSource produces the current inline placeholder snapshot
type SnapshotSource interface {
	Snapshot() imagecache.Snapshot
}

// SnapshotHandler serves the snapshot consumed by page renderers
type SnapshotHandler struct {
	source SnapshotSource
}

// NewSnapshotHandler creates a snapshot handler
func NewSnapshotHandler(source SnapshotSource) *SnapshotHandler {
	return &SnapshotHandler{source: source}
}

// ServeHTTP handles GET {snapshotPath}
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.source == nil {
		log.Printf("Snapshot request without optimizer: %v", imagecache.ErrConfig)
		http.Error(w, "Image optimizer unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h.source.Snapshot()); err != nil {
		log.Printf("Failed to encode snapshot: %v", err)
	}
}
