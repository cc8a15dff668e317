// Package ledger records durable builds in Postgres so operators can see
// which transforms exist and how often each was rebuilt after cache loss.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// Build is one ledger row
type Build struct {
	KeyDigest    string
	Source       string
	Kind         string
	ContentType  string
	Size         int64
	FirstBuiltAt time.Time
	LastBuiltAt  time.Time
	BuildCount   int
	LastBuildMs  int64
}

// Tracker writes build records
type Tracker struct {
	db *sql.DB
}

// Open connects to databaseURL and prepares the ledger table
func Open(ctx context.Context, databaseURL string) (*Tracker, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach ledger database: %w", err)
	}
	t, err := NewTracker(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

// NewTracker creates a tracker on an existing connection
func NewTracker(ctx context.Context, db *sql.DB) (*Tracker, error) {
	tracker := &Tracker{db: db}

	if err := tracker.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger table: %w", err)
	}

	return tracker, nil
}

// ensureTable creates the image_builds table if it doesn't exist
func (t *Tracker) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS image_builds (
			key_digest TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			kind TEXT NOT NULL,
			content_type TEXT NOT NULL,
			size BIGINT NOT NULL,
			first_built_at TIMESTAMPTZ DEFAULT NOW(),
			last_built_at TIMESTAMPTZ DEFAULT NOW(),
			build_count INTEGER DEFAULT 1,
			last_build_ms BIGINT NOT NULL DEFAULT 0
		)
	`

	if _, err := t.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create image_builds table: %w", err)
	}

	log.Printf("✓ image_builds table ready")
	return nil
}

// RecordBuild upserts the row for a freshly built artifact
func (t *Tracker) RecordBuild(ctx context.Context, a imagecache.Artifact, elapsed time.Duration) error {
	d, err := a.Key.Digest()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO image_builds (key_digest, source, kind, content_type, size, first_built_at, last_built_at, build_count, last_build_ms)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), 1, $6)
		ON CONFLICT (key_digest) DO UPDATE
		SET last_built_at = NOW(),
		    build_count = image_builds.build_count + 1,
		    size = EXCLUDED.size,
		    content_type = EXCLUDED.content_type,
		    last_build_ms = EXCLUDED.last_build_ms
	`

	_, err = t.db.ExecContext(ctx, query,
		d.Encoded(),
		a.Key.Source,
		string(a.Key.Kind()),
		a.ContentType,
		int64(len(a.Data)),
		elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record build: %w", err)
	}
	return nil
}

// Get returns the ledger row for key, or nil if it was never built
func (t *Tracker) Get(ctx context.Context, key imagecache.Key) (*Build, error) {
	d, err := key.Digest()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT key_digest, source, kind, content_type, size, first_built_at, last_built_at, build_count, last_build_ms
		FROM image_builds WHERE key_digest = $1
	`

	var b Build
	err = t.db.QueryRowContext(ctx, query, d.Encoded()).Scan(
		&b.KeyDigest, &b.Source, &b.Kind, &b.ContentType, &b.Size,
		&b.FirstBuiltAt, &b.LastBuiltAt, &b.BuildCount, &b.LastBuildMs,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build: %w", err)
	}
	return &b, nil
}

// Close closes the underlying database
func (t *Tracker) Close() error {
	return t.db.Close()
}
