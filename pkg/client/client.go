package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// DefaultSnapshotPath is where the server publishes its snapshot
const DefaultSnapshotPath = "/api/image-config"

// Client fetches snapshots and artifacts from an image cache server
type Client struct {
	baseURL      string
	snapshotPath string
	httpClient   *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithSnapshotPath overrides DefaultSnapshotPath
func WithSnapshotPath(path string) Option {
	return func(c *Client) {
		c.snapshotPath = path
	}
}

// New creates a new image cache client
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		snapshotPath: DefaultSnapshotPath,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot fetches the current placeholder snapshot
func (c *Client) Snapshot(ctx context.Context) (*imagecache.Snapshot, error) {
	url := c.baseURL + c.snapshotPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var snap imagecache.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	return &snap, nil
}

// Fetch downloads the artifact for key from the handler at handlerPath.
// Error statuses map back to the imagecache error taxonomy.
func (c *Client) Fetch(ctx context.Context, handlerPath string, key imagecache.Key) (*imagecache.Artifact, error) {
	path, err := key.URL(handlerPath)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", imagecache.ErrValidation, string(body))
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", imagecache.ErrSourceNotFound, key.Source)
	default:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	return &imagecache.Artifact{
		Key:         key,
		ContentType: resp.Header.Get("Content-Type"),
		Data:        body,
	}, nil
}
