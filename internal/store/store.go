// Package store persists built artifacts on disk, one file per key, named by
// the sha256 digest of the key's canonical form.
package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o755
	defaultFilePerm       = 0o644
	tempPattern           = "tmp-*"
)

// header is the first line of every record
type header struct {
	Key         imagecache.Key `json:"key"`
	ContentType string         `json:"content_type"`
}

// Store is a durable key -> artifact mapping. Records are written once and
// never modified.
type Store struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	filePerm       os.FileMode
}

// Option configures a Store
type Option func(*Store)

// WithShardPrefixLen sets the number of hex characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(s *Store) {
		s.shardPrefixLen = n
	}
}

// New opens a store rooted at dir, creating it if needed
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: cache dir is empty", imagecache.ErrConfig)
	}
	s := &Store{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
		filePerm:       defaultFilePerm,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shardPrefixLen < 0 {
		return nil, fmt.Errorf("%w: shard prefix length must be >= 0", imagecache.ErrConfig)
	}
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, fmt.Errorf("%w: create cache dir: %v", imagecache.ErrStoreIO, err)
	}
	return s, nil
}

// Get returns the artifact stored for key. A missing record is a miss, not an error.
func (s *Store) Get(key imagecache.Key) (imagecache.Artifact, bool, error) {
	path, err := s.path(key)
	if err != nil {
		return imagecache.Artifact{}, false, err
	}

	raw, err := os.ReadFile(path) //nolint:gosec // path is derived from a digest, not user input
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return imagecache.Artifact{}, false, nil
		}
		return imagecache.Artifact{}, false, fmt.Errorf("%w: read %s: %v", imagecache.ErrStoreIO, filepath.Base(path), err)
	}

	hdr, data, err := parseRecord(raw)
	if err != nil {
		return imagecache.Artifact{}, false, fmt.Errorf("%w: %s: %v", imagecache.ErrStoreIO, filepath.Base(path), err)
	}
	if hdr.Key != key {
		return imagecache.Artifact{}, false, fmt.Errorf("%w: %s: record belongs to a different key", imagecache.ErrStoreIO, filepath.Base(path))
	}

	return imagecache.Artifact{Key: key, ContentType: hdr.ContentType, Data: data}, true, nil
}

// Put durably stores an artifact. The record is written to a temporary file
// and renamed into place, so readers see either nothing or the whole record.
// An existing record for the same key is left untouched.
func (s *Store) Put(a imagecache.Artifact) error {
	path, err := s.path(a.Key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	hdr, err := json.Marshal(header{Key: a.Key, ContentType: a.ContentType})
	if err != nil {
		return fmt.Errorf("%w: encode header: %v", imagecache.ErrStoreIO, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return fmt.Errorf("%w: create shard: %v", imagecache.ErrStoreIO, err)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", imagecache.ErrStoreIO, err)
	}
	tmpPath := tmp.Name()

	if err := writeRecord(tmp, hdr, a.Data, s.filePerm); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: write %s: %v", imagecache.ErrStoreIO, filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: close %s: %v", imagecache.ErrStoreIO, filepath.Base(path), err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		if _, statErr := os.Stat(path); statErr == nil {
			return nil
		}
		return fmt.Errorf("%w: rename %s: %v", imagecache.ErrStoreIO, filepath.Base(path), err)
	}
	return nil
}

// Keys calls fn with the key of every complete record in the store. Only the
// record headers are read.
func (s *Store) Keys(fn func(imagecache.Key) error) error {
	return filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: walk: %v", imagecache.ErrStoreIO, err)
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), "tmp-") {
			return nil
		}

		hdr, err := readHeader(path)
		if err != nil {
			// Foreign or damaged files are not ours to report
			return nil
		}
		return fn(hdr.Key)
	})
}

func (s *Store) path(key imagecache.Key) (string, error) {
	d, err := key.Digest()
	if err != nil {
		return "", err
	}
	hexHash := d.Encoded()
	if s.shardPrefixLen <= 0 {
		return filepath.Join(s.dir, hexHash), nil
	}
	prefixLen := min(s.shardPrefixLen, len(hexHash))
	return filepath.Join(s.dir, hexHash[:prefixLen], hexHash), nil
}

func writeRecord(f *os.File, hdr, data []byte, perm os.FileMode) error {
	w := bufio.NewWriter(f)
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := f.Chmod(perm); err != nil {
		return err
	}
	return f.Sync()
}

func parseRecord(raw []byte) (header, []byte, error) {
	var hdr header
	line, data, ok := bytes.Cut(raw, []byte{'\n'})
	if !ok {
		return hdr, nil, errors.New("record has no header")
	}
	if err := json.Unmarshal(line, &hdr); err != nil {
		return hdr, nil, fmt.Errorf("decode header: %w", err)
	}
	return hdr, data, nil
}

func readHeader(path string) (header, error) {
	var hdr header
	f, err := os.Open(path) //nolint:gosec // path comes from walking the store root
	if err != nil {
		return hdr, err
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil {
		return hdr, err
	}
	if err := json.Unmarshal(line, &hdr); err != nil {
		return hdr, err
	}
	return hdr, nil
}
