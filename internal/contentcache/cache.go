// Package contentcache implements the Stream/Non-stream Cache: an
// on-disk content cache keyed by encrypted document ID, with exclusive
// writer locking, lazy population via a resident file processor or by
// copy from remote storage, and a streaming response generator.
package contentcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/sys/unix"

	"github.com/metalalive/atfp-go/internal/domain/model"
)

var (
	// ErrAlreadyExists reports that an entry was already on disk; no FP
	// is resident and the caller should read it directly.
	ErrAlreadyExists = errors.New("contentcache: entry already exists")

	// ErrSidecarNotFound reports a 404-class condition: no cache entry
	// and no usable metadata sidecar.
	ErrSidecarNotFound = errors.New("contentcache: metadata sidecar missing or corrupt")

	// ErrWriteLocked reports HTTP-409-class contention: another request
	// already holds the exclusive writer lock on this entry.
	ErrWriteLocked = errors.New("contentcache: entry is locked by another writer")
)

// Populator lazily fills a cache entry's bytes, either by running a
// resident file processor to completion or by copying from a remote
// source. Implementations stream their output through the write
// callback so CCH never needs the full object in memory at once.
type Populator interface {
	// Populate writes the entry's content through write, returning when
	// fully written. write's final call must be made with final=true.
	Populate(ctx context.Context, write func(chunk []byte, final bool) error) error
}

// Entry is one open cache entry: an on-disk file under
// <root>/<encrypted-doc-id>/<detail>, guarded by an advisory writer lock.
type Entry struct {
	path   string
	file   *os.File
	locked bool
}

// Cache manages entries under root. PopulateOnce coalesces concurrent
// populates of the same key within one process via singleflight; the
// advisory flock taken by CreateLocked is the cross-process writer guard.
// The HTTP handler takes that lock before calling PopulateOnce, so a
// second concurrent request for the same entry gets ErrWriteLocked
// (HTTP 409) rather than waiting on the first.
type Cache struct {
	root  string
	group singleflight.Group
	mu    sync.Mutex
}

func NewCache(root string) *Cache {
	return &Cache{root: root}
}

// EntryPath returns the filesystem path for (docID, detail).
func (c *Cache) EntryPath(docID model.EncryptedDocID, detail string) string {
	return filepath.Join(c.root, string(docID), detail)
}

// SidecarPath returns the metadata.json path for docID.
func (c *Cache) SidecarPath(docID model.EncryptedDocID) string {
	return filepath.Join(c.root, string(docID), "metadata.json")
}

// Open attempts to open an existing entry read-only. Returns
// ErrAlreadyExists (with the open file) on success, or os.ErrNotExist
// equivalent if absent.
func (c *Cache) Open(docID model.EncryptedDocID, detail string) (*Entry, error) {
	path := c.EntryPath(docID, detail)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Entry{path: path, file: f}, ErrAlreadyExists
}

// ReadSidecar loads and parses the metadata.json sidecar for docID.
func (c *Cache) ReadSidecar(docID model.EncryptedDocID) (model.CacheSidecar, error) {
	data, err := os.ReadFile(c.SidecarPath(docID))
	if err != nil {
		return model.CacheSidecar{}, ErrSidecarNotFound
	}
	var sidecar model.CacheSidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return model.CacheSidecar{}, ErrSidecarNotFound
	}
	return sidecar, nil
}

// WriteSidecarOnce writes metadata.json if it doesn't already exist;
// subsequent calls for the same docID are a no-op, matching "written
// once, skipped on subsequent calls".
func (c *Cache) WriteSidecarOnce(docID model.EncryptedDocID, sidecar model.CacheSidecar) error {
	path := c.SidecarPath(docID)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("contentcache: mkdir entry dir: %w", err)
	}
	data, err := json.Marshal(sidecar)
	if err != nil {
		return fmt.Errorf("contentcache: marshal sidecar: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// CreateLocked ensures the entry's parent directories exist, opens the
// cache file for writing, and acquires the LOCK_EX|LOCK_NB advisory lock.
// ErrWriteLocked is returned if the lock would block, mapped by callers
// to HTTP 409 for a concurrent writer on the same entry.
func (c *Cache) CreateLocked(docID model.EncryptedDocID, detail string) (*Entry, error) {
	path := c.EntryPath(docID, detail)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("contentcache: mkdir entry dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("contentcache: open entry for write: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrWriteLocked
		}
		return nil, fmt.Errorf("contentcache: flock: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN|unix.LOCK_NB)
		_ = f.Close()
		return nil, fmt.Errorf("contentcache: truncate entry: %w", err)
	}

	return &Entry{path: path, file: f, locked: true}, nil
}

// PopulateOnce runs populator exactly once per (docID, detail) across
// concurrent callers, writing through entry. Callers that arrive while a
// populate is in flight receive the same error/result without
// re-running populator or contending on the filesystem lock themselves.
func (c *Cache) PopulateOnce(ctx context.Context, entry *Entry, dedupeKey string, populator Populator) error {
	_, err, _ := c.group.Do(dedupeKey, func() (interface{}, error) {
		writer := func(chunk []byte, final bool) error {
			if _, err := entry.file.Write(chunk); err != nil {
				return fmt.Errorf("contentcache: write chunk: %w", err)
			}
			return nil
		}
		return nil, populator.Populate(ctx, writer)
	})
	return err
}

// StreamReader returns an io.Reader over an already-populated entry's
// bytes, for the already-cached-read path (proceed-data-block,
// second bullet).
func (e *Entry) StreamReader() io.Reader {
	return e.file
}

// Rewind seeks a freshly populated entry back to its start so the same
// file descriptor used for writing in CreateLocked/PopulateOnce can be
// handed to StreamReader without a separate reopen.
func (e *Entry) Rewind() error {
	_, err := e.file.Seek(0, io.SeekStart)
	return err
}

// Close releases the entry: unconditionally attempts to release the
// advisory lock if held (the locking invariant requires the flag and
// kernel lock state to stay in sync), then closes the file.
func (e *Entry) Close() error {
	if e.locked {
		_ = unix.Flock(int(e.file.Fd()), unix.LOCK_UN|unix.LOCK_NB)
		e.locked = false
	}
	return e.file.Close()
}
