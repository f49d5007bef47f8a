// Package storage implements the Storage Abstraction: a uniform
// file/directory operation vocabulary over local filesystem and
// (pluggably) remote object store backends.
//
// Every Backend method blocks the calling goroutine and returns
// (result, error) directly. Concurrent ops are achieved by calling
// these methods from multiple goroutines rather than multiplexing a
// single event loop. See DESIGN.md for the full rationale.
package storage

import (
	"context"
	"errors"
	"io"
)

// Flags for Open, loosely mirroring os.OpenFile flags.
type OpenFlag int

const (
	ReadOnly OpenFlag = 1 << iota
	WriteOnly
	Create
	Truncate
	Append
)

var (
	// ErrDataError marks a malformed request (e.g. zero digit width,
	// negative offsets) distinct from an underlying OS/transport failure.
	ErrDataError = errors.New("storage: invalid operation parameters")

	// ErrEOFScan is returned by ScandirNext once every entry has been
	// delivered.
	ErrEOFScan = errors.New("storage: scandir exhausted")

	// ErrNotSupported is returned by backends that cannot realize an
	// operation (e.g. Rename/Mkdir against a flat object store).
	ErrNotSupported = errors.New("storage: operation not supported by this backend")
)

// Handle identifies one open file or directory scan on a Backend.
type Handle interface {
	io.Closer
}

// MkdirCursor tracks progress through a multi-segment mkdir-all-parents
// call, so that a retry can resume after the last successfully created
// path component rather than restarting from Prefix.
type MkdirCursor struct {
	Prefix     string // invariant root, never recreated
	Origin     string // path to create, relative to Prefix
	CurrParent int    // number of Origin segments already created
}

// DirEntry is one result of a directory scan.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Backend is the uniform operation vocabulary every storage medium
// implements.
type Backend interface {
	// Open opens path under the given flags, returning a Handle for
	// subsequent Read/Write/Seek/Close calls.
	Open(ctx context.Context, path string, flags OpenFlag, mode uint32) (Handle, error)

	// Read reads into dst starting at offset, returning the number of
	// bytes read. io.EOF signals end of file, matching io.ReaderAt
	// convention.
	Read(ctx context.Context, h Handle, offset int64, dst []byte) (int, error)

	// Write writes src starting at offset, returning the number of bytes
	// written.
	Write(ctx context.Context, h Handle, offset int64, src []byte) (int, error)

	// Seek repositions the handle's read/write cursor, io.Seeker style.
	Seek(ctx context.Context, h Handle, offset int64, whence int) (int64, error)

	// Mkdir creates every missing parent of path, tracking progress via
	// cursor so a failed call can resume. allowExists suppresses the
	// already-exists error for the final component.
	Mkdir(ctx context.Context, cursor *MkdirCursor, allowExists bool) error

	// Rmdir removes an empty directory.
	Rmdir(ctx context.Context, path string) error

	// Scandir opens a directory for scanning, returning the number of
	// entries it contains.
	Scandir(ctx context.Context, path string) (Handle, int, error)

	// ScandirNext pulls the next entry from a handle opened by Scandir.
	// Returns ErrEOFScan once exhausted.
	ScandirNext(ctx context.Context, h Handle) (DirEntry, error)

	// Rename atomically moves oldPath to newPath.
	Rename(ctx context.Context, oldPath, newPath string) error

	// Unlink removes a single file. Idempotent: removing an absent file
	// is not an error.
	Unlink(ctx context.Context, path string) error
}
