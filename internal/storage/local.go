package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalBackend realizes Backend over the local filesystem. It is the
// backend used for staging directories (transcoding/committed/discarding)
// and the content cache, where mkdir/rename/scandir have real POSIX
// semantics.
type LocalBackend struct{}

func NewLocalBackend() *LocalBackend { return &LocalBackend{} }

type localHandle struct {
	f *os.File
}

func (h *localHandle) Close() error { return h.f.Close() }

func toOSFlag(flags OpenFlag) int {
	var f int
	switch {
	case flags&WriteOnly != 0:
		f |= os.O_WRONLY
	default:
		f |= os.O_RDONLY
	}
	if flags&Create != 0 {
		f |= os.O_CREATE
	}
	if flags&Truncate != 0 {
		f |= os.O_TRUNC
	}
	if flags&Append != 0 {
		f |= os.O_APPEND
	}
	return f
}

func (b *LocalBackend) Open(ctx context.Context, path string, flags OpenFlag, mode uint32) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, toOSFlag(flags), fs.FileMode(mode))
	if err != nil {
		return nil, err
	}
	return &localHandle{f: f}, nil
}

func (b *LocalBackend) Read(ctx context.Context, h Handle, offset int64, dst []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	lh, ok := h.(*localHandle)
	if !ok {
		return 0, ErrDataError
	}
	return lh.f.ReadAt(dst, offset)
}

func (b *LocalBackend) Write(ctx context.Context, h Handle, offset int64, src []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	lh, ok := h.(*localHandle)
	if !ok {
		return 0, ErrDataError
	}
	return lh.f.WriteAt(src, offset)
}

func (b *LocalBackend) Seek(ctx context.Context, h Handle, offset int64, whence int) (int64, error) {
	lh, ok := h.(*localHandle)
	if !ok {
		return 0, ErrDataError
	}
	return lh.f.Seek(offset, whence)
}

// Mkdir creates every missing parent of cursor.Origin under cursor.Prefix,
// advancing cursor.CurrParent as each segment succeeds so a retried call
// resumes past the last-created component instead of re-walking from
// Prefix.
func (b *LocalBackend) Mkdir(ctx context.Context, cursor *MkdirCursor, allowExists bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	segments := strings.Split(filepath.ToSlash(filepath.Clean(cursor.Origin)), "/")
	segments = trimEmpty(segments)
	path := cursor.Prefix
	for i, seg := range segments {
		if i < cursor.CurrParent {
			path = filepath.Join(path, seg)
			continue
		}
		path = filepath.Join(path, seg)
		isLast := i == len(segments)-1
		err := os.Mkdir(path, 0o755)
		if err != nil {
			if os.IsExist(err) && (allowExists || !isLast) {
				cursor.CurrParent = i + 1
				continue
			}
			return err
		}
		cursor.CurrParent = i + 1
	}
	return nil
}

func trimEmpty(segs []string) []string {
	out := segs[:0]
	for _, s := range segs {
		if s != "" && s != "." {
			out = append(out, s)
		}
	}
	return out
}

func (b *LocalBackend) Rmdir(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.Remove(path)
}

type localScanHandle struct {
	entries []os.DirEntry
	pos     int
}

func (h *localScanHandle) Close() error { return nil }

func (b *LocalBackend) Scandir(ctx context.Context, path string) (Handle, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, 0, err
	}
	return &localScanHandle{entries: entries}, len(entries), nil
}

func (b *LocalBackend) ScandirNext(ctx context.Context, h Handle) (DirEntry, error) {
	sh, ok := h.(*localScanHandle)
	if !ok {
		return DirEntry{}, ErrDataError
	}
	if sh.pos >= len(sh.entries) {
		return DirEntry{}, ErrEOFScan
	}
	e := sh.entries[sh.pos]
	sh.pos++
	return DirEntry{Name: e.Name(), IsDir: e.IsDir()}, nil
}

func (b *LocalBackend) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.Rename(oldPath, newPath)
}

func (b *LocalBackend) Unlink(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

var _ io.Closer = (*localHandle)(nil)
