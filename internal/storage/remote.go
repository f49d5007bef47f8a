package storage

import (
	"bytes"
	"context"
	"io"

	"github.com/metalalive/atfp-go/internal/domain/repository"
)

// RemoteBackend adapts a flat object store (repository.ObjectStorage,
// backed by MinIO in this deployment) to the Backend vocabulary, for the
// source FP's original-upload chunk reads. Object stores have no
// directory hierarchy, so Mkdir/Rmdir/Scandir/Rename return
// ErrNotSupported; callers that need those operations (the Staged
// Commit Manager, the content cache) must use LocalBackend instead. This
// split reflects that only the source storage is ever remote; every
// staging directory lives on local disk.
type RemoteBackend struct {
	objects repository.ObjectStorage
}

func NewRemoteBackend(objects repository.ObjectStorage) *RemoteBackend {
	return &RemoteBackend{objects: objects}
}

type remoteReadHandle struct {
	rc io.ReadCloser
}

func (h *remoteReadHandle) Close() error { return h.rc.Close() }

type remoteWriteHandle struct {
	key string
	buf bytes.Buffer
}

func (h *remoteWriteHandle) Close() error { return nil }

func (b *RemoteBackend) Open(ctx context.Context, path string, flags OpenFlag, mode uint32) (Handle, error) {
	if flags&WriteOnly != 0 {
		return &remoteWriteHandle{key: path}, nil
	}
	rc, err := b.objects.Download(ctx, path)
	if err != nil {
		return nil, err
	}
	return &remoteReadHandle{rc: rc}, nil
}

func (b *RemoteBackend) Read(ctx context.Context, h Handle, offset int64, dst []byte) (int, error) {
	rh, ok := h.(*remoteReadHandle)
	if !ok {
		return 0, ErrDataError
	}
	return io.ReadFull(rh.rc, dst)
}

// Write buffers src into the handle; the object is only uploaded in full
// when Flush is called (closing the handle uploads nothing), since object stores do not
// support partial/offset writes to an existing key the way a POSIX file
// does.
func (b *RemoteBackend) Write(ctx context.Context, h Handle, offset int64, src []byte) (int, error) {
	wh, ok := h.(*remoteWriteHandle)
	if !ok {
		return 0, ErrDataError
	}
	return wh.buf.Write(src)
}

// Flush uploads a write handle's buffered content. Called explicitly by
// callers that opened for write, since Backend.Close (via Handle) cannot
// carry a context for the upload call.
func (b *RemoteBackend) Flush(ctx context.Context, h Handle, contentType string) error {
	wh, ok := h.(*remoteWriteHandle)
	if !ok {
		return ErrDataError
	}
	return b.objects.Upload(ctx, wh.key, bytes.NewReader(wh.buf.Bytes()), contentType)
}

func (b *RemoteBackend) Seek(ctx context.Context, h Handle, offset int64, whence int) (int64, error) {
	return 0, ErrNotSupported
}

func (b *RemoteBackend) Mkdir(ctx context.Context, cursor *MkdirCursor, allowExists bool) error {
	return ErrNotSupported
}

func (b *RemoteBackend) Rmdir(ctx context.Context, path string) error {
	return ErrNotSupported
}

func (b *RemoteBackend) Scandir(ctx context.Context, path string) (Handle, int, error) {
	return nil, 0, ErrNotSupported
}

func (b *RemoteBackend) ScandirNext(ctx context.Context, h Handle) (DirEntry, error) {
	return DirEntry{}, ErrNotSupported
}

func (b *RemoteBackend) Rename(ctx context.Context, oldPath, newPath string) error {
	return ErrNotSupported
}

func (b *RemoteBackend) Unlink(ctx context.Context, path string) error {
	return b.objects.Delete(ctx, path)
}

var _ Backend = (*LocalBackend)(nil)
var _ Backend = (*RemoteBackend)(nil)
