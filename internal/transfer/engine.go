// Package transfer implements the Segment Transfer Engine: chunked
// local-to-destination copying with SHA-1 checksumming and per-file
// metadata aggregation into a transcoded version's TranscodedVersionMetadata.
package transfer

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/metalalive/atfp-go/internal/domain/model"
	"github.com/metalalive/atfp-go/internal/storage"
)

// ErrDuplicateBasename is returned when the destination path's basename
// already has a metadata entry recorded for this version.
var ErrDuplicateBasename = errors.New("transfer: destination basename already recorded")

// SegmentConfig names the segment the engine is about to write.
type SegmentConfig struct {
	Basepath      string // destination directory, e.g. <prefix>/transcoding/<version>
	SegmentPrefix string
	NumDigits     int
	ReadyIndex    int // candidate index into the ready list
	ReadyListLen  int // length of the ready list; index >= this means no-op
	ChunkSize     int // read/write buffer size
}

// Engine streams one local file into a destination Backend, tracking
// SHA-1 and byte count, and appends the resulting SegmentInfo into md
// keyed by the destination's basename.
type Engine struct {
	Local Backend
	Dest  storage.Backend
}

// Backend is the subset of storage.Backend the engine needs for the
// local source side; storage.LocalBackend satisfies it directly.
type Backend = storage.Backend

// Result reports the outcome of one Transfer call.
type Result struct {
	Skipped     bool // true when ReadyIndex was out of range (no-op)
	BytesCopied int64
}

// Transfer copies localPath into cfg's destination directory, updates md
// with the resulting segment's size and checksum, and returns whether the
// transfer actually ran.
func (e *Engine) Transfer(ctx context.Context, localPath string, cfg SegmentConfig, md model.TranscodedVersionMetadata) (Result, error) {
	if cfg.ReadyIndex >= cfg.ReadyListLen {
		return Result{Skipped: true}, nil
	}
	if cfg.NumDigits == 0 {
		return Result{}, storage.ErrDataError
	}

	seg := model.Segment{Sequence: cfg.ReadyIndex, Prefix: cfg.SegmentPrefix, NumDigits: cfg.NumDigits}
	basename, err := seg.Filename()
	if err != nil {
		return Result{}, fmt.Errorf("transfer: render segment filename: %w", err)
	}
	return e.transferFile(ctx, localPath, cfg.Basepath, basename, cfg.ChunkSize, md)
}

// TransferGeneric moves a single non-segment file — a playlist or init
// packet map — into the destination the same way Transfer does for
// numbered segments, skipping the ready-list/digit-width bookkeeping
// that only applies to the numbered-chunk case.
func (e *Engine) TransferGeneric(ctx context.Context, localPath, basepath, basename string, chunkSize int, md model.TranscodedVersionMetadata) (Result, error) {
	return e.transferFile(ctx, localPath, basepath, basename, chunkSize, md)
}

func (e *Engine) transferFile(ctx context.Context, localPath, basepath, basename string, chunkSize int, md model.TranscodedVersionMetadata) (Result, error) {
	destPath := filepath.Join(basepath, basename)

	if _, exists := md[basename]; exists {
		return Result{}, ErrDuplicateBasename
	}

	srcHandle, err := e.Local.Open(ctx, localPath, storage.ReadOnly, 0)
	if err != nil {
		return Result{}, fmt.Errorf("transfer: open local source: %w", err)
	}

	dstHandle, err := e.Dest.Open(ctx, destPath, storage.WriteOnly|storage.Create|storage.Truncate, 0o644)
	if err != nil {
		_ = srcHandle.Close()
		return Result{}, fmt.Errorf("transfer: open destination: %w", err)
	}

	bytesCopied, checksum, copyErr := e.copyWithChecksum(ctx, srcHandle, dstHandle, chunkSize)

	closeErr := srcHandle.Close()
	// Unlink the local copy regardless of copy outcome; idempotent per
	// the destination write already succeeded or permanently failed.
	_ = e.Local.Unlink(ctx, localPath)
	if dstCloser, ok := e.Dest.(interface {
		Flush(ctx context.Context, h storage.Handle, contentType string) error
	}); ok {
		_ = dstCloser.Flush(ctx, dstHandle, "application/octet-stream")
	}
	_ = dstHandle.Close()

	if copyErr != nil {
		return Result{}, copyErr
	}
	if closeErr != nil {
		return Result{}, fmt.Errorf("transfer: close local source: %w", closeErr)
	}

	if err := md.Insert(basename, model.SegmentInfo{Size: bytesCopied, Checksum: checksum}); err != nil {
		return Result{}, err
	}
	return Result{BytesCopied: bytesCopied}, nil
}

func (e *Engine) copyWithChecksum(ctx context.Context, src, dst storage.Handle, chunkSize int) (int64, string, error) {
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}
	buf := make([]byte, chunkSize)
	hasher := sha1.New()
	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return 0, "", err
		}
		n, readErr := e.Local.Read(ctx, src, offset, buf)
		if n > 0 {
			hasher.Write(buf[:n])
			if _, writeErr := e.Dest.Write(ctx, dst, offset, buf[:n]); writeErr != nil {
				return 0, "", fmt.Errorf("transfer: write segment: %w", writeErr)
			}
			offset += int64(n)
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return 0, "", fmt.Errorf("transfer: read segment: %w", readErr)
		}
		if n == 0 {
			break
		}
	}
	checksum := hasher.Sum(nil)
	// Zeroize hasher state is not exposed by crypto/sha1's API; the sum
	// bytes themselves are the only sensitive state retained past this
	// point and are immediately hex-encoded into the returned string.
	return offset, fmt.Sprintf("%x", checksum), nil
}
