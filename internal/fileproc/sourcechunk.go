package fileproc

import (
	"context"
	"fmt"
	"strconv"

	"github.com/metalalive/atfp-go/internal/storage"
)

// SourceChunkCursor tracks which numbered chunk
// (basepath/<user>/<hex-req>/1, .../2, ...) of the original upload a
// source Processor currently has open, and translates logical byte
// offsets into (chunk index, intra-chunk offset) using the job's
// declared PartsSize array.
type SourceChunkCursor struct {
	Backend   storage.Backend
	Basepath  string
	PartsSize []int64

	currentSeq    int
	currentHandle storage.Handle
}

// EstimateChunkIndex walks PartsSize to translate a logical byte offset
// into a chunk index and the offset within that chunk, starting the scan
// at startIdx (the caller's last known position, to avoid re-walking from
// zero on every call).
func EstimateChunkIndex(partsSize []int64, startIdx int, targetOffset int64) (chunkIdx int, intraOffset int64, err error) {
	if startIdx < 0 || startIdx >= len(partsSize) {
		return 0, 0, fmt.Errorf("fileproc: start index %d out of range", startIdx)
	}
	var consumed int64
	for i := 0; i < startIdx; i++ {
		consumed += partsSize[i]
	}
	for i := startIdx; i < len(partsSize); i++ {
		if targetOffset < consumed+partsSize[i] {
			return i, targetOffset - consumed, nil
		}
		consumed += partsSize[i]
	}
	return 0, 0, storage.ErrDataError
}

// SwitchTo closes the currently open chunk (if any) and opens sequence
// seq (1-indexed, matching the original upload's chunk numbering).
func (c *SourceChunkCursor) SwitchTo(ctx context.Context, seq int) error {
	if c.currentHandle != nil {
		if err := c.currentHandle.Close(); err != nil {
			return fmt.Errorf("fileproc: close current chunk: %w", err)
		}
		c.currentHandle = nil
	}
	path := c.Basepath + "/" + strconv.Itoa(seq)
	h, err := c.Backend.Open(ctx, path, storage.ReadOnly, 0)
	if err != nil {
		return fmt.Errorf("fileproc: open chunk %d: %w", seq, err)
	}
	c.currentHandle = h
	c.currentSeq = seq
	return nil
}

// SwitchToNext advances to the next sequential chunk.
func (c *SourceChunkCursor) SwitchToNext(ctx context.Context) error {
	return c.SwitchTo(ctx, c.currentSeq+1)
}

// Handle returns the currently open chunk handle, or nil if none.
func (c *SourceChunkCursor) Handle() storage.Handle { return c.currentHandle }

// CurrentSequence returns the sequence number currently open.
func (c *SourceChunkCursor) CurrentSequence() int { return c.currentSeq }

// Close releases the currently open chunk, if any.
func (c *SourceChunkCursor) Close() error {
	if c.currentHandle == nil {
		return nil
	}
	err := c.currentHandle.Close()
	c.currentHandle = nil
	return err
}
