package fileproc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/metalalive/atfp-go/internal/storage"
)

func TestEstimateChunkIndex_WalksPartsSize(t *testing.T) {
	partsSize := []int64{100, 200, 50}

	idx, offset, err := EstimateChunkIndex(partsSize, 0, 150)
	if err != nil {
		t.Fatalf("EstimateChunkIndex: %v", err)
	}
	if idx != 1 || offset != 50 {
		t.Errorf("idx=%d offset=%d, want idx=1 offset=50", idx, offset)
	}
}

func TestEstimateChunkIndex_OutOfRangeIsDataError(t *testing.T) {
	partsSize := []int64{100, 200}
	if _, _, err := EstimateChunkIndex(partsSize, 0, 1000); err != storage.ErrDataError {
		t.Errorf("err = %v, want ErrDataError", err)
	}
}

func TestSourceChunkCursor_SwitchToAndNext(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "1"), []byte("chunk1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "2"), []byte("chunk2"), 0o644); err != nil {
		t.Fatal(err)
	}

	backend := storage.NewLocalBackend()
	cursor := &SourceChunkCursor{Backend: backend, Basepath: root}
	ctx := context.Background()

	if err := cursor.SwitchTo(ctx, 1); err != nil {
		t.Fatalf("SwitchTo(1): %v", err)
	}
	if cursor.CurrentSequence() != 1 {
		t.Errorf("CurrentSequence = %d, want 1", cursor.CurrentSequence())
	}

	if err := cursor.SwitchToNext(ctx); err != nil {
		t.Fatalf("SwitchToNext: %v", err)
	}
	if cursor.CurrentSequence() != 2 {
		t.Errorf("CurrentSequence = %d, want 2", cursor.CurrentSequence())
	}

	if err := cursor.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
