package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/metalalive/atfp-go/internal/domain/model"
	"github.com/metalalive/atfp-go/internal/storage"
)

func newTestDir(t *testing.T, root string, resource model.ResourceKey, label model.VersionLabel) model.StagedVersionDir {
	t.Helper()
	return model.StagedVersionDir{Root: root, Resource: resource, Label: label}
}

func TestManager_CommitNew(t *testing.T) {
	root := t.TempDir()
	resource := model.ResourceKey{UserID: 7, UploadReqID: 0xabcd}
	dir := newTestDir(t, root, resource, "v1")

	if err := os.MkdirAll(dir.Transcoding(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir.Transcoding(), "seg0001"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	backend := storage.NewLocalBackend()
	mgr := NewManager(backend)
	if err := mgr.CommitNew(context.Background(), dir); err != nil {
		t.Fatalf("CommitNew: %v", err)
	}

	if _, err := os.Stat(dir.Committed()); err != nil {
		t.Errorf("expected committed dir to exist: %v", err)
	}
	if _, err := os.Stat(dir.Transcoding()); !os.IsNotExist(err) {
		t.Errorf("expected transcoding dir to be gone after rename")
	}
}

func TestManager_CommitUpdate_RetiresPreviousVersion(t *testing.T) {
	root := t.TempDir()
	resource := model.ResourceKey{UserID: 7, UploadReqID: 0xabcd}
	dir := newTestDir(t, root, resource, "v1")

	if err := os.MkdirAll(dir.Committed(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir.Committed(), "old.ts"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(dir.Transcoding(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir.Transcoding(), "new.ts"), []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}

	backend := storage.NewLocalBackend()
	mgr := NewManager(backend)
	if err := mgr.CommitUpdate(context.Background(), dir); err != nil {
		t.Fatalf("CommitUpdate: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir.Discarding(), "old.ts")); err != nil {
		t.Errorf("expected old version under discarding: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir.Committed(), "new.ts")); err != nil {
		t.Errorf("expected new version under committed: %v", err)
	}
}

func TestManager_Discard_WalksAllStatusesAndInvokesCallback(t *testing.T) {
	root := t.TempDir()
	resource := model.ResourceKey{UserID: 3, UploadReqID: 0x10}
	dir := newTestDir(t, root, resource, "v1")

	if err := os.MkdirAll(dir.Committed(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir.Committed(), "seg.ts"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	backend := storage.NewLocalBackend()
	mgr := NewManager(backend)

	var removedStatuses []model.VersionStatus
	err := mgr.Discard(context.Background(), root, resource, func(ctx context.Context, status model.VersionStatus, entryDir string) error {
		removedStatuses = append(removedStatuses, status)
		return nil
	})
	if err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if len(removedStatuses) != 1 || removedStatuses[0] != model.StatusCommitted {
		t.Errorf("removedStatuses = %v, want [committed]", removedStatuses)
	}
	if _, err := os.Stat(dir.Committed()); !os.IsNotExist(err) {
		t.Errorf("expected committed status dir to be removed")
	}
}

func TestManager_RemoveRecursive(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "discarding", "v1")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a", "b", "c"} {
		if err := os.WriteFile(filepath.Join(target, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	backend := storage.NewLocalBackend()
	mgr := NewManager(backend)
	if err := mgr.RemoveRecursive(context.Background(), target); err != nil {
		t.Fatalf("RemoveRecursive: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Errorf("expected target dir removed")
	}
}
