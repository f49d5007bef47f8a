package contentcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/metalalive/atfp-go/internal/domain/model"
)

type stubPopulator struct {
	chunks [][]byte
	calls  int
}

func (p *stubPopulator) Populate(ctx context.Context, write func(chunk []byte, final bool) error) error {
	p.calls++
	for i, c := range p.chunks {
		if err := write(c, i == len(p.chunks)-1); err != nil {
			return err
		}
	}
	return nil
}

func TestCache_Open_ReturnsAlreadyExists(t *testing.T) {
	root := t.TempDir()
	docID := model.EncryptedDocID("abc123")
	dir := filepath.Join(root, string(docID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "video.m3u8"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewCache(root)
	entry, err := c.Open(docID, "video.m3u8")
	if err != ErrAlreadyExists {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
	defer entry.Close()
}

func TestCache_ReadSidecar_MissingIsNotFound(t *testing.T) {
	c := NewCache(t.TempDir())
	if _, err := c.ReadSidecar("nope"); err != ErrSidecarNotFound {
		t.Errorf("err = %v, want ErrSidecarNotFound", err)
	}
}

func TestCache_WriteSidecarOnce_SkipsSubsequentWrites(t *testing.T) {
	c := NewCache(t.TempDir())
	docID := model.EncryptedDocID("doc1")
	first := model.CacheSidecar{MimeType: "video/mp4", KeyID: "k1", UserID: 1, UploadReqID: 2}
	if err := c.WriteSidecarOnce(docID, first); err != nil {
		t.Fatalf("WriteSidecarOnce: %v", err)
	}

	second := model.CacheSidecar{MimeType: "image/png", KeyID: "k2", UserID: 9, UploadReqID: 9}
	if err := c.WriteSidecarOnce(docID, second); err != nil {
		t.Fatalf("WriteSidecarOnce (second): %v", err)
	}

	got, err := c.ReadSidecar(docID)
	if err != nil {
		t.Fatalf("ReadSidecar: %v", err)
	}
	if got.MimeType != first.MimeType {
		t.Errorf("sidecar was overwritten: got %+v, want %+v", got, first)
	}
}

func TestCache_CreateLocked_SecondCallerIsLocked(t *testing.T) {
	root := t.TempDir()
	docID := model.EncryptedDocID("doc2")
	c := NewCache(root)

	first, err := c.CreateLocked(docID, "video.m3u8")
	if err != nil {
		t.Fatalf("CreateLocked (first): %v", err)
	}
	defer first.Close()

	if _, err := c.CreateLocked(docID, "video.m3u8"); err != ErrWriteLocked {
		t.Errorf("err = %v, want ErrWriteLocked", err)
	}
}

func TestCache_PopulateOnce_WritesAllChunks(t *testing.T) {
	root := t.TempDir()
	docID := model.EncryptedDocID("doc3")
	c := NewCache(root)

	entry, err := c.CreateLocked(docID, "video.m3u8")
	if err != nil {
		t.Fatalf("CreateLocked: %v", err)
	}
	defer entry.Close()

	pop := &stubPopulator{chunks: [][]byte{[]byte("a"), []byte("b"), []byte("c")}}
	if err := c.PopulateOnce(context.Background(), entry, string(docID), pop); err != nil {
		t.Fatalf("PopulateOnce: %v", err)
	}
	if pop.calls != 1 {
		t.Errorf("populator calls = %d, want 1", pop.calls)
	}

	data, err := os.ReadFile(c.EntryPath(docID, "video.m3u8"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "abc" {
		t.Errorf("entry content = %q, want %q", data, "abc")
	}
}
