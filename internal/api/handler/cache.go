package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/metalalive/atfp-go/internal/contentcache"
	"github.com/metalalive/atfp-go/internal/crypto"
	"github.com/metalalive/atfp-go/internal/domain/model"
	"github.com/metalalive/atfp-go/internal/storage"
)

// CacheHandler serves the Stream/Non-stream Cache's entries over HTTP:
// an already-populated entry is streamed straight back, a miss resolves
// the requesting document ID to its backing committed version directory
// and populates the entry before streaming it.
type CacheHandler struct {
	cache       *contentcache.Cache
	keyManager  *crypto.Manager
	stagingRoot string
	source      storage.Backend
}

func NewCacheHandler(cache *contentcache.Cache, keyManager *crypto.Manager, stagingRoot string, source storage.Backend) *CacheHandler {
	return &CacheHandler{cache: cache, keyManager: keyManager, stagingRoot: stagingRoot, source: source}
}

// Get serves GET /v1/cache/{docID}/*, where the wildcard is the detail
// path within the document's entry directory (e.g. "v1/index.m3u8").
func (h *CacheHandler) Get(w http.ResponseWriter, r *http.Request) {
	docID := model.EncryptedDocID(chi.URLParam(r, "docID"))
	detail := chi.URLParam(r, "*")
	if docID == "" || detail == "" {
		Error(w, http.StatusBadRequest, "bad_request", "docID and detail path are required")
		return
	}

	if entry, err := h.cache.Open(docID, detail); errors.Is(err, contentcache.ErrAlreadyExists) {
		defer entry.Close()
		h.stream(w, entry.StreamReader())
		return
	}

	sidecar, err := h.cache.ReadSidecar(docID)
	if errors.Is(err, contentcache.ErrSidecarNotFound) {
		Error(w, http.StatusNotFound, "not_found", "no cache entry for this document")
		return
	}
	if err != nil {
		Error(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	srcDir, err := h.resolveSource(sidecar, docID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	entry, err := h.cache.CreateLocked(docID, detail)
	if errors.Is(err, contentcache.ErrWriteLocked) {
		Error(w, http.StatusConflict, "locked", "entry is being populated by another request, retry shortly")
		return
	}
	if err != nil {
		Error(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	defer entry.Close()

	populator := &localFilePopulator{backend: h.source, path: filepath.Join(srcDir, detail)}
	dedupeKey := string(docID) + "/" + detail
	if err := h.cache.PopulateOnce(r.Context(), entry, dedupeKey, populator); err != nil {
		Error(w, http.StatusInternalServerError, "internal", fmt.Sprintf("populate cache entry: %v", err))
		return
	}
	if err := entry.Rewind(); err != nil {
		Error(w, http.StatusInternalServerError, "internal", fmt.Sprintf("rewind populated entry: %v", err))
		return
	}

	h.stream(w, entry.StreamReader())
}

// resolveSource decrypts docID back to its ResourceKey using the key the
// sidecar recorded, returning the committed staging directory a detail
// path (e.g. "v1/index.m3u8") is resolved against.
func (h *CacheHandler) resolveSource(sidecar model.CacheSidecar, docID model.EncryptedDocID) (string, error) {
	key, err := h.keyManager.GetKey(sidecar.KeyID)
	if err != nil {
		return "", fmt.Errorf("resolve sidecar key %s: %w", sidecar.KeyID, err)
	}
	plaintext, err := crypto.DecryptDocumentID(docID, key)
	if err != nil {
		return "", fmt.Errorf("decrypt document id: %w", err)
	}
	resource, err := model.ParseResourceDir(plaintext)
	if err != nil {
		return "", fmt.Errorf("parse decrypted resource dir: %w", err)
	}
	return filepath.Join(h.stagingRoot, resource.Dir(), string(model.StatusCommitted)), nil
}

func (h *CacheHandler) stream(w http.ResponseWriter, r io.Reader) {
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, r); err != nil {
		// headers are already sent; nothing left to do but give up.
		return
	}
}

// localFilePopulator copies an already-committed version directory's
// file straight off backend, standing in for the codec-backed
// population a resident file processor runs when the original ingest
// path can regenerate the entry itself.
type localFilePopulator struct {
	backend storage.Backend
	path    string
}

func (p *localFilePopulator) Populate(ctx context.Context, write func(chunk []byte, final bool) error) error {
	h, err := p.backend.Open(ctx, p.path, storage.ReadOnly, 0)
	if err != nil {
		return fmt.Errorf("open source file %s: %w", p.path, err)
	}
	defer h.Close()

	buf := make([]byte, 32*1024)
	offset := int64(0)
	for {
		n, err := p.backend.Read(ctx, h, offset, buf)
		if n > 0 {
			if werr := write(buf[:n], false); werr != nil {
				return werr
			}
			offset += int64(n)
		}
		if errors.Is(err, io.EOF) {
			return write(nil, true)
		}
		if err != nil {
			return fmt.Errorf("read source file %s: %w", p.path, err)
		}
	}
}
