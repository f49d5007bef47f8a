// Package staging implements the Staged Commit Manager: the
// transcoding/committed/discarding three-folder atomic version-swap
// protocol used to publish new transcoded outputs and retire old ones.
package staging

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/metalalive/atfp-go/internal/domain/model"
	"github.com/metalalive/atfp-go/internal/storage"
)

// RemoveVersionStorage lets a File Processor delete its own internal
// artifacts (segments, sidecars) for one version directory before the
// Manager rmdirs the parent. Implemented per FP variant.
type RemoveVersionStorage func(ctx context.Context, status model.VersionStatus, dir string) error

// Manager publishes and retires staged version directories on a local
// Backend.
type Manager struct {
	Backend storage.Backend
}

func NewManager(backend storage.Backend) *Manager {
	return &Manager{Backend: backend}
}

func (m *Manager) mkdirAllowExists(ctx context.Context, prefix, origin string) error {
	cursor := &storage.MkdirCursor{Prefix: prefix, Origin: origin}
	return m.Backend.Mkdir(ctx, cursor, true)
}

// CommitNew publishes a freshly transcoded version when no prior version
// exists for the label: it ensures the resource's committed/discarding
// directories exist, then renames transcoding/<v> straight into
// committed/<v>.
func (m *Manager) CommitNew(ctx context.Context, dir model.StagedVersionDir) error {
	if err := m.prepareResourceDirs(ctx, dir); err != nil {
		return err
	}
	if err := m.Backend.Rename(ctx, dir.Transcoding(), dir.Committed()); err != nil {
		return fmt.Errorf("staging: commit new version: %w", err)
	}
	return nil
}

// CommitUpdate retires the existing committed/<v> into discarding/<v>,
// then promotes transcoding/<v> into committed/<v>. The two renames are
// NOT transactional: if the first succeeds and the second fails, the
// resource is left with discarding/<v> present and no committed/<v>,
// tolerable because the caller may re-stage to transcoding/<v> and retry
// the whole commit. Callers reading committed/<v> during this window
// must tolerate a momentary absence.
func (m *Manager) CommitUpdate(ctx context.Context, dir model.StagedVersionDir) error {
	if err := m.prepareResourceDirs(ctx, dir); err != nil {
		return err
	}
	if err := m.Backend.Rename(ctx, dir.Committed(), dir.Discarding()); err != nil {
		return fmt.Errorf("staging: retire previous committed version: %w", err)
	}
	if err := m.Backend.Rename(ctx, dir.Transcoding(), dir.Committed()); err != nil {
		return fmt.Errorf("staging: promote transcoding version: %w", err)
	}
	return nil
}

// CommitSharedArtifact moves a resource-level file that isn't scoped to
// any single version's directory (e.g. the HLS master playlist) from
// transcoding/ into committed/, alongside whichever per-version renames
// a commit is promoting. A job that never produced the file is not an
// error.
func (m *Manager) CommitSharedArtifact(ctx context.Context, root string, resource model.ResourceKey, filename string) error {
	resourceDir := root + "/" + resource.Dir()
	src := resourceDir + "/" + string(model.StatusTranscoding) + "/" + filename
	dst := resourceDir + "/" + string(model.StatusCommitted) + "/" + filename
	if err := m.Backend.Rename(ctx, src, dst); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("staging: commit shared artifact %s: %w", filename, err)
	}
	return nil
}

func (m *Manager) prepareResourceDirs(ctx context.Context, dir model.StagedVersionDir) error {
	resourceCursor := &storage.MkdirCursor{Prefix: dir.Root, Origin: dir.Resource.Dir()}
	if err := m.Backend.Mkdir(ctx, resourceCursor, true); err != nil {
		return fmt.Errorf("staging: mkdir resource dir: %w", err)
	}
	if err := m.mkdirAllowExists(ctx, dir.Root, dir.Resource.Dir()+"/"+string(model.StatusDiscarding)); err != nil {
		return fmt.Errorf("staging: mkdir discarding dir: %w", err)
	}
	if err := m.mkdirAllowExists(ctx, dir.Root, dir.Resource.Dir()+"/"+string(model.StatusCommitted)); err != nil {
		return fmt.Errorf("staging: mkdir committed dir: %w", err)
	}
	return nil
}

// Discard walks transcoding/discarding/committed for one resource
// directory, giving the per-FP callback a chance to remove internal
// artifacts for each version entry, then removing what remains of the
// entry (RemoveRecursive for a directory, Unlink for a file) before
// rmdir-ing the status directory itself.
func (m *Manager) Discard(ctx context.Context, root string, resource model.ResourceKey, onEntry RemoveVersionStorage) error {
	for _, status := range model.AllVersionStatuses {
		statusDir := root + "/" + resource.Dir() + "/" + string(status)
		if err := m.removeEntriesUnder(ctx, statusDir, status, onEntry); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) removeEntriesUnder(ctx context.Context, statusDir string, status model.VersionStatus, onEntry RemoveVersionStorage) error {
	handle, _, err := m.Backend.Scandir(ctx, statusDir)
	if err != nil {
		// A status directory that was never created (e.g. no version was
		// ever discarding) is not a failure.
		return nil
	}
	defer handle.Close()

	for {
		entry, err := m.Backend.ScandirNext(ctx, handle)
		if err == storage.ErrEOFScan {
			break
		}
		if err != nil {
			return fmt.Errorf("staging: scandir %s: %w", statusDir, err)
		}
		versionDir := statusDir + "/" + entry.Name
		if onEntry != nil {
			if err := onEntry(ctx, status, versionDir); err != nil {
				return fmt.Errorf("staging: remove version storage for %s: %w", versionDir, err)
			}
		}
		if entry.IsDir {
			err = m.RemoveRecursive(ctx, versionDir)
		} else {
			err = m.Backend.Unlink(ctx, versionDir)
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("staging: remove %s: %w", versionDir, err)
		}
	}
	return m.Backend.Rmdir(ctx, statusDir)
}

// RemoveRecursive scans dir, unlinks every entry, then rmdirs dir itself.
// Any unlink error aborts the whole sequence.
func (m *Manager) RemoveRecursive(ctx context.Context, dir string) error {
	handle, _, err := m.Backend.Scandir(ctx, dir)
	if err != nil {
		return fmt.Errorf("staging: scandir %s: %w", dir, err)
	}
	defer handle.Close()

	var names []string
	for {
		entry, err := m.Backend.ScandirNext(ctx, handle)
		if err == storage.ErrEOFScan {
			break
		}
		if err != nil {
			return fmt.Errorf("staging: scandir next %s: %w", dir, err)
		}
		names = append(names, entry.Name)
	}

	for _, name := range names {
		if err := m.Backend.Unlink(ctx, dir+"/"+name); err != nil {
			return fmt.Errorf("staging: unlink %s/%s: %w", dir, name, err)
		}
	}
	return m.Backend.Rmdir(ctx, dir)
}
