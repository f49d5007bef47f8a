package model

import "path/filepath"

// StagedVersionDir computes the three candidate on-disk paths a version
// can occupy during the commit/discard protocol. Committed holds at most
// one copy; Transcoding and Discarding may hold another copy beside it
// (CommitUpdate leaves the previous version under Discarding).
type StagedVersionDir struct {
	Root     string
	Resource ResourceKey
	Label    VersionLabel
}

func (d StagedVersionDir) path(status VersionStatus) string {
	return filepath.Join(d.Root, d.Resource.Dir(), string(status), string(d.Label))
}

// Transcoding is the working directory a File Processor writes segments
// into while a job is in flight.
func (d StagedVersionDir) Transcoding() string { return d.path(StatusTranscoding) }

// Committed is the publish-visible directory the Staged Commit Manager
// renames Transcoding into.
func (d StagedVersionDir) Committed() string { return d.path(StatusCommitted) }

// Discarding is the quarantine directory a retired or superseded version
// is renamed into before asynchronous removal.
func (d StagedVersionDir) Discarding() string { return d.path(StatusDiscarding) }

// Path returns the directory for the given status.
func (d StagedVersionDir) Path(status VersionStatus) string { return d.path(status) }
