package model

// VersionStatus is one of the three staging directories a version can
// live under at any given moment.
type VersionStatus string

const (
	StatusTranscoding VersionStatus = "transcoding"
	StatusCommitted   VersionStatus = "committed"
	StatusDiscarding  VersionStatus = "discarding"
)

// AllVersionStatuses lists the statuses in the order the discard
// protocol walks them.
var AllVersionStatuses = []VersionStatus{StatusTranscoding, StatusDiscarding, StatusCommitted}

func (s VersionStatus) String() string { return string(s) }

// SegmentInfo is the commit-time payload for a single file belonging to a
// published artifact: its size and finalized checksum.
type SegmentInfo struct {
	Size     int64
	Checksum string // 40-char lowercase hex SHA-1
}

// TranscodedVersionMetadata maps filename to SegmentInfo for every file
// that belongs to one ResourceKey+VersionLabel's published artifact.
type TranscodedVersionMetadata map[string]SegmentInfo

// Insert adds an entry, returning ErrDuplicateSegmentKey if the filename
// is already present. Metadata insertions must never silently overwrite.
func (m TranscodedVersionMetadata) Insert(filename string, info SegmentInfo) error {
	if _, exists := m[filename]; exists {
		return ErrDuplicateSegmentKey
	}
	m[filename] = info
	return nil
}

// OutputAttributes captures the requested attributes of one output
// version, used for the dedup / editing check ahead of a job.
type OutputAttributes struct {
	Container        string
	ElementaryStreams []string
	StorageAlias     string
	Height           int
	Width            int
	Bitrate          int
}

// Equal reports whether two attribute sets are identical for dedup
// purposes. Order of ElementaryStreams matters, matching the stable
// ordering the RPC job spec sends them in.
func (a OutputAttributes) Equal(b OutputAttributes) bool {
	if a.Container != b.Container || a.StorageAlias != b.StorageAlias ||
		a.Height != b.Height || a.Width != b.Width || a.Bitrate != b.Bitrate {
		return false
	}
	if len(a.ElementaryStreams) != len(b.ElementaryStreams) {
		return false
	}
	for i := range a.ElementaryStreams {
		if a.ElementaryStreams[i] != b.ElementaryStreams[i] {
			return false
		}
	}
	return true
}

// VersionRecord is the persisted row tracked by the version repository,
// used both for ownership checks and for the dedup/editing check.
type VersionRecord struct {
	Resource   ResourceKey
	Label      VersionLabel
	Attributes OutputAttributes
}
