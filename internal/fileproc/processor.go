// Package fileproc implements the File Processor: a polymorphic
// per-format worker with a source role (demux/decode) and a destination
// role (filter/encode/mux), dispatched by a static variant registry.
package fileproc

import (
	"context"
	"errors"

	"github.com/metalalive/atfp-go/internal/domain/model"
	"github.com/metalalive/atfp-go/internal/storage"
)

// ErrProcessingFailed wraps a domain-tagged processing error, mirroring
// a {domain_key: reason_string} convention.
type ErrProcessingFailed struct {
	Domain string
	Reason string
}

func (e *ErrProcessingFailed) Error() string {
	return e.Domain + ": " + e.Reason
}

var ErrNoVariantMatch = errors.New("fileproc: no registered variant matches this label")

// Data is the shared per-instance state every Processor operates on,
// corresponding to one polymorphic per-job "data" record.
type Data struct {
	Resource   model.ResourceKey
	Version    model.VersionLabel
	Outputs    map[string]OutputTarget
	PartsSize  []int64
	SourcePath string // local or remote base path for chunked source reads
	Source     storage.Backend
	Err        error
}

// OutputTarget is one requested destination's resolved working
// directory and attributes.
type OutputTarget struct {
	Attributes model.OutputAttributes
	WorkDir    string // <prefix>/transcoding/<version>

	// DestBackend is the storage.Backend the Segment Transfer Engine
	// writes finished segments and generic files into. A nil value is
	// treated as a local backend rooted at WorkDir, matching the common
	// case where the destination storage alias resolves to local disk.
	DestBackend storage.Backend

	// Metadata accumulates the {filename: {size, checksum}} entries the
	// transfer engine records as it moves ready files into WorkDir,
	// forming the commit-time payload for this version.
	Metadata model.TranscodedVersionMetadata
}

// Processor is the fixed operation set every FP variant implements.
type Processor interface {
	// Init sets up contexts/buffers, potentially scheduling async I/O.
	Init(ctx context.Context, data *Data) error

	// Deinit begins teardown, returning true if more cycles are required.
	Deinit(ctx context.Context) (bool, error)

	// Processing performs one cooperative unit of work.
	Processing(ctx context.Context) error

	// HasDoneProcessing reports whether further Processing calls are
	// required.
	HasDoneProcessing() bool

	// LabelMatch reports whether this variant handles the given
	// MIME/container label.
	LabelMatch(label string) bool
}

// Factory instantiates a fresh Processor for one variant.
type Factory func() Processor

// Registry is a static, ordered table mapping labels to factories.
// Lookup is a linear scan; first match wins.
type Registry struct {
	factories []Factory
}

func NewRegistry() *Registry { return &Registry{} }

// Register appends a factory. Order matters: earlier registrations are
// preferred on ambiguous matches, since each freshly instantiated
// Processor's own LabelMatch decides whether it accepts a label.
func (r *Registry) Register(factory Factory) {
	r.factories = append(r.factories, factory)
}

// Instantiate returns a fresh Processor for the first registered entry
// whose LabelMatch accepts label.
func (r *Registry) Instantiate(label string) (Processor, error) {
	for _, factory := range r.factories {
		p := factory()
		if p.LabelMatch(label) {
			return p, nil
		}
	}
	return nil, ErrNoVariantMatch
}
