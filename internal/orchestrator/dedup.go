package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/metalalive/atfp-go/internal/domain/model"
	"github.com/metalalive/atfp-go/internal/domain/repository"
	"github.com/metalalive/atfp-go/internal/fileproc"
)

// DeriveOutputAttributes builds the OutputAttributes a requested output
// will carry once processed, resolving its video elementary stream's
// height/width/bitrate out of the job's elementary stream table so the
// same derivation feeds both the dedup/editing check and the persisted
// version record.
func DeriveOutputAttributes(spec repository.OutputSpec, streams map[string]repository.ElementaryStreamSpec) model.OutputAttributes {
	attrs := model.OutputAttributes{
		Container:         spec.Container,
		ElementaryStreams: spec.ElementaryStreams,
		StorageAlias:      spec.StorageAlias,
	}
	video, ok := streams[spec.VideoKey]
	if !ok {
		return attrs
	}
	attrs.Height = atoiOrZero(video.Attribute["height"])
	attrs.Width = atoiOrZero(video.Attribute["width"])
	attrs.Bitrate = atoiOrZero(video.Attribute["bitrate"])
	return attrs
}

func atoiOrZero(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// BuildDestinationSlots resolves one Processor per requested output and
// marks slots Dropped when an identical version already exists: the
// job proceeds only for outputs whose attributes changed or
// that are entirely new, sized to exactly len(outputs) entries so the
// bounded-array capacity matches json_object_size(outputs) at
// construction time.
func BuildDestinationSlots(ctx context.Context, resource model.ResourceKey, outputs map[string]repository.OutputSpec, streams map[string]repository.ElementaryStreamSpec, versions repository.VersionRepository, registry *fileproc.Registry) ([]*DestinationSlot, error) {
	slots := make([]*DestinationSlot, 0, len(outputs))

	for label, spec := range outputs {
		requested := DeriveOutputAttributes(spec, streams)

		existing, err := versions.Get(ctx, resource, model.VersionLabel(label))
		switch {
		case err == nil:
			if existing.Attributes.Equal(requested) {
				slots = append(slots, &DestinationSlot{Label: model.VersionLabel(label), Dropped: true})
				continue
			}
		case errors.Is(err, repository.ErrVersionNotFound):
			// no prior version: proceeds unconditionally.
		default:
			return nil, fmt.Errorf("orchestrator: check existing version %s: %w", label, err)
		}

		processor, err := registry.Instantiate(spec.Container)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: resolve processor for %s (%s): %w", label, spec.Container, err)
		}
		slots = append(slots, &DestinationSlot{Label: model.VersionLabel(label), Processor: processor})
	}

	return slots, nil
}
