package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/metalalive/atfp-go/internal/contentcache"
	"github.com/metalalive/atfp-go/internal/crypto"
	"github.com/metalalive/atfp-go/internal/domain/model"
	"github.com/metalalive/atfp-go/internal/domain/repository"
	"github.com/metalalive/atfp-go/internal/fileproc"
	"github.com/metalalive/atfp-go/internal/fileproc/hls"
	"github.com/metalalive/atfp-go/internal/fileproc/mp4"
	"github.com/metalalive/atfp-go/internal/infrastructure/metrics"
	"github.com/metalalive/atfp-go/internal/orchestrator"
	"github.com/metalalive/atfp-go/internal/staging"
	"github.com/metalalive/atfp-go/internal/storage"
)

// StorageResolver maps a job's storage_alias string to the Backend the
// Segment Transfer Engine and source chunk reads run against. "" and
// "local" always resolve to a local-disk backend; every other alias is
// whatever the deployment wired (typically a MinIO-backed RemoteBackend
// per bucket).
type StorageResolver interface {
	Resolve(alias string) (storage.Backend, error)
}

// staticStorageResolver is a fixed alias table built once at startup.
type staticStorageResolver struct {
	local   storage.Backend
	remotes map[string]storage.Backend
}

// NewStaticStorageResolver builds a resolver over a fixed local backend
// and a fixed set of remote aliases. Passing nil or an empty alias to
// Resolve always yields local.
func NewStaticStorageResolver(local storage.Backend, remotes map[string]storage.Backend) StorageResolver {
	return &staticStorageResolver{local: local, remotes: remotes}
}

func (r *staticStorageResolver) Resolve(alias string) (storage.Backend, error) {
	if alias == "" || alias == "local" {
		return r.local, nil
	}
	if b, ok := r.remotes[alias]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("usecase: unknown storage alias %q", alias)
}

// JobServiceConfig locates the on-disk roots JobService needs beyond what
// a TranscodeJob message itself carries.
type JobServiceConfig struct {
	// UploadRoot is the base path under which chunked original uploads
	// live, joined with the resource's directory to form SourcePath.
	UploadRoot string
	// StagingRoot is the root every StagedVersionDir is computed under.
	StagingRoot string
}

// JobService runs one TranscodeJob message end to end: resolves storage
// aliases, sniffs the source container, builds the destination slots
// surviving the dedup/editing check, drives the ATFP Orchestrator through
// init/process/commit/teardown, persists the resulting version records,
// and seeds the content cache sidecar for any committed HLS rendition.
type JobService struct {
	versions repository.VersionRepository
	// sourceRegistry and destRegistry are kept separate because a source
	// container label and a destination container label can collide
	// (e.g. image/jpeg names both imageproc.InProcessor and
	// imageproc.OutProcessor); one shared Registry would resolve both
	// dispatches to whichever Factory was registered first.
	sourceRegistry *fileproc.Registry
	destRegistry   *fileproc.Registry
	storages       StorageResolver
	stagingMgr     *staging.Manager
	cache          *contentcache.Cache
	keyManager     *crypto.Manager
	cfg            JobServiceConfig
}

func NewJobService(
	versions repository.VersionRepository,
	sourceRegistry *fileproc.Registry,
	destRegistry *fileproc.Registry,
	storages StorageResolver,
	stagingMgr *staging.Manager,
	cache *contentcache.Cache,
	keyManager *crypto.Manager,
	cfg JobServiceConfig,
) *JobService {
	return &JobService{
		versions:       versions,
		sourceRegistry: sourceRegistry,
		destRegistry:   destRegistry,
		storages:       storages,
		stagingMgr:     stagingMgr,
		cache:          cache,
		keyManager:     keyManager,
		cfg:            cfg,
	}
}

// ProcessJob is the repository.MessageQueue.ConsumeJobs handler: it never
// returns a progress reply itself, only the terminal done/error reply,
// since the destination step cadence (a handful of ffmpeg invocations
// per job) does not warrant the added publish traffic of step-by-step
// progress reporting.
func (s *JobService) ProcessJob(ctx context.Context, job repository.TranscodeJob) (repository.JobReply, error) {
	reply, err := s.processJob(ctx, job)
	if err != nil {
		metrics.JobsProcessedTotal.WithLabelValues(metrics.JobStatusError).Inc()
		return repository.JobReply{JobID: job.JobID, Status: repository.JobReplyError, Error: err.Error()}, err
	}
	metrics.JobsProcessedTotal.WithLabelValues(metrics.JobStatusDone).Inc()
	return reply, nil
}

func (s *JobService) processJob(ctx context.Context, job repository.TranscodeJob) (repository.JobReply, error) {
	resource, err := model.NewResourceKey(job.UserID, job.LastUploadReqID)
	if err != nil {
		return repository.JobReply{}, fmt.Errorf("usecase: invalid resource key: %w", err)
	}

	sourceBackend, err := s.storages.Resolve(job.StorageAlias)
	if err != nil {
		return repository.JobReply{}, err
	}
	sourcePath := filepath.Join(s.cfg.UploadRoot, resource.Dir())

	containerLabel, err := sniffContainer(ctx, sourceBackend, sourcePath)
	if err != nil {
		return repository.JobReply{}, fmt.Errorf("usecase: sniff source container: %w", err)
	}
	sourceProcessor, err := s.sourceRegistry.Instantiate(containerLabel)
	if err != nil {
		return repository.JobReply{}, fmt.Errorf("usecase: resolve source processor for %s: %w", containerLabel, err)
	}

	slots, err := orchestrator.BuildDestinationSlots(ctx, resource, job.Outputs, job.ElementaryStreams, s.versions, s.destRegistry)
	if err != nil {
		return repository.JobReply{}, err
	}

	outputs, err := s.buildOutputTargets(resource, job)
	if err != nil {
		return repository.JobReply{}, err
	}

	data := &fileproc.Data{
		Resource:   resource,
		Outputs:    outputs,
		PartsSize:  job.PartsSize,
		SourcePath: sourcePath,
		Source:     sourceBackend,
	}

	j := orchestrator.New(resource, sourceProcessor, slots, s.versions, s.stagingMgr, s.cfg.StagingRoot)

	if err := s.runJob(ctx, j, data); err != nil {
		return repository.JobReply{}, err
	}

	if err := s.persistVersions(ctx, resource, slots, outputs); err != nil {
		return repository.JobReply{}, err
	}

	if err := s.seedCacheSidecar(resource, job, slots, outputs); err != nil {
		slog.Warn("failed to seed content cache sidecar", "resource", resource.Dir(), "error", err)
	}

	return repository.JobReply{JobID: job.JobID, Status: repository.JobReplyDone, PercentDone: 100}, nil
}

// runJob drives Setup/Run/Commit, always attempting Teardown afterward
// regardless of outcome so FP-held resources (scratch dirs, open chunks)
// are released.
func (s *JobService) runJob(ctx context.Context, j *orchestrator.Job, data *fileproc.Data) error {
	setupErr := j.Setup(ctx, data)
	var runErr, commitErr error
	if setupErr == nil {
		if runErr = j.Run(ctx); runErr == nil {
			commitErr = j.Commit(ctx)
		}
	}

	if err := j.Teardown(ctx); err != nil {
		slog.Warn("job teardown reported an error", "error", err)
	}

	if setupErr != nil {
		return fmt.Errorf("usecase: job setup: %w", setupErr)
	}
	if runErr != nil {
		return fmt.Errorf("usecase: job run: %w", runErr)
	}
	if commitErr != nil {
		return fmt.Errorf("usecase: job commit: %w", commitErr)
	}
	return nil
}

// buildOutputTargets resolves every requested output's destination
// backend and working directory, and derives its OutputAttributes from
// the job's elementary stream table.
func (s *JobService) buildOutputTargets(resource model.ResourceKey, job repository.TranscodeJob) (map[string]fileproc.OutputTarget, error) {
	outputs := make(map[string]fileproc.OutputTarget, len(job.Outputs))
	for label, spec := range job.Outputs {
		destBackend, err := s.storages.Resolve(spec.StorageAlias)
		if err != nil {
			return nil, err
		}
		dir := model.StagedVersionDir{Root: s.cfg.StagingRoot, Resource: resource, Label: model.VersionLabel(label)}
		outputs[label] = fileproc.OutputTarget{
			Attributes:  orchestrator.DeriveOutputAttributes(spec, job.ElementaryStreams),
			WorkDir:     dir.Transcoding(),
			DestBackend: destBackend,
			Metadata:    make(model.TranscodedVersionMetadata),
		}
	}
	return outputs, nil
}

// persistVersions writes a Create or Update row for every live
// destination slot once its processing and commit have succeeded:
// Create for a label with no prior record, Update otherwise.
func (s *JobService) persistVersions(ctx context.Context, resource model.ResourceKey, slots []*orchestrator.DestinationSlot, outputs map[string]fileproc.OutputTarget) error {
	for _, slot := range slots {
		if slot.Dropped {
			continue
		}
		target, ok := outputs[string(slot.Label)]
		if !ok {
			return fmt.Errorf("usecase: no output target resolved for %s", slot.Label)
		}
		rec := model.VersionRecord{Resource: resource, Label: slot.Label, Attributes: target.Attributes}

		_, err := s.versions.Get(ctx, resource, slot.Label)
		switch {
		case errors.Is(err, repository.ErrVersionNotFound):
			if err := s.versions.Create(ctx, rec); err != nil {
				return fmt.Errorf("usecase: create version %s: %w", slot.Label, err)
			}
		case err == nil:
			if err := s.versions.Update(ctx, rec); err != nil {
				return fmt.Errorf("usecase: update version %s: %w", slot.Label, err)
			}
		default:
			return fmt.Errorf("usecase: check version %s before persist: %w", slot.Label, err)
		}
	}
	return nil
}

// seedCacheSidecar writes the non-stream content cache's metadata.json
// for the job's encrypted document ID once, if the job produced at least
// one committed HLS rendition. The sidecar is written once per document
// ID regardless of how many quality levels were requested: the cache
// entry is keyed by resource, not by version label.
func (s *JobService) seedCacheSidecar(resource model.ResourceKey, job repository.TranscodeJob, slots []*orchestrator.DestinationSlot, outputs map[string]fileproc.OutputTarget) error {
	if s.cache == nil || job.ResIDEncoded == "" {
		return nil
	}
	if !anyHLSDestination(slots, outputs) {
		return nil
	}

	key, err := s.keyManager.GetKey(model.CryptoKeyMostRecentSentinel)
	if err != nil {
		return fmt.Errorf("resolve encryption key for sidecar: %w", err)
	}
	sidecar := model.CacheSidecar{
		MimeType:    "application/x-mpegURL",
		KeyID:       key.KeyID,
		UserID:      resource.UserID,
		UploadReqID: resource.UploadReqID,
	}
	return s.cache.WriteSidecarOnce(model.EncryptedDocID(job.ResIDEncoded), sidecar)
}

func anyHLSDestination(slots []*orchestrator.DestinationSlot, outputs map[string]fileproc.OutputTarget) bool {
	for _, slot := range slots {
		if slot.Dropped {
			continue
		}
		target, ok := outputs[string(slot.Label)]
		if !ok {
			continue
		}
		for _, l := range hls.SupportedLabels {
			if strings.EqualFold(l, target.Attributes.Container) {
				return true
			}
		}
	}
	return false
}

// sniffContainer reads the leading bytes of the original upload's first
// chunk and MIME-sniffs its container format, the input the registry
// dispatches a source Processor on.
func sniffContainer(ctx context.Context, backend storage.Backend, basepath string) (string, error) {
	h, err := backend.Open(ctx, basepath+"/1", storage.ReadOnly, 0)
	if err != nil {
		return "", fmt.Errorf("open first chunk: %w", err)
	}
	defer h.Close()

	buf := make([]byte, mp4.SniffSize)
	n, err := backend.Read(ctx, h, 0, buf)
	if err != nil && n == 0 {
		return "", fmt.Errorf("read first chunk: %w", err)
	}
	return mimetype.Detect(buf[:n]).String(), nil
}
