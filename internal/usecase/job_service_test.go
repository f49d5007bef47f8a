package usecase

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/metalalive/atfp-go/internal/contentcache"
	"github.com/metalalive/atfp-go/internal/crypto"
	"github.com/metalalive/atfp-go/internal/domain/model"
	"github.com/metalalive/atfp-go/internal/domain/repository"
	"github.com/metalalive/atfp-go/internal/fileproc"
	"github.com/metalalive/atfp-go/internal/staging"
	"github.com/metalalive/atfp-go/internal/storage"
)

// stubSourceProcessor accepts any MIME label whose sniff result starts
// with "text/", standing in for a real source FP variant in these tests.
type stubSourceProcessor struct{ done bool }

func (p *stubSourceProcessor) Init(ctx context.Context, data *fileproc.Data) error { return nil }
func (p *stubSourceProcessor) Deinit(ctx context.Context) (bool, error)           { return false, nil }
func (p *stubSourceProcessor) Processing(ctx context.Context) error              { p.done = true; return nil }
func (p *stubSourceProcessor) HasDoneProcessing() bool                           { return p.done }
func (p *stubSourceProcessor) LabelMatch(label string) bool                      { return strings.HasPrefix(label, "text/") }

// stubDestProcessor mimics a destination FP variant: on Init it resolves
// its own OutputTarget by data.Version and mkdirs WorkDir; Processing
// writes one file directly into WorkDir, standing in for the Segment
// Transfer Engine publish step a real codec-backed variant runs.
type stubDestProcessor struct {
	workDir string
	done    bool
}

func (p *stubDestProcessor) Init(ctx context.Context, data *fileproc.Data) error {
	target, ok := data.Outputs[string(data.Version)]
	if !ok {
		return &fileproc.ErrProcessingFailed{Domain: "test", Reason: "missing output target"}
	}
	p.workDir = target.WorkDir
	return os.MkdirAll(p.workDir, 0o755)
}
func (p *stubDestProcessor) Deinit(ctx context.Context) (bool, error) { return false, nil }
func (p *stubDestProcessor) Processing(ctx context.Context) error {
	if err := os.WriteFile(filepath.Join(p.workDir, "seg"), []byte("x"), 0o644); err != nil {
		return err
	}
	p.done = true
	return nil
}
func (p *stubDestProcessor) HasDoneProcessing() bool      { return p.done }
func (p *stubDestProcessor) LabelMatch(label string) bool { return label == "hls" }

type memKeyStore struct{ keys []model.CryptoKey }

func (s *memKeyStore) Load() ([]model.CryptoKey, error) { return s.keys, nil }
func (s *memKeyStore) Save(keys []model.CryptoKey) error {
	s.keys = keys
	return nil
}

func newTestJobService(t *testing.T) (*JobService, *fakeDelegateRepo, string) {
	t.Helper()
	uploadRoot := t.TempDir()
	stagingRoot := t.TempDir()
	cacheRoot := t.TempDir()

	resource := model.ResourceKey{UserID: 1, UploadReqID: 2}
	chunkDir := filepath.Join(uploadRoot, resource.Dir())
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := []byte(strings.Repeat("hello world ", 10))
	if err := os.WriteFile(filepath.Join(chunkDir, "1"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	sourceRegistry := fileproc.NewRegistry()
	sourceRegistry.Register(func() fileproc.Processor { return &stubSourceProcessor{} })
	destRegistry := fileproc.NewRegistry()
	destRegistry.Register(func() fileproc.Processor { return &stubDestProcessor{} })

	versions := newFakeDelegateRepo()
	resolver := NewStaticStorageResolver(storage.NewLocalBackend(), nil)
	stagingMgr := staging.NewManager(storage.NewLocalBackend())
	cache := contentcache.NewCache(cacheRoot)

	keyManager, err := crypto.NewManager(&memKeyStore{keys: []model.CryptoKey{{
		KeyID:     "0011223344556677",
		Key:       strings.Repeat("ab", 16),
		IV:        strings.Repeat("cd", 16),
		Algorithm: "AES-128-CBC",
		Timestamp: 1,
	}}}, nil, time.Hour)
	if err != nil {
		t.Fatalf("crypto.NewManager: %v", err)
	}

	svc := NewJobService(versions, sourceRegistry, destRegistry, resolver, stagingMgr, cache, keyManager, JobServiceConfig{
		UploadRoot:  uploadRoot,
		StagingRoot: stagingRoot,
	})
	return svc, versions, stagingRoot
}

func baseJob() repository.TranscodeJob {
	return repository.TranscodeJob{
		JobID:           "job-1",
		UserID:          1,
		LastUploadReqID: 2,
		Outputs: map[string]repository.OutputSpec{
			"v1": {Container: "hls", ElementaryStreams: []string{"a"}, VideoKey: "vid"},
		},
		ElementaryStreams: map[string]repository.ElementaryStreamSpec{
			"vid": {Type: "video", Codec: "h264", Attribute: map[string]string{
				"height": "720", "width": "1280", "bitrate": "3000000",
			}},
		},
		ResourceID:   "r1",
		ResIDEncoded: "encoded-doc-id",
	}
}

func TestJobService_ProcessJob_CommitsAndPersistsVersion(t *testing.T) {
	svc, versions, stagingRoot := newTestJobService(t)
	job := baseJob()

	reply, err := svc.ProcessJob(context.Background(), job)
	if err != nil {
		t.Fatalf("ProcessJob: %v", err)
	}
	if reply.Status != repository.JobReplyDone {
		t.Errorf("Status = %v, want done", reply.Status)
	}

	resource := model.ResourceKey{UserID: 1, UploadReqID: 2}
	rec, err := versions.Get(context.Background(), resource, "v1")
	if err != nil {
		t.Fatalf("versions.Get: %v", err)
	}
	if rec.Attributes.Height != 720 || rec.Attributes.Width != 1280 || rec.Attributes.Bitrate != 3000000 {
		t.Errorf("unexpected attributes: %+v", rec.Attributes)
	}

	committed := model.StagedVersionDir{Root: stagingRoot, Resource: resource, Label: "v1"}.Committed()
	if _, err := os.Stat(filepath.Join(committed, "seg")); err != nil {
		t.Errorf("expected committed segment file: %v", err)
	}
}

func TestJobService_ProcessJob_SkipsIdenticalRerun(t *testing.T) {
	svc, versions, _ := newTestJobService(t)
	job := baseJob()

	if _, err := svc.ProcessJob(context.Background(), job); err != nil {
		t.Fatalf("first ProcessJob: %v", err)
	}
	resource := model.ResourceKey{UserID: 1, UploadReqID: 2}
	first, err := versions.Get(context.Background(), resource, "v1")
	if err != nil {
		t.Fatalf("versions.Get: %v", err)
	}

	reply, err := svc.ProcessJob(context.Background(), job)
	if err != nil {
		t.Fatalf("second ProcessJob: %v", err)
	}
	if reply.Status != repository.JobReplyDone {
		t.Errorf("Status = %v, want done", reply.Status)
	}

	second, err := versions.Get(context.Background(), resource, "v1")
	if err != nil {
		t.Fatalf("versions.Get after rerun: %v", err)
	}
	if !first.Attributes.Equal(second.Attributes) {
		t.Errorf("expected attributes unchanged across a dropped rerun: %+v vs %+v", first, second)
	}
}

func TestJobService_ProcessJob_ReturnsErrorReplyOnUnresolvableAlias(t *testing.T) {
	svc, _, _ := newTestJobService(t)
	job := baseJob()
	job.StorageAlias = "does-not-exist"

	reply, err := svc.ProcessJob(context.Background(), job)
	if err == nil {
		t.Fatal("expected error")
	}
	if reply.Status != repository.JobReplyError {
		t.Errorf("Status = %v, want error", reply.Status)
	}
	if reply.Error == "" {
		t.Error("expected reply.Error to be populated")
	}
}
