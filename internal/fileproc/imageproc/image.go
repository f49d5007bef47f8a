// Package imageproc implements the image/ffmpeg-in (source) and
// image/ffmpeg-out (destination) File Processor variants, both of which
// shell out to ffmpeg for format conversion and resizing the same way
// the video variants do.
package imageproc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/metalalive/atfp-go/internal/domain/model"
	"github.com/metalalive/atfp-go/internal/fileproc"
	"github.com/metalalive/atfp-go/internal/storage"
	"github.com/metalalive/atfp-go/internal/transcoder"
	"github.com/metalalive/atfp-go/internal/transfer"
)

var sourceLabels = []string{"image/jpeg", "image/png", "image/webp"}

// InProcessor is the image/ffmpeg-in source variant: it validates and
// exposes the original image bytes for downstream destination
// processors.
type InProcessor struct {
	data *fileproc.Data
	done bool
}

func NewInProcessor() fileproc.Processor { return &InProcessor{} }

func (p *InProcessor) LabelMatch(label string) bool {
	for _, l := range sourceLabels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

func (p *InProcessor) Init(ctx context.Context, data *fileproc.Data) error {
	p.data = data
	if _, err := os.Stat(data.SourcePath); err != nil {
		return &fileproc.ErrProcessingFailed{Domain: "storage", Reason: fmt.Sprintf("source image not found: %v", err)}
	}
	return nil
}

func (p *InProcessor) Processing(ctx context.Context) error {
	p.done = true
	return nil
}

func (p *InProcessor) HasDoneProcessing() bool { return p.done }

func (p *InProcessor) Deinit(ctx context.Context) (bool, error) { return false, nil }

// OutConfig carries the ffmpeg invocation parameters for an image
// destination rendition.
type OutConfig struct {
	FFmpegPath string
	Width      int
	Height     int
	Format     string // e.g. "jpg", "png", "webp"
}

func DefaultOutConfig() OutConfig {
	return OutConfig{FFmpegPath: "ffmpeg", Width: 1280, Height: 720, Format: "jpg"}
}

// OutProcessor is the image/ffmpeg-out destination variant: it resizes
// and re-encodes into one requested output attribute set.
type OutProcessor struct {
	cfg        OutConfig
	codec      transcoder.Backend
	data       *fileproc.Data
	target     fileproc.OutputTarget
	scratchDir string
	done       bool
}

func NewOutProcessor(cfg OutConfig, codec transcoder.Backend) fileproc.Processor {
	return &OutProcessor{cfg: cfg, codec: codec}
}

func (p *OutProcessor) LabelMatch(label string) bool {
	return strings.EqualFold(label, "image") || strings.HasPrefix(strings.ToLower(label), "image/")
}

func (p *OutProcessor) Init(ctx context.Context, data *fileproc.Data) error {
	p.data = data
	target, ok := data.Outputs[string(data.Version)]
	if !ok {
		return &fileproc.ErrProcessingFailed{Domain: "transcoder", Reason: "output target not found for version"}
	}
	if target.Metadata == nil {
		target.Metadata = make(model.TranscodedVersionMetadata)
	}
	p.target = target
	p.scratchDir = filepath.Join(os.TempDir(), "atfp-image-scratch", data.Resource.Dir(), string(data.Version))
	if err := os.MkdirAll(p.scratchDir, 0o755); err != nil {
		return fmt.Errorf("imageproc: mkdir scratch dir: %w", err)
	}
	return os.MkdirAll(target.WorkDir, 0o755)
}

func (p *OutProcessor) HasDoneProcessing() bool { return p.done }

func (p *OutProcessor) Processing(ctx context.Context) error {
	basename := "image." + p.cfg.Format
	scratchPath := filepath.Join(p.scratchDir, basename)
	scaleFilter := fmt.Sprintf("scale=%d:%d", p.cfg.Width, p.cfg.Height)

	args := []string{"-i", p.data.SourcePath, "-vf", scaleFilter, "-y", scratchPath}
	if err := p.codec.Run(ctx, p.cfg.FFmpegPath, args); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("imageproc: transcoding cancelled: %w", ctx.Err())
		}
		return &fileproc.ErrProcessingFailed{Domain: "transcoder", Reason: fmt.Sprintf("ffmpeg execution failed: %v", err)}
	}

	dest := p.target.DestBackend
	if dest == nil {
		dest = storage.NewLocalBackend()
	}
	engine := &transfer.Engine{Local: storage.NewLocalBackend(), Dest: dest}
	if _, err := engine.TransferGeneric(ctx, scratchPath, p.target.WorkDir, basename, 64*1024, p.target.Metadata); err != nil {
		return &fileproc.ErrProcessingFailed{Domain: "storage", Reason: fmt.Sprintf("transfer output image: %v", err)}
	}

	p.done = true
	return nil
}

func (p *OutProcessor) Deinit(ctx context.Context) (bool, error) {
	if p.scratchDir != "" {
		_ = os.RemoveAll(p.scratchDir)
	}
	return false, nil
}
