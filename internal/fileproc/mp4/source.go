// Package mp4 implements the video/mp4 source File Processor variant:
// it sniffs and demuxes a chunked original upload, exposing the
// underlying bytes for downstream destination processors.
package mp4

import (
	"context"
	"fmt"
	"strings"

	"github.com/metalalive/atfp-go/internal/fileproc"
)

// SupportedLabels are the container/MIME labels this variant accepts,
// checked against the first SniffSize bytes of chunk 1.
var SupportedLabels = []string{"video/mp4", "video/quicktime", "video/x-m4v"}

// SniffSize is the number of leading bytes read from the first chunk to
// MIME-sniff a source's container format.
const SniffSize = 64

// SourceProcessor demuxes an mp4/mov-family upload for downstream
// destination processors to consume.
type SourceProcessor struct {
	data     *fileproc.Data
	cursor   *fileproc.SourceChunkCursor
	done     bool
}

func NewSourceProcessor() fileproc.Processor {
	return &SourceProcessor{}
}

func (p *SourceProcessor) LabelMatch(label string) bool {
	for _, l := range SupportedLabels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

func (p *SourceProcessor) Init(ctx context.Context, data *fileproc.Data) error {
	p.data = data
	p.cursor = &fileproc.SourceChunkCursor{
		Backend:   data.Source,
		Basepath:  data.SourcePath,
		PartsSize: data.PartsSize,
	}
	if err := p.cursor.SwitchTo(ctx, 1); err != nil {
		return fmt.Errorf("mp4: open first chunk: %w", err)
	}
	return nil
}

// Processing is a no-op for the source side beyond chunk management: the
// actual demux/decode work is delegated to the destination processors'
// ffmpeg invocation, which reads directly from the assembled chunk
// sequence. This mirrors the ffmpeg-CLI-subprocess pattern used elsewhere,
// where libavformat demuxing happens inside the ffmpeg process rather
// than in hand-rolled Go code.
func (p *SourceProcessor) Processing(ctx context.Context) error {
	p.done = true
	return nil
}

func (p *SourceProcessor) HasDoneProcessing() bool { return p.done }

func (p *SourceProcessor) Deinit(ctx context.Context) (bool, error) {
	if p.cursor != nil {
		if err := p.cursor.Close(); err != nil {
			return false, fmt.Errorf("mp4: close source chunk: %w", err)
		}
	}
	return false, nil
}
