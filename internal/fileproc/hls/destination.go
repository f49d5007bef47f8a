// Package hls implements the video/hls destination File Processor
// variant: it filters/encodes a source into an HLS rendition with
// AES-128-CBC encrypted segments, producing a master playlist, a
// per-quality level-2 playlist, and numbered segment files. It has no
// streaming-read path; the content cache fills misses by copying
// already-committed files instead.
package hls

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/metalalive/atfp-go/internal/crypto"
	"github.com/metalalive/atfp-go/internal/domain/model"
	"github.com/metalalive/atfp-go/internal/fileproc"
	"github.com/metalalive/atfp-go/internal/storage"
	"github.com/metalalive/atfp-go/internal/transcoder"
	"github.com/metalalive/atfp-go/internal/transfer"
)

// SupportedLabels are the container labels this variant accepts.
var SupportedLabels = []string{"hls", "application/x-mpegURL"}

const (
	SegmentPrefix    = "data_seg_"
	SegmentNumDigits = 4
	MasterPlaylist   = "mst_plist.m3u8"
	LevelPlaylist    = "lvl2_plist.m3u8"
	// FMP4InitPacketMap names the JSON manifest of every file this
	// rendition published, standing in for the fMP4 container's init
	// segment packet map.
	FMP4InitPacketMap = "init_packet_map"
	// KeyRequestLabel names the sentinel a client reads to learn which
	// crypto key id to request for this rendition's encrypted segments;
	// its content is the key id, never the key material.
	KeyRequestLabel = "key_request"
	// MaxTargetDurationDigits bounds EXT-X-TARGETDURATION to <= 15 bytes
	// to a value ffmpeg's playlist parser tolerates.
	MaxTargetDurationDigits = 15
)

// Config carries the ffmpeg invocation parameters for one destination,
// modeled on a typical FFmpegConfig/buildFFmpegArgs pattern and
// extended with HLS segment encryption.
type Config struct {
	FFmpegPath         string
	VideoHeight        int
	VideoCodec         string
	VideoPreset        string
	AudioCodec         string
	SegmentDurationSec int
}

func DefaultConfig() Config {
	return Config{
		FFmpegPath:         "ffmpeg",
		VideoHeight:        720,
		VideoCodec:         "libx264",
		VideoPreset:        "fast",
		AudioCodec:         "aac",
		SegmentDurationSec: 6,
	}
}

// DestinationProcessor encodes a source into an encrypted HLS rendition.
// ffmpeg writes its output into a private local scratch directory; the
// Segment Transfer Engine then moves every ready file from scratch into
// the resolved destination storage, checksumming each as it goes, so
// this variant exercises the same publish path a remote
// destination storage alias would use.
type DestinationProcessor struct {
	cfg    Config
	codec  transcoder.Backend
	data   *fileproc.Data
	target fileproc.OutputTarget

	keyManager     *crypto.Manager
	scratchDir     string
	numPlistMerged int
	done           bool
}

func NewDestinationProcessor(cfg Config, codec transcoder.Backend, keyManager *crypto.Manager) fileproc.Processor {
	return &DestinationProcessor{cfg: cfg, codec: codec, keyManager: keyManager}
}

func (p *DestinationProcessor) LabelMatch(label string) bool {
	for _, l := range SupportedLabels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

func (p *DestinationProcessor) Init(ctx context.Context, data *fileproc.Data) error {
	p.data = data
	target, ok := data.Outputs[string(data.Version)]
	if !ok {
		return &fileproc.ErrProcessingFailed{Domain: "transcoder", Reason: "output target not found for version"}
	}
	if target.Metadata == nil {
		target.Metadata = make(model.TranscodedVersionMetadata)
	}
	p.target = target
	p.scratchDir = filepath.Join(os.TempDir(), "atfp-hls-scratch", data.Resource.Dir(), string(data.Version))
	if err := os.MkdirAll(p.scratchDir, 0o755); err != nil {
		return fmt.Errorf("hls: mkdir scratch dir: %w", err)
	}
	return os.MkdirAll(p.target.WorkDir, 0o755)
}

func (p *DestinationProcessor) HasDoneProcessing() bool { return p.done }

// Processing runs the ffmpeg encode into the scratch directory,
// encrypting every segment with the current-most-recent key via
// -hls_key_info_file, then hands every produced segment and the level
// playlist to the Segment Transfer Engine for publish into WorkDir.
func (p *DestinationProcessor) Processing(ctx context.Context) error {
	keyInfoPath, keyID, err := p.writeKeyInfoFile(ctx)
	if err != nil {
		return &fileproc.ErrProcessingFailed{Domain: "transcoder", Reason: err.Error()}
	}

	playlistPath := filepath.Join(p.scratchDir, LevelPlaylist)
	segmentPattern := filepath.Join(p.scratchDir, SegmentPrefix+"%0"+strconv.Itoa(SegmentNumDigits)+"d")

	args := p.buildArgs(keyInfoPath, playlistPath, segmentPattern)
	if err := p.codec.Run(ctx, p.cfg.FFmpegPath, args); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("hls: transcoding cancelled: %w", ctx.Err())
		}
		return &fileproc.ErrProcessingFailed{Domain: "transcoder", Reason: fmt.Sprintf("ffmpeg execution failed: %v", err)}
	}

	if err := p.publishScratch(ctx); err != nil {
		return &fileproc.ErrProcessingFailed{Domain: "storage", Reason: err.Error()}
	}
	if err := p.publishInitPacketMap(ctx); err != nil {
		return &fileproc.ErrProcessingFailed{Domain: "storage", Reason: err.Error()}
	}
	if err := p.publishKeyRequestLabel(ctx, keyID); err != nil {
		return &fileproc.ErrProcessingFailed{Domain: "storage", Reason: err.Error()}
	}

	if err := p.writeMasterPlaylist(); err != nil {
		return &fileproc.ErrProcessingFailed{Domain: "transcoder", Reason: err.Error()}
	}
	p.numPlistMerged++
	p.done = true
	return nil
}

// engine builds a Segment Transfer Engine targeting this destination's
// resolved backend, falling back to local disk when none was resolved.
func (p *DestinationProcessor) engine() *transfer.Engine {
	dest := p.target.DestBackend
	if dest == nil {
		dest = storage.NewLocalBackend()
	}
	return &transfer.Engine{Local: storage.NewLocalBackend(), Dest: dest}
}

// publishScratch transfers every segment ffmpeg wrote into the scratch
// directory, in filename order, then the level playlist, via the
// Segment Transfer Engine.
func (p *DestinationProcessor) publishScratch(ctx context.Context) error {
	engine := p.engine()

	entries, err := os.ReadDir(p.scratchDir)
	if err != nil {
		return fmt.Errorf("read scratch dir: %w", err)
	}
	var segments []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), SegmentPrefix) {
			continue
		}
		segments = append(segments, e.Name())
	}
	sort.Strings(segments)

	for i, name := range segments {
		cfg := transfer.SegmentConfig{
			Basepath:      p.target.WorkDir,
			SegmentPrefix: SegmentPrefix,
			NumDigits:     SegmentNumDigits,
			ReadyIndex:    i,
			ReadyListLen:  len(segments),
			ChunkSize:     64 * 1024,
		}
		if _, err := engine.Transfer(ctx, filepath.Join(p.scratchDir, name), cfg, p.target.Metadata); err != nil {
			return fmt.Errorf("transfer segment %s: %w", name, err)
		}
	}

	if _, err := engine.TransferGeneric(ctx, playlistScratchPath(p.scratchDir), p.target.WorkDir, LevelPlaylist, 64*1024, p.target.Metadata); err != nil {
		return fmt.Errorf("transfer level playlist: %w", err)
	}
	return nil
}

func playlistScratchPath(scratchDir string) string {
	return filepath.Join(scratchDir, LevelPlaylist)
}

// publishInitPacketMap writes a JSON manifest of every file this cycle
// has transferred into WorkDir so far (segments and the level playlist),
// standing in for the fMP4 container's init segment packet map a
// streaming client bootstraps seeking from.
func (p *DestinationProcessor) publishInitPacketMap(ctx context.Context) error {
	payload, err := json.Marshal(p.target.Metadata)
	if err != nil {
		return fmt.Errorf("marshal init packet map: %w", err)
	}
	scratchPath := filepath.Join(p.scratchDir, FMP4InitPacketMap)
	if err := os.WriteFile(scratchPath, payload, 0o644); err != nil {
		return fmt.Errorf("write init packet map: %w", err)
	}
	_, err = p.engine().TransferGeneric(ctx, scratchPath, p.target.WorkDir, FMP4InitPacketMap, 64*1024, p.target.Metadata)
	return err
}

// publishKeyRequestLabel writes the key_request sentinel naming which
// key id a client must resolve through the Crypto Key Manager to
// decrypt this rendition's segments.
func (p *DestinationProcessor) publishKeyRequestLabel(ctx context.Context, keyID string) error {
	scratchPath := filepath.Join(p.scratchDir, KeyRequestLabel)
	if err := os.WriteFile(scratchPath, []byte(keyID), 0o644); err != nil {
		return fmt.Errorf("write key request label: %w", err)
	}
	_, err := p.engine().TransferGeneric(ctx, scratchPath, p.target.WorkDir, KeyRequestLabel, 64*1024, p.target.Metadata)
	return err
}

func (p *DestinationProcessor) writeKeyInfoFile(ctx context.Context) (string, string, error) {
	key, err := p.keyManager.GetKey(model.CryptoKeyMostRecentSentinel)
	if err != nil {
		return "", "", fmt.Errorf("resolve encryption key: %w", err)
	}
	keyFilePath := filepath.Join(p.scratchDir, ".key")
	if err := os.WriteFile(keyFilePath, []byte(key.Key), 0o600); err != nil {
		return "", "", fmt.Errorf("write key file: %w", err)
	}
	// ffmpeg's hls_key_info_file format: URI line, key file path line,
	// optional IV line.
	infoPath := filepath.Join(p.scratchDir, ".keyinfo")
	content := fmt.Sprintf("%s/%s\n%s\n%s\n", filepath.Base(p.target.WorkDir), filepath.Base(keyFilePath), keyFilePath, key.IV)
	if err := os.WriteFile(infoPath, []byte(content), 0o600); err != nil {
		return "", "", fmt.Errorf("write key info file: %w", err)
	}
	return infoPath, key.KeyID, nil
}

func (p *DestinationProcessor) buildArgs(keyInfoPath, playlistPath, segmentPattern string) []string {
	scaleFilter := fmt.Sprintf("scale=-2:%d", p.cfg.VideoHeight)
	targetDuration := strconv.Itoa(p.cfg.SegmentDurationSec)
	if len(targetDuration) > MaxTargetDurationDigits {
		targetDuration = targetDuration[:MaxTargetDurationDigits]
	}
	return []string{
		"-i", p.data.SourcePath,
		"-vf", scaleFilter,
		"-c:v", p.cfg.VideoCodec,
		"-preset", p.cfg.VideoPreset,
		"-c:a", p.cfg.AudioCodec,
		"-f", "hls",
		"-hls_time", targetDuration,
		"-hls_list_size", "0",
		"-hls_key_info_file", keyInfoPath,
		"-hls_segment_filename", segmentPattern,
		"-y",
		playlistPath,
	}
}

func (p *DestinationProcessor) writeMasterPlaylist() error {
	masterPath := filepath.Join(filepath.Dir(p.target.WorkDir), MasterPlaylist)
	entry := fmt.Sprintf(
		"#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n%s/%s\n",
		p.target.Attributes.Bitrate, p.target.Attributes.Width, p.target.Attributes.Height,
		filepath.Base(p.target.WorkDir), LevelPlaylist,
	)
	f, err := os.OpenFile(masterPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open master playlist: %w", err)
	}
	defer f.Close()
	if p.numPlistMerged == 0 {
		if _, err := f.WriteString("#EXTM3U\n#EXT-X-VERSION:4\n"); err != nil {
			return fmt.Errorf("write master playlist header: %w", err)
		}
	}
	_, err = f.WriteString(entry)
	return err
}

func (p *DestinationProcessor) Deinit(ctx context.Context) (bool, error) {
	if p.scratchDir != "" {
		_ = os.RemoveAll(p.scratchDir)
	}
	return false, nil
}
