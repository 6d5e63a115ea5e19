package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/osifo/clipgate/pkg/jsonx"
)

// FFmpeg implements Prober, FrameSampler, and Transcoder by shelling out to
// ffprobe/ffmpeg.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	workDir     string
	log         *zap.Logger
}

// NewFFmpeg creates a new ffmpeg-backed media adapter. Artifacts and sampled
// frames are written under workDir.
func NewFFmpeg(ffmpegPath, ffprobePath, workDir string, log *zap.Logger) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		workDir:     workDir,
		log:         log.With(zap.String("module", "media")),
	}
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeResult struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

// Probe extracts duration, dimensions, and audio presence.
func (f *FFmpeg) Probe(ctx context.Context, path string) (ProbeResult, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type,width,height",
		"-of", "json",
		path,
	}
	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return ProbeResult{}, fmt.Errorf("ffprobe failed: %s", detail)
	}

	var parsed ffprobeResult
	if err := jsonx.Unmarshal(out.Bytes(), &parsed); err != nil {
		return ProbeResult{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	var probe ProbeResult
	if parsed.Format.Duration != "" {
		if v, err := strconv.ParseFloat(strings.TrimSpace(parsed.Format.Duration), 64); err == nil && v > 0 {
			probe.Duration = v
		}
	}
	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "video":
			if probe.Width == 0 && probe.Height == 0 {
				probe.Width = s.Width
				probe.Height = s.Height
			}
		case "audio":
			probe.HasAudio = true
		}
	}
	return probe, nil
}

// SampleFrames extracts up to max JPEG frames at the given rate and decodes
// them. Frames land in a throwaway directory that is removed before returning.
func (f *FFmpeg) SampleFrames(ctx context.Context, path string, fps float64, max int) ([]image.Image, error) {
	dir, err := os.MkdirTemp(f.workDir, "frames-")
	if err != nil {
		return nil, fmt.Errorf("failed to create frame dir: %w", err)
	}
	defer os.RemoveAll(dir)

	args := []string{
		"-v", "error",
		"-i", path,
		"-vf", fmt.Sprintf("fps=%g", fps),
		"-frames:v", strconv.Itoa(max),
		"-q:v", "3",
		filepath.Join(dir, "frame-%04d.jpg"),
	}
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("ffmpeg frame extraction failed: %s", detail)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	frames := make([]image.Image, 0, len(entries))
	for _, e := range entries {
		fh, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			f.log.Warn("failed to open sampled frame", zap.String("frame", e.Name()), zap.Error(err))
			continue
		}
		img, err := jpeg.Decode(fh)
		fh.Close()
		if err != nil {
			f.log.Warn("failed to decode sampled frame", zap.String("frame", e.Name()), zap.Error(err))
			continue
		}
		frames = append(frames, img)
	}
	return frames, nil
}

// Transform applies the given operations in one ffmpeg invocation and writes
// the result to a fresh artifact path.
func (f *FFmpeg) Transform(ctx context.Context, src string, ops []Op) (string, error) {
	out := filepath.Join(f.workDir, fmt.Sprintf("fix-%s%s", uuid.NewString(), filepath.Ext(src)))

	args := []string{"-v", "error", "-i", src}
	var vf, af []string
	for _, op := range ops {
		switch op.Kind {
		case "trim":
			args = append(args, "-ss", fmt.Sprintf("%.3f", op.Start), "-t", fmt.Sprintf("%.3f", op.Duration))
		case "scalecrop":
			// Scale to cover the 9:16 canvas, then center-crop.
			w, h := 1080, 1920
			if op.Ratio > 1 {
				w, h = 1920, 1080
			}
			vf = append(vf,
				fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=increase", w, h),
				fmt.Sprintf("crop=%d:%d", w, h),
			)
			if op.FPS > 0 {
				vf = append(vf, fmt.Sprintf("fps=%g", op.FPS))
			}
		case "blur":
			vf = append(vf, fmt.Sprintf("boxblur=%d:1", op.Radius))
		case "loudnorm":
			af = append(af, fmt.Sprintf("loudnorm=I=%g:TP=-1.5:LRA=11", op.LUFS))
		default:
			return "", fmt.Errorf("unknown transform op: %s", op.Kind)
		}
	}
	if len(vf) > 0 {
		args = append(args, "-vf", strings.Join(vf, ","))
	}
	if len(af) > 0 {
		args = append(args, "-af", strings.Join(af, ","))
	}
	args = append(args, "-y", out)

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(out)
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("ffmpeg transform failed: %s", detail)
	}
	return out, nil
}
