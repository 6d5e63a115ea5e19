// Package media wraps the external transcoding tool (ffmpeg/ffprobe) behind
// small interfaces: metadata probing, bounded frame sampling, and named
// corrective transforms. Every call shells out; timeouts come from the caller's
// context.
package media

import (
	"context"
	"image"
)

// ProbeResult is the media metadata the pipeline cares about.
type ProbeResult struct {
	Duration float64 // seconds
	Width    int
	Height   int
	HasAudio bool
}

// Prober extracts metadata from a video file.
type Prober interface {
	Probe(ctx context.Context, path string) (ProbeResult, error)
}

// FrameSampler extracts up to max decoded frames at the given rate.
type FrameSampler interface {
	SampleFrames(ctx context.Context, path string, fps float64, max int) ([]image.Image, error)
}

// Op is one named transform operation.
type Op struct {
	Kind     string  // "trim", "scalecrop", "blur", "loudnorm"
	Start    float64 // trim: start offset in seconds
	Duration float64 // trim: window length in seconds
	Ratio    float64 // scalecrop: target width/height ratio
	FPS      float64 // scalecrop: output frame rate, 0 keeps the source rate
	Radius   int     // blur: box blur radius
	LUFS     float64 // loudnorm: integrated loudness target
}

// Transcoder applies an ordered list of operations, emitting a new file.
type Transcoder interface {
	Transform(ctx context.Context, src string, ops []Op) (string, error)
}

// Trim builds a trim operation.
func Trim(start, duration float64) Op {
	return Op{Kind: "trim", Start: start, Duration: duration}
}

// ScaleCrop builds a scale-to-cover + center-crop operation. fps > 0 also
// normalizes the output frame rate, riding on the same re-encode.
func ScaleCrop(ratio, fps float64) Op {
	return Op{Kind: "scalecrop", Ratio: ratio, FPS: fps}
}

// Blur builds a box blur operation.
func Blur(radius int) Op {
	return Op{Kind: "blur", Radius: radius}
}

// Loudnorm builds a loudness normalization operation.
func Loudnorm(lufs float64) Op {
	return Op{Kind: "loudnorm", LUFS: lufs}
}
