package safety

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/osifo/clipgate/internal/caption"
	"github.com/osifo/clipgate/internal/media"
	"github.com/osifo/clipgate/pkg/errorsx"
	"github.com/osifo/clipgate/pkg/metrics"
)

const (
	portraitRatio  = 9.0 / 16.0
	ratioTolerance = 0.01
	blurRadius     = 2
)

// Fixer applies the ordered corrective stages: trim, aspect correction, blur,
// loudness normalization, caption cleanup. Each video stage writes a fresh
// artifact and feeds the next stage, so a failed later stage cannot corrupt an
// earlier one; the source file is never mutated.
type Fixer struct {
	transcoder media.Transcoder
	captions   *caption.Scanner
	policy     Policy
	log        *zap.Logger
}

// NewFixer constructs a Fixer.
func NewFixer(transcoder media.Transcoder, captions *caption.Scanner, policy Policy, log *zap.Logger) *Fixer {
	return &Fixer{
		transcoder: transcoder,
		captions:   captions,
		policy:     policy,
		log:        log.With(zap.String("module", "autofix")),
	}
}

// Fix runs every applicable stage. A transcoder failure fails the whole
// attempt; the orchestrator must not treat the asset as approved.
func (f *Fixer) Fix(ctx context.Context, src, captionText string, probe media.ProbeResult, scan ScanResult) (FixOutcome, error) {
	out := FixOutcome{OutPath: src, Caption: captionText}

	type stage struct {
		name string
		op   media.Op
	}
	var stages []stage

	if f.policy.MaxSeconds > 0 && probe.Duration > f.policy.MaxSeconds {
		start := (probe.Duration - f.policy.MaxSeconds) / 2
		if start < 0 {
			start = 0
		}
		stages = append(stages, stage{"trim", media.Trim(start, f.policy.MaxSeconds)})
	}

	if probe.Width > 0 && probe.Height > 0 {
		ratio := float64(probe.Width) / float64(probe.Height)
		if math.Abs(ratio-portraitRatio) > ratioTolerance {
			stages = append(stages, stage{"scalecrop", media.ScaleCrop(portraitRatio, f.policy.TargetFPS)})
		}
	}

	// Conservative softening whenever a fix pass runs at all.
	stages = append(stages, stage{"blur", media.Blur(blurRadius)})

	if scan.HasAudio {
		stages = append(stages, stage{"loudnorm", media.Loudnorm(f.policy.NormalizeLUFS)})
	}

	for _, st := range stages {
		path, err := f.transcoder.Transform(ctx, out.OutPath, []media.Op{st.op})
		if err != nil {
			f.log.Error("transform stage failed",
				zap.String("stage", st.name),
				zap.String("src", out.OutPath),
				zap.Error(err))
			return FixOutcome{}, errorsx.Wrap(err, "auto-fix stage "+st.name+" failed")
		}
		out.OutPath = path
		out.Changed = true
		out.Stages = append(out.Stages, st.name)
		metrics.FixStages.WithLabelValues(st.name).Inc()
	}

	if len(scan.ProfanityHits) > 0 {
		cleaned, hits := f.captions.Clean(captionText)
		if len(hits) > 0 {
			out.Caption = cleaned
			out.Changed = true
			out.Stages = append(out.Stages, "caption")
			metrics.FixStages.WithLabelValues("caption").Inc()
		}
	}

	f.log.Info("auto-fix applied",
		zap.String("src", src),
		zap.Strings("stages", out.Stages),
		zap.Bool("changed", out.Changed))
	return out, nil
}

// CleanCaption masks profane tokens without touching the video. Used when the
// verdict needs no visual fix but the caption does.
func (f *Fixer) CleanCaption(captionText string) (string, bool) {
	cleaned, hits := f.captions.Clean(captionText)
	return cleaned, len(hits) > 0
}
