package safety

import (
	"context"

	"go.uber.org/zap"

	"github.com/osifo/clipgate/internal/caption"
	"github.com/osifo/clipgate/internal/classify"
	"github.com/osifo/clipgate/internal/media"
	"github.com/osifo/clipgate/pkg/errorsx"
)

const (
	maxSampledFrames = 60
	sampleFPS        = 1.0
)

// Aggregator combines the prober, frame sampler, classifier, skin heuristic,
// and caption scanner into one ScanResult. Infrastructure faults are
// fail-open: they zero the affected signal and mark the scan incomplete
// instead of aborting. Policy thresholds stay fail-closed downstream.
type Aggregator struct {
	prober     media.Prober
	sampler    media.FrameSampler
	classifier classify.Classifier
	captions   *caption.Scanner
	malware    classify.MalwareScanner // nil disables the pre-scan
	log        *zap.Logger
}

// NewAggregator constructs an Aggregator. malware may be nil.
func NewAggregator(
	prober media.Prober,
	sampler media.FrameSampler,
	classifier classify.Classifier,
	captions *caption.Scanner,
	malware classify.MalwareScanner,
	log *zap.Logger,
) *Aggregator {
	return &Aggregator{
		prober:     prober,
		sampler:    sampler,
		classifier: classifier,
		captions:   captions,
		malware:    malware,
		log:        log.With(zap.String("module", "scan")),
	}
}

// Scan runs one full pass over the asset file and caption.
// ErrMalwareDetected is the only error; everything else degrades in place.
func (a *Aggregator) Scan(ctx context.Context, path, captionText string) (ScanResult, media.ProbeResult, error) {
	result := ScanResult{NsfwClasses: make(map[string]float64)}

	if a.malware != nil {
		if err := a.malware.Scan(ctx, path); err != nil {
			if errorsx.Is(err, errorsx.ErrMalwareDetected) {
				return result, media.ProbeResult{}, err
			}
			// Scanner infrastructure failure, not a detection.
			a.log.Warn("malware scan unavailable, continuing", zap.String("path", path), zap.Error(err))
		}
	}

	// A probe failure is not a safety failure: proceed with zero metadata.
	probe, err := a.prober.Probe(ctx, path)
	if err != nil {
		a.log.Warn("media probe failed, treating as no-audio", zap.String("path", path), zap.Error(err))
		probe = media.ProbeResult{}
	}
	result.HasAudio = probe.HasAudio

	frames, err := a.sampler.SampleFrames(ctx, path, sampleFPS, maxSampledFrames)
	if err != nil {
		a.log.Warn("frame extraction failed, scoring zero-signal",
			zap.String("path", path), zap.Error(err))
		result.Incomplete = true
		frames = nil
	}

	classified := 0
	for _, frame := range frames {
		preds, err := a.classifier.ClassifyFrame(ctx, frame)
		if err != nil {
			a.log.Warn("classifier call failed, skipping frame", zap.Error(err))
		} else {
			classified++
			for _, p := range preds {
				if p.Probability > result.NsfwClasses[p.ClassName] {
					result.NsfwClasses[p.ClassName] = p.Probability
				}
				if explicitClass(p.ClassName) && p.Probability > result.NsfwMax {
					result.NsfwMax = p.Probability
				}
			}
		}
		if ratio := classify.SkinRatio(frame); ratio > result.SkinRatioMax {
			result.SkinRatioMax = ratio
		}
		result.FramesChecked++
	}
	if len(frames) > 0 && classified == 0 {
		result.Incomplete = true
	}

	result.ProfanityHits = a.captions.Scan(captionText)

	return result, probe, nil
}

// explicitClass reports whether a class feeds nsfwMax. The sexy and hentai
// classes have their own thresholds; anything the classifier labels outside
// the known mild classes counts as explicit.
func explicitClass(name string) bool {
	switch name {
	case "neutral", "drawing", "sexy", "hentai":
		return false
	}
	return true
}
