package safety

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/osifo/clipgate/pkg/errorsx"
	"github.com/osifo/clipgate/pkg/metrics"
)

// Engine applies the safety policy to scan results and drives the bounded
// auto-fix loop: at most one corrective pass and one re-scan, a deliberate
// termination guarantee. Do not generalize to retry-until-safe.
type Engine struct {
	agg     *Aggregator
	fixer   *Fixer
	reports *ReportStore
	policy  Policy
	log     *zap.Logger
	flight  singleflight.Group
}

// NewEngine constructs the decision engine.
func NewEngine(agg *Aggregator, fixer *Fixer, reports *ReportStore, policy Policy, log *zap.Logger) *Engine {
	return &Engine{
		agg:     agg,
		fixer:   fixer,
		reports: reports,
		policy:  policy,
		log:     log.With(zap.String("module", "safety")),
	}
}

// EnsureSafe returns the safety verdict for an asset, scanning at most once
// per asset id. Concurrent callers for the same asset share one scan; a
// caller that loses the cross-process lock before any report exists gets a
// pending report and should re-poll next tick.
func (e *Engine) EnsureSafe(ctx context.Context, asset Asset) (*SafetyReport, error) {
	if asset.ID == "" || asset.SourcePath == "" {
		return nil, errorsx.Wrap(errorsx.ErrInvalidInput, "asset id and source path are required")
	}

	if report, ok, err := e.reports.Get(ctx, asset.ID); err == nil && ok {
		return report, nil
	}

	v, err, _ := e.flight.Do(asset.ID, func() (interface{}, error) {
		// Double check after winning the in-process flight.
		if report, ok, err := e.reports.Get(ctx, asset.ID); err == nil && ok {
			return report, nil
		}

		acquired, err := e.reports.AcquireLock(ctx, asset.ID)
		if err != nil {
			return nil, err
		}
		if !acquired {
			if report, ok, err := e.reports.Get(ctx, asset.ID); err == nil && ok {
				return report, nil
			}
			// Another process is mid-scan and nothing is cached yet.
			return &SafetyReport{
				ID:     uuid.NewString(),
				Source: asset.SourcePath,
				Status: StatusPending,
				At:     time.Now().UTC(),
			}, nil
		}
		defer e.reports.ReleaseLock(ctx, asset.ID)

		report, err := e.evaluate(ctx, asset)
		if err != nil {
			return nil, err
		}
		if err := e.reports.Save(ctx, asset.ID, report); err != nil {
			e.log.Error("failed to cache safety report", zap.String("asset", asset.ID), zap.Error(err))
		}
		return report, nil
	})
	if err != nil {
		return nil, err
	}
	report, ok := v.(*SafetyReport)
	if !ok {
		return nil, errorsx.New("unexpected report type from flight")
	}
	return report, nil
}

// evaluate runs the one- or two-pass decision tree.
func (e *Engine) evaluate(ctx context.Context, asset Asset) (*SafetyReport, error) {
	start := time.Now()
	defer func() { metrics.ScanDuration.Observe(time.Since(start).Seconds()) }()

	report := &SafetyReport{
		ID:         uuid.NewString(),
		Source:     asset.SourcePath,
		CaptionOut: asset.Caption,
		At:         time.Now().UTC(),
	}

	scan, probe, err := e.agg.Scan(ctx, asset.SourcePath, asset.Caption)
	if err != nil {
		if errorsx.Is(err, errorsx.ErrMalwareDetected) {
			return e.finish(report, StatusRejected, scan, ReasonMalware), nil
		}
		return nil, err
	}

	if scan.Incomplete {
		report.Reasons = append(report.Reasons, ReasonScanIncomplete)
		if e.policy.RejectIncomplete {
			return e.finish(report, StatusRejected, scan), nil
		}
	}

	if e.hardReject(scan) {
		return e.finish(report, StatusRejected, scan, ReasonNsfwHard), nil
	}

	if e.policy.ProfanityBlock && len(scan.ProfanityHits) > 0 {
		return e.finish(report, StatusRejected, scan, ReasonProfanity), nil
	}

	if !e.needsFix(scan) {
		if len(scan.ProfanityHits) > 0 {
			if cleaned, changed := e.fixer.CleanCaption(asset.Caption); changed {
				report.CaptionOut = cleaned
				report.Reasons = append(report.Reasons, ReasonCaptionCleaned)
			}
		}
		return e.finish(report, StatusApproved, scan), nil
	}

	// Conditional fix path: one corrective pass, one re-scan, no loop.
	outcome, err := e.fixer.Fix(ctx, asset.SourcePath, asset.Caption, probe, scan)
	if err != nil {
		return nil, err
	}

	rescan, _, err := e.agg.Scan(ctx, outcome.OutPath, outcome.Caption)
	if err != nil {
		if errorsx.Is(err, errorsx.ErrMalwareDetected) {
			return e.finish(report, StatusRejected, rescan, ReasonMalware), nil
		}
		return nil, err
	}

	captionCleaned := false
	for _, st := range outcome.Stages {
		if st == "caption" {
			captionCleaned = true
		}
	}
	if captionCleaned {
		report.Reasons = append(report.Reasons, ReasonCaptionCleaned)
	}

	if e.hardReject(rescan) || e.needsFix(rescan) {
		// Rejected reports never carry an artifact a publisher could pick up.
		return e.finish(report, StatusRejected, rescan, ReasonNsfwAfterFix), nil
	}

	report.CaptionOut = outcome.Caption
	if outcome.Changed {
		report.ArtifactPath = outcome.OutPath
		return e.finish(report, StatusFixed, rescan), nil
	}
	return e.finish(report, StatusApproved, rescan), nil
}

func (e *Engine) hardReject(scan ScanResult) bool {
	return scan.NsfwMax >= e.policy.Porn || scan.NsfwClasses["hentai"] >= e.policy.Hentai
}

func (e *Engine) needsFix(scan ScanResult) bool {
	if scan.NsfwClasses["sexy"] >= e.policy.Sexy || scan.SkinRatioMax >= e.policy.SkinRatioAutoFix {
		return true
	}
	// A classified frame set where nothing looks neutral is suspicious even
	// when no single class crosses its own threshold.
	return scan.FramesChecked > 0 && !scan.Incomplete &&
		scan.NsfwClasses["neutral"] < e.policy.NeutralFloor
}

func (e *Engine) finish(report *SafetyReport, status string, scan ScanResult, reasons ...string) *SafetyReport {
	report.Status = status
	report.Reasons = append(report.Reasons, reasons...)
	report.Metrics = ReportMetrics{
		NsfwMax:       scan.NsfwMax,
		SkinRatioMax:  scan.SkinRatioMax,
		FramesChecked: scan.FramesChecked,
		HasAudio:      scan.HasAudio,
		Incomplete:    scan.Incomplete,
	}
	if status == StatusRejected {
		report.ArtifactPath = ""
	}
	metrics.ScanVerdicts.WithLabelValues(status).Inc()
	e.log.Info("safety verdict",
		zap.String("status", status),
		zap.Strings("reasons", report.Reasons),
		zap.Float64("nsfw_max", scan.NsfwMax),
		zap.Float64("skin_ratio_max", scan.SkinRatioMax),
		zap.Int("frames_checked", scan.FramesChecked))
	return report
}
