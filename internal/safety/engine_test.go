package safety

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/osifo/clipgate/internal/caption"
	"github.com/osifo/clipgate/internal/classify"
	"github.com/osifo/clipgate/internal/media"
	"github.com/osifo/clipgate/pkg/errorsx"
	"github.com/osifo/clipgate/pkg/kv"
)

func testFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	blue := color.RGBA{R: 60, G: 120, B: 220, A: 255}
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, blue)
		}
	}
	return img
}

type fakeProber struct {
	result media.ProbeResult
	err    error
}

func (f *fakeProber) Probe(_ context.Context, _ string) (media.ProbeResult, error) {
	return f.result, f.err
}

type fakeSampler struct {
	mu     sync.Mutex
	frames []image.Image
	err    error
	calls  int
}

func (f *fakeSampler) SampleFrames(_ context.Context, _ string, _ float64, _ int) ([]image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.frames, nil
}

func (f *fakeSampler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeClassifier replays queued responses, repeating the last one once the
// queue drains.
type fakeClassifier struct {
	mu    sync.Mutex
	queue [][]classify.Prediction
	err   error
}

func (f *fakeClassifier) ClassifyFrame(_ context.Context, _ image.Image) ([]classify.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.queue) == 0 {
		return nil, nil
	}
	preds := f.queue[0]
	if len(f.queue) > 1 {
		f.queue = f.queue[1:]
	}
	return preds, nil
}

type transformCall struct {
	src string
	ops []media.Op
}

type fakeTranscoder struct {
	mu     sync.Mutex
	calls  []transformCall
	failOn string
}

func (f *fakeTranscoder) Transform(_ context.Context, src string, ops []media.Op) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && len(ops) > 0 && ops[0].Kind == f.failOn {
		return "", errors.New("transcode failed")
	}
	f.calls = append(f.calls, transformCall{src: src, ops: ops})
	return fmt.Sprintf("/tmp/fix-%d.mp4", len(f.calls)), nil
}

type fakeMalware struct {
	err error
}

func (f *fakeMalware) Scan(_ context.Context, _ string) error {
	return f.err
}

func testPolicy() Policy {
	return Policy{
		Porn:             0.85,
		Hentai:           0.85,
		Sexy:             0.70,
		NeutralFloor:     0.20,
		SkinRatioAutoFix: 0.45,
		MaxSeconds:       60,
		TargetFPS:        30,
		NormalizeLUFS:    -14,
	}
}

type engineFixture struct {
	engine     *Engine
	reports    *ReportStore
	sampler    *fakeSampler
	classifier *fakeClassifier
	transcoder *fakeTranscoder
}

func newEngineFixture(policy Policy, classifier *fakeClassifier, malware classify.MalwareScanner) *engineFixture {
	log := zap.NewNop()
	captions := caption.NewScanner(nil)
	sampler := &fakeSampler{frames: []image.Image{testFrame()}}
	prober := &fakeProber{result: media.ProbeResult{Duration: 30, Width: 1080, Height: 1920}}
	transcoder := &fakeTranscoder{}

	agg := NewAggregator(prober, sampler, classifier, captions, malware, log)
	fixer := NewFixer(transcoder, captions, policy, log)
	reports := NewReportStore(kv.NewMemoryStore(), log)

	return &engineFixture{
		engine:     NewEngine(agg, fixer, reports, policy, log),
		reports:    reports,
		sampler:    sampler,
		classifier: classifier,
		transcoder: transcoder,
	}
}

func preds(class string, p float64) []classify.Prediction {
	return []classify.Prediction{{ClassName: class, Probability: p}}
}

func TestEnsureSafeHardReject(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(testPolicy(), &fakeClassifier{queue: [][]classify.Prediction{preds("porn", 0.92)}}, nil)

	report, err := fx.engine.EnsureSafe(ctx, Asset{ID: "a1", SourcePath: "/tmp/a1.mp4"})
	require.NoError(t, err)

	assert.Equal(t, StatusRejected, report.Status)
	assert.Contains(t, report.Reasons, ReasonNsfwHard)
	assert.Empty(t, report.ArtifactPath)
	_, ok := report.Publishable()
	assert.False(t, ok)
	assert.Empty(t, fx.transcoder.calls, "a hard reject never attempts a fix")
}

func TestEnsureSafeApprovesClean(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(testPolicy(), &fakeClassifier{queue: [][]classify.Prediction{preds("neutral", 0.97)}}, nil)

	report, err := fx.engine.EnsureSafe(ctx, Asset{ID: "a1", SourcePath: "/tmp/a1.mp4", Caption: "sunset run"})
	require.NoError(t, err)

	assert.Equal(t, StatusApproved, report.Status)
	assert.Empty(t, report.Reasons)
	assert.Equal(t, "sunset run", report.CaptionOut)
	file, ok := report.Publishable()
	require.True(t, ok)
	assert.Equal(t, "/tmp/a1.mp4", file, "approved posts publish the untouched source")
}

func TestEnsureSafeFixBandProducesArtifact(t *testing.T) {
	ctx := context.Background()
	classifier := &fakeClassifier{queue: [][]classify.Prediction{
		preds("sexy", 0.78),
		preds("neutral", 0.95),
	}}
	fx := newEngineFixture(testPolicy(), classifier, nil)

	report, err := fx.engine.EnsureSafe(ctx, Asset{ID: "a1", SourcePath: "/tmp/a1.mp4"})
	require.NoError(t, err)

	assert.Equal(t, StatusFixed, report.Status)
	assert.NotEmpty(t, report.ArtifactPath)
	file, ok := report.Publishable()
	require.True(t, ok)
	assert.Equal(t, report.ArtifactPath, file, "fixed posts publish the artifact, never the source")
	assert.Equal(t, 2, fx.sampler.callCount(), "exactly one re-scan after the fix")
}

func TestEnsureSafeFixesWhenNothingLooksNeutral(t *testing.T) {
	ctx := context.Background()
	// No single class crosses its threshold, but the neutral score is far below
	// the floor, which is enough to trigger the corrective pass.
	classifier := &fakeClassifier{queue: [][]classify.Prediction{
		preds("neutral", 0.05),
		preds("neutral", 0.92),
	}}
	fx := newEngineFixture(testPolicy(), classifier, nil)

	report, err := fx.engine.EnsureSafe(ctx, Asset{ID: "a1", SourcePath: "/tmp/a1.mp4"})
	require.NoError(t, err)

	assert.Equal(t, StatusFixed, report.Status)
	assert.NotEmpty(t, report.ArtifactPath)
	assert.NotEmpty(t, fx.transcoder.calls)
	assert.Equal(t, 2, fx.sampler.callCount())
}

func TestEnsureSafeRejectsWhenFixInsufficient(t *testing.T) {
	ctx := context.Background()
	classifier := &fakeClassifier{queue: [][]classify.Prediction{
		preds("sexy", 0.78),
		preds("sexy", 0.76),
	}}
	fx := newEngineFixture(testPolicy(), classifier, nil)

	report, err := fx.engine.EnsureSafe(ctx, Asset{ID: "a1", SourcePath: "/tmp/a1.mp4"})
	require.NoError(t, err)

	assert.Equal(t, StatusRejected, report.Status)
	assert.Contains(t, report.Reasons, ReasonNsfwAfterFix)
	assert.Empty(t, report.ArtifactPath, "rejected reports carry no publishable artifact")
	assert.Equal(t, 2, fx.sampler.callCount(), "exactly one corrective pass, never a loop")
}

func TestEnsureSafeCleansCaptionWithoutVisualFix(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(testPolicy(), &fakeClassifier{queue: [][]classify.Prediction{preds("neutral", 0.97)}}, nil)

	report, err := fx.engine.EnsureSafe(ctx, Asset{ID: "a1", SourcePath: "/tmp/a1.mp4", Caption: "what a 5h1t day"})
	require.NoError(t, err)

	assert.Equal(t, StatusApproved, report.Status)
	assert.Contains(t, report.Reasons, ReasonCaptionCleaned)
	assert.Equal(t, "what a 5*** day", report.CaptionOut)
	assert.Empty(t, fx.transcoder.calls, "caption cleanup alone never transcodes")
}

func TestEnsureSafeProfanityBlock(t *testing.T) {
	ctx := context.Background()
	policy := testPolicy()
	policy.ProfanityBlock = true
	fx := newEngineFixture(policy, &fakeClassifier{queue: [][]classify.Prediction{preds("neutral", 0.97)}}, nil)

	report, err := fx.engine.EnsureSafe(ctx, Asset{ID: "a1", SourcePath: "/tmp/a1.mp4", Caption: "fuck it"})
	require.NoError(t, err)

	assert.Equal(t, StatusRejected, report.Status)
	assert.Contains(t, report.Reasons, ReasonProfanity)
}

func TestEnsureSafeIncompleteScan(t *testing.T) {
	ctx := context.Background()

	t.Run("fail-open by default", func(t *testing.T) {
		fx := newEngineFixture(testPolicy(), &fakeClassifier{}, nil)
		fx.sampler.err = errors.New("extraction failed")

		report, err := fx.engine.EnsureSafe(ctx, Asset{ID: "a1", SourcePath: "/tmp/a1.mp4"})
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, report.Status)
		assert.Contains(t, report.Reasons, ReasonScanIncomplete)
		assert.True(t, report.Metrics.Incomplete)
	})

	t.Run("fail-closed when configured", func(t *testing.T) {
		policy := testPolicy()
		policy.RejectIncomplete = true
		fx := newEngineFixture(policy, &fakeClassifier{}, nil)
		fx.sampler.err = errors.New("extraction failed")

		report, err := fx.engine.EnsureSafe(ctx, Asset{ID: "a1", SourcePath: "/tmp/a1.mp4"})
		require.NoError(t, err)
		assert.Equal(t, StatusRejected, report.Status)
		assert.Contains(t, report.Reasons, ReasonScanIncomplete)
	})
}

func TestEnsureSafeMalwareRejects(t *testing.T) {
	ctx := context.Background()
	malware := &fakeMalware{err: errorsx.Wrap(errorsx.ErrMalwareDetected, "Eicar-Test-Signature")}
	fx := newEngineFixture(testPolicy(), &fakeClassifier{}, malware)

	report, err := fx.engine.EnsureSafe(ctx, Asset{ID: "a1", SourcePath: "/tmp/a1.mp4"})
	require.NoError(t, err)

	assert.Equal(t, StatusRejected, report.Status)
	assert.Contains(t, report.Reasons, ReasonMalware)
	assert.Equal(t, 0, fx.sampler.callCount(), "a detected file is never decoded")
}

func TestEnsureSafeReturnsCachedReport(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(testPolicy(), &fakeClassifier{queue: [][]classify.Prediction{preds("neutral", 0.97)}}, nil)
	asset := Asset{ID: "a1", SourcePath: "/tmp/a1.mp4"}

	first, err := fx.engine.EnsureSafe(ctx, asset)
	require.NoError(t, err)
	second, err := fx.engine.EnsureSafe(ctx, asset)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, fx.sampler.callCount(), "the cached report suppresses a second scan")
}

func TestEnsureSafeConcurrentCallersShareOneScan(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(testPolicy(), &fakeClassifier{queue: [][]classify.Prediction{preds("neutral", 0.97)}}, nil)
	asset := Asset{ID: "a1", SourcePath: "/tmp/a1.mp4"}

	var wg sync.WaitGroup
	reports := make([]*SafetyReport, 8)
	for i := 0; i < len(reports); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report, err := fx.engine.EnsureSafe(ctx, asset)
			assert.NoError(t, err)
			reports[i] = report
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, fx.sampler.callCount(), "concurrent callers share a single scan")
	for _, r := range reports {
		require.NotNil(t, r)
		assert.Equal(t, StatusApproved, r.Status)
		assert.Equal(t, reports[0].ID, r.ID, "every caller sees the same report")
	}
}

func TestEnsureSafePendingWhenLockHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(testPolicy(), &fakeClassifier{queue: [][]classify.Prediction{preds("neutral", 0.97)}}, nil)

	// Simulate a scan in flight in another process.
	acquired, err := fx.reports.AcquireLock(ctx, "a1")
	require.NoError(t, err)
	require.True(t, acquired)

	report, err := fx.engine.EnsureSafe(ctx, Asset{ID: "a1", SourcePath: "/tmp/a1.mp4"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, report.Status)
	assert.Equal(t, 0, fx.sampler.callCount())
}

func TestEnsureSafeValidatesInput(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(testPolicy(), &fakeClassifier{}, nil)

	_, err := fx.engine.EnsureSafe(ctx, Asset{ID: "", SourcePath: "/tmp/a1.mp4"})
	assert.ErrorIs(t, err, errorsx.ErrInvalidInput)

	_, err = fx.engine.EnsureSafe(ctx, Asset{ID: "a1"})
	assert.ErrorIs(t, err, errorsx.ErrInvalidInput)
}
