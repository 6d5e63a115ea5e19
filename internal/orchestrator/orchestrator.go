// Package orchestrator composes the pipeline: pull queued assets, run the
// safety gate, pick the next admissible slot, attach trend and experiment
// context, and hand the result to the external publisher. It decides whether
// and when; it never posts.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/osifo/clipgate/internal/abtest"
	"github.com/osifo/clipgate/internal/admission"
	"github.com/osifo/clipgate/internal/queue"
	"github.com/osifo/clipgate/internal/safety"
	"github.com/osifo/clipgate/internal/trend"
	"github.com/osifo/clipgate/pkg/kv"
	"github.com/osifo/clipgate/pkg/metrics"
)

const slotHorizon = 48 * time.Hour

// PublishRequest is what the external scheduler/publisher collaborator
// accepts.
type PublishRequest struct {
	FileURL string `json:"fileUrl"`
	Caption string `json:"caption"`
	WhenISO string `json:"whenISO"`
}

// Publisher schedules an actual post. Out of scope how.
type Publisher interface {
	Schedule(ctx context.Context, req PublishRequest) error
}

// Orchestrator runs one pipeline cycle per tick.
type Orchestrator struct {
	source     queue.Source
	engine     *safety.Engine
	controller *admission.Controller
	trends     *trend.Scorer
	ab         *abtest.Picker
	publisher  Publisher
	store      kv.Store
	kb         *kv.KeyBuilder
	profiles   map[string]admission.Profile
	// captionTests maps profile id to an optional running caption experiment.
	captionTests map[string]abtest.Test
	maxPerTick   int
	log          *zap.Logger
	now          func() time.Time
}

// New constructs an Orchestrator. store persists the per-asset scheduled
// marker, so a draft that is redelivered after a restart is not posted twice.
func New(
	source queue.Source,
	engine *safety.Engine,
	controller *admission.Controller,
	trends *trend.Scorer,
	ab *abtest.Picker,
	publisher Publisher,
	store kv.Store,
	profiles map[string]admission.Profile,
	maxPerTick int,
	log *zap.Logger,
) *Orchestrator {
	if maxPerTick <= 0 {
		maxPerTick = 1
	}
	return &Orchestrator{
		source:       source,
		engine:       engine,
		controller:   controller,
		trends:       trends,
		ab:           ab,
		publisher:    publisher,
		store:        store,
		kb:           kv.NewKeyBuilder("publish"),
		profiles:     profiles,
		captionTests: make(map[string]abtest.Test),
		maxPerTick:   maxPerTick,
		log:          log.With(zap.String("module", "orchestrator")),
		now:          time.Now,
	}
}

// SetClock overrides the orchestrator's clock for tests.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// SetCaptionTest attaches a running caption experiment to a profile.
func (o *Orchestrator) SetCaptionTest(profileID string, test abtest.Test) {
	o.captionTests[profileID] = test
}

// Tick runs one cycle: drain up to maxPerTick assets and process them.
// Independent assets run concurrently; the per-asset scan lock is the only
// required mutual-exclusion boundary. Per-asset failures are contained and
// logged, never aborting the whole tick.
func (o *Orchestrator) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	var assets []*safety.Asset
	for len(assets) < o.maxPerTick {
		asset, err := o.source.Next(ctx)
		if err != nil {
			return err
		}
		if asset == nil {
			break
		}
		assets = append(assets, asset)
	}
	if len(assets) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxPerTick)
	for _, asset := range assets {
		asset := asset
		g.Go(func() error {
			if err := o.process(gctx, asset); err != nil {
				// Un-admitted for this cycle; re-evaluated next tick.
				o.log.Warn("asset not admitted this cycle",
					zap.String("asset", asset.ID),
					zap.Error(err))
				o.source.Requeue(asset)
			}
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) process(ctx context.Context, asset *safety.Asset) error {
	var scheduled bool
	if ok, err := o.store.Get(ctx, o.kb.Build("done", asset.ID), &scheduled); err == nil && ok && scheduled {
		o.log.Debug("asset already scheduled, skipping", zap.String("asset", asset.ID))
		return nil
	}

	report, err := o.engine.EnsureSafe(ctx, *asset)
	if err != nil {
		return err
	}

	switch report.Status {
	case safety.StatusPending:
		o.log.Info("scan in flight elsewhere, deferring", zap.String("asset", asset.ID))
		o.source.Requeue(asset)
		return nil
	case safety.StatusRejected:
		o.log.Info("asset rejected",
			zap.String("asset", asset.ID),
			zap.Strings("reasons", report.Reasons))
		return nil
	}

	file, ok := report.Publishable()
	if !ok {
		return nil
	}

	profile, ok := o.profiles[asset.Profile]
	if !ok {
		profile = o.profiles["default"]
	}

	slot, ok, err := o.controller.NextAdmissibleSlot(ctx, o.now(), profile, slotHorizon)
	if err != nil {
		return err
	}
	if !ok {
		// Not an error: try again next tick.
		o.log.Info("no admissible slot, deferring",
			zap.String("asset", asset.ID),
			zap.String("profile", profile.ID))
		o.source.Requeue(asset)
		return nil
	}

	caption := o.decorateCaption(ctx, report.CaptionOut, profile, slot)

	// Reserve quota before handing off so concurrent assets cannot race the
	// same profile past a cap.
	admitted, cause, err := o.controller.Ledger().AppendIfAdmissible(ctx, profile.ID, profile.Quota, slot, asset.ID)
	if err != nil {
		return err
	}
	if !admitted {
		o.log.Info("slot lost before reservation, deferring",
			zap.String("asset", asset.ID),
			zap.String("cause", cause))
		o.source.Requeue(asset)
		return nil
	}

	req := PublishRequest{
		FileURL: file,
		Caption: caption,
		WhenISO: slot.UTC().Format(time.RFC3339),
	}
	if err := o.publisher.Schedule(ctx, req); err != nil {
		return err
	}

	if err := o.store.Put(ctx, o.kb.Build("done", asset.ID), true, 0); err != nil {
		o.log.Warn("failed to record scheduled asset",
			zap.String("asset", asset.ID), zap.Error(err))
	}

	metrics.ScheduledPosts.WithLabelValues(profile.ID).Inc()
	o.log.Info("publish scheduled",
		zap.String("asset", asset.ID),
		zap.String("profile", profile.ID),
		zap.String("when", req.WhenISO),
		zap.String("status", report.Status))
	return nil
}

// decorateCaption applies the profile's caption experiment arm and the top
// trend hashtag, when available.
func (o *Orchestrator) decorateCaption(ctx context.Context, caption string, profile admission.Profile, slot time.Time) string {
	if test, ok := o.captionTests[profile.ID]; ok {
		variant := o.ab.Pick(test)
		if variant != "" {
			caption = caption + " " + variant
		}
		if err := o.ab.Record(ctx, test.ID, variant, "assigned", 1); err != nil {
			o.log.Warn("failed to record experiment assignment",
				zap.String("test", test.ID), zap.Error(err))
		}
	}

	opps, err := o.trends.NextOpportunities(ctx, profile, slot)
	if err != nil {
		o.log.Warn("failed to load trend opportunities", zap.Error(err))
		return caption
	}
	if len(opps) > 0 {
		top := opps[0]
		caption = caption + " #" + top.Hashtag
		if err := o.trends.MarkUsed(ctx, profile.ID, top.ID); err != nil {
			o.log.Warn("failed to mark trend used",
				zap.String("trend", top.ID), zap.Error(err))
		}
	}
	return caption
}
