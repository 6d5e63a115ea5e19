// Package trend ranks publish opportunities by time-decayed relevance.
// Unsafe trends score zero and never surface; scored trends expire six hours
// after their last refresh.
package trend

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"github.com/osifo/clipgate/internal/admission"
	"github.com/osifo/clipgate/pkg/kv"
)

const (
	// recencyTimeConstant is the exponential decay constant of the recency
	// factor (half-life of roughly 42 minutes).
	recencyTimeConstant = time.Hour
	trendLifetime       = 6 * time.Hour
	topN                = 3
)

// Trend is one raw or scored trend record.
type Trend struct {
	ID        string    `json:"id"`
	Hashtag   string    `json:"hashtag"`
	SoundID   string    `json:"soundId,omitempty"`
	Volume    float64   `json:"volume"`
	NicheFit  float64   `json:"nicheFit"`
	Safe      bool      `json:"safe"`
	Seasonal  float64   `json:"seasonal"`
	UpdatedAt time.Time `json:"updatedAt"`
	Score     float64   `json:"score"`
	DecayAt   time.Time `json:"decayAt"`
}

// Opportunity is a trend adjusted by the profile's current slot weight.
type Opportunity struct {
	Trend
	AdjustedScore float64 `json:"adjustedScore"`
}

// Scorer computes and persists trend scores.
type Scorer struct {
	store     kv.Store
	kb        *kv.KeyBuilder
	log       *zap.Logger
	nicheProg *vm.Program
	now       func() time.Time
}

// NewScorer creates a Scorer. nicheExpr is an optional expr program computing
// the niche-fit multiplier from the trend's fields; empty keeps the stored
// value.
func NewScorer(store kv.Store, nicheExpr string, log *zap.Logger) (*Scorer, error) {
	s := &Scorer{
		store: store,
		kb:    kv.NewKeyBuilder("trend"),
		log:   log.With(zap.String("module", "trend")),
		now:   time.Now,
	}
	if nicheExpr != "" {
		prog, err := expr.Compile(nicheExpr, expr.AsFloat64())
		if err != nil {
			return nil, err
		}
		s.nicheProg = prog
	}
	return s, nil
}

// SetClock overrides the scorer's clock for tests.
func (s *Scorer) SetClock(now func() time.Time) {
	s.now = now
}

// Score computes one trend's score at the given instant:
// recency × volume × nicheFit × safe × season, with recency decaying
// exponentially over the trend's age. Unset multipliers default to 1.
func (s *Scorer) Score(t Trend, now time.Time) float64 {
	if !t.Safe {
		return 0
	}
	recency := math.Exp(-now.Sub(t.UpdatedAt).Hours() / recencyTimeConstant.Hours())
	return recency * orOne(t.Volume) * s.nicheFit(t) * orOne(t.Seasonal)
}

func (s *Scorer) nicheFit(t Trend) float64 {
	if s.nicheProg == nil {
		return orOne(t.NicheFit)
	}
	out, err := expr.Run(s.nicheProg, map[string]interface{}{
		"volume":   t.Volume,
		"nicheFit": t.NicheFit,
		"seasonal": t.Seasonal,
		"hashtag":  t.Hashtag,
		"soundId":  t.SoundID,
	})
	if err != nil {
		s.log.Warn("niche-fit expression failed, falling back to stored value",
			zap.String("trend", t.ID), zap.Error(err))
		return orOne(t.NicheFit)
	}
	if f, ok := out.(float64); ok {
		return f
	}
	return orOne(t.NicheFit)
}

func orOne(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

// Refresh scores the given raw trends, stamps their expiry, and persists the
// scored set.
func (s *Scorer) Refresh(ctx context.Context, trends []Trend) ([]Trend, error) {
	now := s.now()
	scored := make([]Trend, 0, len(trends))
	for _, t := range trends {
		t.Score = s.Score(t, now)
		t.DecayAt = now.Add(trendLifetime)
		scored = append(scored, t)
	}
	if err := s.store.Put(ctx, s.kb.Build("scores", ""), scored, trendLifetime); err != nil {
		return nil, err
	}
	s.log.Info("trend scores refreshed", zap.Int("count", len(scored)))
	return scored, nil
}

// NextOpportunities returns the top opportunities for a profile at the given
// time: non-expired, safe-scoring, not already used by this profile, ranked
// by score adjusted for the current slot weight.
func (s *Scorer) NextOpportunities(ctx context.Context, profile admission.Profile, now time.Time) ([]Opportunity, error) {
	var scored []Trend
	if _, err := s.store.Get(ctx, s.kb.Build("scores", ""), &scored); err != nil {
		return nil, err
	}

	used := make(map[string]bool)
	var usedIDs []string
	if _, err := s.store.Get(ctx, s.kb.Build("used", profile.ID), &usedIDs); err != nil {
		return nil, err
	}
	for _, id := range usedIDs {
		used[id] = true
	}

	slotWeight := admission.ScoreTimeSlot(now, profile)

	var opps []Opportunity
	for _, t := range scored {
		if t.Score <= 0 || now.After(t.DecayAt) || used[t.ID] {
			continue
		}
		opps = append(opps, Opportunity{Trend: t, AdjustedScore: t.Score * slotWeight})
	}
	sort.Slice(opps, func(i, j int) bool { return opps[i].AdjustedScore > opps[j].AdjustedScore })
	if len(opps) > topN {
		opps = opps[:topN]
	}
	return opps, nil
}

// MarkUsed records that a profile consumed a trend so it is not offered
// again.
func (s *Scorer) MarkUsed(ctx context.Context, profileID, trendID string) error {
	var usedIDs []string
	if _, err := s.store.Get(ctx, s.kb.Build("used", profileID), &usedIDs); err != nil {
		return err
	}
	for _, id := range usedIDs {
		if id == trendID {
			return nil
		}
	}
	usedIDs = append(usedIDs, trendID)
	return s.store.Put(ctx, s.kb.Build("used", profileID), usedIDs, trendLifetime)
}
