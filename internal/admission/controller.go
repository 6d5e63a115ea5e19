package admission

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const slotStep = 15 * time.Minute

// Controller combines the ledger with slot scoring to answer "may this
// profile post, and if not now, when".
type Controller struct {
	ledger *Ledger
	log    *zap.Logger
}

// NewController creates a Controller.
func NewController(ledger *Ledger, log *zap.Logger) *Controller {
	return &Controller{
		ledger: ledger,
		log:    log.With(zap.String("module", "admission")),
	}
}

// Ledger exposes the underlying single-writer ledger.
func (c *Controller) Ledger() *Ledger {
	return c.ledger
}

// CanPostNow evaluates the profile's quota against its ledger at time t.
func (c *Controller) CanPostNow(ctx context.Context, t time.Time, profile Profile) (bool, string, error) {
	entries, err := c.ledger.Entries(ctx, profile.ID)
	if err != nil {
		return false, "", err
	}
	ok, cause := CanPostNow(t, entries, profile.Quota)
	return ok, cause, nil
}

// NextAdmissibleSlot walks forward from the given time in 15-minute steps and
// returns the first instant within the horizon where the quota admits a post
// and the slot weight is non-zero. The boolean is false when no slot exists
// inside the horizon.
func (c *Controller) NextAdmissibleSlot(ctx context.Context, from time.Time, profile Profile, horizon time.Duration) (time.Time, bool, error) {
	entries, err := c.ledger.Entries(ctx, profile.ID)
	if err != nil {
		return time.Time{}, false, err
	}

	deadline := from.Add(horizon)
	for t := from; !t.After(deadline); t = t.Add(slotStep) {
		if ok, _ := CanPostNow(t, entries, profile.Quota); !ok {
			continue
		}
		if ScoreTimeSlot(t, profile) > 0 {
			return t, true, nil
		}
	}
	c.log.Info("no admissible slot within horizon",
		zap.String("profile", profile.ID),
		zap.Duration("horizon", horizon))
	return time.Time{}, false, nil
}
