// Package admission decides whether and when a publishing profile may post:
// sliding-window quotas over the post ledger, minimum gap between posts,
// audience-window weighting, and quiet-hours suppression.
package admission

import (
	"time"
)

// Quota is the maximum publish rate for a profile.
type Quota struct {
	DayCap  int `json:"dayCap"`
	HourCap int `json:"hourCap"`
	GapMin  int `json:"gapMin"` // minutes
}

// Window is a minutes-of-day interval. Start is inclusive, End exclusive;
// Start > End wraps past midnight.
type Window struct {
	StartMin int `json:"startMin"`
	EndMin   int `json:"endMin"`
}

// AudienceWindow is a weighted minutes-of-day interval during which the
// profile's audience is most active.
type AudienceWindow struct {
	Window
	Weight float64 `json:"weight"` // multiplicative, >= 1
}

// QuietHours suppresses publishing inside its windows: fully when hard,
// halved when Soft.
type QuietHours struct {
	TimeZone string   `json:"timeZone"`
	Windows  []Window `json:"windows"`
	Soft     bool     `json:"soft"`
}

// Profile is one publishing identity with its timing configuration.
type Profile struct {
	ID      string           `json:"id"`
	Quota   Quota            `json:"quota"`
	Windows []AudienceWindow `json:"windows"`
	Quiet   QuietHours       `json:"quiet"`
}

// LedgerEntry records one successful publish.
type LedgerEntry struct {
	TS      time.Time `json:"ts"`
	AssetID string    `json:"assetId,omitempty"`
}

// Denial causes reported by CanPostNow.
const (
	CauseDayCap  = "day-cap"
	CauseHourCap = "hour-cap"
	CauseMinGap  = "min-gap"
)

func (w Window) contains(minuteOfDay int) bool {
	if w.StartMin <= w.EndMin {
		return minuteOfDay >= w.StartMin && minuteOfDay < w.EndMin
	}
	return minuteOfDay >= w.StartMin || minuteOfDay < w.EndMin
}

// ScoreTimeSlot computes the publishing weight for a profile at a given time:
// the max weight of any covering audience window (default 1.0), then quiet
// hours applied on top — zeroed when hard, halved when soft. Quiet hours
// override audience weighting.
func ScoreTimeSlot(t time.Time, profile Profile) float64 {
	loc := time.UTC
	if profile.Quiet.TimeZone != "" {
		if l, err := time.LoadLocation(profile.Quiet.TimeZone); err == nil {
			loc = l
		}
	}
	local := t.In(loc)
	minute := local.Hour()*60 + local.Minute()

	weight := 1.0
	for _, w := range profile.Windows {
		if w.contains(minute) && w.Weight > weight {
			weight = w.Weight
		}
	}

	for _, q := range profile.Quiet.Windows {
		if q.contains(minute) {
			if profile.Quiet.Soft {
				return weight * 0.5
			}
			return 0
		}
	}
	return weight
}

// CanPostNow checks the three independent quota conditions against the
// profile's ledger. Any single failure blocks admission; the returned cause
// names the first failing check. A denial is a decision outcome, not an
// error.
func CanPostNow(t time.Time, entries []LedgerEntry, quota Quota) (bool, string) {
	var day, hour int
	var last time.Time
	for _, e := range entries {
		if e.TS.After(t) {
			continue
		}
		age := t.Sub(e.TS)
		if age < 24*time.Hour {
			day++
		}
		if age < time.Hour {
			hour++
		}
		if e.TS.After(last) {
			last = e.TS
		}
	}

	if quota.DayCap > 0 && day >= quota.DayCap {
		return false, CauseDayCap
	}
	if quota.HourCap > 0 && hour >= quota.HourCap {
		return false, CauseHourCap
	}
	if quota.GapMin > 0 && !last.IsZero() {
		if t.Sub(last) < time.Duration(quota.GapMin)*time.Minute {
			return false, CauseMinGap
		}
	}
	return true, ""
}
