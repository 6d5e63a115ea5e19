// Package safety implements the content gate: scan aggregation over sampled
// frames, the three-way safety verdict with a single bounded auto-fix retry,
// and the per-asset report cache and lock.
package safety

import "time"

// Asset is one candidate video+caption pair awaiting review. Read-only within
// the pipeline; a fix produces a new artifact path, never a mutation.
type Asset struct {
	ID         string `json:"id"`
	SourcePath string `json:"sourcePath"`
	Caption    string `json:"caption"`
	Profile    string `json:"profile"`
}

// ScanResult is the immutable outcome of one scan pass.
type ScanResult struct {
	NsfwMax       float64            `json:"nsfwMax"`
	NsfwClasses   map[string]float64 `json:"nsfwClasses"`
	SkinRatioMax  float64            `json:"skinRatioMax"`
	ProfanityHits []string           `json:"profanityHits"`
	HasAudio      bool               `json:"hasAudio"`
	FramesChecked int                `json:"framesChecked"`
	// Incomplete marks a scan whose frame extraction or classification failed
	// entirely; scores are zero-signal, not evidence of safety.
	Incomplete bool `json:"incomplete"`
}

// Verdict statuses.
const (
	StatusApproved = "approved"
	StatusFixed    = "fixed"
	StatusRejected = "rejected"
	// StatusPending is returned to a caller that lost the per-asset lock
	// before any report was cached; the caller re-polls next tick.
	StatusPending = "pending"
)

// Verdict reasons.
const (
	ReasonNsfwHard       = "nsfw-hard"
	ReasonNsfwAfterFix   = "nsfw-after-fix"
	ReasonCaptionCleaned = "caption-cleaned"
	ReasonScanIncomplete = "scan-incomplete"
	ReasonMalware        = "malware"
	ReasonProfanity      = "profanity"
)

// ReportMetrics is the ScanResult subset persisted on a report.
type ReportMetrics struct {
	NsfwMax       float64 `json:"nsfwMax"`
	SkinRatioMax  float64 `json:"skinRatioMax"`
	FramesChecked int     `json:"framesChecked"`
	HasAudio      bool    `json:"hasAudio"`
	Incomplete    bool    `json:"incomplete"`
}

// SafetyReport is the cached, immutable outcome of EnsureSafe for one asset.
type SafetyReport struct {
	ID           string        `json:"id"`
	Source       string        `json:"source"`
	Status       string        `json:"status"`
	Reasons      []string      `json:"reasons"`
	CaptionOut   string        `json:"captionOut"`
	ArtifactPath string        `json:"artifactPath,omitempty"`
	Metrics      ReportMetrics `json:"metrics"`
	At           time.Time     `json:"at"`
}

// Publishable reports whether the asset may be handed to a publisher, and with
// which file.
func (r *SafetyReport) Publishable() (string, bool) {
	if r.Status != StatusApproved && r.Status != StatusFixed {
		return "", false
	}
	if r.ArtifactPath != "" {
		return r.ArtifactPath, true
	}
	return r.Source, true
}

// Policy is the static safety configuration, loaded once and read-only at
// runtime.
type Policy struct {
	Porn             float64
	Hentai           float64
	Sexy             float64
	NeutralFloor     float64
	SkinRatioAutoFix float64
	MaxSeconds       float64
	TargetFPS        float64
	NormalizeLUFS    float64
	ProfanityBlock   bool
	RejectIncomplete bool
}

// FixOutcome reports what the auto-fix pipeline did.
type FixOutcome struct {
	Changed bool
	Stages  []string
	OutPath string
	Caption string
}
