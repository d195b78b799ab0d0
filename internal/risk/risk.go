// Package risk implements heuristic churn-risk scoring for storefront visitors.
//
// Behavioral counters (rage clicks, dead clicks, hesitations, idle time,
// mouse jiggles) are evaluated against 5 frustration signals. Scores range
// from 0 (engaged) to 100 (about to abandon). Scores at or above the
// intervention threshold warrant an immediate save attempt.
package risk

// Behavior counter keys consumed by the engine.
const (
	KeyRageClicks  = "rageClicks"
	KeyDeadClicks  = "deadClicks"
	KeyHesitations = "hesitations"
	KeyIdleTime    = "idleTime"
	KeyMouseJiggle = "mouseJiggles"
)

// Signal thresholds: a counter at or above its threshold is one frustration signal.
const (
	RageClickSignal   = 2
	DeadClickSignal   = 2
	HesitationSignal  = 3
	IdleSignal        = 20 // seconds
	MouseJiggleSignal = 6
)

// Scoring weights applied once at least 2 signals fire.
const (
	weightRageClick   = 20
	weightDeadClick   = 10
	weightHesitation  = 5
	weightMouseJiggle = 2
	weightIdle        = 2  // applied to idle seconds / 2
	idleContribCap    = 15 // idle/2 capped before weighting
)

// Score bands for intervention recommendations.
const (
	OutreachThreshold     = 30
	InterventionThreshold = 60
)

// Root-cause detection uses a looser idle threshold than scoring:
// a visitor can look confused before they look ready to leave.
const idleRootCauseSignal = 15

// Assessment is the result of evaluating one behavior snapshot.
type Assessment struct {
	Score           int    `json:"risk_score"`
	RootCause       string `json:"root_cause"`
	SuggestedAction string `json:"suggested_action"`
}
