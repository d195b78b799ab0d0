package risk

import "strings"

// Score computes the churn-risk score from a behavior snapshot.
// Pure computation over the counters — no I/O, no clock, no state.
//
// Fewer than 2 frustration signals means the visitor is merely browsing:
// the score is capped at 20 regardless of how large any single counter is.
// With 2+ signals the counters are weighted and summed, clamped to 100.
func Score(behaviors map[string]float64) int {
	rage := behaviors[KeyRageClicks]
	dead := behaviors[KeyDeadClicks]
	hes := behaviors[KeyHesitations]
	idle := behaviors[KeyIdleTime]
	jiggle := behaviors[KeyMouseJiggle]

	signals := 0
	if rage >= RageClickSignal {
		signals++
	}
	if dead >= DeadClickSignal {
		signals++
	}
	if hes >= HesitationSignal {
		signals++
	}
	if idle >= IdleSignal {
		signals++
	}
	if jiggle >= MouseJiggleSignal {
		signals++
	}

	if signals < 2 {
		score := signals * 10
		if score > 20 {
			score = 20
		}
		return score
	}

	idleContrib := idle / 2
	if idleContrib > idleContribCap {
		idleContrib = idleContribCap
	}

	score := int(rage*weightRageClick +
		dead*weightDeadClick +
		hes*weightHesitation +
		jiggle*weightMouseJiggle +
		idleContrib*weightIdle)
	if score > 100 {
		score = 100
	}
	return score
}

// RootCause names the behavior patterns driving the risk.
// Runs independently of the 2-signal scoring gate so the dashboard can
// surface a cause even while the score is still low.
func RootCause(behaviors map[string]float64) string {
	var causes []string
	if behaviors[KeyRageClicks] >= RageClickSignal {
		causes = append(causes, "High frustration (rage clicks detected)")
	}
	if behaviors[KeyDeadClicks] >= DeadClickSignal {
		causes = append(causes, "UI responsiveness issues (dead clicks)")
	}
	if behaviors[KeyIdleTime] >= idleRootCauseSignal {
		causes = append(causes, "User confusion or distraction (extended idle)")
	}
	if behaviors[KeyHesitations] >= HesitationSignal {
		causes = append(causes, "Purchase hesitation")
	}
	if len(causes) == 0 {
		return "Normal user behavior"
	}
	return strings.Join(causes, " + ")
}

// SuggestAction maps a score to an intervention recommendation.
// The root cause is accepted so recommendations can later condition on it;
// today the banding depends on the score alone.
func SuggestAction(score int, rootCause string) string {
	_ = rootCause
	switch {
	case score < OutreachThreshold:
		return "Monitor session - no intervention needed"
	case score < InterventionThreshold:
		return "Prepare proactive outreach - user showing mild frustration"
	default:
		return "IMMEDIATE INTERVENTION - Trigger discount popup or live chat"
	}
}

// Evaluate bundles score, root cause, and recommendation for one snapshot.
func Evaluate(behaviors map[string]float64) Assessment {
	score := Score(behaviors)
	cause := RootCause(behaviors)
	return Assessment{
		Score:           score,
		RootCause:       cause,
		SuggestedAction: SuggestAction(score, cause),
	}
}
