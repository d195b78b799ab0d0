package risk

import (
	"strings"
	"testing"
)

func TestScoreNoBehaviors(t *testing.T) {
	if got := Score(map[string]float64{}); got != 0 {
		t.Errorf("empty behaviors score = %d, want 0", got)
	}
	if got := Score(nil); got != 0 {
		t.Errorf("nil behaviors score = %d, want 0", got)
	}
}

func TestScoreSingleSignalCapped(t *testing.T) {
	// One signal firing, however extreme the counter, stays in browse territory.
	behaviors := map[string]float64{KeyRageClicks: 100}
	if got := Score(behaviors); got != 10 {
		t.Errorf("single-signal score = %d, want 10", got)
	}
}

func TestScoreTwoSignalsWeighted(t *testing.T) {
	// rage=2, dead=2: both signals fire, weighted sum = 2*20 + 2*10 = 60
	behaviors := map[string]float64{
		KeyRageClicks: 2,
		KeyDeadClicks: 2,
	}
	if got := Score(behaviors); got != 60 {
		t.Errorf("two-signal score = %d, want 60", got)
	}
}

func TestScoreClampedAt100(t *testing.T) {
	behaviors := map[string]float64{
		KeyRageClicks:  50,
		KeyDeadClicks:  50,
		KeyHesitations: 50,
		KeyIdleTime:    500,
		KeyMouseJiggle: 50,
	}
	if got := Score(behaviors); got != 100 {
		t.Errorf("extreme behaviors score = %d, want 100", got)
	}
}

func TestScoreIdleContributionCapped(t *testing.T) {
	// rage=2 + jiggle=6 opens the weighted path; idle contributes at most
	// 15*2=30 no matter how long the visitor idles.
	// 2*20 + 6*2 + 15*2 = 82
	withIdle := map[string]float64{
		KeyRageClicks:  2,
		KeyMouseJiggle: 6,
		KeyIdleTime:    10000,
	}
	if got := Score(withIdle); got != 82 {
		t.Errorf("idle-capped score = %d, want 82", got)
	}
}

func TestScoreIgnoresScrollCount(t *testing.T) {
	with := map[string]float64{
		KeyRageClicks: 2,
		KeyDeadClicks: 2,
		"scrollCount": 9999,
	}
	without := map[string]float64{
		KeyRageClicks: 2,
		KeyDeadClicks: 2,
	}
	if Score(with) != Score(without) {
		t.Error("scrollCount must not affect the score")
	}
}

func TestScorePure(t *testing.T) {
	behaviors := map[string]float64{
		KeyRageClicks:  3,
		KeyHesitations: 4,
	}
	first := Score(behaviors)
	second := Score(behaviors)
	if first != second {
		t.Errorf("score not deterministic: %d then %d", first, second)
	}
	if len(behaviors) != 2 {
		t.Error("Score mutated its input")
	}
}

func TestScoreBounds(t *testing.T) {
	cases := []map[string]float64{
		nil,
		{},
		{KeyRageClicks: 1},
		{KeyIdleTime: 19.9},
		{KeyRageClicks: 2, KeyDeadClicks: 2, KeyHesitations: 3},
		{KeyRageClicks: 1000, KeyMouseJiggle: 1000},
	}
	for _, behaviors := range cases {
		got := Score(behaviors)
		if got < 0 || got > 100 {
			t.Errorf("score out of bounds for %v: %d", behaviors, got)
		}
	}
}

func TestRootCauseNormal(t *testing.T) {
	got := RootCause(map[string]float64{KeyRageClicks: 1, KeyIdleTime: 10})
	if got != "Normal user behavior" {
		t.Errorf("root cause = %q, want normal", got)
	}
}

func TestRootCauseIdleLooserThanScoring(t *testing.T) {
	// idle in [15, 20): names a cause but doesn't count as a scoring signal.
	behaviors := map[string]float64{KeyIdleTime: 17}

	cause := RootCause(behaviors)
	if !strings.Contains(cause, "extended idle") {
		t.Errorf("root cause %q should flag extended idle at 17s", cause)
	}
	if got := Score(behaviors); got != 0 {
		t.Errorf("17s idle alone should score 0 (no signals), got %d", got)
	}
}

func TestRootCauseJoinsMultiple(t *testing.T) {
	behaviors := map[string]float64{
		KeyRageClicks:  2,
		KeyDeadClicks:  2,
		KeyIdleTime:    30,
		KeyHesitations: 3,
	}
	got := RootCause(behaviors)
	want := "High frustration (rage clicks detected) + UI responsiveness issues (dead clicks) + User confusion or distraction (extended idle) + Purchase hesitation"
	if got != want {
		t.Errorf("root cause = %q, want %q", got, want)
	}
}

func TestSuggestActionBands(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{0, "Monitor session - no intervention needed"},
		{29, "Monitor session - no intervention needed"},
		{30, "Prepare proactive outreach - user showing mild frustration"},
		{59, "Prepare proactive outreach - user showing mild frustration"},
		{60, "IMMEDIATE INTERVENTION - Trigger discount popup or live chat"},
		{100, "IMMEDIATE INTERVENTION - Trigger discount popup or live chat"},
	}
	for _, tt := range tests {
		if got := SuggestAction(tt.score, "whatever"); got != tt.want {
			t.Errorf("SuggestAction(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestEvaluateBundles(t *testing.T) {
	behaviors := map[string]float64{
		KeyRageClicks: 2,
		KeyDeadClicks: 2,
	}
	a := Evaluate(behaviors)
	if a.Score != 60 {
		t.Errorf("score = %d, want 60", a.Score)
	}
	if !strings.Contains(a.RootCause, "rage clicks") || !strings.Contains(a.RootCause, "dead clicks") {
		t.Errorf("root cause incomplete: %q", a.RootCause)
	}
	if !strings.HasPrefix(a.SuggestedAction, "IMMEDIATE INTERVENTION") {
		t.Errorf("suggested action = %q, want immediate intervention", a.SuggestedAction)
	}
}
