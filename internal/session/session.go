// Package session defines the per-visitor telemetry aggregate and its stores.
//
// A Session is the short-lived record of one storefront visit: raw events,
// high-water behavior counters, the latest risk assessment, and any
// intervention or conversion outcome. Sessions expire a few minutes after
// the last write; converted sessions are retained longer for reporting.
package session

import (
	"context"
	"errors"
	"time"
)

// Conversion statuses.
const (
	StatusPending   = "pending"
	StatusConverted = "converted"
	StatusSalvaged  = "salvaged"
)

// MoodNeutral is the default mood for a new session.
const MoodNeutral = "neutral"

// MaxEvents caps the raw event log per session. Counters, not raw events,
// feed scoring, so dropping old events never changes the risk output.
const MaxEvents = 1000

var (
	// ErrSessionNotFound is returned when a session is absent or expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStoreUnavailable is returned when the backing store cannot be reached.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// BehaviorKeys is the fixed set of counters a client may report.
var BehaviorKeys = []string{
	"rageClicks",
	"deadClicks",
	"hesitations",
	"idleTime",
	"scrollCount",
	"mouseJiggles",
	"cartRevisits",
	"itemAddRemoves",
	"scrollDirectionChanges",
	"mouseShakeIntensity",
	"priceAreaTime",
	"modalToggle",
	"tabSwitches",
	"mouseExitAttempts",
	"addToCartActions",
	"checkoutAttempts",
}

var behaviorKeySet = func() map[string]struct{} {
	s := make(map[string]struct{}, len(BehaviorKeys))
	for _, k := range BehaviorKeys {
		s[k] = struct{}{}
	}
	return s
}()

// ValidBehaviorKey reports whether k is a known behavior counter.
func ValidBehaviorKey(k string) bool {
	_, ok := behaviorKeySet[k]
	return ok
}

// MoodChange records one transition in the visitor's inferred mood.
type MoodChange struct {
	Mood       string  `json:"mood"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"`
}

// Session is the aggregate state for one visitor. Timestamps are client
// epoch milliseconds except where noted.
type Session struct {
	SessionID             string             `json:"session_id"`
	StartTime             int64              `json:"start_time"`
	LastActive            int64              `json:"last_active"`
	Events                []map[string]any   `json:"events"`
	Behaviors             map[string]float64 `json:"behaviors"`
	RiskScore             int                `json:"risk_score"`
	RootCause             string             `json:"root_cause"`
	SuggestedAction       string             `json:"suggested_action"`
	InterventionTriggered bool               `json:"intervention_triggered"`
	InterventionType      string             `json:"intervention_type,omitempty"`
	InterventionTime      int64              `json:"intervention_time,omitempty"`
	ConversionStatus      string             `json:"conversion_status"`
	OrderValue            float64            `json:"order_value"`
	ConvertedAt           int64              `json:"converted_at,omitempty"`
	Mood                  string             `json:"mood"`
	MoodScores            map[string]float64 `json:"mood_scores,omitempty"`
	MoodConfidence        float64            `json:"mood_confidence"`
	MoodHistory           []MoodChange       `json:"mood_history"`
}

// New creates a fresh session with every behavior counter zeroed.
// A fixed counter map keeps the JSON shape stable from the first response.
func New(id string, startTime int64) *Session {
	behaviors := make(map[string]float64, len(BehaviorKeys))
	for _, k := range BehaviorKeys {
		behaviors[k] = 0
	}
	return &Session{
		SessionID:        id,
		StartTime:        startTime,
		LastActive:       startTime,
		Events:           []map[string]any{},
		Behaviors:        behaviors,
		ConversionStatus: StatusPending,
		Mood:             MoodNeutral,
		MoodHistory:      []MoodChange{},
	}
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Behaviors = make(map[string]float64, len(s.Behaviors))
	for k, v := range s.Behaviors {
		cp.Behaviors[k] = v
	}
	if s.MoodScores != nil {
		cp.MoodScores = make(map[string]float64, len(s.MoodScores))
		for k, v := range s.MoodScores {
			cp.MoodScores[k] = v
		}
	}
	cp.Events = make([]map[string]any, len(s.Events))
	for i, ev := range s.Events {
		evCp := make(map[string]any, len(ev))
		for k, v := range ev {
			evCp[k] = v
		}
		cp.Events[i] = evCp
	}
	cp.MoodHistory = make([]MoodChange, len(s.MoodHistory))
	copy(cp.MoodHistory, s.MoodHistory)
	return &cp
}

// Store persists sessions with per-write TTLs.
type Store interface {
	// Put saves the session and resets its expiry to now+ttl.
	Put(ctx context.Context, s *Session, ttl time.Duration) error
	// Get returns the session or ErrSessionNotFound if absent or expired.
	Get(ctx context.Context, id string) (*Session, error)
	// List returns all non-expired sessions.
	List(ctx context.Context) ([]*Session, error)
	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
