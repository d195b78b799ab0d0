// Package tracker owns the ingest path: it turns raw telemetry batches into
// scored sessions and records intervention and conversion outcomes.
//
// All writes for one session id are serialized through a sharded mutex, so
// concurrent batches from the same visitor can't interleave their
// read-modify-write cycles. Different sessions proceed fully in parallel.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exitguard/exitguard/internal/logging"
	"github.com/exitguard/exitguard/internal/metrics"
	"github.com/exitguard/exitguard/internal/risk"
	"github.com/exitguard/exitguard/internal/session"
	"github.com/exitguard/exitguard/internal/syncutil"
	"github.com/exitguard/exitguard/internal/traces"
	"github.com/exitguard/exitguard/internal/validation"
)

// DefaultInterventionType is used when a client marks an intervention
// without naming one.
const DefaultInterventionType = "discount_popup"

// Broadcaster pushes tracker events to live dashboard clients.
// Satisfied by realtime.Hub; nil disables streaming.
type Broadcaster interface {
	BroadcastRiskAlert(data map[string]interface{})
	BroadcastIntervention(data map[string]interface{})
	BroadcastConversion(data map[string]interface{})
	BroadcastMoodShift(data map[string]interface{})
}

// TrackRequest is one telemetry batch from the storefront snippet.
// Timestamps are client epoch milliseconds.
type TrackRequest struct {
	SessionID      string             `json:"session_id"`
	Timestamp      int64              `json:"timestamp"`
	Events         []map[string]any   `json:"events"`
	Behaviors      map[string]float64 `json:"behaviors"`
	Mood           string             `json:"mood"`
	MoodScores     map[string]float64 `json:"moodScores"`
	MoodConfidence float64            `json:"moodConfidence"`
}

// TrackResult echoes the assessment computed for the batch.
type TrackResult struct {
	SessionID       string `json:"session_id"`
	RiskScore       int    `json:"risk_score"`
	RootCause       string `json:"root_cause"`
	SuggestedAction string `json:"suggested_action"`
	Mood            string `json:"mood"`
}

// ConversionResult reports whether a purchase was salvaged.
type ConversionResult struct {
	Salvaged         bool    `json:"salvaged"`
	RevenueSaved     float64 `json:"revenue_saved"`
	ConversionStatus string  `json:"conversion_status"`
}

// Service aggregates telemetry into sessions and records outcomes.
type Service struct {
	store         session.Store
	locks         syncutil.ShardedMutex
	hub           Broadcaster
	sessionTTL    time.Duration
	conversionTTL time.Duration
}

// NewService creates a tracker service. hub may be nil to disable
// realtime streaming.
func NewService(store session.Store, hub Broadcaster, sessionTTL, conversionTTL time.Duration) *Service {
	return &Service{
		store:         store,
		hub:           hub,
		sessionTTL:    sessionTTL,
		conversionTTL: conversionTTL,
	}
}

// ValidateTrackRequest checks a batch before it touches the store.
func ValidateTrackRequest(req *TrackRequest) validation.ValidationErrors {
	validators := []func() *validation.ValidationError{
		validation.Required("session_id", req.SessionID),
		validation.ValidSessionID("session_id", req.SessionID),
		validation.MaxLength("session_id", req.SessionID, validation.MaxSessionIDLength),
	}
	for key, value := range req.Behaviors {
		key, value := key, value
		validators = append(validators, func() *validation.ValidationError {
			if !session.ValidBehaviorKey(key) {
				return &validation.ValidationError{
					Field:   "behaviors." + key,
					Message: "unknown behavior key",
				}
			}
			return nil
		})
		validators = append(validators, validation.NonNegative("behaviors."+key, value))
	}
	return validation.Validate(validators...)
}

// Track applies one telemetry batch: merges counters, updates mood state,
// recomputes the risk assessment, and persists with the tracking TTL.
func (s *Service) Track(ctx context.Context, req *TrackRequest) (*TrackResult, error) {
	if errs := ValidateTrackRequest(req); len(errs) > 0 {
		return nil, errs
	}

	ctx, span := traces.StartSpan(ctx, "tracker.Track", traces.SessionID(req.SessionID))
	defer span.End()

	ctx = logging.WithSessionID(ctx, req.SessionID)

	mood := req.Mood
	if mood == "" {
		mood = session.MoodNeutral
	}

	unlock := s.locks.Lock(req.SessionID)
	defer unlock()

	sess, err := s.store.Get(ctx, req.SessionID)
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			return nil, fmt.Errorf("load session: %w", err)
		}
		sess = session.New(req.SessionID, req.Timestamp)
	}

	prevScore := sess.RiskScore

	sess.LastActive = req.Timestamp
	sess.Events = append(sess.Events, req.Events...)
	if len(sess.Events) > session.MaxEvents {
		sess.Events = sess.Events[len(sess.Events)-session.MaxEvents:]
	}

	// Counters only ever ratchet up. The client reports cumulative totals,
	// so out-of-order batches must not roll a counter backwards.
	for key, value := range req.Behaviors {
		if value > sess.Behaviors[key] {
			sess.Behaviors[key] = value
		}
	}

	moodShifted := mood != session.MoodNeutral && mood != sess.Mood
	if moodShifted {
		sess.MoodHistory = append(sess.MoodHistory, session.MoodChange{
			Mood:       mood,
			Confidence: req.MoodConfidence,
			Timestamp:  req.Timestamp,
		})
	}
	sess.Mood = mood
	sess.MoodScores = req.MoodScores
	sess.MoodConfidence = req.MoodConfidence

	assessment := risk.Evaluate(sess.Behaviors)
	sess.RiskScore = assessment.Score
	sess.RootCause = assessment.RootCause
	sess.SuggestedAction = assessment.SuggestedAction

	if err := s.store.Put(ctx, sess, s.sessionTTL); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	span.SetAttributes(traces.RiskScore(assessment.Score))
	metrics.EventsIngestedTotal.Add(float64(len(req.Events)))
	metrics.RiskScores.Observe(float64(assessment.Score))

	if moodShifted && s.hub != nil {
		s.hub.BroadcastMoodShift(map[string]interface{}{
			"session_id":      req.SessionID,
			"mood":            mood,
			"mood_confidence": req.MoodConfidence,
			"risk_score":      assessment.Score,
		})
	}

	if assessment.Score >= risk.InterventionThreshold && prevScore < risk.InterventionThreshold {
		metrics.HighRiskSessionsTotal.Inc()
		logging.L(ctx).Warn("session crossed intervention threshold",
			"risk_score", assessment.Score,
			"root_cause", assessment.RootCause)
		if s.hub != nil {
			s.hub.BroadcastRiskAlert(map[string]interface{}{
				"session_id":       req.SessionID,
				"risk_score":       assessment.Score,
				"root_cause":       assessment.RootCause,
				"suggested_action": assessment.SuggestedAction,
				"mood":             mood,
			})
		}
	}

	return &TrackResult{
		SessionID:       req.SessionID,
		RiskScore:       assessment.Score,
		RootCause:       assessment.RootCause,
		SuggestedAction: assessment.SuggestedAction,
		Mood:            mood,
	}, nil
}

// MarkIntervention records that an intervention fired for a session.
// The first call wins; repeats are no-ops so the original trigger's type
// and time survive.
func (s *Service) MarkIntervention(ctx context.Context, id, interventionType string, ts int64) error {
	ctx, span := traces.StartSpan(ctx, "tracker.MarkIntervention", traces.SessionID(id))
	defer span.End()

	if interventionType == "" {
		interventionType = DefaultInterventionType
	}
	span.SetAttributes(traces.InterventionType(interventionType))

	unlock := s.locks.Lock(id)
	defer unlock()

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if sess.InterventionTriggered {
		return nil
	}

	sess.InterventionTriggered = true
	sess.InterventionType = interventionType
	sess.InterventionTime = ts

	if err := s.store.Put(ctx, sess, s.sessionTTL); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	metrics.InterventionsTotal.WithLabelValues(interventionType).Inc()
	logging.L(logging.WithSessionID(ctx, id)).Info("intervention marked",
		"intervention_type", interventionType)

	if s.hub != nil {
		s.hub.BroadcastIntervention(map[string]interface{}{
			"session_id":        id,
			"intervention_type": interventionType,
			"risk_score":        sess.RiskScore,
		})
	}
	return nil
}

// RecordConversion records a purchase and attributes salvage. A conversion
// is salvaged when the session was high-risk and an intervention fired
// before the purchase. The transition out of pending happens exactly once;
// repeat calls echo the stored outcome.
func (s *Service) RecordConversion(ctx context.Context, id string, orderValue float64, ts int64) (*ConversionResult, error) {
	ctx, span := traces.StartSpan(ctx, "tracker.RecordConversion",
		traces.SessionID(id), traces.OrderValue(orderValue))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if sess.ConversionStatus != session.StatusPending {
		salvaged := sess.ConversionStatus == session.StatusSalvaged
		revenue := 0.0
		if salvaged {
			revenue = sess.OrderValue
		}
		return &ConversionResult{
			Salvaged:         salvaged,
			RevenueSaved:     revenue,
			ConversionStatus: sess.ConversionStatus,
		}, nil
	}

	salvaged := sess.RiskScore >= risk.InterventionThreshold && sess.InterventionTriggered
	if salvaged {
		sess.ConversionStatus = session.StatusSalvaged
	} else {
		sess.ConversionStatus = session.StatusConverted
	}
	sess.OrderValue = orderValue
	sess.ConvertedAt = ts

	// Converted sessions outlive the tracking window for reporting.
	if err := s.store.Put(ctx, sess, s.conversionTTL); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	span.SetAttributes(traces.ConversionStatus(sess.ConversionStatus))
	metrics.ConversionsTotal.WithLabelValues(sess.ConversionStatus).Inc()

	revenue := 0.0
	if salvaged {
		revenue = orderValue
		metrics.RevenueSavedTotal.Add(orderValue)
	}

	logging.L(logging.WithSessionID(ctx, id)).Info("conversion recorded",
		"conversion_status", sess.ConversionStatus,
		"order_value", orderValue,
		"salvaged", salvaged)

	if s.hub != nil {
		s.hub.BroadcastConversion(map[string]interface{}{
			"session_id":        id,
			"conversion_status": sess.ConversionStatus,
			"order_value":       orderValue,
			"salvaged":          salvaged,
		})
	}

	return &ConversionResult{
		Salvaged:         salvaged,
		RevenueSaved:     revenue,
		ConversionStatus: sess.ConversionStatus,
	}, nil
}

// GetSession returns the full stored record for one session.
func (s *Service) GetSession(ctx context.Context, id string) (*session.Session, error) {
	return s.store.Get(ctx, id)
}
