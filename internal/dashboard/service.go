// Package dashboard aggregates stored sessions into the operator views:
// the live session list and fleet-wide salvage statistics.
package dashboard

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/exitguard/exitguard/internal/risk"
	"github.com/exitguard/exitguard/internal/session"
)

// LivenessWindow is how recently a session must have been active to count
// as live on the dashboard.
const LivenessWindow = 5 * time.Minute

// SessionSummary is the dashboard projection of a session. The raw event
// log stays server-side; only the aggregate state ships to the browser.
type SessionSummary struct {
	SessionID       string             `json:"session_id"`
	RiskScore       int                `json:"risk_score"`
	RootCause       string             `json:"root_cause"`
	SuggestedAction string             `json:"suggested_action"`
	LastActive      string             `json:"last_active"`
	Behaviors       map[string]float64 `json:"behaviors"`
	Mood            string             `json:"mood"`
	MoodConfidence  float64            `json:"mood_confidence"`
	MoodScores      map[string]float64 `json:"mood_scores"`
}

// ActiveList is the live-session view.
type ActiveList struct {
	Sessions      []SessionSummary `json:"sessions"`
	TotalSessions int              `json:"total_sessions"`
	HighRiskCount int              `json:"high_risk_count"`
}

// SalvageStats is the fleet-wide outcome report.
type SalvageStats struct {
	TotalSalvagedCustomers  int              `json:"total_salvaged_customers"`
	TotalRevenueSaved       float64          `json:"total_revenue_saved"`
	SalvageRate             float64          `json:"salvage_rate"`
	InterventionSuccessRate float64          `json:"intervention_success_rate"`
	AvgSalvageValue         float64          `json:"avg_salvage_value"`
	TotalHighRisk           int              `json:"total_high_risk"`
	TotalConversions        int              `json:"total_conversions"`
	TotalRevenue            float64          `json:"total_revenue"`
	SalvagedSessions        []SessionSummary `json:"salvaged_sessions"`
}

// Service computes dashboard views over a session store.
type Service struct {
	store session.Store
}

// NewService creates a dashboard service.
func NewService(store session.Store) *Service {
	return &Service{store: store}
}

// ActiveSessions returns sessions active within the liveness window,
// sorted by risk score descending. now is epoch milliseconds.
func (s *Service) ActiveSessions(ctx context.Context, now int64) (*ActiveList, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	summaries := make([]SessionSummary, 0, len(all))
	highRisk := 0

	for _, sess := range all {
		elapsed := (now - sess.LastActive) / 1000
		if elapsed >= int64(LivenessWindow.Seconds()) {
			continue
		}
		summary := summarize(sess)
		summary.LastActive = fmt.Sprintf("%ds ago", elapsed)
		summaries = append(summaries, summary)
		if sess.RiskScore >= risk.InterventionThreshold {
			highRisk++
		}
	}

	// Stable keeps insertion order for ties so the list doesn't jitter
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].RiskScore > summaries[j].RiskScore
	})

	return &ActiveList{
		Sessions:      summaries,
		TotalSessions: len(summaries),
		HighRiskCount: highRisk,
	}, nil
}

// SalvageStats aggregates outcomes over every stored session, live or not.
// Converted sessions are retained longer than the liveness window precisely
// so they still count here.
func (s *Service) SalvageStats(ctx context.Context) (*SalvageStats, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	stats := &SalvageStats{SalvagedSessions: []SessionSummary{}}
	var revenueSaved, totalRevenue float64

	for _, sess := range all {
		if sess.RiskScore >= risk.InterventionThreshold {
			stats.TotalHighRisk++
		}
		switch sess.ConversionStatus {
		case session.StatusSalvaged:
			stats.TotalSalvagedCustomers++
			stats.TotalConversions++
			revenueSaved += sess.OrderValue
			totalRevenue += sess.OrderValue
			stats.SalvagedSessions = append(stats.SalvagedSessions, summarize(sess))
		case session.StatusConverted:
			stats.TotalConversions++
			totalRevenue += sess.OrderValue
		}
	}

	if stats.TotalHighRisk > 0 {
		stats.SalvageRate = round4(float64(stats.TotalSalvagedCustomers) / float64(stats.TotalHighRisk))
	}
	stats.InterventionSuccessRate = stats.SalvageRate
	if stats.TotalSalvagedCustomers > 0 {
		stats.AvgSalvageValue = round2(revenueSaved / float64(stats.TotalSalvagedCustomers))
	}
	stats.TotalRevenueSaved = round2(revenueSaved)
	stats.TotalRevenue = round2(totalRevenue)

	return stats, nil
}

func summarize(sess *session.Session) SessionSummary {
	moodScores := sess.MoodScores
	if moodScores == nil {
		moodScores = map[string]float64{}
	}
	return SessionSummary{
		SessionID:       sess.SessionID,
		RiskScore:       sess.RiskScore,
		RootCause:       sess.RootCause,
		SuggestedAction: sess.SuggestedAction,
		Behaviors:       sess.Behaviors,
		Mood:            sess.Mood,
		MoodConfidence:  sess.MoodConfidence,
		MoodScores:      moodScores,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
