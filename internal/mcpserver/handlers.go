package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *ExitGuardClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *ExitGuardClient) *Handlers {
	return &Handlers{client: client}
}

// HandleGetSession returns one session's full record.
func (h *Handlers) HandleGetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	raw, err := h.client.GetSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get session: %v", err)), nil
	}

	text, err := formatSession(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse session: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListActiveSessions lists live sessions by risk.
func (h *Handlers) HandleListActiveSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListActiveSessions(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list sessions: %v", err)), nil
	}

	text, err := formatSessionList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse sessions: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetSalvageStats returns the fleet-wide salvage report.
func (h *Handlers) HandleGetSalvageStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetSalvageStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get salvage stats: %v", err)), nil
	}

	text, err := formatSalvageStats(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse salvage stats: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleMarkIntervention records an intervention for a session.
func (h *Handlers) HandleMarkIntervention(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	interventionType := req.GetString("intervention_type", "")

	if _, err := h.client.MarkIntervention(ctx, sessionID, interventionType); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to mark intervention: %v", err)), nil
	}

	label := interventionType
	if label == "" {
		label = "discount_popup"
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Intervention '%s' marked for session %s. "+
			"If this visitor converts, the sale will count as salvaged.",
		label, sessionID)), nil
}

// ---------------------------------------------------------------------------
// Formatters: turn API JSON into text an LLM can reason about
// ---------------------------------------------------------------------------

type sessionView struct {
	SessionID             string             `json:"session_id"`
	RiskScore             int                `json:"risk_score"`
	RootCause             string             `json:"root_cause"`
	SuggestedAction       string             `json:"suggested_action"`
	LastActive            json.RawMessage    `json:"last_active"`
	Behaviors             map[string]float64 `json:"behaviors"`
	Mood                  string             `json:"mood"`
	MoodConfidence        float64            `json:"mood_confidence"`
	InterventionTriggered bool               `json:"intervention_triggered"`
	InterventionType      string             `json:"intervention_type"`
	ConversionStatus      string             `json:"conversion_status"`
	OrderValue            float64            `json:"order_value"`
}

func formatSession(raw json.RawMessage) (string, error) {
	var s sessionView
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s\n", s.SessionID)
	fmt.Fprintf(&sb, "Risk score: %d/100\n", s.RiskScore)
	fmt.Fprintf(&sb, "Root cause: %s\n", s.RootCause)
	fmt.Fprintf(&sb, "Suggested action: %s\n", s.SuggestedAction)
	if s.Mood != "" {
		fmt.Fprintf(&sb, "Mood: %s (confidence %.2f)\n", s.Mood, s.MoodConfidence)
	}
	if s.InterventionTriggered {
		fmt.Fprintf(&sb, "Intervention: %s\n", s.InterventionType)
	} else {
		sb.WriteString("Intervention: none yet\n")
	}
	if s.ConversionStatus != "" {
		fmt.Fprintf(&sb, "Conversion: %s", s.ConversionStatus)
		if s.OrderValue > 0 {
			fmt.Fprintf(&sb, " (order value %.2f)", s.OrderValue)
		}
		sb.WriteString("\n")
	}

	if len(s.Behaviors) > 0 {
		sb.WriteString("\nBehavior counters (non-zero):\n")
		for _, key := range []string{
			"rageClicks", "deadClicks", "hesitations", "idleTime",
			"mouseJiggles", "cartRevisits", "checkoutAttempts",
		} {
			if v := s.Behaviors[key]; v > 0 {
				fmt.Fprintf(&sb, "  %s: %g\n", key, v)
			}
		}
	}

	return sb.String(), nil
}

func formatSessionList(raw json.RawMessage) (string, error) {
	var list struct {
		Sessions []struct {
			SessionID       string `json:"session_id"`
			RiskScore       int    `json:"risk_score"`
			RootCause       string `json:"root_cause"`
			SuggestedAction string `json:"suggested_action"`
			LastActive      string `json:"last_active"`
			Mood            string `json:"mood"`
		} `json:"sessions"`
		TotalSessions int `json:"total_sessions"`
		HighRiskCount int `json:"high_risk_count"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", err
	}

	if list.TotalSessions == 0 {
		return "No sessions active in the last 5 minutes.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d active session(s), %d high-risk:\n\n",
		list.TotalSessions, list.HighRiskCount)

	for _, s := range list.Sessions {
		fmt.Fprintf(&sb, "- %s  risk %d/100  (%s)\n", s.SessionID, s.RiskScore, s.LastActive)
		fmt.Fprintf(&sb, "  cause: %s\n", s.RootCause)
		fmt.Fprintf(&sb, "  action: %s\n", s.SuggestedAction)
		if s.Mood != "" && s.Mood != "neutral" {
			fmt.Fprintf(&sb, "  mood: %s\n", s.Mood)
		}
	}

	return sb.String(), nil
}

func formatSalvageStats(raw json.RawMessage) (string, error) {
	var stats struct {
		TotalSalvagedCustomers int     `json:"total_salvaged_customers"`
		TotalRevenueSaved      float64 `json:"total_revenue_saved"`
		SalvageRate            float64 `json:"salvage_rate"`
		AvgSalvageValue        float64 `json:"avg_salvage_value"`
		TotalHighRisk          int     `json:"total_high_risk"`
		TotalConversions       int     `json:"total_conversions"`
		TotalRevenue           float64 `json:"total_revenue"`
	}
	if err := json.Unmarshal(raw, &stats); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Salvage report:\n")
	fmt.Fprintf(&sb, "  Customers salvaged: %d of %d high-risk (%.1f%%)\n",
		stats.TotalSalvagedCustomers, stats.TotalHighRisk, stats.SalvageRate*100)
	fmt.Fprintf(&sb, "  Revenue saved: %.2f (avg %.2f per salvage)\n",
		stats.TotalRevenueSaved, stats.AvgSalvageValue)
	fmt.Fprintf(&sb, "  Total conversions: %d worth %.2f\n",
		stats.TotalConversions, stats.TotalRevenue)

	return sb.String(), nil
}
