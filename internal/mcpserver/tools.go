package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the ExitGuard MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetSession = mcp.NewTool("get_session",
	mcp.WithDescription(
		"Get the full tracked record for one storefront session: behavior "+
			"counters, churn-risk score with root cause, mood history, and any "+
			"intervention or conversion outcome. Use this to understand why a "+
			"specific visitor is at risk before reaching out."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("The session identifier (e.g. 'sess_a1b2c3')")),
)

var ToolListActiveSessions = mcp.NewTool("list_active_sessions",
	mcp.WithDescription(
		"List sessions active in the last 5 minutes, sorted by churn-risk "+
			"score descending. Shows each visitor's risk score, root cause, "+
			"suggested action, and mood. Use this to find who needs attention "+
			"right now."),
)

var ToolGetSalvageStats = mcp.NewTool("get_salvage_stats",
	mcp.WithDescription(
		"Get fleet-wide salvage statistics: how many high-risk visitors were "+
			"rescued, the salvage rate, and revenue saved by interventions. "+
			"Use this to report on intervention effectiveness."),
)

var ToolMarkIntervention = mcp.NewTool("mark_intervention",
	mcp.WithDescription(
		"Record that an intervention was made for an at-risk session (e.g. "+
			"after opening a live chat or sending a discount). Marking the "+
			"intervention is what makes a later purchase count as salvaged."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("The session identifier to mark")),
	mcp.WithString("intervention_type",
		mcp.Description("What was done: 'discount_popup', 'live_chat', or a custom label. Defaults to 'discount_popup'."),
	),
)
