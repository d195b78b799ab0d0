package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all ExitGuard tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("exitguard", "1.0.0")
	client := NewExitGuardClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetSession, h.HandleGetSession)
	s.AddTool(ToolListActiveSessions, h.HandleListActiveSessions)
	s.AddTool(ToolGetSalvageStats, h.HandleGetSalvageStats)
	s.AddTool(ToolMarkIntervention, h.HandleMarkIntervention)

	return s
}
