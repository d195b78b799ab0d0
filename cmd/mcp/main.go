// ExitGuard MCP Server - Exposes session inspection and intervention tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/exitguard/exitguard/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:            envOrDefault("EXITGUARD_API_URL", "http://localhost:8080"),
		APIKey:            os.Getenv("EXITGUARD_API_KEY"),
		DashboardUser:     os.Getenv("EXITGUARD_DASHBOARD_USER"),
		DashboardPassword: os.Getenv("EXITGUARD_DASHBOARD_PASSWORD"),
	}

	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "EXITGUARD_API_KEY is required")
		os.Exit(1)
	}
	if cfg.DashboardUser == "" || cfg.DashboardPassword == "" {
		fmt.Fprintln(os.Stderr, "EXITGUARD_DASHBOARD_USER and EXITGUARD_DASHBOARD_PASSWORD are required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
