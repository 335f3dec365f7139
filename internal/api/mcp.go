package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/pdfqa/internal/history"
	"github.com/kalambet/pdfqa/internal/metrics"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Metrics *metrics.Store
	History *history.Store
	Version string
}

// NewMCPServer creates an MCP server exposing usage analytics and
// conversation history as tools and resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"pdfqa",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("pdfqa: usage metrics and conversation history of the PDF question-answering service."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("query_stats",
			mcp.WithDescription("Summarize query volume, success rate and latency, optionally for one user."),
			mcp.WithString("user_id", mcp.Description("Only count this user's queries")),
			mcp.WithNumber("days", mcp.Description("Look-back window in days (default 30, 0 for all time)")),
		),
		mcpQueryStats(deps),
	)

	s.AddTool(
		mcp.NewTool("top_documents",
			mcp.WithDescription("Rank source documents by how often they were retrieved."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of documents (default 10)")),
			mcp.WithNumber("days", mcp.Description("Look-back window in days (default 30, 0 for all time)")),
		),
		mcpTopDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("error_stats",
			mcp.WithDescription("Count recorded errors by type and endpoint."),
			mcp.WithNumber("days", mcp.Description("Look-back window in days (default 30, 0 for all time)")),
		),
		mcpErrorStats(deps),
	)

	s.AddTool(
		mcp.NewTool("conversation_history",
			mcp.WithDescription("Return a user's saved question/answer turns, oldest first."),
			mcp.WithString("user_id", mcp.Description("User whose history to read"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Only the most recent N turns (default all)")),
		),
		mcpConversationHistory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"metrics://time-series",
			"Query Time Series",
			mcp.WithResourceDescription("Daily query counts and latency for the last 7 days"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTimeSeries(deps),
	)

	return s
}

func mcpDays(req mcp.CallToolRequest) int {
	days := req.GetInt("days", defaultDays)
	if days < 0 {
		return defaultDays
	}
	return days
}

func mcpQueryStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Metrics.QueryStats(ctx, metrics.Filter{
			UserID: req.GetString("user_id", ""),
			Days:   mcpDays(req),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("query stats failed: %v", err)), nil
		}
		return mcpJSON(stats), nil
	}
}

func mcpTopDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", metrics.DefaultLimit)
		if limit <= 0 {
			limit = metrics.DefaultLimit
		}
		if limit > maxLimit {
			limit = maxLimit
		}

		docs, err := deps.Metrics.TopDocuments(ctx, limit, mcpDays(req))
		if err != nil {
			return mcpError(fmt.Sprintf("ranking documents failed: %v", err)), nil
		}
		return mcpJSON(docs), nil
	}
}

func mcpErrorStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Metrics.ErrorStats(ctx, mcpDays(req))
		if err != nil {
			return mcpError(fmt.Sprintf("error stats failed: %v", err)), nil
		}
		return mcpJSON(stats), nil
	}
}

func mcpConversationHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil || userID == "" {
			return mcpError("user_id is required"), nil
		}
		limit := req.GetInt("limit", 0)
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}

		convs, err := deps.History.History(ctx, userID, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("loading history failed: %v", err)), nil
		}
		return mcpJSON(convs), nil
	}
}

func mcpResourceTimeSeries(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		series, err := deps.Metrics.TimeSeries(ctx, defaultSeriesDays, "")
		if err != nil {
			return nil, fmt.Errorf("failed to build time series: %w", err)
		}

		b, err := json.Marshal(series)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal time series: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
