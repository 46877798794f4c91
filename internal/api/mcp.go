package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pylonhq/pylon/internal/job"
	"github.com/pylonhq/pylon/internal/render"
)

// NewMCPServer creates an MCP server exposing the gateway's session, job,
// and render operations as tools.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"pylon",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("pylon — diagram-generation gateway: sessions, ingestion jobs, and rendered SVG retrieval."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("create_session",
			mcp.WithDescription("Create a new conversation session and return its id."),
		),
		mcpCreateSession(deps),
	)

	s.AddTool(
		mcp.NewTool("get_session",
			mcp.WithDescription("Fetch the full session record: messages, images, diagrams, plans."),
			mcp.WithString("session_id", mcp.Description("Session id"), mcp.Required()),
		),
		mcpGetSession(deps),
	)

	s.AddTool(
		mcp.NewTool("append_message",
			mcp.WithDescription("Append a message to a session's conversation log."),
			mcp.WithString("session_id", mcp.Description("Session id"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Message content"), mcp.Required()),
		),
		mcpAppendMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_ingest",
			mcp.WithDescription("Queue an asynchronous repository ingestion job."),
			mcp.WithString("repo_url", mcp.Description("Repository URL to ingest"), mcp.Required()),
			mcp.WithString("commit", mcp.Description("Optional commit to pin")),
			mcp.WithString("session_id", mcp.Description("Optional session to attach results to")),
		),
		mcpSubmitIngest(deps),
	)

	s.AddTool(
		mcp.NewTool("get_job",
			mcp.WithDescription("Poll an ingestion job's status and result."),
			mcp.WithString("job_id", mcp.Description("Job id"), mcp.Required()),
		),
		mcpGetJob(deps),
	)

	s.AddTool(
		mcp.NewTool("render_diagram",
			mcp.WithDescription("Return the rendered SVG for an image id, or a placeholder if none exists yet."),
			mcp.WithString("image_id", mcp.Description("Image id"), mcp.Required()),
		),
		mcpRenderDiagram(deps),
	)

	return s
}

// NewMCPHTTPHandler wraps the MCP server in the streamable HTTP transport
// so the tools are reachable on the gateway's own listener.
func NewMCPHTTPHandler(deps Deps) http.Handler {
	return server.NewStreamableHTTPServer(NewMCPServer(deps))
}

func mcpCreateSession(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess := deps.Sessions.Create()
		return mcpText(fmt.Sprintf(`{"session_id":%q}`, sess.ID)), nil
	}
}

func mcpGetSession(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		sess, ok := deps.Sessions.Get(id)
		if !ok {
			return mcpError(fmt.Sprintf("session %s not found", id)), nil
		}

		b, err := json.Marshal(sess)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal session: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAppendMessage(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		msg, err := deps.Sessions.AppendMessage(id, content)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to append message: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Appended message %s", msg.ID)), nil
	}
}

func mcpSubmitIngest(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		repoURL, err := req.RequireString("repo_url")
		if err != nil {
			return mcpError("repo_url is required"), nil
		}

		j := deps.Jobs.Submit(job.Payload{
			RepoURL:   repoURL,
			Commit:    req.GetString("commit", ""),
			SessionID: req.GetString("session_id", ""),
		})
		return mcpText(fmt.Sprintf(`{"job_id":%q,"status":%q}`, j.ID, j.Status)), nil
	}
}

func mcpGetJob(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}

		j, ok := deps.Jobs.Get(id)
		if !ok {
			return mcpError(fmt.Sprintf("job %s not found", id)), nil
		}

		b, err := json.Marshal(j)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal job: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRenderDiagram(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		imageID, err := req.RequireString("image_id")
		if err != nil {
			return mcpError("image_id is required"), nil
		}

		if path, ok := deps.Render.Lookup(imageID); ok {
			if data, readErr := os.ReadFile(path); readErr == nil {
				return mcpText(string(data)), nil
			}
		}
		return mcpText(string(render.Placeholder(imageID))), nil
	}
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
