package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pylonhq/pylon/internal/job"
	"github.com/pylonhq/pylon/internal/render"
	"github.com/pylonhq/pylon/internal/session"
)

func setupMCPDeps(t *testing.T) Deps {
	t.Helper()
	sessions := session.NewStore(nil)
	jobs := job.NewStore(job.SimulatedProcess(10*time.Millisecond), sessions.AppendImage, nil)
	idx, err := render.NewIndex(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("render.NewIndex failed: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return Deps{Sessions: sessions, Jobs: jobs, Render: idx}
}

func toolReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("tool result content is %T, want TextContent", res.Content[0])
	}
	return tc.Text
}

func TestMCPServerRegisters(t *testing.T) {
	if s := NewMCPServer(setupMCPDeps(t)); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPCreateAndGetSession(t *testing.T) {
	deps := setupMCPDeps(t)

	res, err := mcpCreateSession(deps)(context.Background(), toolReq(nil))
	if err != nil {
		t.Fatalf("create_session failed: %v", err)
	}
	var created map[string]string
	if err := json.Unmarshal([]byte(resultText(t, res)), &created); err != nil {
		t.Fatalf("create_session output is not JSON: %v", err)
	}
	id := created["session_id"]
	if id == "" {
		t.Fatal("create_session returned no id")
	}

	res, err = mcpGetSession(deps)(context.Background(), toolReq(map[string]any{"session_id": id}))
	if err != nil {
		t.Fatalf("get_session failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("get_session errored: %s", resultText(t, res))
	}

	res, _ = mcpGetSession(deps)(context.Background(), toolReq(map[string]any{"session_id": "missing"}))
	if !res.IsError {
		t.Error("get_session of unknown id did not report an error")
	}
}

func TestMCPAppendMessage(t *testing.T) {
	deps := setupMCPDeps(t)
	sess := deps.Sessions.Create()

	res, err := mcpAppendMessage(deps)(context.Background(), toolReq(map[string]any{
		"session_id": sess.ID,
		"content":    "hello",
	}))
	if err != nil || res.IsError {
		t.Fatalf("append_message failed: err=%v result=%v", err, res)
	}

	got, _ := deps.Sessions.Get(sess.ID)
	if len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Errorf("session messages = %v, want one hello", got.Messages)
	}

	res, _ = mcpAppendMessage(deps)(context.Background(), toolReq(map[string]any{"session_id": sess.ID}))
	if !res.IsError {
		t.Error("append_message without content did not report an error")
	}
}

func TestMCPSubmitAndPollJob(t *testing.T) {
	deps := setupMCPDeps(t)

	res, err := mcpSubmitIngest(deps)(context.Background(), toolReq(map[string]any{
		"repo_url": "https://example.com/repo.git",
	}))
	if err != nil || res.IsError {
		t.Fatalf("submit_ingest failed: err=%v result=%v", err, res)
	}
	var submitted map[string]string
	if err := json.Unmarshal([]byte(resultText(t, res)), &submitted); err != nil {
		t.Fatalf("submit_ingest output is not JSON: %v", err)
	}
	if submitted["status"] != "queued" {
		t.Errorf("status = %q, want queued", submitted["status"])
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		res, _ = mcpGetJob(deps)(context.Background(), toolReq(map[string]any{"job_id": submitted["job_id"]}))
		var j map[string]any
		json.Unmarshal([]byte(resultText(t, res)), &j)
		if j["status"] == "complete" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never completed via get_job")
}

func TestMCPRenderDiagramPlaceholder(t *testing.T) {
	deps := setupMCPDeps(t)

	res, err := mcpRenderDiagram(deps)(context.Background(), toolReq(map[string]any{"image_id": "nothing-here"}))
	if err != nil || res.IsError {
		t.Fatalf("render_diagram failed: err=%v result=%v", err, res)
	}
	if !strings.Contains(resultText(t, res), "<svg") {
		t.Error("render_diagram fallback is not SVG")
	}
}
