package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ryanscovill/jp-work-automation/internal/config"
	"github.com/ryanscovill/jp-work-automation/internal/facts"
	"github.com/ryanscovill/jp-work-automation/internal/session"
)

const testMapping = `
pages:
  - general-information:
      companyName: {data_key: COMPANY, type: text}
  - work:
      hours: {data_key: HOURS, type: select}
transformations:
  HOURS: {type: map, values: {"8": "1: Hours"}}
`

func setupTestServerConfig(t *testing.T) (config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	mappingPath := filepath.Join(dir, "nop.yaml")
	dataPath := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(mappingPath, []byte(testMapping), 0o644))
	require.NoError(t, os.WriteFile(dataPath, []byte(`{"COMPANY": "Acme Co", "HOURS": 8}`), 0o644))

	cfg := config.DefaultConfig()
	cfg.Server.Name = "test-server"
	cfg.Server.Version = "1.0.0"
	cfg.Mapping.Path = mappingPath
	return cfg, dataPath
}

func staticRun(sum session.Summary, ledger *facts.Ledger, err error) RunFunc {
	return func(context.Context, string) (session.Summary, *facts.Ledger, error) {
		return sum, ledger, err
	}
}

func TestNewServerRegistersTools(t *testing.T) {
	cfg, _ := setupTestServerConfig(t)
	server, err := NewServer(cfg, zap.NewNop())
	require.NoError(t, err)
	defer server.Close()

	names := make([]string, 0, len(server.tools))
	for name := range server.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"fill-nop", "fill-report", "list-pages", "preview-page", "task-status"}, names)
}

func TestExecuteUnknownTool(t *testing.T) {
	cfg, _ := setupTestServerConfig(t)
	server := newServer(cfg, zap.NewNop(), staticRun(session.Summary{}, nil, nil))
	defer server.Close()

	_, err := server.ExecuteTool(context.Background(), "nope", nil)
	require.EqualError(t, err, "tool not found: nope")
}

func TestFillNOPLifecycle(t *testing.T) {
	cfg, dataPath := setupTestServerConfig(t)
	release := make(chan struct{})
	server := newServer(cfg, zap.NewNop(), func(ctx context.Context, dataFile string) (session.Summary, *facts.Ledger, error) {
		<-release
		return session.Summary{SessionID: "s-1", Pages: []string{"general-information"}, Filled: 1, Message: "Filled 1 field(s)"}, nil, nil
	})
	defer server.Close()
	ctx := context.Background()

	res, err := server.ExecuteTool(ctx, "fill-nop", map[string]interface{}{"data_file": dataPath})
	require.NoError(t, err)
	started := res.(map[string]interface{})
	assert.Equal(t, true, started["success"])
	assert.Equal(t, "NOP form filling started", started["message"])
	taskID := started["task_id"].(string)
	require.NotEmpty(t, taskID)

	busy, err := server.ExecuteTool(ctx, "fill-nop", map[string]interface{}{"data_file": dataPath})
	require.NoError(t, err)
	assert.Equal(t, false, busy.(map[string]interface{})["success"])
	assert.Equal(t, ErrBusy.Error(), busy.(map[string]interface{})["error"])

	status, err := server.ExecuteTool(ctx, "task-status", map[string]interface{}{"task_id": taskID})
	require.NoError(t, err)
	assert.Equal(t, TaskRunning, status.(Task).Status)

	close(release)
	require.Eventually(t, func() bool {
		task, _ := server.tasks.Get(taskID)
		return task.Status == TaskCompleted
	}, 2*time.Second, 10*time.Millisecond)

	status, err = server.ExecuteTool(ctx, "task-status", map[string]interface{}{"task_id": taskID})
	require.NoError(t, err)
	task := status.(Task)
	require.NotNil(t, task.Summary)
	assert.Equal(t, 1, task.Summary.Filled)
	assert.Equal(t, "Filled 1 field(s)", task.Message)
	assert.False(t, task.EndedAt.IsZero())

	_, err = server.ExecuteTool(ctx, "fill-nop", map[string]interface{}{"data_file": dataPath})
	require.NoError(t, err, "a finished task frees the slot")
}

func TestFillNOPFailure(t *testing.T) {
	cfg, dataPath := setupTestServerConfig(t)
	server := newServer(cfg, zap.NewNop(), staticRun(session.Summary{}, nil, errors.New("chrome not found")))
	defer server.Close()

	res, err := server.ExecuteTool(context.Background(), "fill-nop", map[string]interface{}{"data_file": dataPath})
	require.NoError(t, err)
	taskID := res.(map[string]interface{})["task_id"].(string)

	require.Eventually(t, func() bool {
		task, _ := server.tasks.Get(taskID)
		return task.Status == TaskFailed
	}, 2*time.Second, 10*time.Millisecond)
	task, _ := server.tasks.Get(taskID)
	assert.Equal(t, "chrome not found", task.Error)
	assert.Nil(t, task.Summary)
}

func TestFillNOPValidatesInput(t *testing.T) {
	cfg, _ := setupTestServerConfig(t)
	server := newServer(cfg, zap.NewNop(), staticRun(session.Summary{}, nil, nil))
	defer server.Close()
	ctx := context.Background()

	_, err := server.ExecuteTool(ctx, "fill-nop", map[string]interface{}{})
	require.EqualError(t, err, "data_file is required")

	_, err = server.ExecuteTool(ctx, "fill-nop", map[string]interface{}{"data_file": filepath.Join(t.TempDir(), "missing.json")})
	require.Error(t, err)

	_, err = server.ExecuteTool(ctx, "task-status", map[string]interface{}{"task_id": "unknown"})
	require.EqualError(t, err, "task not found: unknown")
}

func TestFillReport(t *testing.T) {
	cfg, dataPath := setupTestServerConfig(t)
	ledger, err := facts.NewLedger(config.LedgerConfig{Enable: true}, nil)
	require.NoError(t, err)
	require.NoError(t, ledger.Add(
		facts.Fact{Predicate: facts.PredPageFilled, Args: []interface{}{"general-information"}},
		facts.Fact{Predicate: facts.PredFieldFilled, Args: []interface{}{"general-information", "companyName", `[id="companyName"]`}},
		facts.Fact{Predicate: facts.PredPageFilled, Args: []interface{}{"work"}},
		facts.Fact{Predicate: facts.PredFieldMissing, Args: []interface{}{"work", "hours"}},
	))

	server := newServer(cfg, zap.NewNop(), staticRun(session.Summary{SessionID: "s-1"}, ledger, nil))
	defer server.Close()
	ctx := context.Background()

	_, err = server.ExecuteTool(ctx, "fill-report", nil)
	require.EqualError(t, err, "no fill session has been started")

	res, err := server.ExecuteTool(ctx, "fill-nop", map[string]interface{}{"data_file": dataPath})
	require.NoError(t, err)
	taskID := res.(map[string]interface{})["task_id"].(string)
	require.Eventually(t, func() bool {
		task, _ := server.tasks.Get(taskID)
		return task.Status == TaskCompleted
	}, 2*time.Second, 10*time.Millisecond)

	report, err := server.ExecuteTool(ctx, "fill-report", map[string]interface{}{"limit": float64(10)})
	require.NoError(t, err)
	out := report.(map[string]interface{})
	assert.Equal(t, []string{"general-information"}, out["complete"])
	assert.Equal(t, []string{"work"}, out["incomplete"])
	missing := out["missing"].([]facts.Fact)
	require.Len(t, missing, 1)
	assert.Equal(t, []interface{}{"work", "hours"}, missing[0].Args)
	assert.Empty(t, out["failed"])
}

func TestListPagesAndPreview(t *testing.T) {
	cfg, dataPath := setupTestServerConfig(t)
	server := newServer(cfg, zap.NewNop(), staticRun(session.Summary{}, nil, nil))
	defer server.Close()
	ctx := context.Background()

	res, err := server.ExecuteTool(ctx, "list-pages", nil)
	require.NoError(t, err)
	pages := res.(map[string]interface{})["pages"].([]map[string]interface{})
	require.Len(t, pages, 2)
	assert.Equal(t, "general-information", pages[0]["name"])
	assert.Equal(t, []map[string]string{{"id": "hours", "data_key": "HOURS", "type": "select"}}, pages[1]["fields"])

	res, err = server.ExecuteTool(ctx, "preview-page", map[string]interface{}{"data_file": dataPath, "page": "work"})
	require.NoError(t, err)
	previews := res.(map[string]interface{})["pages"].([]session.PagePreview)
	require.Len(t, previews, 1)
	assert.Equal(t, "1: Hours", previews[0].Fields[0].Value)

	_, err = server.ExecuteTool(ctx, "preview-page", map[string]interface{}{"data_file": dataPath, "page": "missing"})
	require.Error(t, err)
}

func TestWrapToolPayloads(t *testing.T) {
	cfg, _ := setupTestServerConfig(t)
	server := newServer(cfg, zap.NewNop(), staticRun(session.Summary{}, nil, nil))
	defer server.Close()

	failing := server.wrapTool(server.tools["task-status"])
	res, err := failing(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	ok := server.wrapTool(server.tools["list-pages"])
	res, err = ok(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	require.False(t, res.IsError)
	text, isText := res.Content[0].(mcp.TextContent)
	require.True(t, isText)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &decoded))
	assert.Len(t, decoded["pages"], 2)
}

func TestMarshalToolPayloadFallback(t *testing.T) {
	payload := marshalToolPayload("bad", map[string]interface{}{"ch": make(chan int)})
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, false, decoded["success"])
}

func TestArgHelpers(t *testing.T) {
	assert.Equal(t, "", argString(nil))
	assert.Equal(t, "abc", argString([]string{"abc", "def"}))
	assert.Equal(t, "", argString([]string{}))
	assert.Equal(t, "12", argString(12))

	args := map[string]interface{}{"n": float64(7), "s": "x", "bad": "seven"}
	assert.Equal(t, 7, getIntArg(args, "n", 1))
	assert.Equal(t, 1, getIntArg(args, "bad", 1))
	assert.Equal(t, 3, getIntArg(args, "missing", 3))
	assert.Equal(t, "x", getStringArg(args, "s"))
	assert.Equal(t, "", getStringArg(args, "missing"))
}
