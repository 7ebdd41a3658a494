package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ryanscovill/jp-work-automation/internal/config"
	"github.com/ryanscovill/jp-work-automation/internal/facts"
	"github.com/ryanscovill/jp-work-automation/internal/session"
)

type FillNOPTool struct {
	tasks *TaskManager
}

func (t *FillNOPTool) Name() string { return "fill-nop" }
func (t *FillNOPTool) Description() string {
	return `Open the WorkSafeBC Notice of Project form in a browser and fill it from a data file.

The session runs in the background: the browser stays open while the operator
steps through the form, and every newly reached page is filled automatically.
The session ends when the operator closes the browser window.

INPUT: data_file is a flat JSON record or a completed source PDF.

Only one session can run at a time.

Returns: {task_id, message} - poll task-status with the task_id.`
}
func (t *FillNOPTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"data_file": map[string]interface{}{
				"type":        "string",
				"description": "Path to the JSON data record or source PDF",
			},
		},
		"required": []string{"data_file"},
	}
}
func (t *FillNOPTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	dataFile := getStringArg(args, "data_file")
	if dataFile == "" {
		return nil, errors.New("data_file is required")
	}
	if _, err := os.Stat(dataFile); err != nil {
		return nil, fmt.Errorf("data file: %w", err)
	}

	id, err := t.tasks.Start(dataFile)
	if errors.Is(err, ErrBusy) {
		return map[string]interface{}{"success": false, "error": err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"success": true,
		"task_id": id,
		"message": "NOP form filling started",
	}, nil
}

type TaskStatusTool struct {
	tasks *TaskManager
}

func (t *TaskStatusTool) Name() string { return "task-status" }
func (t *TaskStatusTool) Description() string {
	return `Get the status of a fill-nop task.

Returns: {task_id, status: running|completed|failed, message, summary}.
summary lists the pages filled and field counts once the session ends.`
}
func (t *TaskStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_id": map[string]interface{}{
				"type":        "string",
				"description": "Task id returned by fill-nop",
			},
		},
		"required": []string{"task_id"},
	}
}
func (t *TaskStatusTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	id := getStringArg(args, "task_id")
	task, ok := t.tasks.Get(id)
	if !ok {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	return task, nil
}

type FillReportTool struct {
	tasks *TaskManager
}

func (t *FillReportTool) Name() string { return "fill-report" }
func (t *FillReportTool) Description() string {
	return `Report what the latest finished fill session did, page by page.

Pages with missing or failed fields are listed as incomplete so the operator
knows where to look before submitting.

Returns: {task_id, status, complete, incomplete, missing, failed}.`
}
func (t *FillReportTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum missing/failed field facts to return (default 50)",
			},
		},
	}
}
func (t *FillReportTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	task, ok := t.tasks.Latest()
	if !ok {
		return nil, errors.New("no fill session has been started")
	}
	out := map[string]interface{}{
		"task_id": task.ID,
		"status":  task.Status,
	}
	ledger := task.Ledger()
	if !ledger.Enabled() {
		out["message"] = "no ledger available for this task"
		return out, nil
	}

	limit := getIntArg(args, "limit", 50)
	out["complete"] = ledger.CompletePages()
	out["incomplete"] = ledger.IncompletePages()
	out["missing"] = lastFacts(ledger.FactsByPredicate(facts.PredFieldMissing), limit)
	out["failed"] = lastFacts(ledger.FactsByPredicate(facts.PredFieldFailed), limit)
	return out, nil
}

func lastFacts(fs []facts.Fact, limit int) []facts.Fact {
	if limit > 0 && len(fs) > limit {
		return fs[len(fs)-limit:]
	}
	if fs == nil {
		return []facts.Fact{}
	}
	return fs
}

// sessionRunner is the RunFunc used outside tests: load inputs, run a session.
func sessionRunner(cfg config.Config, logger *zap.Logger, opts ...session.Option) RunFunc {
	return func(ctx context.Context, dataFile string) (session.Summary, *facts.Ledger, error) {
		m, err := session.LoadMapping(cfg)
		if err != nil {
			return session.Summary{}, nil, err
		}
		record, err := session.LoadRecord(dataFile, logger)
		if err != nil {
			return session.Summary{}, nil, err
		}
		orch := session.New(cfg, logger, opts...)
		sum, err := orch.Run(ctx, record, m)
		return sum, orch.Ledger(), err
	}
}
