package mcp

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ryanscovill/jp-work-automation/internal/config"
	"github.com/ryanscovill/jp-work-automation/internal/session"
)

type ListPagesTool struct {
	cfg config.Config
}

func (t *ListPagesTool) Name() string { return "list-pages" }
func (t *ListPagesTool) Description() string {
	return `List the form pages the mapping knows about, in order, with their fields.

Returns: {pages: [{name, fields: [{id, data_key, type}]}], warnings}`
}
func (t *ListPagesTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ListPagesTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	m, err := session.LoadMapping(t.cfg)
	if err != nil {
		return nil, err
	}

	pages := make([]map[string]interface{}, 0, len(m.Pages))
	for _, p := range m.Pages {
		fields := make([]map[string]string, 0, len(p.Fields))
		for _, f := range p.Fields {
			fields = append(fields, map[string]string{
				"id":       f.ID,
				"data_key": f.DataKey,
				"type":     f.Type.String(),
			})
		}
		pages = append(pages, map[string]interface{}{
			"name":   p.Name,
			"fields": fields,
		})
	}
	return map[string]interface{}{
		"pages":    pages,
		"warnings": m.Warnings,
	}, nil
}

type PreviewPageTool struct {
	cfg    config.Config
	logger *zap.Logger
}

func (t *PreviewPageTool) Name() string { return "preview-page" }
func (t *PreviewPageTool) Description() string {
	return `Show the value each field would receive from a data file, without opening a browser.

Use this to check transformations before running fill-nop.
Omit page to preview every page.

Returns: {pages: [{page, fields: [{field_id, data_key, type, value, skipped}]}]}`
}
func (t *PreviewPageTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"data_file": map[string]interface{}{
				"type":        "string",
				"description": "Path to the JSON data record or source PDF",
			},
			"page": map[string]interface{}{
				"type":        "string",
				"description": "Configured page name (optional)",
			},
		},
		"required": []string{"data_file"},
	}
}
func (t *PreviewPageTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	dataFile := getStringArg(args, "data_file")
	if dataFile == "" {
		return nil, errors.New("data_file is required")
	}
	m, err := session.LoadMapping(t.cfg)
	if err != nil {
		return nil, err
	}
	record, err := session.LoadRecord(dataFile, t.logger)
	if err != nil {
		return nil, err
	}
	pages, err := session.Preview(m, record, getStringArg(args, "page"))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"pages": pages}, nil
}
