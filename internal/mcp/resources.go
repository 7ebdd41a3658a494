package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"nopfill://about",
			"NOP filler About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info, target form and configured pages."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"nopfill://task/{taskId}",
			"Fill Task",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Status and summary of a fill-nop task."),
		),
		s.handleTaskResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload := map[string]interface{}{
		"name":       s.cfg.Server.Name,
		"version":    s.cfg.Server.Version,
		"target_url": s.cfg.Target.StartURL(),
		"backend":    s.cfg.Browser.BackendName(),
		"notes": []string{
			"fill-nop opens a visible browser; the session ends when the operator closes it.",
			"Use preview-page to check values before filling.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}
	return jsonResource(request.Params.URI, payload)
}

func (s *Server) handleTaskResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	taskID := argString(request.Params.Arguments["taskId"])
	if taskID == "" {
		return nil, fmt.Errorf("missing taskId")
	}
	task, ok := s.tasks.Get(taskID)
	if !ok {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	return jsonResource(request.Params.URI, task)
}

func jsonResource(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}
