package middleware

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xpert-ai/agentgraph/runtime/model"
)

// ToolSelection is the structured output the inner "small model" call in
// LLMToolSelectorConfig.Select must produce.
type ToolSelection struct {
	ToolNames []string `json:"toolNames"`
}

// LLMToolSelectorConfig configures the LLM Tool Selector middleware (spec
// §4.E middleware 4).
type LLMToolSelectorConfig struct {
	// MaxTools caps the selector's picks by truncation; AlwaysInclude tools
	// are added on top, so request.Tools can end up longer than MaxTools.
	MaxTools int
	// AlwaysInclude names tools kept regardless of the model's selection.
	AlwaysInclude []string
	// Select asks a (possibly smaller) model to pick tool names out of
	// candidates; returns a structured ToolSelection.
	Select func(ctx context.Context, candidates []model.ToolDefinition) (ToolSelection, error)
}

// NewLLMToolSelector builds the middleware. Its WrapModelCall only consults
// Select when len(req.Request.Tools) exceeds MaxTools; otherwise it forwards
// to next unmodified.
func NewLLMToolSelector(cfg LLMToolSelectorConfig) Middleware {
	return Middleware{
		Name: "llm_tool_selector",
		WrapModelCall: func(ctx context.Context, req ModelRequest, next ModelCallNext) (model.Response, error) {
			if cfg.MaxTools <= 0 || len(req.Request.Tools) <= cfg.MaxTools {
				return next(ctx, req)
			}

			selection, err := cfg.Select(ctx, req.Request.Tools)
			if err != nil {
				return model.Response{}, fmt.Errorf("llm tool selector: select tools: %w", err)
			}

			filtered, err := filterTools(req.Request.Tools, selection.ToolNames, cfg.AlwaysInclude, cfg.MaxTools)
			if err != nil {
				return model.Response{}, err
			}
			req.Request.Tools = filtered
			return next(ctx, req)
		},
	}
}

func filterTools(available []model.ToolDefinition, selected, alwaysInclude []string, maxTools int) ([]model.ToolDefinition, error) {
	byName := make(map[string]model.ToolDefinition, len(available))
	for _, t := range available {
		byName[t.Name] = t
	}
	for _, name := range selected {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("llm tool selector: selection references unknown tool %q", name)
		}
	}

	// Cap the selector's own picks first; alwaysInclude is added afterward
	// and is not counted against maxTools.
	if maxTools > 0 && len(selected) > maxTools {
		selected = selected[:maxTools]
	}

	keep := make(map[string]struct{}, len(selected)+len(alwaysInclude))
	for _, name := range selected {
		keep[name] = struct{}{}
	}
	for _, name := range alwaysInclude {
		keep[name] = struct{}{}
	}

	var out []model.ToolDefinition
	for _, t := range available {
		if _, ok := keep[t.Name]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// selectionSchema is the JSON schema a concrete Select implementation should
// constrain the inner model call's structured output to.
var selectionSchema = json.RawMessage(`{"type":"object","required":["toolNames"],"properties":{"toolNames":{"type":"array","items":{"type":"string"}}}}`)

// SelectionSchema returns the shared schema for tool-name selection
// structured output, so callers building a Select function can reuse it
// instead of redeclaring the shape.
func SelectionSchema() json.RawMessage { return selectionSchema }
