package tools_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xpert-ai/agentgraph/runtime/tools"
)

type echoTool struct{ spec tools.ToolSpec }

func (t echoTool) Spec() tools.ToolSpec { return t.spec }

func (t echoTool) Invoke(_ context.Context, args json.RawMessage, _ tools.Runtime) (tools.InvokeResult, error) {
	return tools.InvokeResult{Content: string(args)}, nil
}

type fakeToolset struct {
	id    string
	tools []tools.Tool
}

func (f fakeToolset) ID() string                  { return f.id }
func (f fakeToolset) ProviderName() string        { return "fake" }
func (f fakeToolset) ToolTitle(name string) string { return name }
func (f fakeToolset) InitTools(context.Context) ([]tools.Tool, error) { return f.tools, nil }
func (f fakeToolset) Variables() []tools.StateVariable { return nil }
func (f fakeToolset) Close(context.Context) error { return nil }

func TestRegistryValidatesAgainstPayloadSchema(t *testing.T) {
	schema := []byte(`{
		"type": "object",
		"properties": {"query": {"type": "string"}},
		"required": ["query"],
		"additionalProperties": false
	}`)
	spec := tools.ToolSpec{
		Name:    "search.lookup",
		Toolset: "search",
		Payload: tools.TypeSpec{Name: "LookupPayload", Schema: schema},
	}
	ts := fakeToolset{id: "search", tools: []tools.Tool{echoTool{spec: spec}}}

	reg, err := tools.NewRegistry(context.Background(), []tools.Toolset{ts})
	require.NoError(t, err)

	tool, ok := reg.Lookup("search.lookup")
	require.True(t, ok)
	require.Equal(t, "search.lookup", string(tool.Spec().Name))

	require.NoError(t, reg.Validate("search.lookup", json.RawMessage(`{"query": "hi"}`)))
	require.Error(t, reg.Validate("search.lookup", json.RawMessage(`{}`)))
	require.Error(t, reg.Validate("search.lookup", json.RawMessage(`{"query": 1}`)))
}

func TestRegistryToolWithoutSchemaAlwaysValidates(t *testing.T) {
	spec := tools.ToolSpec{Name: "noop.run", Toolset: "noop"}
	ts := fakeToolset{id: "noop", tools: []tools.Tool{echoTool{spec: spec}}}

	reg, err := tools.NewRegistry(context.Background(), []tools.Toolset{ts})
	require.NoError(t, err)
	require.NoError(t, reg.Validate("noop.run", json.RawMessage(`{"anything": true}`)))
}
