// Package tools implements the Toolset Abstraction (spec §4.C): a uniform
// interface for tool discovery, invocation, schema, and lifecycle. Tools are
// stateless from the Scheduler/Runner's point of view; any state they need
// travels through the Runtime passed to Invoke.
package tools

import (
	"context"
	"encoding/json"
)

type (
	// Ident is a fully-qualified tool name, "<toolset>.<tool>".
	Ident string

	// JSONCodec serializes and deserializes strongly typed values to and
	// from JSON, matching the teacher's tools.JSONCodec[T] shape.
	JSONCodec[T any] struct {
		ToJSON   func(T) ([]byte, error)
		FromJSON func([]byte) (T, error)
	}

	// TypeSpec describes the payload or result schema for a tool.
	TypeSpec struct {
		Name   string
		Schema []byte
		Codec  JSONCodec[any]
	}

	// PagingSpec describes cursor-based pagination for a tool whose result
	// set may span multiple pages.
	PagingSpec struct {
		CursorField     string
		NextCursorField string
	}

	// ConfirmationSpec declares a confirmation protocol for a tool: before
	// invocation the runtime renders PromptTemplate and asks a human
	// operator to approve or deny it.
	ConfirmationSpec struct {
		Title                string
		PromptTemplate       string
		DeniedResultTemplate string
	}

	// VariableAssigner writes part of a tool's result into a named channel
	// after invocation (spec §4.G step 3).
	VariableAssigner struct {
		Channel string
		Source  AssignerSource
		Const   any
	}

	// AssignerSource selects which part of a tool result a VariableAssigner reads.
	AssignerSource string

	// ToolSpec enumerates the metadata and schema for a tool.
	ToolSpec struct {
		Name Ident
		// Toolset is the owning toolset's id.
		Toolset     string
		Description string
		// Sensitive flags this tool for automatic registration into the
		// compiled graph's interruptBefore set (spec §4.D step 2).
		Sensitive bool
		// ClientSide flags this tool as executed outside the server; the
		// Client Tool middleware raises an interrupt instead of invoking it
		// directly (spec §4.E middleware 2).
		ClientSide bool
		Payload    TypeSpec
		Result     TypeSpec
		Paging     *PagingSpec
		Confirmation *ConfirmationSpec
		Variables  []VariableAssigner
	}

	// StateVariable is a channel a Toolset contributes to the compiled
	// graph's channel set (spec §4.C: getVariables()).
	StateVariable struct {
		Name   string
		Schema []byte
	}

	// Command lets a tool rewrite caller state directly instead of
	// returning a plain result (spec §4.G step 2: "rewrite any messages
	// update into the caller's agent channel").
	Command struct {
		// Updates maps channel name to update value, applied the same way a
		// node's other channel writes are applied.
		Updates map[string]any
		// GoTo optionally overrides normal routing with a Send-style
		// redirect to the named node.
		GoTo string
	}

	// InvokeResult is what Tool.Invoke returns: either Command or
	// Content/Artifact is populated, mirroring the spec's
	// "content|Command|ToolMessage" union; there is no field for a
	// ready-made ToolMessage.
	InvokeResult struct {
		// Content is the raw string/JSON content, wrapped into a ToolMessage
		// by the Tool Node when Command is not set.
		Content string
		// Artifact is the structured result consulted by VariableAssigner
		// entries whose Source is AssignerSourceArtifact.
		Artifact any
		// Command, when non-nil, is applied instead of producing a
		// ToolMessage (spec §4.G step 2).
		Command *Command
	}

	// Runtime is the invocation context passed to every Tool.Invoke call. It
	// carries the toolset id, agent key, thread id, run id, env and the
	// cancellation signal; it has no store handle.
	Runtime struct {
		ToolsetID string
		AgentKey  string
		ThreadID  string
		RunID     string
		Env       map[string]string
		// Signal is closed when the owning Run is cancelled (spec §5:
		// "Cancellation"); tool implementations must select on it.
		Signal <-chan struct{}
	}

	// Tool is a single invocable tool exposed by a Toolset.
	Tool interface {
		Spec() ToolSpec
		Invoke(ctx context.Context, args json.RawMessage, rt Runtime) (InvokeResult, error)
	}

	// Toolset exposes tool discovery and lifecycle per spec §4.C.
	Toolset interface {
		ID() string
		ProviderName() string
		ToolTitle(name string) string
		InitTools(ctx context.Context) ([]Tool, error)
		Variables() []StateVariable
		Close(ctx context.Context) error
	}
)

const (
	AssignerSourceArtifact AssignerSource = "artifact"
	AssignerSourceContent  AssignerSource = "content"
	AssignerSourceConst    AssignerSource = "const"
)

// AnyJSONCodec is a pre-built codec for the `any` type using standard JSON
// marshaling. Suitable for tools whose concrete payload/result type is not
// known at compile time.
var AnyJSONCodec = JSONCodec[any]{
	ToJSON: json.Marshal,
	FromJSON: func(data []byte) (any, error) {
		if len(data) == 0 {
			return nil, nil
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	},
}
