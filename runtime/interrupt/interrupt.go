// Package interrupt implements the Interrupt & Resume Manager (spec §4.H):
// pending interrupts keyed by (threadId, runId), and the three resume
// command shapes a paused Run can be continued with.
package interrupt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/xpert-ai/agentgraph/runtime/model"
)

type (
	// Kind distinguishes the pending interrupt's origin so Resume knows how
	// to interpret the Command it receives.
	Kind string

	// Record is the pending interrupt entity: the original tool calls that
	// triggered the pause plus the schema the caller's resume payload must
	// match.
	Record struct {
		ThreadID  string          `json:"threadId"`
		RunID     string          `json:"runId"`
		Kind      Kind            `json:"kind"`
		ToolCalls []model.ToolCall `json:"toolCalls"`
		Schema    json.RawMessage `json:"schema,omitempty"`
		Reason    string          `json:"reason,omitempty"`
		// AllowedDecisions restricts which DecisionType a resume may use per
		// pending tool call, keyed by ToolCall.ID. A call with no entry (or
		// an empty slice) is unrestricted.
		AllowedDecisions map[string][]DecisionType `json:"allowedDecisions,omitempty"`
	}

	// Decision is one HITL reviewer decision, paired 1:1 with Record.ToolCalls
	// by position.
	Decision struct {
		Type    DecisionType    `json:"type"`
		Name    string          `json:"name,omitempty"`
		Args    json.RawMessage `json:"args,omitempty"`
		Message string          `json:"message,omitempty"`
	}

	// DecisionType is one of the ReviewConfig.allowedDecisions values.
	DecisionType string

	// ClientToolResponse resumes a paused client-tool interrupt with the
	// tool's return value, identified by its original ToolCall id.
	ClientToolResponse struct {
		ID      string          `json:"id"`
		Content json.RawMessage `json:"content,omitempty"`
		Status  model.MessageStatus `json:"status,omitempty"`
	}

	// Command is the argument to Resume: exactly one of its fields is
	// meaningful, selected by Type.
	Command struct {
		Type               CommandType          `json:"type"`
		Decisions          []Decision           `json:"decisions,omitempty"`
		ClientToolResponse *ClientToolResponse  `json:"clientToolResponse,omitempty"`
		Raw                json.RawMessage      `json:"raw,omitempty"`
	}

	// CommandType selects which resume shape Command carries.
	CommandType string

	// Outcome is what Resume returns to the Scheduler/Runner: the rewritten
	// tool calls to re-enqueue and, for HITL, a synthetic ToolMessage to
	// append for each rejected call.
	Outcome struct {
		ToolCalls      []model.ToolCall
		ToolMessages   []model.Message
		JumpToModel    bool
	}
)

const (
	KindHITL       Kind = "hitl"
	KindClientTool Kind = "client_tool"
)

const (
	DecisionApprove DecisionType = "approve"
	DecisionEdit    DecisionType = "edit"
	DecisionReject  DecisionType = "reject"
)

const (
	CommandHITL               CommandType = "approve|edit|reject"
	CommandClientToolResponse  CommandType = "clientToolResponse"
	CommandRaw                 CommandType = "resume"
)

// ErrCountMismatch is returned when a HITL resume does not carry exactly one
// decision per pending tool call.
var ErrCountMismatch = errors.New("interrupt: decision count does not match pending tool call count")

// ErrUnknownRecord is returned when Resume is called for a (threadId, runId)
// pair with no pending interrupt.
var ErrUnknownRecord = errors.New("interrupt: no pending interrupt for thread/run")

// Manager tracks pending interrupts keyed by (threadId, runId) and resolves
// resume commands against them.
type Manager struct {
	mu      sync.Mutex
	pending map[key]Record
}

type key struct{ threadID, runID string }

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{pending: make(map[key]Record)}
}

// Raise records a pending interrupt, overwriting any prior record for the
// same (threadId, runId) — a Run can only be paused on one interrupt at a
// time.
func (m *Manager) Raise(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[key{rec.ThreadID, rec.RunID}] = rec
}

// Pending returns the interrupt record for a thread/run, if any.
func (m *Manager) Pending(threadID, runID string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.pending[key{threadID, runID}]
	return rec, ok
}

// Resume validates and applies a resume Command against the pending
// interrupt for (threadId, runId), clearing it on success.
func (m *Manager) Resume(threadID, runID string, cmd Command) (Outcome, error) {
	m.mu.Lock()
	rec, ok := m.pending[key{threadID, runID}]
	m.mu.Unlock()
	if !ok {
		return Outcome{}, ErrUnknownRecord
	}

	var (
		out Outcome
		err error
	)
	switch cmd.Type {
	case CommandHITL:
		out, err = resolveHITL(rec, cmd.Decisions)
	case CommandClientToolResponse:
		out, err = resolveClientTool(rec, cmd.ClientToolResponse)
	case CommandRaw:
		out, err = Outcome{ToolCalls: rec.ToolCalls}, nil
	default:
		err = fmt.Errorf("interrupt: unknown resume command type %q", cmd.Type)
	}
	if err != nil {
		return Outcome{}, err
	}

	m.mu.Lock()
	delete(m.pending, key{threadID, runID})
	m.mu.Unlock()
	return out, nil
}

// resolveHITL applies §4.E middleware 1's approve/edit/reject rules: decisions
// pair 1:1 with rec.ToolCalls by position. Rejections drop the call and emit
// a synthetic error ToolMessage; any rejection forces the next step to
// re-enter the model instead of the tool node.
func resolveHITL(rec Record, decisions []Decision) (Outcome, error) {
	if len(decisions) != len(rec.ToolCalls) {
		return Outcome{}, fmt.Errorf("%w: got %d decisions for %d pending tool calls", ErrCountMismatch, len(decisions), len(rec.ToolCalls))
	}

	out := Outcome{}
	anyRejected := false
	for i, d := range decisions {
		call := rec.ToolCalls[i]
		if allowed := rec.AllowedDecisions[call.ID]; len(allowed) > 0 && !containsDecision(allowed, d.Type) {
			return Outcome{}, fmt.Errorf("interrupt: decision %q is not allowed for tool call %q", d.Type, call.ID)
		}
		switch d.Type {
		case DecisionApprove:
			out.ToolCalls = append(out.ToolCalls, call)
		case DecisionEdit:
			name := d.Name
			if name == "" {
				name = call.Name
			}
			args := d.Args
			if args == nil {
				args = call.Args
			}
			if err := validateArgsAgainstSchema(args, rec.Schema); err != nil {
				return Outcome{}, fmt.Errorf("interrupt: edited args for %q: %w", call.ID, err)
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: call.ID, Name: name, Args: args})
		case DecisionReject:
			anyRejected = true
			out.ToolMessages = append(out.ToolMessages, model.Message{
				Role:       model.RoleTool,
				ToolCallID: call.ID,
				Status:     model.MessageStatusError,
				Content:    []model.Part{model.TextPart{Text: d.Message}},
			})
		default:
			return Outcome{}, fmt.Errorf("interrupt: unknown HITL decision type %q", d.Type)
		}
	}
	out.JumpToModel = anyRejected
	return out, nil
}

func containsDecision(allowed []DecisionType, want DecisionType) bool {
	for _, d := range allowed {
		if d == want {
			return true
		}
	}
	return false
}

// resolveClientTool validates the response id matches the pending client-tool
// call and injects it as the tool's return so the Tool Node can re-enqueue
// after the tool has already "run" on the client.
func resolveClientTool(rec Record, resp *ClientToolResponse) (Outcome, error) {
	if resp == nil {
		return Outcome{}, errors.New("interrupt: clientToolResponse is required")
	}
	var matched *model.ToolCall
	for i := range rec.ToolCalls {
		if rec.ToolCalls[i].ID == resp.ID {
			matched = &rec.ToolCalls[i]
			break
		}
	}
	if matched == nil {
		return Outcome{}, fmt.Errorf("interrupt: clientToolResponse id %q does not match any pending tool call", resp.ID)
	}

	status := resp.Status
	if status == "" {
		status = model.MessageStatusOK
	}
	msg := model.Message{
		Role:       model.RoleTool,
		ToolCallID: resp.ID,
		Status:     status,
		Content:    []model.Part{model.TextPart{Text: string(resp.Content)}},
	}
	return Outcome{ToolCalls: []model.ToolCall{*matched}, ToolMessages: []model.Message{msg}}, nil
}

// validateArgsAgainstSchema checks args against schema when one was recorded
// for the pending interrupt. An empty schema skips validation entirely —
// not every HITL ReviewConfig declares an ArgsSchema.
func validateArgsAgainstSchema(args, schema json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	var schemaDoc any
	if err := json.Unmarshal(schema, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal schema: %w", err)
	}
	var argsDoc any
	if err := json.Unmarshal(args, &argsDoc); err != nil {
		return fmt.Errorf("unmarshal args: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("args.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile("args.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return sch.Validate(argsDoc)
}
