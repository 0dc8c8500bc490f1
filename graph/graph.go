// Package graph holds the declarative data model a team of agents is
// described with: Xpert, XpertAgent, their connections, and the runtime
// entities (Thread, Run) that track one conversation's execution history.
// The Subgraph Compiler (package runtime/compiler) consumes these types and
// produces an executable graph; nothing in this package executes anything.
package graph

import "time"

// NodeKind enumerates the declared node kinds inside an Xpert's graph.
type NodeKind string

const (
	NodeKindAgent     NodeKind = "agent"
	NodeKindKnowledge NodeKind = "knowledge"
	NodeKindToolset   NodeKind = "toolset"
	NodeKindXpert     NodeKind = "xpert"
	NodeKindWorkflow  NodeKind = "workflow"
)

// ConnectionType enumerates the edge kinds between declared nodes.
type ConnectionType string

const (
	ConnectionEdge      ConnectionType = "edge"
	ConnectionAgent     ConnectionType = "agent"
	ConnectionToolset   ConnectionType = "toolset"
	ConnectionKnowledge ConnectionType = "knowledge"
	ConnectionXpert     ConnectionType = "xpert"
	ConnectionWorkflow  ConnectionType = "workflow"
)

// Node is one declared member of an Xpert's graph.
type Node struct {
	Key  string
	Kind NodeKind
	// Ref is the id of the referenced agent/toolset/knowledgebase/xpert/
	// workflow definition this node wraps.
	Ref string
}

// Connection is a declared edge between two node keys.
type Connection struct {
	From string
	To   string
	Type ConnectionType
}

// Xpert is the immutable-per-version declarative description of an agent
// team (spec §3: "Xpert (Assistant)").
type Xpert struct {
	ID          string
	Slug        string
	Workspace   string
	Version     string
	Latest      bool
	Nodes       []Node
	Connections []Connection
	Agents      map[string]XpertAgent
}

// Agent looks up an agent declared on this Xpert by key.
func (x Xpert) Agent(key string) (XpertAgent, bool) {
	a, ok := x.Agents[key]
	return a, ok
}

// ConnectionsFrom returns every connection whose From matches key, in
// declaration order.
func (x Xpert) ConnectionsFrom(key string) []Connection {
	var out []Connection
	for _, c := range x.Connections {
		if c.From == key {
			out = append(out, c)
		}
	}
	return out
}

// AgentOptions carries the per-agent execution policy knobs named in spec §3.
// The fields are declarative data only: the compiler, the middleware
// pipeline and the scheduler in this module do not read any of them, so
// none of the policies below is applied at run time.
type AgentOptions struct {
	Retries int
	// FallbackModel names the model for use after the primary model call
	// exhausts Retries.
	FallbackModel string
	// ErrorHandling names the agent's model-error policy ("defaultValue" or
	// "failBranch", the forms errs.Model refers to).
	ErrorHandling string
	// StructuredOutputMethod names how OutputVariables would be enforced:
	// "tool_call" (a terminal structured-output tool) or "json_mode" (a
	// provider's native JSON response mode).
	StructuredOutputMethod string
	Vision                 bool
	// MemoryWrites names whether this agent may write to shared
	// workflow-declared channels, not just its own agent channel.
	MemoryWrites bool
	// DisableMessageHistory names whether prior turns are dropped from the
	// model request while the system prompt is still sent (Open Question 2
	// in DESIGN.md).
	DisableMessageHistory bool
}

// XpertAgent is a single agent inside an Xpert (spec §3).
type XpertAgent struct {
	Key              string
	Name             string
	Prompt           string
	ParametersSchema []byte
	OutputVariables  []byte
	ToolsetIDs       []string
	KnowledgebaseIDs []string
	// Followers are sub-agents in the same team, compiled into sub-agent
	// tools keyed by agent name (spec §4.D step 1).
	Followers []string
	// Collaborators are external Xperts called as tools, keyed by their
	// external id (spec §4.D step 1).
	Collaborators []string
	Options       AgentOptions
	// EndNodes names tool/sub-agent node keys that route to Next/END instead
	// of back to agentLoopEntry (spec §4.D step 7; Open Question 3).
	EndNodes []string
	// Next is the successor node key used when routing finishes and no
	// workflow navigator overrides it.
	Next string
}

// IsEndNode reports whether nodeKey was declared as an end node for this
// agent (spec §4.D step 7). End nodes and Next/Followers are both additive
// hints about the successor set, never a replacement for it (Open Question
// 3, resolved in DESIGN.md).
func (a XpertAgent) IsEndNode(nodeKey string) bool {
	for _, k := range a.EndNodes {
		if k == nodeKey {
			return true
		}
	}
	return false
}

// ThreadState is the lifecycle state of a Thread (spec §3: "open ->
// interrupted -> open -> closed").
type ThreadState string

const (
	ThreadOpen        ThreadState = "open"
	ThreadInterrupted ThreadState = "interrupted"
	ThreadClosed      ThreadState = "closed"
)

// Thread is a conversation identity: it owns a monotonic sequence of Runs
// and the latest checkpoint (spec §3).
type Thread struct {
	ID               string
	State            ThreadState
	LatestCheckpoint string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RunStatus is the lifecycle status of a Run (spec §3).
type RunStatus string

const (
	RunStatusRunning     RunStatus = "RUNNING"
	RunStatusSuccess     RunStatus = "SUCCESS"
	RunStatusError       RunStatus = "ERROR"
	RunStatusInterrupted RunStatus = "INTERRUPTED"
	RunStatusAborted     RunStatus = "ABORTED"
)

// RunMetadata carries provider/model/usage bookkeeping for a Run.
type RunMetadata struct {
	Provider string
	Model    string
	Usage    map[string]int
}

// Run is one invocation of a compiled graph against a thread (spec §3).
// Invariant: every node transition results in at most one durable Run
// update — callers must overwrite the same Run row, never append a new one,
// when advancing a Run's status/outputs.
type Run struct {
	ID           string
	ThreadID     string
	CheckpointNS string
	CheckpointID string
	// ParentID links a sub-run (e.g. a follower agent's own Run) to its
	// parent Run.
	ParentID string
	// Predecessor names the tool/agent call that produced this Run, for
	// sub-agent-as-tool invocations.
	Predecessor string
	Status      RunStatus
	Inputs      map[string]any
	Outputs     map[string]any
	ElapsedMs   int64
	Error       string
	Metadata    RunMetadata
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
