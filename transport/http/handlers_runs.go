package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xpert-ai/agentgraph/graph"
	"github.com/xpert-ai/agentgraph/runtime/channel"
	"github.com/xpert-ai/agentgraph/runtime/compiler"
	"github.com/xpert-ai/agentgraph/runtime/ids"
	"github.com/xpert-ai/agentgraph/runtime/interrupt"
	"github.com/xpert-ai/agentgraph/runtime/model"
	"github.com/xpert-ai/agentgraph/runtime/scheduler"
	"github.com/xpert-ai/agentgraph/runtime/stream"
	"github.com/xpert-ai/agentgraph/runtime/toolnode"
)

// runCommand is the resume channel of a run create payload (spec §6:
// "optional command with {resume?, update?, toolCalls?}"). Only resume is
// decoded, and no handler reads it: it is not passed to
// interrupt.Manager.Resume, and update/toolCalls are ignored.
type runCommand struct {
	Resume *interrupt.Command `json:"resume,omitempty"`
}

// chatRequest is the spec's TChatRequest: human input plus the resume
// channel.
type chatRequest struct {
	Message string         `json:"message"`
	Params  map[string]any `json:"parameters,omitempty"`
	Command *runCommand    `json:"command,omitempty"`
}

type createRunRequest struct {
	AssistantID string         `json:"assistant_id"`
	Input       chatRequest    `json:"input"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type runResponse struct {
	RunID        string `json:"run_id"`
	ThreadID     string `json:"thread_id"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toRunResponse(run graph.Run) runResponse {
	return runResponse{
		RunID:     run.ID,
		ThreadID:  run.ThreadID,
		Status:    string(run.Status),
		Error:     run.Error,
		CreatedAt: run.CreatedAt,
	}
}

// buildRunner compiles the assistant's graph and assembles a Runner bound to
// the tools that compile resolved, sharing the server's model client,
// checkpointer, interrupt manager, and pipeline across every Run (spec §4.F
// Config; scheduler_test.go's newRunner wires the same collaborators per
// test).
func (s *Server) buildRunner(ctx context.Context, assistant AssistantRecord, sink stream.Sink) (*scheduler.Runner, *compiler.CompiledGraph, error) {
	compiled, err := compiler.Compile(ctx, assistant.Xpert, assistant.EntryAgent, s.deps.Registry)
	if err != nil {
		return nil, nil, err
	}
	runner := scheduler.New(scheduler.Config{
		Pipeline:     s.deps.Pipeline,
		ModelClient:  s.deps.ModelClient,
		ToolNode:     toolnode.New(toolnode.Config{Tools: compiled.Tools, Sink: sink, HandleToolErrors: true}),
		Checkpointer: s.deps.Checkpointer,
		Interrupts:   s.deps.Interrupts,
		Sink:         sink,
		Ledger:       s.deps.Ledger,
	})
	return runner, compiled, nil
}

func (s *Server) loadAssistantAndThread(w http.ResponseWriter, r *http.Request, assistantID, threadID string) (AssistantRecord, ThreadRecord, bool) {
	assistant, err := s.deps.Assistants.Get(r.Context(), assistantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "assistant not found")
		return AssistantRecord{}, ThreadRecord{}, false
	}
	thread, err := s.deps.Threads.Get(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return AssistantRecord{}, ThreadRecord{}, false
	}
	return assistant, thread, true
}

func initialUpdate(in chatRequest) channel.AgentStateUpdate {
	return channel.AgentStateUpdate{Messages: model.Message{
		Role:    model.RoleUser,
		Content: []model.Part{model.TextPart{Text: in.Message}},
	}}
}

// handleCreateRun starts a Run in the background and returns immediately
// (spec §6: "Returns Run immediately").
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	var req createRunRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	assistant, _, ok := s.loadAssistantAndThread(w, r, req.AssistantID, threadID)
	if !ok {
		return
	}

	runner, compiled, err := s.buildRunner(context.Background(), assistant, &busSink{bus: s.deps.Bus})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	run := graph.Run{
		ID:        ids.NewRunID(),
		ThreadID:  threadID,
		Status:    graph.RunStatusRunning,
		Inputs:    map[string]any{"message": req.Input.Message},
		Metadata:  graph.RunMetadata{},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.deps.Runs.Create(r.Context(), run); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	go s.executeRun(context.Background(), runner, compiled, run, req.Input)

	writeJSON(w, http.StatusAccepted, toRunResponse(run))
}

// executeRun runs the scheduler step loop to completion and records the
// final status, independent of any HTTP request context so a background Run
// outlives the request that created it.
func (s *Server) executeRun(ctx context.Context, runner *scheduler.Runner, compiled *compiler.CompiledGraph, run graph.Run, in chatRequest) {
	out, err := runner.Execute(ctx, scheduler.RunInput{
		ThreadID: run.ThreadID,
		RunID:    run.ID,
		Graph:    compiled,
		Initial:  initialUpdate(in),
	})
	run.UpdatedAt = time.Now().UTC()
	run.Status = out.Status
	if err != nil {
		run.Error = err.Error()
	}
	_ = s.deps.Runs.Update(ctx, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	runID := chi.URLParam(r, "runID")
	run, err := s.deps.Runs.Get(r.Context(), threadID, runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}

// handleStreamRun creates a Run and streams its events as SSE until the Run
// finishes or the client disconnects (spec §6: "Create + stream;
// Content-Type: text/event-stream; keep-alive 30s; closes with final
// event").
func (s *Server) handleStreamRun(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	var req createRunRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	assistant, _, ok := s.loadAssistantAndThread(w, r, req.AssistantID, threadID)
	if !ok {
		return
	}

	sse := newSSEWriter(w, r)
	if sse == nil {
		return
	}
	sink := &sseSink{w: sse}

	runner, compiled, err := s.buildRunner(r.Context(), assistant, sink)
	if err != nil {
		sse.Send("on_run_error", map[string]string{"error": err.Error()})
		return
	}

	run := graph.Run{
		ID:        ids.NewRunID(),
		ThreadID:  threadID,
		Status:    graph.RunStatusRunning,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	_ = s.deps.Runs.Create(r.Context(), run)

	keepAliveCtx, cancelKeepAlive := context.WithCancel(r.Context())
	defer cancelKeepAlive()
	go runKeepAlive(keepAliveCtx, sse)

	out, err := runner.Execute(r.Context(), scheduler.RunInput{
		ThreadID: threadID,
		RunID:    run.ID,
		Graph:    compiled,
		Initial:  initialUpdate(req.Input),
	})
	run.Status = out.Status
	run.UpdatedAt = time.Now().UTC()
	if err != nil {
		run.Error = err.Error()
	}
	_ = s.deps.Runs.Update(r.Context(), run)

	sse.Send("on_run_end", toRunResponse(run))
}

type waitRunResponse struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// handleWaitRun creates a Run and blocks until it finishes, returning the
// final assistant message (spec §6: "Create + await final text; Returns
// {role:'ai', content:string}").
func (s *Server) handleWaitRun(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	var req createRunRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	assistant, _, ok := s.loadAssistantAndThread(w, r, req.AssistantID, threadID)
	if !ok {
		return
	}

	runner, compiled, err := s.buildRunner(r.Context(), assistant, &busSink{bus: s.deps.Bus})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	run := graph.Run{
		ID:        ids.NewRunID(),
		ThreadID:  threadID,
		Status:    graph.RunStatusRunning,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	_ = s.deps.Runs.Create(r.Context(), run)

	out, err := runner.Execute(r.Context(), scheduler.RunInput{
		ThreadID: threadID,
		RunID:    run.ID,
		Graph:    compiled,
		Initial:  initialUpdate(req.Input),
	})
	run.Status = out.Status
	run.UpdatedAt = time.Now().UTC()
	if err != nil {
		run.Error = err.Error()
		_ = s.deps.Runs.Update(r.Context(), run)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = s.deps.Runs.Update(r.Context(), run)

	writeJSON(w, http.StatusOK, waitRunResponse{Role: "ai", Content: lastAssistantText(out.FinalState)})
}

func lastAssistantText(state channel.AgentState) string {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		msg := state.Messages[i]
		if msg.Role != model.RoleAssistant {
			continue
		}
		for _, part := range msg.Content {
			if t, ok := part.(model.TextPart); ok {
				return t.Text
			}
		}
	}
	return ""
}
