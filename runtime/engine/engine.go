// Package engine defines the workflow engine abstraction the Scheduler/
// Runner is built on, so a Run can execute durably on Temporal or
// in-process without the Subgraph Compiler or Middleware Pipeline
// depending on either directly.
package engine

import (
	"context"
	"time"

	"github.com/xpert-ai/agentgraph/runtime/telemetry"
)

type (
	// Engine abstracts workflow registration and execution so adapters
	// (Temporal, in-memory) can be swapped without touching the Scheduler.
	Engine interface {
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error
		RegisterActivity(ctx context.Context, def ActivityDefinition) error
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds a workflow handler to a logical name and
	// default queue.
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// WorkflowFunc is the Run entry point the engine invokes. It must be
	// deterministic: the same inputs and activity results must produce the
	// same execution sequence.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to the Scheduler's step
	// loop within the deterministic execution environment of a workflow.
	//
	// Thread-safety: bound to a single Run and must not be shared across
	// goroutines. Activity and signal operations are serialized by the
	// engine.
	WorkflowContext interface {
		Context() context.Context
		WorkflowID() string
		RunID() string

		// ExecuteActivity schedules an activity and blocks for its result.
		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error
		// ExecuteActivityAsync schedules an activity without blocking.
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)
		// SignalChannel returns a channel for the named signal (pause,
		// resume, client-tool response) delivered through this engine.
		SignalChannel(name string) SignalChannel

		Logger() telemetry.Logger
		Metrics() telemetry.Metrics
		Tracer() telemetry.Tracer

		// Now returns the current workflow time in a replay-safe manner.
		Now() time.Time
	}

	// Future represents a pending activity result.
	Future interface {
		Get(ctx context.Context, result any) error
		IsReady() bool
	}

	// ActivityDefinition registers an activity handler with optional
	// defaults. Activities are stateless, short-lived tasks invoked from a
	// workflow. The Scheduler/Runner registers no activities: it calls the
	// model client and the Tool Node in-process, and a Run resumes from its
	// last checkpoint.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
		Options ActivityOptions
	}

	// ActivityFunc handles an activity invocation; unlike a WorkflowFunc it
	// may perform I/O (model calls, tool invocations, checkpoint writes).
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry and timeout behavior for an
	// activity.
	ActivityOptions struct {
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowStartRequest describes how to launch a Run.
	WorkflowStartRequest struct {
		ID               string
		Workflow         string
		TaskQueue        string
		Input            any
		Memo             map[string]any
		SearchAttributes map[string]any
		RetryPolicy      RetryPolicy
	}

	// ActivityRequest contains the info needed to schedule an activity.
	ActivityRequest struct {
		Name        string
		Input       any
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowHandle lets callers interact with a running Run.
	WorkflowHandle interface {
		Wait(ctx context.Context, result any) error
		Signal(ctx context.Context, name string, payload any) error
		Cancel(ctx context.Context) error
	}

	// RetryPolicy defines retry semantics shared by workflows and
	// activities. Zero-valued fields mean the engine uses its defaults.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}

	// SignalChannel exposes workflow signal delivery in an engine-agnostic
	// way — wraps Temporal signal channels, in-process Go channels, etc.
	SignalChannel interface {
		Receive(ctx context.Context, dest any) error
		ReceiveAsync(dest any) bool
	}
)

// Signal names the Interrupt & Resume Manager and Scheduler/Runner use to
// communicate across the engine boundary (spec §4.F, §4.H).
const (
	SignalPause  = "agentgraph.runtime.pause"
	SignalResume = "agentgraph.runtime.resume"
	// SignalClientToolResponse delivers a ClientToolResponse to a run
	// paused on a client-tool interrupt (spec §4.E middleware 2).
	SignalClientToolResponse = "agentgraph.runtime.client_tool_response"
)
