// Package model defines the provider-agnostic message and request/response
// vocabulary shared by the Middleware Pipeline, the Tool Node, and every
// concrete model adapter (runtime/model/bedrock, runtime/model/anthropic,
// runtime/model/openai). No code in this package talks to a network; it only
// describes the shapes that cross the Client/Streamer seam.
package model

import (
	"context"
	"encoding/json"
	"errors"
)

type (
	// Part is the marker interface for the segments that make up a Message's
	// content. A Message can carry several parts (e.g. a ThinkingPart followed
	// by one or more ToolUsePart values).
	Part interface{ isPart() }

	// TextPart is plain assistant or user text.
	TextPart struct {
		Text string `json:"text"`
	}

	// ThinkingPart carries a provider's extended-thinking/reasoning trace.
	// Providers that do not support thinking never produce this part.
	ThinkingPart struct {
		Text      string `json:"text"`
		Signature string `json:"signature,omitempty"`
	}

	// ImagePart references inline or remote image content.
	ImagePart struct {
		MediaType string `json:"mediaType"`
		Data      []byte `json:"data,omitempty"`
		URL       string `json:"url,omitempty"`
	}

	// DocumentPart references inline or remote document content (PDF, etc.).
	DocumentPart struct {
		MediaType string `json:"mediaType"`
		Data      []byte `json:"data,omitempty"`
		URL       string `json:"url,omitempty"`
		Title     string `json:"title,omitempty"`
	}

	// CitationsPart carries source attributions a provider attached to a
	// generated span of text.
	CitationsPart struct {
		Citations []Citation `json:"citations"`
	}

	// Citation is a single source reference within a CitationsPart.
	Citation struct {
		Source string `json:"source"`
		Quote  string `json:"quote,omitempty"`
	}

	// ToolUsePart is a single tool call requested by the model. ID must be
	// preserved end-to-end so the resulting ToolResultPart/ToolMessage can be
	// correlated back to it (spec: Tool Call entity).
	ToolUsePart struct {
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	}

	// ToolResultPart is the result of invoking a ToolUsePart, fed back to the
	// model on the next turn.
	ToolResultPart struct {
		ToolUseID string `json:"toolUseId"`
		Content   string `json:"content"`
		IsError   bool   `json:"isError,omitempty"`
	}

	// CacheCheckpoint marks a point in the message list eligible for
	// provider-side prompt caching. It carries no content of its own.
	CacheCheckpoint struct {
		Label string `json:"label,omitempty"`
	}

	// Role identifies the originator of a Message.
	Role string

	// Message is one turn in a conversation. Content is ordered and may mix
	// part kinds (thinking, then tool use, then text) matching how providers
	// actually interleave them.
	Message struct {
		Role       Role            `json:"role"`
		Content    []Part          `json:"content"`
		ToolCalls  []ToolCall      `json:"toolCalls,omitempty"`
		ID         string          `json:"id,omitempty"`
		Name       string          `json:"name,omitempty"`
		ToolCallID string          `json:"toolCallId,omitempty"`
		Status     MessageStatus   `json:"status,omitempty"`
		Metadata   json.RawMessage `json:"metadata,omitempty"`
	}

	// MessageStatus flags a ToolMessage as a normal result or an error result
	// (Tool Node §4.G normalizes exceptions into this shape).
	MessageStatus string

	// ToolCall is the spec's Tool Call entity: {id, name, args}. It appears
	// both as part of an assistant Message.ToolCalls and inside tool-call
	// deltas while streaming.
	ToolCall struct {
		ID   string          `json:"id"`
		Name string          `json:"name"`
		Args json.RawMessage `json:"args"`
	}

	// ToolCallDelta is a partial tool-call update observed while streaming;
	// Name and Args accumulate across deltas sharing the same ID.
	ToolCallDelta struct {
		ID       string `json:"id"`
		Name     string `json:"name,omitempty"`
		ArgsText string `json:"argsText,omitempty"`
		Index    int    `json:"index"`
	}

	// ToolChoiceMode constrains how the model is allowed to pick tools.
	ToolChoiceMode string

	// ToolChoice configures ToolChoiceMode and, for ToolChoiceSpecific, which
	// tool name is forced.
	ToolChoice struct {
		Mode ToolChoiceMode `json:"mode"`
		Name string         `json:"name,omitempty"`
	}

	// ToolDefinition describes a tool available to the model for this
	// request. Compiled from tools.ToolSpec by the Middleware Pipeline.
	ToolDefinition struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Schema      json.RawMessage `json:"schema"`
	}

	// ThinkingOptions enables and bounds a provider's extended-thinking mode.
	ThinkingOptions struct {
		Enabled      bool `json:"enabled"`
		BudgetTokens int  `json:"budgetTokens,omitempty"`
	}

	// CacheOptions controls provider-side prompt caching behavior.
	CacheOptions struct {
		Enabled bool `json:"enabled"`
	}

	// ModelClass selects a tier of model (used by the LLM Tool Selector
	// middleware to route to a cheaper model for tool-name selection).
	ModelClass string

	// TokenUsage aggregates token accounting for a single model call; the
	// Agent Execution Ledger persists this on the owning execution row.
	TokenUsage struct {
		InputTokens         int `json:"inputTokens"`
		OutputTokens        int `json:"outputTokens"`
		CacheReadTokens     int `json:"cacheReadTokens,omitempty"`
		CacheWriteTokens    int `json:"cacheWriteTokens,omitempty"`
		ThinkingTokens      int `json:"thinkingTokens,omitempty"`
	}

	// Request is the provider-agnostic payload passed to Client.Complete and
	// Streamer.Stream, and to wrapModelCall's ModelRequest (spec §4.E).
	Request struct {
		Model         string           `json:"model"`
		ModelClass    ModelClass       `json:"modelClass,omitempty"`
		SystemMessage string           `json:"systemMessage,omitempty"`
		Messages      []Message        `json:"messages"`
		Tools         []ToolDefinition `json:"tools,omitempty"`
		ToolChoice    ToolChoice       `json:"toolChoice,omitempty"`
		Thinking      ThinkingOptions  `json:"thinking,omitempty"`
		Cache         CacheOptions     `json:"cache,omitempty"`
		MaxTokens     int              `json:"maxTokens,omitempty"`
		Temperature   *float64         `json:"temperature,omitempty"`
	}

	// Response is a completed model turn.
	Response struct {
		Message    Message    `json:"message"`
		Usage      TokenUsage `json:"usage"`
		StopReason string     `json:"stopReason,omitempty"`
	}

	// Chunk is one increment of a streamed Response. Exactly one of the
	// fields is meaningfully populated per chunk.
	Chunk struct {
		TextDelta      string         `json:"textDelta,omitempty"`
		ThinkingDelta  string         `json:"thinkingDelta,omitempty"`
		ToolCallDelta  *ToolCallDelta `json:"toolCallDelta,omitempty"`
		Done           bool           `json:"done,omitempty"`
		FinalResponse  *Response      `json:"finalResponse,omitempty"`
	}

	// Client performs a single, non-streamed model call.
	Client interface {
		Complete(ctx context.Context, req Request) (Response, error)
	}

	// Streamer performs a streamed model call, delivering Chunk values on the
	// returned channel until it is closed. The channel must be closed even on
	// error; the final error is returned separately for ctx-cancellation-safe
	// draining.
	Streamer interface {
		Stream(ctx context.Context, req Request) (<-chan Chunk, error)
	}
)

func (TextPart) isPart()        {}
func (ThinkingPart) isPart()    {}
func (ImagePart) isPart()       {}
func (DocumentPart) isPart()    {}
func (CitationsPart) isPart()   {}
func (ToolUsePart) isPart()     {}
func (ToolResultPart) isPart()  {}
func (CacheCheckpoint) isPart() {}

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"

	MessageStatusOK    MessageStatus = "ok"
	MessageStatusError MessageStatus = "error"

	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceAny      ToolChoiceMode = "any"
	ToolChoiceSpecific ToolChoiceMode = "specific"

	ModelClassDefault ModelClass = ""
	ModelClassSmall   ModelClass = "small"
	ModelClassLarge   ModelClass = "large"
)

// ErrStreamClosed is returned by Streamer implementations when the
// underlying provider connection closes before a final chunk is observed.
var ErrStreamClosed = errors.New("model: stream closed before final chunk")

// LastAIToolCalls returns the ToolCalls of m when m is an assistant message,
// or nil otherwise (spec §4.D step 7).
func (m Message) LastAIToolCalls() []ToolCall {
	if m.Role != RoleAssistant {
		return nil
	}
	return m.ToolCalls
}
