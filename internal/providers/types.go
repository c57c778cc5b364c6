package providers

import (
	"context"
	"errors"
	"fmt"
)

// Capability names a model capability a provider can advertise.
const (
	CapChat   = "chat"
	CapEmbed  = "embed"
	CapVision = "vision"
	CapSpeech = "speech"
	CapImage  = "image"
)

// Provider is the interface all LLM providers implement. Capabilities beyond
// chat are optional interfaces; see Embedder, Vision, Speech and ImageGen.
type Provider interface {
	// Chat sends messages to the LLM and returns a response carrying either
	// terminal text or tool calls.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier from config.
	Name() string
}

// Embedder produces one vector per input text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Vision describes an image given a prompt. imageRef is a URL, data URI or
// local path (callers convert paths to data URIs).
type Vision interface {
	DescribeImage(ctx context.Context, imageRef, prompt, systemPrompt string) (string, error)
}

// Speech transcribes and synthesizes audio. Synthesize returns the path of a
// locally written audio file.
type Speech interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
	Synthesize(ctx context.Context, text string) (string, error)
}

// ImageGen generates an image and saves it locally.
type ImageGen interface {
	GenerateImage(ctx context.Context, prompt string, size string) (path string, caption string, err error)
}

// ChatRequest contains the input for a Chat call.
type ChatRequest struct {
	Messages  []Message        `json:"messages"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	Model     string           `json:"model,omitempty"`
	MaxTokens int              `json:"max_tokens,omitempty"`
}

// ChatResponse is the result from an LLM call. Exactly one of Content or
// ToolCalls is meaningful; both empty is a contract violation.
type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"` // "stop", "tool_calls", "length"
}

// Message represents a conversation message.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`         // tool name for role="tool"
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for role="tool" responses
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes a tool available to the LLM.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ErrContract marks a provider response that carries neither text nor tool
// calls.
var ErrContract = errors.New("provider returned neither text nor tool calls")

// HTTPError is a non-2xx response from a provider endpoint.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider HTTP %d: %s", e.Status, e.Body)
}
