// Package agent runs the tool-calling conversation loop: model, tool
// dispatch, model again, until the model produces terminal text or the
// per-turn budget runs out.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidewaterlabs/moobot/internal/config"
	"github.com/tidewaterlabs/moobot/internal/providers"
	"github.com/tidewaterlabs/moobot/internal/skills"
)

// ChatModel is the slice of the model client the loop needs.
type ChatModel interface {
	Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, maxTokens int) (*providers.ChatResponse, error)
}

// Loop executes agent turns.
type Loop struct {
	model    ChatModel
	registry *skills.Registry
	cfg      config.AgentDefaults
	loc      *time.Location
}

// TurnInput is everything one turn needs.
type TurnInput struct {
	UserText string
	History  []providers.Message
	Ctx      *skills.AgentContext
	// SystemPrompt overrides the default prompt when set (idle nudges use a
	// constrained one).
	SystemPrompt string
}

func NewLoop(model ChatModel, registry *skills.Registry, cfg config.AgentDefaults, loc *time.Location) *Loop {
	if loc == nil {
		loc = time.Local
	}
	return &Loop{model: model, registry: registry, cfg: cfg, loc: loc}
}

// Run executes one turn and returns the sanitized terminal text. Timeouts
// and iteration caps produce a finite user-facing sentence rather than an
// error; only provider failures on the very first call bubble up.
func (l *Loop) Run(ctx context.Context, in TurnInput) (string, error) {
	maxIter := l.cfg.MaxToolIterations
	if maxIter <= 0 {
		maxIter = 8
	}
	timeout := time.Duration(l.cfg.TurnTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	isGroup := in.Ctx != nil && in.Ctx.IsGroup
	tools := l.registry.ToolDefinitions(isGroup)

	system := in.SystemPrompt
	if system == "" {
		system = l.SystemPrompt(isGroup)
	}
	messages := make([]providers.Message, 0, len(in.History)+2)
	messages = append(messages, providers.Message{Role: "system", Content: system})
	messages = append(messages, in.History...)
	messages = append(messages, providers.Message{Role: "user", Content: in.UserText})

	for iter := 0; iter < maxIter; iter++ {
		resp, err := l.model.Chat(ctx, messages, tools, l.cfg.MaxTokens)
		if err != nil {
			if deadlined(ctx, err) {
				return "Sorry, that took too long and I had to stop partway through.", nil
			}
			if iter == 0 {
				return "", fmt.Errorf("model call failed: %w", err)
			}
			// mid-turn provider failure: the tools already ran, so report
			// rather than lose their effects
			slog.Warn("agent: provider failed mid-turn", "iteration", iter, "error", err)
			return "I did part of that, but then lost the model connection. Please check and retry.", nil
		}

		if len(resp.ToolCalls) == 0 {
			return Sanitize(resp.Content), nil
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result := l.registry.Execute(ctx, in.Ctx, call.Name, call.Arguments)
			if result.IsError {
				slog.Debug("agent: tool returned error", "tool", call.Name, "result", result.ForLLM)
			}
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				Name:       call.Name,
				ToolCallID: call.ID,
			})
			if err := ctx.Err(); err != nil {
				return "Sorry, that took too long and I had to stop partway through.", nil
			}
		}
	}
	slog.Warn("agent: iteration cap reached", "max", maxIter)
	return fmt.Sprintf("I stopped after %d tool steps without finishing. Ask me to continue if you'd like.", maxIter), nil
}

func deadlined(ctx context.Context, err error) bool {
	return ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded)
}
