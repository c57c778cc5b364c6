package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/tidewaterlabs/moobot/internal/config"
)

func TestClientPicksFirstCapableEntry(t *testing.T) {
	cfg := config.LLMConfig{
		Models: []config.ProviderEntry{
			{Name: "no-creds", Type: "openai", Model: "gpt-4o"},
			{Name: "claude", Type: "anthropic", APIKey: "sk-a", Model: "claude-sonnet-4"},
			{Name: "oai", Type: "openai", APIKey: "sk-b", Model: "gpt-4o", Capabilities: []string{"chat", "embed", "vision"}},
		},
	}
	c, err := NewClient(cfg, config.EmbeddingConfig{}, t.TempDir())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	e, err := c.pick(CapChat)
	if err != nil {
		t.Fatalf("pick chat: %v", err)
	}
	if e.cfg.Name != "claude" {
		t.Errorf("chat entry = %q, want claude (first with credentials)", e.cfg.Name)
	}

	e, err = c.pick(CapVision)
	if err != nil {
		t.Fatalf("pick vision: %v", err)
	}
	if e.cfg.Name != "oai" {
		t.Errorf("vision entry = %q, want oai", e.cfg.Name)
	}

	if _, err := c.pick(CapSpeech); err == nil {
		t.Error("pick speech should fail when no entry advertises it")
	}
}

func TestClientExplicitEmbedProvider(t *testing.T) {
	cfg := config.LLMConfig{
		Models: []config.ProviderEntry{
			{Name: "a", Type: "openai", APIKey: "k1", Model: "gpt-4o", Capabilities: []string{"chat", "embed"}},
			{Name: "b", Type: "openai", APIKey: "k2", Model: "gpt-4o-mini", Capabilities: []string{"embed"}},
		},
	}
	c, err := NewClient(cfg, config.EmbeddingConfig{Provider: "b"}, t.TempDir())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	e, err := c.embedEntry()
	if err != nil {
		t.Fatalf("embedEntry: %v", err)
	}
	if e.cfg.Name != "b" {
		t.Errorf("embed entry = %q, want explicitly selected b", e.cfg.Name)
	}

	c2, err := NewClient(cfg, config.EmbeddingConfig{Provider: "missing"}, t.TempDir())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c2.embedEntry(); err == nil {
		t.Error("embedEntry should fail for unknown provider name")
	}
}

func TestClientUnknownProviderType(t *testing.T) {
	cfg := config.LLMConfig{
		Models: []config.ProviderEntry{{Name: "x", Type: "cohere", APIKey: "k"}},
	}
	if _, err := NewClient(cfg, config.EmbeddingConfig{}, t.TempDir()); err == nil {
		t.Fatal("expected error for unknown provider type")
	}
}

type scriptedProvider struct {
	responses []*ChatResponse
	calls     int
	err       error
}

func (s *scriptedProvider) Chat(_ context.Context, _ ChatRequest) (*ChatResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.calls >= len(s.responses) {
		return nil, errors.New("scripted provider exhausted")
	}
	r := s.responses[s.calls]
	s.calls++
	return r, nil
}

func (s *scriptedProvider) DefaultModel() string { return "scripted" }
func (s *scriptedProvider) Name() string         { return "scripted" }

func TestClientChatRoutesToProvider(t *testing.T) {
	sp := &scriptedProvider{responses: []*ChatResponse{{Content: "hi", FinishReason: "stop"}}}
	c := &Client{entries: []entry{{
		cfg:      config.ProviderEntry{Name: "scripted", APIKey: "k", Model: "m"},
		provider: sp,
	}}}

	resp, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hello"}}, nil, 0)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("Content = %q, want hi", resp.Content)
	}
	if sp.calls != 1 {
		t.Errorf("provider called %d times, want 1", sp.calls)
	}
}
