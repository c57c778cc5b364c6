package providers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tidewaterlabs/moobot/internal/config"
)

// Client is the provider-agnostic model client. It holds the ordered
// provider list from config and routes each capability to the first entry
// that advertises it and has credentials. Vision, speech and image
// generation honor explicit fallback entries when configured.
type Client struct {
	entries   []entry
	vision    *entry
	speech    *entry
	image     *entry
	embedName string // explicit provider name for embeddings, empty = first capable
}

type entry struct {
	cfg      config.ProviderEntry
	provider Provider
}

// NewClient builds a Client from the llm section of the config. The
// embedding config names the entry used for embeddings explicitly; there is
// no silent fallback between embedding providers because mixed-dimension
// vectors poison the index.
func NewClient(cfg config.LLMConfig, embed config.EmbeddingConfig, tmpDir string) (*Client, error) {
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("llm.models is empty")
	}

	c := &Client{embedName: embed.Provider}
	for _, pe := range cfg.Models {
		p, err := buildProvider(pe, embed, tmpDir)
		if err != nil {
			return nil, err
		}
		c.entries = append(c.entries, entry{cfg: pe, provider: p})
	}
	for _, pair := range []struct {
		src *config.ProviderEntry
		dst **entry
	}{{cfg.Vision, &c.vision}, {cfg.Speech, &c.speech}, {cfg.Image, &c.image}} {
		if pair.src == nil {
			continue
		}
		p, err := buildProvider(*pair.src, embed, tmpDir)
		if err != nil {
			return nil, err
		}
		*pair.dst = &entry{cfg: *pair.src, provider: p}
	}
	return c, nil
}

func buildProvider(pe config.ProviderEntry, embed config.EmbeddingConfig, tmpDir string) (Provider, error) {
	switch pe.Type {
	case "openai", "":
		opts := []OpenAIOption{WithTmpDir(tmpDir)}
		if pe.HasCapability(CapEmbed) {
			model := embed.Model
			if model == "" {
				model = "text-embedding-3-small"
			}
			dim := embed.Dimension
			if dim <= 0 {
				dim = 1536
			}
			opts = append(opts, WithEmbedModel(model, dim))
		}
		return NewOpenAIProvider(pe.Name, pe.APIKey, pe.BaseURL, pe.Model, opts...), nil
	case "anthropic":
		return NewAnthropicProvider(pe.Name, pe.APIKey, pe.BaseURL, pe.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q for %q", pe.Type, pe.Name)
	}
}

func (e *entry) hasCredentials() bool {
	return e.cfg.APIKey != "" || e.cfg.BaseURL != ""
}

// pick returns the first entry advertising the capability with credentials.
func (c *Client) pick(cap string) (*entry, error) {
	for i := range c.entries {
		e := &c.entries[i]
		if e.cfg.HasCapability(cap) && e.hasCredentials() {
			return e, nil
		}
	}
	return nil, fmt.Errorf("no provider configured for capability %q", cap)
}

// Chat runs one model turn. Tool-incapable providers may return text only;
// the agent treats that as terminal.
func (c *Client) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, maxTokens int) (*ChatResponse, error) {
	e, err := c.pick(CapChat)
	if err != nil {
		return nil, err
	}
	return e.provider.Chat(ctx, ChatRequest{
		Messages:  messages,
		Tools:     tools,
		Model:     e.cfg.Model,
		MaxTokens: maxTokens,
	})
}

// Embed returns one vector per input text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e, err := c.embedEntry()
	if err != nil {
		return nil, err
	}
	emb, ok := e.provider.(Embedder)
	if !ok {
		return nil, fmt.Errorf("provider %q does not support embeddings", e.cfg.Name)
	}
	return emb.Embed(ctx, texts)
}

// EmbedDimension returns the dimension of the selected embedding provider.
func (c *Client) EmbedDimension() int {
	e, err := c.embedEntry()
	if err != nil {
		return 0
	}
	if emb, ok := e.provider.(Embedder); ok {
		return emb.Dimension()
	}
	return 0
}

func (c *Client) embedEntry() (*entry, error) {
	if c.embedName == "" {
		return c.pick(CapEmbed)
	}
	for i := range c.entries {
		e := &c.entries[i]
		if e.cfg.Name == c.embedName {
			if !e.cfg.HasCapability(CapEmbed) {
				return nil, fmt.Errorf("embedding provider %q does not advertise embed", c.embedName)
			}
			return e, nil
		}
	}
	return nil, fmt.Errorf("embedding provider %q not found in llm.models", c.embedName)
}

// DescribeImage routes to the explicit vision fallback when configured,
// otherwise the first vision-capable entry.
func (c *Client) DescribeImage(ctx context.Context, imageRef, prompt, systemPrompt string) (string, error) {
	e := c.vision
	if e == nil {
		var err error
		e, err = c.pick(CapVision)
		if err != nil {
			return "", err
		}
	}
	v, ok := e.provider.(Vision)
	if !ok {
		return "", fmt.Errorf("provider %q does not support vision", e.cfg.Name)
	}
	return v.DescribeImage(ctx, imageRef, prompt, systemPrompt)
}

// GenerateImage returns a locally saved image and a caption.
func (c *Client) GenerateImage(ctx context.Context, prompt, size string) (string, string, error) {
	e := c.image
	if e == nil {
		var err error
		e, err = c.pick(CapImage)
		if err != nil {
			return "", "", err
		}
	}
	g, ok := e.provider.(ImageGen)
	if !ok {
		return "", "", fmt.Errorf("provider %q does not support image generation", e.cfg.Name)
	}
	return g.GenerateImage(ctx, prompt, size)
}

// Transcribe converts an audio file to text.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	e, err := c.speechEntry()
	if err != nil {
		return "", err
	}
	s, ok := e.provider.(Speech)
	if !ok {
		return "", fmt.Errorf("provider %q does not support speech", e.cfg.Name)
	}
	return s.Transcribe(ctx, audioPath)
}

// Synthesize converts text to a locally saved audio file.
func (c *Client) Synthesize(ctx context.Context, text string) (string, error) {
	e, err := c.speechEntry()
	if err != nil {
		return "", err
	}
	s, ok := e.provider.(Speech)
	if !ok {
		return "", fmt.Errorf("provider %q does not support speech", e.cfg.Name)
	}
	return s.Synthesize(ctx, text)
}

func (c *Client) speechEntry() (*entry, error) {
	if c.speech != nil {
		return c.speech, nil
	}
	return c.pick(CapSpeech)
}

// LogProviders emits the resolved provider order at startup.
func (c *Client) LogProviders() {
	for _, e := range c.entries {
		slog.Info("llm provider", "name", e.cfg.Name, "type", e.cfg.Type, "model", e.cfg.Model, "capabilities", e.cfg.Capabilities)
	}
}
