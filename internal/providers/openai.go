package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OpenAIProvider implements Provider plus the optional capability interfaces
// for OpenAI-compatible APIs (OpenAI, OpenRouter, Groq, local servers).
type OpenAIProvider struct {
	name         string
	apiKey       string
	apiBase      string
	defaultModel string
	embedModel   string
	dimension    int
	tmpDir       string
	client       *http.Client
}

// OpenAIOption tweaks an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithEmbedModel sets the embeddings model and its dimension.
func WithEmbedModel(model string, dimension int) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.embedModel = model
		p.dimension = dimension
	}
}

// WithTmpDir sets where generated images and synthesized audio are written.
func WithTmpDir(dir string) OpenAIOption {
	return func(p *OpenAIProvider) { p.tmpDir = dir }
}

func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string, opts ...OpenAIOption) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	apiBase = strings.TrimRight(apiBase, "/")

	p := &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		apiBase:      apiBase,
		defaultModel: defaultModel,
		embedModel:   "text-embedding-3-small",
		dimension:    1536,
		tmpDir:       os.TempDir(),
		client:       &http.Client{Timeout: 25 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }
func (p *OpenAIProvider) Dimension() int       { return p.dimension }

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	// Convert messages to the OpenAI wire format: tool_calls need the
	// type+function wrapper with arguments as a JSON string.
	msgs := make([]map[string]interface{}, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := map[string]interface{}{"role": m.Role}
		if m.Content != "" || len(m.ToolCalls) == 0 {
			msg["content"] = m.Content
		}
		if len(m.ToolCalls) > 0 {
			toolCalls := make([]map[string]interface{}, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				toolCalls[i] = map[string]interface{}{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]interface{}{
						"name":      tc.Name,
						"arguments": string(argsJSON),
					},
				}
			}
			msg["tool_calls"] = toolCalls
		}
		if m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
		}
		if m.Name != "" && m.Role == "tool" {
			msg["name"] = m.Name
		}
		msgs = append(msgs, msg)
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": msgs,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]interface{}, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = map[string]interface{}{
				"type": "function",
				"function": map[string]interface{}{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			}
		}
		body["tools"] = tools
		body["tool_choice"] = "auto"
	}

	respBody, err := p.postJSON(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var oaiResp struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(respBody).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w", p.name, ErrContract)
	}

	choice := oaiResp.Choices[0]
	result := &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		args := make(map[string]interface{})
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      strings.TrimSpace(tc.Function.Name),
			Arguments: args,
		})
	}
	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
	}
	if result.Content == "" && len(result.ToolCalls) == 0 {
		return nil, fmt.Errorf("%s: %w", p.name, ErrContract)
	}
	return result, nil
}

// Embed returns one vector per input text.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body := map[string]interface{}{
		"model": p.embedModel,
		"input": texts,
	}
	respBody, err := p.postJSON(ctx, "/embeddings", body)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var resp struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%s: decode embeddings: %w", p.name, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%s: got %d embeddings for %d inputs", p.name, len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%s: embedding index %d out of range", p.name, d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// DescribeImage runs a vision chat turn over a single image reference.
func (p *OpenAIProvider) DescribeImage(ctx context.Context, imageRef, prompt, systemPrompt string) (string, error) {
	if prompt == "" {
		prompt = "Describe this image."
	}
	content := []map[string]interface{}{
		{"type": "image_url", "image_url": map[string]interface{}{"url": imageRef}},
		{"type": "text", "text": prompt},
	}
	msgs := []map[string]interface{}{}
	if systemPrompt != "" {
		msgs = append(msgs, map[string]interface{}{"role": "system", "content": systemPrompt})
	}
	msgs = append(msgs, map[string]interface{}{"role": "user", "content": content})

	respBody, err := p.postJSON(ctx, "/chat/completions", map[string]interface{}{
		"model":    p.defaultModel,
		"messages": msgs,
	})
	if err != nil {
		return "", err
	}
	defer respBody.Close()

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return "", fmt.Errorf("%s: decode vision response: %w", p.name, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%s: %w", p.name, ErrContract)
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateImage requests an image and writes it under the tmp dir.
func (p *OpenAIProvider) GenerateImage(ctx context.Context, prompt string, size string) (string, string, error) {
	if size == "" {
		size = "1024x1024"
	}
	respBody, err := p.postJSON(ctx, "/images/generations", map[string]interface{}{
		"prompt":          prompt,
		"size":            size,
		"response_format": "b64_json",
	})
	if err != nil {
		return "", "", err
	}
	defer respBody.Close()

	var resp struct {
		Data []struct {
			B64JSON       string `json:"b64_json"`
			RevisedPrompt string `json:"revised_prompt"`
		} `json:"data"`
	}
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return "", "", fmt.Errorf("%s: decode image response: %w", p.name, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", "", fmt.Errorf("%s: empty image response", p.name)
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return "", "", fmt.Errorf("%s: decode image payload: %w", p.name, err)
	}
	path := filepath.Join(p.tmpDir, fmt.Sprintf("moobot-img-%s.png", uuid.NewString()[:8]))
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return "", "", fmt.Errorf("write generated image: %w", err)
	}
	caption := resp.Data[0].RevisedPrompt
	if caption == "" {
		caption = prompt
	}
	return path, caption, nil
}

// Transcribe converts an audio file to text via the transcription endpoint.
func (p *OpenAIProvider) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if err := mw.WriteField("model", "whisper-1"); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+"/audio/transcriptions", &buf)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s: transcription request: %w", p.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%s: decode transcription: %w", p.name, err)
	}
	return out.Text, nil
}

// Synthesize converts text to speech and writes an audio file under tmp.
func (p *OpenAIProvider) Synthesize(ctx context.Context, text string) (string, error) {
	respBody, err := p.postJSON(ctx, "/audio/speech", map[string]interface{}{
		"model": "tts-1",
		"voice": "alloy",
		"input": text,
	})
	if err != nil {
		return "", err
	}
	defer respBody.Close()

	path := filepath.Join(p.tmpDir, fmt.Sprintf("moobot-tts-%s.mp3", uuid.NewString()[:8]))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, respBody); err != nil {
		return "", fmt.Errorf("write audio file: %w", err)
	}
	return path, nil
}

func (p *OpenAIProvider) postJSON(ctx context.Context, path string, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{Status: resp.StatusCode, Body: fmt.Sprintf("%s: %s", p.name, string(respBody))}
	}
	return resp.Body, nil
}
