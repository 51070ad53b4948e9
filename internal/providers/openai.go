package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// OpenAIProvider talks to any OpenAI-compatible REST endpoint.
type OpenAIProvider struct {
	keyName    string
	apiKey     string
	baseURL    string
	chatModel  string
	embedModel string
	client     *http.Client
}

type OpenAIOptions struct {
	BaseURL    string
	APIKey     string
	ChatModel  string
	EmbedModel string
	Timeout    time.Duration
}

func NewOpenAIProvider(keyName string, opts OpenAIOptions) *OpenAIProvider {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	if opts.ChatModel == "" {
		opts.ChatModel = "gpt-4o-mini"
	}
	if opts.EmbedModel == "" {
		opts.EmbedModel = "text-embedding-3-small"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &OpenAIProvider{
		keyName:    keyName,
		apiKey:     resolveOpenAIKey(keyName, opts.APIKey),
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		chatModel:  opts.ChatModel,
		embedModel: opts.EmbedModel,
		client:     &http.Client{Timeout: opts.Timeout},
	}
}

func (o *OpenAIProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: "openai", Model: o.embedModel, Key: o.keyName}
	if o.apiKey == "" {
		return nil, info, fmt.Errorf("openai key missing for alias %q", o.keyName)
	}
	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	payload := map[string]any{"model": o.embedModel, "input": req.Inputs}
	if err := postJSON(ctx, o.client, "openai embedding", o.baseURL+"/embeddings", o.apiKey, payload, &parsed); err != nil {
		return nil, info, err
	}
	if len(parsed.Data) != len(req.Inputs) {
		return nil, info, fmt.Errorf("openai embedding returned %d vectors for %d inputs", len(parsed.Data), len(req.Inputs))
	}
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		out[idx] = matchDimension(d.Embedding, req.Dimension)
	}
	return out, info, nil
}

func (o *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "openai", Model: o.chatModel, Key: o.keyName}
	if o.apiKey == "" {
		return ChatResponse{}, info, fmt.Errorf("openai key missing for alias %q", o.keyName)
	}
	text, err := chatCompletion(ctx, o.client, "openai chat", o.baseURL+"/chat/completions", o.apiKey, o.chatModel, req.Messages)
	if err != nil {
		return ChatResponse{}, info, err
	}
	return ChatResponse{Text: text}, info, nil
}

// chatCompletion runs one non-streaming /chat/completions call.
func chatCompletion(ctx context.Context, client *http.Client, provider, url, apiKey, model string, msgs []Message) (string, error) {
	if len(msgs) == 0 {
		return "", fmt.Errorf("%s: no messages", provider)
	}
	wire := make([]map[string]string, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, map[string]string{"role": string(m.Role), "content": m.Content})
	}
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := postJSON(ctx, client, provider, url, apiKey, map[string]any{"model": model, "messages": wire}, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s returned empty choices", provider)
	}
	return parsed.Choices[0].Message.Content, nil
}

func postJSON(ctx context.Context, client *http.Client, provider, url, apiKey string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", provider, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", provider, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", provider, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Provider: provider, Code: resp.StatusCode, Body: string(respBody)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", provider, err)
	}
	return nil
}

func resolveOpenAIKey(alias, fallback string) string {
	if alias != "" {
		k := os.Getenv("PAPERDIGEST_OPENAI_KEY_" + sanitizeEnvToken(alias))
		if k != "" {
			return k
		}
	}
	if fallback != "" {
		return fallback
	}
	return os.Getenv("OPENAI_API_KEY")
}
