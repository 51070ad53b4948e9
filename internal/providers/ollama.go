package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaProvider serves local chat and embeddings through an Ollama daemon.
// Example embed model: nomic-embed-text (Nomic Embed v1.5 family).
type OllamaProvider struct {
	alias      string
	chatModel  string
	embedModel string
	client     *api.Client
}

func NewOllamaProvider(alias string) (*OllamaProvider, error) {
	var client *api.Client
	if raw := strings.TrimSpace(os.Getenv("PAPERDIGEST_OLLAMA_BASE_URL")); raw != "" {
		u, err := url.Parse(strings.TrimRight(raw, "/"))
		if err != nil {
			return nil, fmt.Errorf("parse ollama base url: %w", err)
		}
		client = api.NewClient(u, &http.Client{Timeout: 90 * time.Second})
	} else {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama client from environment: %w", err)
		}
		client = c
	}
	return newOllamaProvider(alias, client), nil
}

func newOllamaProvider(alias string, client *api.Client) *OllamaProvider {
	chat := strings.TrimSpace(os.Getenv("PAPERDIGEST_OLLAMA_CHAT_MODEL"))
	if chat == "" {
		chat = "llama3.1"
	}
	return &OllamaProvider{
		alias:      alias,
		chatModel:  chat,
		embedModel: resolveOllamaEmbedModel(alias),
		client:     client,
	}
}

func (o *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "ollama", Model: o.chatModel, Key: o.alias}
	msgs := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, api.Message{Role: string(m.Role), Content: m.Content})
	}
	stream := false
	var b strings.Builder
	err := o.client.Chat(ctx, &api.ChatRequest{Model: o.chatModel, Messages: msgs, Stream: &stream}, func(resp api.ChatResponse) error {
		b.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return ChatResponse{}, info, ollamaError("ollama chat", err)
	}
	if strings.TrimSpace(b.String()) == "" {
		return ChatResponse{}, info, fmt.Errorf("ollama returned empty completion")
	}
	return ChatResponse{Text: b.String()}, info, nil
}

func (o *OllamaProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: "ollama", Model: o.embedModel, Key: o.alias}
	if len(req.Inputs) == 0 {
		return nil, info, fmt.Errorf("no embedding inputs")
	}
	resp, err := o.client.Embed(ctx, &api.EmbedRequest{Model: o.embedModel, Input: req.Inputs})
	if err != nil {
		return nil, info, ollamaError("ollama embedding", err)
	}
	if len(resp.Embeddings) != len(req.Inputs) {
		return nil, info, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(req.Inputs))
	}
	out := make([][]float32, 0, len(resp.Embeddings))
	for _, v := range resp.Embeddings {
		if len(v) == 0 {
			return nil, info, fmt.Errorf("ollama returned empty embedding")
		}
		out = append(out, matchDimension(v, req.Dimension))
	}
	return out, info, nil
}

func ollamaError(provider string, err error) error {
	var se api.StatusError
	if errors.As(err, &se) {
		return &StatusError{Provider: provider, Code: se.StatusCode, Body: se.ErrorMessage}
	}
	return fmt.Errorf("%s request failed: %w", provider, err)
}

func resolveOllamaEmbedModel(alias string) string {
	alias = strings.TrimSpace(alias)
	if alias != "" {
		key := "PAPERDIGEST_OLLAMA_EMBED_MODEL_" + sanitizeEnvToken(alias)
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		switch strings.ToLower(alias) {
		case "nomic":
			return "nomic-embed-text"
		case "bge":
			return "bge-small-en-v1.5"
		}
		// Allow direct model in provider list, e.g. ollama:nomic-embed-text
		if strings.Contains(alias, "-") || strings.Contains(alias, "/") || strings.Contains(alias, ".") {
			return alias
		}
	}
	if v := strings.TrimSpace(os.Getenv("PAPERDIGEST_OLLAMA_EMBED_MODEL")); v != "" {
		return v
	}
	return "nomic-embed-text"
}

func sanitizeEnvToken(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, "/", "_")
	return s
}

func matchDimension(v []float32, target int) []float32 {
	if target <= 0 || len(v) == target {
		return v
	}
	if len(v) > target {
		return v[:target]
	}
	out := make([]float32, target)
	copy(out, v)
	return out
}
