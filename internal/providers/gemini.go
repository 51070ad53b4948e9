package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiProvider serves chat and embeddings through the Gemini API.
type GeminiProvider struct {
	keyName    string
	chatModel  string
	embedModel string
	client     *genai.Client
}

func NewGeminiProvider(ctx context.Context, keyName string) (*GeminiProvider, error) {
	p := &GeminiProvider{
		keyName:    keyName,
		chatModel:  envOr("PAPERDIGEST_GEMINI_CHAT_MODEL", "gemini-1.5-flash"),
		embedModel: envOr("PAPERDIGEST_GEMINI_EMBED_MODEL", "text-embedding-004"),
	}
	apiKey := resolveGeminiKey(keyName)
	if apiKey == "" {
		return p, nil
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	p.client = cl
	return p, nil
}

func (g *GeminiProvider) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "gemini", Model: g.chatModel, Key: g.keyName}
	if g.client == nil {
		return ChatResponse{}, info, fmt.Errorf("gemini key missing for alias %q", g.keyName)
	}
	m := g.client.GenerativeModel(g.chatModel)
	var system []string
	turns := make([]Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		turns = append(turns, msg)
	}
	if len(system) > 0 {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}
	if len(turns) == 0 || turns[len(turns)-1].Role != RoleUser {
		return ChatResponse{}, info, fmt.Errorf("gemini chat needs a final user message")
	}
	cs := m.StartChat()
	for _, msg := range turns[:len(turns)-1] {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	resp, err := cs.SendMessage(ctx, genai.Text(turns[len(turns)-1].Content))
	if err != nil {
		return ChatResponse{}, info, fmt.Errorf("gemini chat: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ChatResponse{}, info, fmt.Errorf("gemini returned no candidates")
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return ChatResponse{Text: b.String()}, info, nil
}

func (g *GeminiProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: "gemini", Model: g.embedModel, Key: g.keyName}
	if g.client == nil {
		return nil, info, fmt.Errorf("gemini key missing for alias %q", g.keyName)
	}
	if len(req.Inputs) == 0 {
		return nil, info, fmt.Errorf("no embedding inputs")
	}
	em := g.client.EmbeddingModel(g.embedModel)
	batch := em.NewBatch()
	for _, t := range req.Inputs {
		batch.AddContent(genai.Text(t))
	}
	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, info, fmt.Errorf("gemini batch embed: %w", err)
	}
	if len(resp.Embeddings) != len(req.Inputs) {
		return nil, info, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(resp.Embeddings), len(req.Inputs))
	}
	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, matchDimension(e.Values, req.Dimension))
	}
	return out, info, nil
}

func resolveGeminiKey(alias string) string {
	if alias != "" {
		if v := os.Getenv("PAPERDIGEST_GEMINI_KEY_" + sanitizeEnvToken(alias)); v != "" {
			return v
		}
	}
	return os.Getenv("GEMINI_API_KEY")
}

func envOr(k, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return fallback
}
