package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"paperdigest/internal/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type NamedLLMProvider struct {
	Ref      ProviderRef
	Provider LLMProvider
}

type NamedEmbedProvider struct {
	Ref      ProviderRef
	Provider EmbeddingProvider
}

// Manager holds the configured provider chains and fails over between them.
type Manager struct {
	llmProviders   []NamedLLMProvider
	embedProviders []NamedEmbedProvider
	embedDim       int
	recorder       CallRecorder
	log            *zap.Logger
}

type ManagerOption func(*Manager)

func WithRecorder(r CallRecorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

func NewManager(ctx context.Context, cfg config.Config, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{embedDim: cfg.EmbedDim, log: zap.NewNop()}
	for _, ref := range ParseProviderList(cfg.LLMProviders) {
		p, err := buildProvider(ctx, ref, cfg)
		if err != nil {
			return nil, err
		}
		llm, ok := p.(LLMProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support llm", ref.Raw)
		}
		m.llmProviders = append(m.llmProviders, NamedLLMProvider{Ref: ref, Provider: llm})
	}
	for _, ref := range ParseProviderList(cfg.EmbedProviders) {
		p, err := buildProvider(ctx, ref, cfg)
		if err != nil {
			return nil, err
		}
		embed, ok := p.(EmbeddingProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support embeddings", ref.Raw)
		}
		m.embedProviders = append(m.embedProviders, NamedEmbedProvider{Ref: ref, Provider: embed})
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// NewStaticManager wires explicit providers, mostly for tests and embedding callers.
func NewStaticManager(llms []NamedLLMProvider, embeds []NamedEmbedProvider, embedDim int, opts ...ManagerOption) *Manager {
	m := &Manager{llmProviders: llms, embedProviders: embeds, embedDim: embedDim, log: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Chat tries the LLM chain in preferred order and returns the first success.
func (m *Manager) Chat(ctx context.Context, req ChatRequest) (ChatResponse, ProviderInfo, error) {
	if len(m.llmProviders) == 0 {
		return ChatResponse{}, ProviderInfo{}, errors.New("no llm providers configured")
	}
	var lastErr error
	for _, i := range m.PreferredLLMOrder() {
		np := m.llmProviders[i]
		resp, info, err := np.Provider.Chat(ctx, req)
		m.record(ctx, req.Operation, np.Ref, info, err)
		if err == nil {
			return resp, info, nil
		}
		lastErr = fmt.Errorf("%s: %w", np.Ref.Raw, err)
		if stop := m.failover(ctx, req.Operation, np.Ref, err); stop {
			break
		}
	}
	return ChatResponse{}, ProviderInfo{}, lastErr
}

// Embed tries the embedding chain in preferred order. Vectors are sized to the
// configured dimension.
func (m *Manager) Embed(ctx context.Context, operation string, inputs []string) ([][]float32, ProviderInfo, error) {
	if len(m.embedProviders) == 0 {
		return nil, ProviderInfo{}, errors.New("no embedding providers configured")
	}
	var lastErr error
	for _, i := range m.PreferredEmbedOrder() {
		np := m.embedProviders[i]
		vecs, info, err := np.Provider.Embed(ctx, EmbedRequest{Operation: operation, Inputs: inputs, Dimension: m.embedDim})
		if err == nil && len(vecs) != len(inputs) {
			err = fmt.Errorf("provider returned %d vectors for %d inputs", len(vecs), len(inputs))
		}
		m.record(ctx, operation, np.Ref, info, err)
		if err == nil {
			return vecs, info, nil
		}
		lastErr = fmt.Errorf("%s: %w", np.Ref.Raw, err)
		if stop := m.failover(ctx, operation, np.Ref, err); stop {
			break
		}
	}
	return nil, ProviderInfo{}, lastErr
}

// failover logs a failed attempt and reports whether the chain should stop.
// An oversized prompt fails the same way everywhere, and a done context cannot recover.
func (m *Manager) failover(ctx context.Context, operation string, ref ProviderRef, err error) bool {
	kind := ClassifyError(err)
	m.log.Warn("provider call failed",
		zap.String("operation", operation),
		zap.String("provider", ref.Raw),
		zap.String("error_type", string(kind)),
		zap.Error(err))
	return kind == ErrorContext || ctx.Err() != nil
}

func (m *Manager) record(ctx context.Context, operation string, ref ProviderRef, info ProviderInfo, err error) {
	if m.recorder == nil {
		return
	}
	rec := CallRecord{
		CallID:       uuid.NewString(),
		Operation:    operation,
		PaperID:      PaperIDFrom(ctx),
		ProviderName: info.Name,
		Model:        info.Model,
		Status:       "ok",
	}
	if rec.ProviderName == "" {
		rec.ProviderName = ref.Name
	}
	if err != nil {
		rec.Status = "error"
		rec.ErrorType = string(ClassifyError(err))
	}
	// Audit writes must not outlive or fail the provider call.
	if rerr := m.recorder.RecordCall(context.WithoutCancel(ctx), rec); rerr != nil {
		m.log.Warn("record provider call", zap.Error(rerr))
	}
}

// Close releases providers that hold connections.
func (m *Manager) Close() error {
	var errs []error
	seen := map[any]bool{}
	for _, p := range m.llmProviders {
		if c, ok := p.Provider.(io.Closer); ok && !seen[c] {
			seen[c] = true
			errs = append(errs, c.Close())
		}
	}
	for _, p := range m.embedProviders {
		if c, ok := p.Provider.(io.Closer); ok && !seen[c] {
			seen[c] = true
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) EmbedDim() int {
	return m.embedDim
}

func (m *Manager) LLMProviderRefs() []ProviderRef {
	out := make([]ProviderRef, 0, len(m.llmProviders))
	for i := range m.llmProviders {
		out = append(out, m.llmProviders[i].Ref)
	}
	return out
}

func (m *Manager) EmbedProviderRefs() []ProviderRef {
	out := make([]ProviderRef, 0, len(m.embedProviders))
	for i := range m.embedProviders {
		out = append(out, m.embedProviders[i].Ref)
	}
	return out
}

func (m *Manager) PreferredLLMOrder() []int {
	return preferredOrder(len(m.llmProviders), func(i int) string { return strings.ToLower(m.llmProviders[i].Ref.Name) })
}

func (m *Manager) PreferredEmbedOrder() []int {
	return preferredOrder(len(m.embedProviders), func(i int) string { return strings.ToLower(m.embedProviders[i].Ref.Name) })
}

// preferredOrder keeps configured order. The mock provider only serves a chain
// with no real provider in it, so an outage never turns into canned output.
func preferredOrder(n int, nameAt func(i int) string) []int {
	if n <= 0 {
		return nil
	}
	var real, mocks []int
	for i := 0; i < n; i++ {
		if nameAt(i) == "mock" {
			mocks = append(mocks, i)
		} else {
			real = append(real, i)
		}
	}
	if len(real) > 0 {
		return real
	}
	return mocks
}

func buildProvider(ctx context.Context, ref ProviderRef, cfg config.Config) (any, error) {
	switch strings.ToLower(ref.Name) {
	case "mock":
		return NewMockProvider(cfg.EmbedDim), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias, OpenAIOptions{
			BaseURL:    cfg.OpenAIBaseURL,
			APIKey:     cfg.OpenAIKey,
			ChatModel:  cfg.OpenAIChat,
			EmbedModel: cfg.OpenAIEmbed,
			Timeout:    cfg.HTTPTimeout,
		}), nil
	case "ollama":
		return NewOllamaProvider(ref.KeyAlias)
	case "gemini":
		return NewGeminiProvider(ctx, ref.KeyAlias)
	case "groq":
		return NewGroqProvider(ref.KeyAlias), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
}
