package providers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"paperdigest/internal/config"

	"github.com/stretchr/testify/require"
)

type stubLLM struct {
	name  string
	err   error
	text  string
	calls int
}

func (s *stubLLM) Chat(ctx context.Context, req ChatRequest) (ChatResponse, ProviderInfo, error) {
	s.calls++
	if s.err != nil {
		return ChatResponse{}, ProviderInfo{Name: s.name}, s.err
	}
	return ChatResponse{Text: s.text}, ProviderInfo{Name: s.name, Model: s.name + "-model"}, nil
}

type memRecorder struct {
	mu   sync.Mutex
	recs []CallRecord
}

func (r *memRecorder) RecordCall(ctx context.Context, rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func TestManagerChatFailsOverAndRecords(t *testing.T) {
	down := &stubLLM{name: "openai", err: &StatusError{Provider: "openai chat", Code: 503}}
	local := &stubLLM{name: "ollama", text: "ok"}
	rec := &memRecorder{}
	m := NewStaticManager([]NamedLLMProvider{
		{Ref: ProviderRef{Raw: "openai", Name: "openai"}, Provider: down},
		{Ref: ProviderRef{Raw: "ollama", Name: "ollama"}, Provider: local},
	}, nil, 8, WithRecorder(rec))

	resp, info, err := m.Chat(WithPaperID(context.Background(), "arxiv_1"), ChatRequest{Operation: "chunk_question"})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Text)
	require.Equal(t, "ollama", info.Name)
	require.Equal(t, 1, down.calls)

	require.Len(t, rec.recs, 2)
	require.Equal(t, "error", rec.recs[0].Status)
	require.Equal(t, string(ErrorTransient), rec.recs[0].ErrorType)
	require.Equal(t, "arxiv_1", rec.recs[0].PaperID)
	require.Equal(t, "ok", rec.recs[1].Status)
}

func TestManagerChatStopsOnContextTooLong(t *testing.T) {
	first := &stubLLM{name: "groq", err: &StatusError{Provider: "groq chat", Code: 413}}
	second := &stubLLM{name: "openai", text: "unused"}
	m := NewStaticManager([]NamedLLMProvider{
		{Ref: ProviderRef{Raw: "groq", Name: "groq"}, Provider: first},
		{Ref: ProviderRef{Raw: "openai", Name: "openai"}, Provider: second},
	}, nil, 8)
	_, _, err := m.Chat(context.Background(), ChatRequest{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, 0, second.calls)
}

func TestManagerEmbedUsesConfiguredDimension(t *testing.T) {
	m, err := NewManager(context.Background(), config.Config{LLMProviders: "mock", EmbedProviders: "mock", EmbedDim: 16})
	require.NoError(t, err)
	vecs, info, err := m.Embed(context.Background(), "index", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, "mock", info.Name)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		require.Len(t, v, 16)
	}
	require.NoError(t, m.Close())
}

func TestNewManagerRejectsUnknownProvider(t *testing.T) {
	_, err := NewManager(context.Background(), config.Config{LLMProviders: "anthropic", EmbedProviders: "mock"})
	require.Error(t, err)
}

func TestNewManagerRejectsChatOnlyEmbedder(t *testing.T) {
	_, err := NewManager(context.Background(), config.Config{LLMProviders: "mock", EmbedProviders: "groq"})
	require.ErrorContains(t, err, "does not support embeddings")
}

func TestPreferredOrderDropsMockBehindRealProviders(t *testing.T) {
	names := []string{"mock", "openai", "mock", "ollama"}
	require.Equal(t, []int{1, 3}, preferredOrder(len(names), func(i int) string { return names[i] }))

	onlyMock := []string{"mock", "mock"}
	require.Equal(t, []int{0, 1}, preferredOrder(len(onlyMock), func(i int) string { return onlyMock[i] }))
}

type stubEmbed struct {
	name  string
	err   error
	calls int
}

func (s *stubEmbed) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	s.calls++
	if s.err != nil {
		return nil, ProviderInfo{Name: s.name}, s.err
	}
	out := make([][]float32, len(req.Inputs))
	for i := range out {
		out[i] = make([]float32, req.Dimension)
	}
	return out, ProviderInfo{Name: s.name}, nil
}

func TestManagerNeverFallsBackToMockWhenRealProviderFails(t *testing.T) {
	down := &stubLLM{name: "openai", err: &StatusError{Provider: "openai chat", Code: 503}}
	canned := &stubLLM{name: "mock", text: "canned"}
	downEmbed := &stubEmbed{name: "openai", err: &StatusError{Provider: "openai embeddings", Code: 503}}
	cannedEmbed := &stubEmbed{name: "mock"}
	m := NewStaticManager(
		[]NamedLLMProvider{
			{Ref: ProviderRef{Raw: "openai", Name: "openai"}, Provider: down},
			{Ref: ProviderRef{Raw: "mock", Name: "mock"}, Provider: canned},
		},
		[]NamedEmbedProvider{
			{Ref: ProviderRef{Raw: "openai", Name: "openai"}, Provider: downEmbed},
			{Ref: ProviderRef{Raw: "mock", Name: "mock"}, Provider: cannedEmbed},
		}, 8)

	_, _, err := m.Chat(context.Background(), ChatRequest{Operation: "chunk_question"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, 503, se.Code)
	require.Equal(t, 1, down.calls)
	require.Equal(t, 0, canned.calls)

	_, _, err = m.Embed(context.Background(), "chunk_embedding", []string{"a"})
	require.Error(t, err)
	require.Equal(t, 1, downEmbed.calls)
	require.Equal(t, 0, cannedEmbed.calls)
}

func TestMockChatConsolidation(t *testing.T) {
	p := NewMockProvider(4)
	resp, _, err := p.Chat(context.Background(), ChatRequest{Operation: "consolidate_questions"})
	require.NoError(t, err)
	require.Contains(t, resp.Text, "||")
	resp, _, err = p.Chat(context.Background(), ChatRequest{Operation: "chunk_question", Messages: []Message{System("s"), User("Context: dense retrieval")}})
	require.NoError(t, err)
	require.Contains(t, resp.Text, "dense retrieval")
}

func TestMockEmbedIsDeterministicUnitVector(t *testing.T) {
	p := NewMockProvider(12)
	a, _, err := p.Embed(context.Background(), EmbedRequest{Inputs: []string{"chunk one", "chunk two"}})
	require.NoError(t, err)
	b, _, err := p.Embed(context.Background(), EmbedRequest{Inputs: []string{"chunk one"}})
	require.NoError(t, err)
	require.Equal(t, a[0], b[0])
	require.NotEqual(t, a[0], a[1])

	var sum float64
	for _, x := range a[0] {
		sum += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, sum, 1e-4)
	require.Len(t, a[1], 12)
}
