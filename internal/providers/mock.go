package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 1536
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	_ = ctx
	dim := req.Dimension
	if dim <= 0 {
		dim = m.dim
	}
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		vectors = append(vectors, deterministicVector(input, dim))
	}
	return vectors, ProviderInfo{Name: "mock", Model: fmt.Sprintf("mock-embed-%d", dim), Key: "mock"}, nil
}

// Chat answers deterministically: consolidation requests get five questions
// joined by "||", anything else gets one question about the last user message.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, ProviderInfo, error) {
	_ = ctx
	info := ProviderInfo{Name: "mock", Model: "mock-llm-v1", Key: "mock"}
	if strings.Contains(strings.ToLower(req.Operation), "consolidate") {
		return ChatResponse{Text: strings.Join([]string{
			"What problem does the paper address?",
			"Which approach do the authors propose?",
			"How is the approach evaluated?",
			"What do the results show?",
			"What limitations and future work remain?",
		}, " || ")}, info, nil
	}
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	words := strings.Fields(last)
	if len(words) > 8 {
		words = words[:8]
	}
	return ChatResponse{Text: fmt.Sprintf("What does the passage starting %q explain?", strings.Join(words, " "))}, info, nil
}

// deterministicVector derives a unit vector from input by hashing it with a
// running block counter.
func deterministicVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	var block [sha256.Size]byte
	var sum float64
	for i := range vec {
		if i%8 == 0 {
			var ctr [4]byte
			binary.BigEndian.PutUint32(ctr[:], uint32(i/8))
			block = sha256.Sum256(append([]byte(input), ctr[:]...))
		}
		u := binary.BigEndian.Uint32(block[(i%8)*4:])
		v := float64(u)/float64(math.MaxUint32)*2 - 1
		vec[i] = float32(v)
		sum += v * v
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
