package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MockProvider is a deterministic stand-in for both model families. Identical
// inputs always produce identical vectors and text.
type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 768
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, ProviderInfo{}, err
	}
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

func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	if err := ctx.Err(); err != nil {
		return GenerateResponse{}, ProviderInfo{}, err
	}
	op := strings.ToLower(req.Operation)
	var b strings.Builder
	switch {
	case strings.Contains(op, "exploration"):
		b.WriteString("- Which methods define the area?\n- Which results are reported and on what benchmarks?\n- What limitations remain open?")
	case strings.Contains(op, "draft"):
		b.WriteString("Draft answer grounded in the retrieved evidence")
		writeRefs(&b, len(req.Context))
		b.WriteString(".")
	case strings.Contains(op, "reflection"):
		b.WriteString("The draft lacks primary sources for its central claims. No additional arXiv ids are suggested.")
	case strings.Contains(op, "synthesis"), strings.Contains(op, "direct"):
		b.WriteString("## Answer\n- Deterministic answer based on retrieved evidence.")
		writeRefs(&b, len(req.Context))
		b.WriteString("\n## Confidence\n- Mock output; configure a real provider for semantic quality.")
	case strings.Contains(op, "summar"):
		b.WriteString("**Quick Takeaway and Key Insights:**\nDeterministic mock summary.\n\n**Limitations / Challenges:**\n- No explicit information provided.")
	default:
		b.WriteString("Mock response.")
	}
	return GenerateResponse{Text: b.String()}, ProviderInfo{Name: "mock", Model: "mock-llm-v1", Key: "mock"}, nil
}

func writeRefs(b *strings.Builder, n int) {
	for i := 0; i < n; i++ {
		b.WriteString(" [C")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("]")
	}
}

func deterministicVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(input)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251), byte(i/251)))
		u := binary.BigEndian.Uint32(h[:4])
		vec[i] = float32(u%2000)/1000.0 - 1.0
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
