package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"litagent/internal/config"
)

// ProviderSpec is one entry of a provider chain such as "gemini|openai:work",
// where the part after the colon selects which key the provider reads.
type ProviderSpec struct {
	Name string
	Key  string
}

func (s ProviderSpec) String() string {
	if s.Key == "" {
		return s.Name
	}
	return s.Name + ":" + s.Key
}

// parseChain splits a "|" separated provider chain, dropping blank and
// repeated entries. An empty chain selects the mock provider.
func parseChain(raw string) []ProviderSpec {
	seen := make(map[ProviderSpec]bool)
	out := make([]ProviderSpec, 0, 4)
	for _, entry := range strings.Split(raw, "|") {
		name, key, _ := strings.Cut(entry, ":")
		spec := ProviderSpec{Name: strings.ToLower(strings.TrimSpace(name)), Key: strings.TrimSpace(key)}
		if spec.Name == "" || seen[spec] {
			continue
		}
		seen[spec] = true
		out = append(out, spec)
	}
	if len(out) == 0 {
		out = append(out, ProviderSpec{Name: "mock"})
	}
	return out
}

type NamedLLMProvider struct {
	Ref      ProviderSpec
	Provider LLMProvider
}

type NamedEmbedProvider struct {
	Ref      ProviderSpec
	Provider EmbeddingProvider
}

// Manager holds the configured providers and fails over between them in
// preferred order. It satisfies both LLMProvider and EmbeddingProvider.
type Manager struct {
	llmProviders   []NamedLLMProvider
	embedProviders []NamedEmbedProvider
}

func NewManager(cfg config.Config) (*Manager, error) {
	m := &Manager{}
	for _, ref := range parseChain(cfg.LLMProviders) {
		p, err := buildProvider(ref, cfg)
		if err != nil {
			return nil, err
		}
		llm, ok := p.(LLMProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support llm", ref)
		}
		m.llmProviders = append(m.llmProviders, NamedLLMProvider{Ref: ref, Provider: llm})
	}
	for _, ref := range parseChain(cfg.EmbedProviders) {
		if ref.Name == "groq" {
			return nil, fmt.Errorf("provider %s does not support embeddings", ref)
		}
		p, err := buildProvider(ref, cfg)
		if err != nil {
			return nil, err
		}
		embed, ok := p.(EmbeddingProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support embeddings", ref)
		}
		m.embedProviders = append(m.embedProviders, NamedEmbedProvider{Ref: ref, Provider: embed})
	}
	return m, nil
}

// NewManagerWith builds a manager from already constructed providers.
func NewManagerWith(llms []NamedLLMProvider, embeds []NamedEmbedProvider) *Manager {
	return &Manager{llmProviders: llms, embedProviders: embeds}
}

func (m *Manager) LLMCount() int {
	return len(m.llmProviders)
}

func (m *Manager) EmbedCount() int {
	return len(m.embedProviders)
}

func (m *Manager) PreferredLLMOrder() []int {
	return preferredOrder(len(m.llmProviders), func(i int) string { return strings.ToLower(m.llmProviders[i].Ref.Name) })
}

func (m *Manager) PreferredEmbedOrder() []int {
	return preferredOrder(len(m.embedProviders), func(i int) string { return strings.ToLower(m.embedProviders[i].Ref.Name) })
}

func preferredOrder(n int, nameAt func(i int) string) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if nameAt(i) != "mock" {
			out = append(out, i)
		}
	}
	for i := 0; i < n; i++ {
		if nameAt(i) == "mock" {
			out = append(out, i)
		}
	}
	return out
}

// Generate tries each LLM provider in preferred order and returns the first
// success. Cancellation stops the failover chain immediately.
func (m *Manager) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	if len(m.llmProviders) == 0 {
		return GenerateResponse{}, ProviderInfo{}, errors.New("no llm providers configured")
	}
	var (
		info ProviderInfo
		errs []error
	)
	for _, idx := range m.PreferredLLMOrder() {
		p := m.llmProviders[idx]
		out, pi, err := p.Provider.Generate(ctx, req)
		if err == nil {
			return out, pi, nil
		}
		info = pi
		errs = append(errs, fmt.Errorf("%s: %w", p.Ref, err))
		if ctx.Err() != nil {
			break
		}
	}
	return GenerateResponse{}, info, joinProviderErrors(errs)
}

// Embed mirrors Generate for embedding providers. Vectors from different
// providers live in different spaces, so deployments should list providers
// that share a model family.
func (m *Manager) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	if len(m.embedProviders) == 0 {
		return nil, ProviderInfo{}, errors.New("no embedding providers configured")
	}
	var (
		info ProviderInfo
		errs []error
	)
	for _, idx := range m.PreferredEmbedOrder() {
		p := m.embedProviders[idx]
		out, pi, err := p.Provider.Embed(ctx, req)
		if err == nil {
			return out, pi, nil
		}
		info = pi
		errs = append(errs, fmt.Errorf("%s: %w", p.Ref, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, info, joinProviderErrors(errs)
}

// joinProviderErrors keeps a single error unwrapped so classification sees
// the provider's own message first.
func joinProviderErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}

func buildProvider(ref ProviderSpec, cfg config.Config) (any, error) {
	switch ref.Name {
	case "mock":
		return NewMockProvider(cfg.EmbedDim), nil
	case "openai":
		return NewOpenAIProvider(ref.Key), nil
	case "gemini":
		return NewGeminiProvider(ref.Key, cfg.GeminiModel, cfg.GeminiEmbed), nil
	case "ollama":
		return NewOllamaProvider(ref.Key), nil
	case "groq":
		return NewGroqProvider(ref.Key), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
}
