package providers

import (
	"context"
	"errors"
	"testing"

	"litagent/internal/config"

	"github.com/stretchr/testify/require"
)

type failingLLM struct {
	err   error
	calls int
}

func (f *failingLLM) Generate(context.Context, GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	f.calls++
	return GenerateResponse{}, ProviderInfo{Name: "failing"}, f.err
}

func TestManagerFailsOverToMock(t *testing.T) {
	bad := &failingLLM{err: errors.New("503 unavailable")}
	m := NewManagerWith(
		[]NamedLLMProvider{
			{Ref: ProviderSpec{Name: "mock"}, Provider: NewMockProvider(8)},
			{Ref: ProviderSpec{Name: "openai", Key: "a"}, Provider: bad},
		}, nil)
	require.Equal(t, []int{1, 0}, m.PreferredLLMOrder())

	out, info, err := m.Generate(context.Background(), GenerateRequest{Operation: "reasoning_draft"})
	require.NoError(t, err)
	require.Equal(t, "mock", info.Name)
	require.NotEmpty(t, out.Text)
	require.Equal(t, 1, bad.calls)
}

func TestManagerReturnsLastErrorWhenAllFail(t *testing.T) {
	m := NewManagerWith([]NamedLLMProvider{{Ref: ProviderSpec{Name: "openai"}, Provider: &failingLLM{err: errors.New("request timeout")}}}, nil)
	_, _, err := m.Generate(context.Background(), GenerateRequest{})
	require.ErrorContains(t, err, "request timeout")
	require.True(t, IsRetryable(err))
}

func TestNewManagerFromConfig(t *testing.T) {
	cfg := config.Load()
	cfg.LLMProviders = "gemini|groq:team|mock"
	cfg.EmbedProviders = "gemini|mock"
	m, err := NewManager(cfg)
	require.NoError(t, err)
	require.Equal(t, 3, m.LLMCount())
	require.Equal(t, 2, m.EmbedCount())

	cfg.EmbedProviders = "groq"
	_, err = NewManager(cfg)
	require.ErrorContains(t, err, "does not support embeddings")

	cfg.EmbedProviders = "mock"
	cfg.LLMProviders = "claude"
	_, err = NewManager(cfg)
	require.ErrorContains(t, err, "unsupported provider")
}

func TestParseChain(t *testing.T) {
	got := parseChain(" Gemini | openai:work |gemini| ollama")
	require.Equal(t, []ProviderSpec{{Name: "gemini"}, {Name: "openai", Key: "work"}, {Name: "ollama"}}, got)
	require.Equal(t, "openai:work", got[1].String())
}

func TestParseChainEmptySelectsMock(t *testing.T) {
	require.Equal(t, []ProviderSpec{{Name: "mock"}}, parseChain(" | "))
}
