package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const temperature = 0.3

// OpenAIProvider talks to any OpenAI-compatible endpoint through go-openai.
// The same type backs the openai, groq and ollama provider names.
type OpenAIProvider struct {
	name       string
	keyName    string
	apiKey     string
	chatModel  string
	embedModel string
	client     *openai.Client
}

func NewOpenAIProvider(keyName string) *OpenAIProvider {
	apiKey := resolveKey("LITAGENT_OPENAI_KEY_", keyName, "OPENAI_API_KEY")
	return newOpenAICompatible("openai", keyName, apiKey, "", envOr("LITAGENT_OPENAI_MODEL", "gpt-4o-mini"), envOr("LITAGENT_OPENAI_EMBED_MODEL", string(openai.SmallEmbedding3)))
}

func newOpenAICompatible(name, keyName, apiKey, baseURL, chatModel, embedModel string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		name:       name,
		keyName:    keyName,
		apiKey:     apiKey,
		chatModel:  chatModel,
		embedModel: embedModel,
		client:     openai.NewClientWithConfig(cfg),
	}
}

func (o *OpenAIProvider) info(model string) ProviderInfo {
	return ProviderInfo{Name: o.name, Model: model, Key: o.keyName}
}

func (o *OpenAIProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := o.info(o.embedModel)
	if o.apiKey == "" {
		return nil, info, fmt.Errorf("%s key missing for alias %q", o.name, o.keyName)
	}
	if o.embedModel == "" {
		return nil, info, fmt.Errorf("%s has no embedding model configured", o.name)
	}
	if len(req.Inputs) == 0 {
		return nil, info, errors.New("no embedding inputs")
	}
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(o.embedModel),
		Input: req.Inputs,
	})
	if err != nil {
		return nil, info, fmt.Errorf("%s embedding request failed: %w", o.name, err)
	}
	if len(resp.Data) != len(req.Inputs) {
		return nil, info, fmt.Errorf("%s returned %d embeddings for %d inputs", o.name, len(resp.Data), len(req.Inputs))
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, info, fmt.Errorf("%s returned embedding index %d out of range", o.name, d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i, x := range d.Embedding {
			v[i] = float32(x)
		}
		out[d.Index] = matchDimension(v, req.Dimension)
	}
	return out, info, nil
}

func (o *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := o.info(o.chatModel)
	if o.apiKey == "" {
		return GenerateResponse{}, info, fmt.Errorf("%s key missing for alias %q", o.name, o.keyName)
	}
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.chatModel,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req)},
		},
	})
	if err != nil {
		return GenerateResponse{}, info, fmt.Errorf("%s generate request failed: %w", o.name, err)
	}
	if len(resp.Choices) == 0 {
		return GenerateResponse{}, info, fmt.Errorf("%s returned empty choices", o.name)
	}
	return GenerateResponse{Text: resp.Choices[0].Message.Content}, info, nil
}

func resolveKey(prefix, alias, fallbackEnv string) string {
	if alias != "" {
		if v := os.Getenv(prefix + sanitizeEnvToken(alias)); v != "" {
			return v
		}
	}
	return os.Getenv(fallbackEnv)
}

func envOr(k, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return fallback
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
