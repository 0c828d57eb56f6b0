package providers

import "context"

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Key   string `json:"key"`
}

// GenerateRequest is one prompt for a text model. Operation names the caller
// (reasoning stage, summarizer) for audit and mock routing.
type GenerateRequest struct {
	Operation string   `json:"operation"`
	System    string   `json:"system,omitempty"`
	Prompt    string   `json:"prompt"`
	Context   []string `json:"context,omitempty"`
}

type GenerateResponse struct {
	Text string `json:"text"`
}

type EmbedRequest struct {
	Operation string   `json:"operation"`
	Inputs    []string `json:"inputs"`
	Dimension int      `json:"dimension"`
}

type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error)
}

type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error)
}

func userPrompt(req GenerateRequest) string {
	if len(req.Context) == 0 {
		return req.Prompt
	}
	out := req.Prompt + "\n\nContext:\n"
	for i, c := range req.Context {
		if i > 0 {
			out += "\n\n"
		}
		out += c
	}
	return out
}

const defaultSystemPrompt = "You are a research assistant. Ground every claim in the provided paper context and cite papers by title or arXiv id."

func systemPrompt(req GenerateRequest) string {
	if req.System != "" {
		return req.System
	}
	return defaultSystemPrompt
}
