package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// GeminiProvider serves generation and embeddings from the Gemini API.
type GeminiProvider struct {
	keyName    string
	apiKey     string
	model      string
	embedModel string

	mu     sync.Mutex
	client *genai.Client
}

func NewGeminiProvider(keyName, model, embedModel string) *GeminiProvider {
	if model == "" {
		model = "gemini-1.5-pro"
	}
	if embedModel == "" {
		embedModel = "gemini-embedding-001"
	}
	return &GeminiProvider{
		keyName:    keyName,
		apiKey:     resolveKey("LITAGENT_GEMINI_KEY_", keyName, "GEMINI_API_KEY"),
		model:      model,
		embedModel: embedModel,
	}
}

func (g *GeminiProvider) info(model string) ProviderInfo {
	return ProviderInfo{Name: "gemini", Model: model, Key: g.keyName}
}

// clientFor creates the SDK client on first use so a missing key only fails
// the calls that need it.
func (g *GeminiProvider) clientFor(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	if g.apiKey == "" {
		return nil, fmt.Errorf("gemini key missing for alias %q", g.keyName)
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: g.apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g.client = c
	return c, nil
}

func (g *GeminiProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := g.info(g.model)
	client, err := g.clientFor(ctx)
	if err != nil {
		return GenerateResponse{}, info, err
	}
	temp := float32(temperature)
	resp, err := client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(userPrompt(req), genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt(req), genai.RoleUser),
			Temperature:       &temp,
		},
	)
	if err != nil {
		return GenerateResponse{}, info, fmt.Errorf("gemini generate request failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return GenerateResponse{}, info, fmt.Errorf("gemini returned no candidates")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return GenerateResponse{}, info, fmt.Errorf("gemini returned empty text")
	}
	return GenerateResponse{Text: b.String()}, info, nil
}

func (g *GeminiProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := g.info(g.embedModel)
	if len(req.Inputs) == 0 {
		return nil, info, fmt.Errorf("no embedding inputs")
	}
	client, err := g.clientFor(ctx)
	if err != nil {
		return nil, info, err
	}
	contents := make([]*genai.Content, len(req.Inputs))
	for i, text := range req.Inputs {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	result, err := client.Models.EmbedContent(ctx, g.embedModel, contents, nil)
	if err != nil {
		return nil, info, fmt.Errorf("gemini embed request failed: %w", err)
	}
	if len(result.Embeddings) != len(req.Inputs) {
		return nil, info, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(result.Embeddings), len(req.Inputs))
	}
	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = matchDimension(emb.Values, req.Dimension)
	}
	return out, info, nil
}
