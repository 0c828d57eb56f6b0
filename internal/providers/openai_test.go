package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAIStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) || !assert.Len(t, body.Messages, 2) {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		assert.Equal(t, "system", body.Messages[0].Role)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": "echo: " + body.Messages[1].Content}}},
		})
	})
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"object": "embedding", "index": 1, "embedding": []float32{0.4, 0.5, 0.6}},
				{"object": "embedding", "index": 0, "embedding": []float32{0.1, 0.2, 0.3}},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAICompatibleGenerate(t *testing.T) {
	srv := newOpenAIStub(t)
	p := newOpenAICompatible("openai", "test", "sk-test", srv.URL+"/v1", "gpt-4o-mini", "text-embedding-3-small")
	out, info, err := p.Generate(context.Background(), GenerateRequest{Operation: "reasoning_draft", Prompt: "question", Context: []string{"ctx"}})
	require.NoError(t, err)
	require.Equal(t, "openai", info.Name)
	require.Equal(t, "echo: question\n\nContext:\nctx", out.Text)
}

func TestOpenAICompatibleEmbedKeepsInputOrder(t *testing.T) {
	srv := newOpenAIStub(t)
	p := newOpenAICompatible("openai", "test", "sk-test", srv.URL+"/v1", "gpt-4o-mini", "text-embedding-3-small")
	vecs, _, err := p.Embed(context.Background(), EmbedRequest{Inputs: []string{"a", "b"}, Dimension: 2})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{0.1, 0.2}, {0.4, 0.5}}, vecs)
}

func TestOpenAIMissingKey(t *testing.T) {
	p := newOpenAICompatible("openai", "none", "", "", "gpt-4o-mini", "text-embedding-3-small")
	_, _, err := p.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	require.ErrorContains(t, err, "key missing")
}

func TestGroqHasNoEmbeddings(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-test")
	p := NewGroqProvider("")
	_, _, err := p.Embed(context.Background(), EmbedRequest{Inputs: []string{"x"}})
	require.ErrorContains(t, err, "no embedding model")
}
