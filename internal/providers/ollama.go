package providers

import "strings"

// NewOllamaProvider targets a local Ollama server through its OpenAI-compatible
// /v1 endpoint. Ollama ignores the bearer token but go-openai requires one.
func NewOllamaProvider(alias string) *OpenAIProvider {
	base := strings.TrimRight(envOr("LITAGENT_OLLAMA_BASE_URL", "http://localhost:11434"), "/") + "/v1"
	return newOpenAICompatible("ollama", alias, "ollama", base, envOr("LITAGENT_OLLAMA_MODEL", "llama3.1"), resolveOllamaEmbedModel(alias))
}

func resolveOllamaEmbedModel(alias string) string {
	alias = strings.TrimSpace(alias)
	if alias != "" {
		if v := envOr("LITAGENT_OLLAMA_EMBED_MODEL_"+sanitizeEnvToken(alias), ""); v != "" {
			return v
		}
		switch strings.ToLower(alias) {
		case "nomic":
			return "nomic-embed-text"
		case "bge":
			return "bge-small-en-v1.5"
		}
		// ollama:nomic-embed-text names the model directly.
		if strings.ContainsAny(alias, "-/.") {
			return alias
		}
	}
	return envOr("LITAGENT_OLLAMA_EMBED_MODEL", "nomic-embed-text")
}
