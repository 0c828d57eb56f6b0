package providers

// NewGroqProvider returns a chat-only provider for Groq's OpenAI-compatible API.
func NewGroqProvider(keyName string) *OpenAIProvider {
	apiKey := resolveKey("LITAGENT_GROQ_KEY_", keyName, "GROQ_API_KEY")
	return newOpenAICompatible("groq", keyName, apiKey, "https://api.groq.com/openai/v1", envOr("LITAGENT_GROQ_MODEL", "llama-3.1-8b-instant"), "")
}
