package providers

import "strings"

// contextWindowRule maps a lowercase model-id substring to a context window
// size. Rules are checked in order; the first match wins, so more specific
// substrings are listed before their broader fallbacks.
var contextWindowRules = []struct {
	substr string
	tokens int
}{
	{"claude-3-5", 200000},
	{"claude-3", 200000},
	{"claude", 200000},
	{"gpt-4o", 128000},
	{"gpt-4-turbo", 128000},
	{"gpt-4", 8192},
	{"gpt-3.5", 16385},
	{"o1", 128000},
	{"o3", 200000},
	{"deepseek-reasoner", 64000},
	{"deepseek", 64000},
	{"glm-4", 128000},
	{"glm", 32000},
	{"qwen2.5", 128000},
	{"qwen", 32000},
	{"gemini-1.5", 1000000},
	{"gemini-2", 1000000},
	{"gemini", 32000},
	{"llama-3", 8192},
	{"llama3", 8192},
	{"mixtral", 32768},
	{"mistral", 32768},
}

// defaultContextWindow is used when no rule matches.
const defaultContextWindow = 8192

// InferContextWindow estimates a model's context window from its id using
// lowercase-substring matching, for models that don't carry an explicit
// ContextSize in a static model list.
func InferContextWindow(modelID string) int {
	lower := strings.ToLower(modelID)
	for _, rule := range contextWindowRules {
		if strings.Contains(lower, rule.substr) {
			return rule.tokens
		}
	}
	return defaultContextWindow
}
