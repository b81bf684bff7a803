package tenant

import "encoding/json"

// RAG defaults applied when the tenant settings omit them.
const (
	DefaultTopK          = 5
	DefaultMinSimilarity = 0.5
	DefaultKeywordWeight = 0.3
	DefaultVectorWeight  = 0.7
)

// HybridWeights are the score-fusion weights for hybrid retrieval.
type HybridWeights struct {
	Keyword float64 `json:"keyword"`
	Vector  float64 `json:"vector"`
}

// RAGConfig controls hybrid retrieval for a tenant.
type RAGConfig struct {
	TopK          int           `json:"top_k"`
	MinSimilarity float64       `json:"min_similarity"`
	HybridWeights HybridWeights `json:"hybrid_weights"`
}

// Settings is the typed view of a tenant's settings JSON.
type Settings struct {
	BrandName            string     `json:"brand_name"`
	Tone                 string     `json:"tone"`
	Locale               string     `json:"locale"`
	RAGEnabled           bool       `json:"rag_enabled"`
	HandoffEnabled       bool       `json:"handoff_enabled"`
	FunctionsEnabled     bool       `json:"functions_enabled"`
	RAG                  *RAGConfig `json:"rag,omitempty"`
	HumanHandoffKeywords []string   `json:"human_handoff_keywords,omitempty"`
}

// LLMOptions are the sampling options passed through to the provider.
type LLMOptions struct {
	Temperature  *float64 `json:"temperature,omitempty"`
	TopP         *float64 `json:"top_p,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
}

// LLMConfig is the tenant's language model binding: which provider/model to
// use, provider-specific connection fields, and sampling options.
type LLMConfig struct {
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Config   map[string]any `json:"config,omitempty"`
	Options  LLMOptions     `json:"options"`
}

// ParseSettings unmarshals a settings blob and fills in documented defaults.
// A nil or malformed blob yields pure defaults rather than an error; the
// data store remains the source of truth and bad settings must not take a
// tenant offline.
func ParseSettings(raw json.RawMessage) Settings {
	var s Settings
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &s)
	}
	if s.RAG != nil {
		applyRAGDefaults(s.RAG)
	}
	return s
}

func applyRAGDefaults(r *RAGConfig) {
	if r.TopK <= 0 {
		r.TopK = DefaultTopK
	}
	if r.MinSimilarity <= 0 {
		r.MinSimilarity = DefaultMinSimilarity
	}
	if r.HybridWeights.Keyword == 0 && r.HybridWeights.Vector == 0 {
		r.HybridWeights = HybridWeights{Keyword: DefaultKeywordWeight, Vector: DefaultVectorWeight}
	}
}

// ParseLLM extracts the optional LLM block from a settings blob. Returns nil
// unless both provider and model are present.
func ParseLLM(raw json.RawMessage) *LLMConfig {
	if len(raw) == 0 {
		return nil
	}
	var wrapper struct {
		LLM *LLMConfig `json:"llm"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil || wrapper.LLM == nil {
		return nil
	}
	if wrapper.LLM.Provider == "" || wrapper.LLM.Model == "" {
		return nil
	}
	return wrapper.LLM
}

// ParseChannelConfig unmarshals a channel config blob into a generic map.
// Malformed config yields an empty map.
func ParseChannelConfig(raw json.RawMessage) map[string]any {
	cfg := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &cfg)
	}
	return cfg
}
