package core

// ResponseFormat hints the transport about the expected payload shape.
type ResponseFormat string

const (
	// FormatText requests free-form text.
	FormatText ResponseFormat = "text"
	// FormatJSON requests a single JSON object. Providers with a native JSON
	// mode enable it; the others rely on the prompt instructions.
	FormatJSON ResponseFormat = "json"
)

// DefaultMaxOutputTokens is used when a request leaves MaxOutputTokens unset.
const DefaultMaxOutputTokens = 2000

// CallRequest is a single request to an agent. It is passed by value so a
// retried call always replays the same input.
type CallRequest struct {
	// Prompt is the user message sent to the agent.
	Prompt string `json:"prompt"`
	// System carries optional system instructions.
	System string `json:"system,omitempty"`
	// MaxOutputTokens caps the response length (0 means DefaultMaxOutputTokens).
	MaxOutputTokens int64 `json:"max_output_tokens,omitempty"`
	// Format hints the expected response shape.
	Format ResponseFormat `json:"format,omitempty"`
	// Schema optionally describes the JSON object expected when Format is FormatJSON.
	Schema map[string]any `json:"schema,omitempty"`
	// SchemaName names the schema for providers that require one.
	SchemaName string `json:"schema_name,omitempty"`
}

// Tokens returns the effective output token cap.
func (r CallRequest) Tokens() int64 {
	if r.MaxOutputTokens <= 0 {
		return DefaultMaxOutputTokens
	}
	return r.MaxOutputTokens
}
