package models

// Chat roles understood by the provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage represents a single message in a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the inbound /api/chat payload.
type ChatRequest struct {
	Message string        `json:"message"`
	History []ChatMessage `json:"conversationHistory"`
}

// IsSingleTurn reports whether the request carries no prior conversation.
// Only single-turn requests are eligible for the response cache.
func (r ChatRequest) IsSingleTurn() bool {
	return len(r.History) == 0
}

// ChatResponse is the /api/chat response body.
type ChatResponse struct {
	Message string `json:"message"`
	Usage   *Usage `json:"usage,omitempty"`
}

// CompletionResult is the normalized outcome of one provider call, streaming or not.
type CompletionResult struct {
	Text  string
	Usage Usage
	// TimeToFirstToken is in seconds; nil when the call was not streamed
	// or no content fragment ever arrived.
	TimeToFirstToken *float64
	DurationMs       int64
}
