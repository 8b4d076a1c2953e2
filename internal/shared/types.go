package shared

// ChatMessage is one turn in a conversation, OpenAI schema.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ChatRequest is the normalized inference request accepted on
// /v1/chat/completions. NoRAG is a gateway extension: when set, the request
// skips retrieval entirely and is forwarded unmodified.
type ChatRequest struct {
	Model            string        `json:"model"`
	Messages         []ChatMessage `json:"messages"`
	Stream           bool          `json:"stream,omitempty"`
	Temperature      *float64      `json:"temperature,omitempty"`
	MaxTokens        int           `json:"max_tokens,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	Logprobs         bool          `json:"logprobs,omitempty"`
	Stop             []string      `json:"stop,omitempty"`
	NoRAG            bool          `json:"no_rag,omitempty"`
}

// UserQuery returns the content of the last user message, which is the text
// the retriever embeds. Empty when the conversation has no user turn.
func (r *ChatRequest) UserQuery() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Usage is the OpenAI token accounting block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// ChatCompletion is the normalized non-streaming response.
// RetrievalDegraded is a gateway extension surfaced when the knowledge store
// was unreachable and the degrade policy let the request proceed without
// context.
type ChatCompletion struct {
	ID                string   `json:"id"`
	Object            string   `json:"object"`
	Created           int64    `json:"created"`
	Model             string   `json:"model"`
	Choices           []Choice `json:"choices"`
	Usage             *Usage   `json:"usage,omitempty"`
	RetrievalDegraded bool     `json:"retrieval_degraded,omitempty"`
}

// Delta is the incremental fragment inside one streamed chunk.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// ChatCompletionChunk is one normalized streaming delta, mirroring the
// OpenAI chat.completion.chunk wire shape one-to-one.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// OpenAIError is the error payload returned to clients.
type OpenAIError struct {
	Message string `json:"message"`
	Object  string `json:"object"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// Model is one entry in the /v1/models listing.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by,omitempty"`
}
