// Package prompt merges retrieved chunks with the original conversation into
// a provider-ready message sequence under a token budget.
package prompt

import (
	"fmt"
	"strings"

	"raggate-api/internal/retrieval"
	"raggate-api/internal/shared"

	"github.com/pkoukk/tiktoken-go"
)

// contextHeader is the instruction prefixed to the injected chunks.
const contextHeader = "Use the following context to answer the user's question:"

// TokenCounter measures text against the context budget. Tests inject a
// deterministic counter; production uses tiktoken.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens with the encoding for the given model,
// falling back to cl100k_base for models tiktoken does not know.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTokenCounter(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (t *TiktokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// AugmentedRequest is the original request plus the injected context message.
// It is built from a copy; the original request is never mutated.
type AugmentedRequest struct {
	shared.ChatRequest
	// InjectedChunks is how many chunks made it into the context message.
	InjectedChunks int
}

type Composer struct {
	counter TokenCounter
}

func NewComposer(counter TokenCounter) *Composer {
	return &Composer{counter: counter}
}

// Compose prepends one synthetic system message built from chunks to the
// original message sequence. chunks must be ordered by descending relevance;
// when the concatenation exceeds budget the lowest-relevance chunks are
// dropped from the tail until it fits. If not even one chunk fits, the
// context message is omitted and the request degrades to unaugmented.
// Deterministic for identical inputs.
func (c *Composer) Compose(original *shared.ChatRequest, chunks []retrieval.Chunk, budget int) *AugmentedRequest {
	aug := &AugmentedRequest{ChatRequest: *original}
	aug.Messages = make([]shared.ChatMessage, 0, len(original.Messages)+1)

	kept := chunks
	for len(kept) > 0 && c.counter.Count(contextText(kept)) > budget {
		kept = kept[:len(kept)-1]
	}

	if len(kept) > 0 {
		aug.Messages = append(aug.Messages, shared.ChatMessage{
			Role:    "system",
			Content: contextText(kept),
		})
		aug.InjectedChunks = len(kept)
	}
	aug.Messages = append(aug.Messages, original.Messages...)

	return aug
}

func contextText(chunks []retrieval.Chunk) string {
	var b strings.Builder
	b.WriteString(contextHeader)
	for _, chunk := range chunks {
		b.WriteString("\n\n")
		b.WriteString(chunk.Text)
		b.WriteString("\n[source: ")
		b.WriteString(chunk.SourceID)
		b.WriteString("]")
	}
	return b.String()
}
