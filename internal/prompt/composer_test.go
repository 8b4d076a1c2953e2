package prompt

import (
	"strings"
	"testing"

	"raggate-api/internal/retrieval"
	"raggate-api/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordCounter counts whitespace-separated words, giving tests a
// deterministic stand-in for the tiktoken counter.
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func testRequest() *shared.ChatRequest {
	return &shared.ChatRequest{
		Model: "test-model",
		Messages: []shared.ChatMessage{
			{Role: "user", Content: "What is the capital of France?"},
		},
	}
}

func testChunks() []retrieval.Chunk {
	return []retrieval.Chunk{
		{Text: "Paris is the capital of France.", SourceID: "doc-1", Score: 0.95},
		{Text: "France is a country in Europe.", SourceID: "doc-2", Score: 0.80},
		{Text: "The Eiffel Tower is in Paris.", SourceID: "doc-3", Score: 0.60},
	}
}

func TestComposeInjectsContextMessage(t *testing.T) {
	c := NewComposer(wordCounter{})

	aug := c.Compose(testRequest(), testChunks(), 1000)

	require.Len(t, aug.Messages, 2)
	assert.Equal(t, "system", aug.Messages[0].Role)
	assert.Contains(t, aug.Messages[0].Content, "Paris is the capital of France.")
	assert.Contains(t, aug.Messages[0].Content, "[source: doc-1]")
	assert.Contains(t, aug.Messages[0].Content, "[source: doc-3]")
	assert.Equal(t, 3, aug.InjectedChunks)
	assert.Equal(t, "user", aug.Messages[1].Role)
}

func TestComposeNeverExceedsBudget(t *testing.T) {
	c := NewComposer(wordCounter{})

	for budget := 0; budget <= 60; budget++ {
		aug := c.Compose(testRequest(), testChunks(), budget)
		if aug.InjectedChunks == 0 {
			continue
		}
		got := wordCounter{}.Count(aug.Messages[0].Content)
		assert.LessOrEqual(t, got, budget, "budget %d", budget)
	}
}

func TestComposeDropsLowestScoreFirst(t *testing.T) {
	c := NewComposer(wordCounter{})

	// Budget fits the header plus roughly two chunks.
	aug := c.Compose(testRequest(), testChunks(), 30)

	require.Equal(t, 2, aug.InjectedChunks)
	assert.Contains(t, aug.Messages[0].Content, "[source: doc-1]")
	assert.Contains(t, aug.Messages[0].Content, "[source: doc-2]")
	assert.NotContains(t, aug.Messages[0].Content, "[source: doc-3]")
}

func TestComposeOmitsContextWhenNothingFits(t *testing.T) {
	c := NewComposer(wordCounter{})

	aug := c.Compose(testRequest(), testChunks(), 1)

	assert.Equal(t, 0, aug.InjectedChunks)
	require.Len(t, aug.Messages, 1)
	assert.Equal(t, "user", aug.Messages[0].Role)
}

func TestComposeEmptyChunks(t *testing.T) {
	c := NewComposer(wordCounter{})

	aug := c.Compose(testRequest(), nil, 1000)

	assert.Equal(t, 0, aug.InjectedChunks)
	require.Len(t, aug.Messages, 1)
}

func TestComposeDeterministic(t *testing.T) {
	c := NewComposer(wordCounter{})

	first := c.Compose(testRequest(), testChunks(), 30)
	second := c.Compose(testRequest(), testChunks(), 30)

	assert.Equal(t, first, second)
}

func TestComposeDoesNotMutateOriginal(t *testing.T) {
	c := NewComposer(wordCounter{})
	original := testRequest()

	_ = c.Compose(original, testChunks(), 1000)

	require.Len(t, original.Messages, 1)
	assert.Equal(t, "user", original.Messages[0].Role)
}
