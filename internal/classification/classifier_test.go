package classification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortexmem/internal/cortextypes"
	"cortexmem/internal/llmclient"
)

func TestRuleBasedClassifierPriorityOrder(t *testing.T) {
	c := NewRuleBasedClassifier()
	ctx := context.Background()

	cases := []struct {
		name    string
		content string
		want    cortextypes.MemoryType
	}{
		{"personal wins over procedural", "I like to follow a step by step routine every morning", cortextypes.MemoryPersonal},
		{"procedural wins over factual", "First, check the date and the number of items in the batch", cortextypes.MemoryProcedural},
		{"factual wins over episodic", "The meeting has a date, a location, and a phone number on file", cortextypes.MemoryFactual},
		{"episodic wins over semantic", "Yesterday's event gave us a clearer understanding of the theory", cortextypes.MemoryEpisodic},
		{"semantic alone", "The definition and meaning of this concept comes from theory", cortextypes.MemorySemantic},
		{"no match falls back to conversational", "Sure, sounds good to me.", cortextypes.MemoryConversational},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := c.Classify(ctx, tc.content)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLLMClassifierUsesResponse(t *testing.T) {
	fake := &llmclient.Fake{Response: "Procedural"}
	c := NewLLMClassifier(fake)

	got, err := c.Classify(context.Background(), "some content")
	require.NoError(t, err)
	assert.Equal(t, cortextypes.MemoryProcedural, got)
	assert.Equal(t, 1, fake.Calls)
}

func TestLLMClassifierFallsBackOnError(t *testing.T) {
	fake := &llmclient.Fake{Err: assertErr{"backend unavailable"}}
	c := NewLLMClassifier(fake)

	got, err := c.Classify(context.Background(), "I love my new apartment")
	require.NoError(t, err)
	assert.Equal(t, cortextypes.MemoryPersonal, got)
}

func TestLLMClassifierFallsBackOnUnrecognisedResponse(t *testing.T) {
	fake := &llmclient.Fake{Response: "not a category"}
	c := NewLLMClassifier(fake)

	got, err := c.Classify(context.Background(), "Yesterday we had a great meeting")
	require.NoError(t, err)
	assert.Equal(t, cortextypes.MemoryEpisodic, got)
}

func TestHybridClassifierRoutesByLength(t *testing.T) {
	fake := &llmclient.Fake{Response: "Semantic"}
	h := NewHybridClassifier(fake, 20)

	short, err := h.Classify(context.Background(), "I like tea")
	require.NoError(t, err)
	assert.Equal(t, cortextypes.MemoryPersonal, short)
	assert.Equal(t, 0, fake.Calls)

	long, err := h.Classify(context.Background(), "This is a much longer piece of content that exceeds threshold")
	require.NoError(t, err)
	assert.Equal(t, cortextypes.MemorySemantic, long)
	assert.Equal(t, 1, fake.Calls)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
