// Package classification implements the memory-type classifier (§9's
// classifier polymorphism note): an LLM-backed classifier with a
// deterministic English-only keyword fallback, mirroring the
// LLM-first/rule-based pattern used by the layer manager.
package classification

import (
	"context"
	"fmt"
	"strings"

	"cortexmem/internal/cortextypes"
	"cortexmem/internal/llmclient"
)

// Classifier assigns a MemoryType to free-form content.
type Classifier interface {
	Classify(ctx context.Context, content string) (cortextypes.MemoryType, error)
}

// llmClassifier asks the LLM to name one of the six memory types and
// falls back to the rule-based classifier if the call fails or returns
// something unrecognised.
type llmClassifier struct {
	client   llmclient.Client
	fallback Classifier
}

func NewLLMClassifier(client llmclient.Client) Classifier {
	return &llmClassifier{client: client, fallback: NewRuleBasedClassifier()}
}

func (c *llmClassifier) Classify(ctx context.Context, content string) (cortextypes.MemoryType, error) {
	prompt := fmt.Sprintf(
		`Classify the following memory content into one of these categories:

1. Conversational - Dialogue, conversations, or interactive exchanges
2. Procedural - Instructions, how-to information, or step-by-step processes
3. Factual - Objective facts, data, or verifiable information
4. Semantic - Concepts, meanings, definitions, or general knowledge
5. Episodic - Specific events, experiences, or temporal information
6. Personal - Personal preferences, characteristics, or individual-specific information

Content: %q

Respond with only the category name (e.g., "Conversational", "Procedural", etc.):`, content)

	resp, err := c.client.Complete(ctx, "You classify conversational memory content by type.", prompt)
	if err != nil {
		return c.fallback.Classify(ctx, content)
	}
	parsed := parseMemoryType(resp)
	if parsed == "" {
		return c.fallback.Classify(ctx, content)
	}
	return parsed, nil
}

func parseMemoryType(response string) cortextypes.MemoryType {
	switch strings.ToLower(strings.TrimSpace(response)) {
	case "conversational":
		return cortextypes.MemoryConversational
	case "procedural":
		return cortextypes.MemoryProcedural
	case "factual":
		return cortextypes.MemoryFactual
	case "semantic":
		return cortextypes.MemorySemantic
	case "episodic":
		return cortextypes.MemoryEpisodic
	case "personal":
		return cortextypes.MemoryPersonal
	default:
		return ""
	}
}

// ruleBasedClassifier is a deterministic English-only keyword matcher,
// used when no LLM client is configured and as the LLM classifier's
// fallback. Priority order on overlapping matches is Personal >
// Procedural > Factual > Episodic > Semantic, defaulting to
// Conversational when nothing matches.
type ruleBasedClassifier struct{}

func NewRuleBasedClassifier() Classifier { return &ruleBasedClassifier{} }

func (ruleBasedClassifier) Classify(ctx context.Context, content string) (cortextypes.MemoryType, error) {
	lower := strings.ToLower(content)

	if containsAny(lower, personalKeywords) {
		return cortextypes.MemoryPersonal, nil
	}
	if containsAny(lower, proceduralKeywords) {
		return cortextypes.MemoryProcedural, nil
	}
	if containsAny(lower, factualKeywords) {
		return cortextypes.MemoryFactual, nil
	}
	if containsAny(lower, episodicKeywords) {
		return cortextypes.MemoryEpisodic, nil
	}
	if containsAny(lower, semanticKeywords) {
		return cortextypes.MemorySemantic, nil
	}
	return cortextypes.MemoryConversational, nil
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

var personalKeywords = []string{
	"i like", "i prefer", "my name", "i am", "i work", "i live", "my favorite",
	"i hate", "i love", "my birthday", "my phone", "my email", "my address",
	"i want", "i need", "i think",
}

var proceduralKeywords = []string{
	"how to", "step", "first,", "first ", "then", "next", "finally",
	"instructions", "procedure", "process", "method", "way to", "tutorial",
	"guide", "recipe", "algorithm",
}

var factualKeywords = []string{
	"fact", "data", "statistics", "number", "date", "time", "location",
	"address", "phone", "email", "website", "price", "cost", "amount",
	"quantity", "measurement",
}

var episodicKeywords = []string{
	"yesterday", "today", "tomorrow", "last week", "next month", "happened",
	"occurred", "event", "meeting", "appointment", "remember when",
	"that time", "experience", "story",
}

var semanticKeywords = []string{
	"definition", "meaning", "concept", "theory", "principle", "knowledge",
	"understanding", "explanation", "describes", "refers to", "means",
	"is defined as",
}

// HybridClassifier routes short content to the rule-based classifier and
// longer content to the LLM classifier, trading latency for accuracy on
// content where keyword matching is unreliable.
type HybridClassifier struct {
	llm       Classifier
	ruleBased Classifier
	threshold int
}

func NewHybridClassifier(client llmclient.Client, threshold int) *HybridClassifier {
	return &HybridClassifier{
		llm:       NewLLMClassifier(client),
		ruleBased: NewRuleBasedClassifier(),
		threshold: threshold,
	}
}

func (h *HybridClassifier) Classify(ctx context.Context, content string) (cortextypes.MemoryType, error) {
	if len(content) > h.threshold {
		return h.llm.Classify(ctx, content)
	}
	return h.ruleBased.Classify(ctx, content)
}

// New builds a Classifier per config: useLLM selects between pure
// rule-based and LLM-backed classification; a positive hybridThreshold
// additionally routes by content length.
func New(client llmclient.Client, useLLM bool, hybridThreshold int) Classifier {
	switch {
	case useLLM && hybridThreshold > 0:
		return NewHybridClassifier(client, hybridThreshold)
	case useLLM:
		return NewLLMClassifier(client)
	default:
		return NewRuleBasedClassifier()
	}
}
