// Package extraction implements the extraction pipeline (§4.3's "Close
// handling"): turning a session's timeline into an extraction artefact
// of facts, decisions and entities, persisting that artefact, and
// projecting high-confidence items into the user/agent memory
// dimensions that internal/optimizer later scans.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cortexmem/internal/llmclient"
)

// Config mirrors the original extractor's tunables: which artefact
// kinds to produce, the confidence floor below which an item is
// dropped entirely, and the (higher) floor above which an item is
// projected into a durable user/agent memory.
type Config struct {
	MinConfidence        float64
	ProjectionConfidence float64
	ExtractFacts         bool
	ExtractDecisions     bool
	ExtractEntities      bool
}

func DefaultConfig() Config {
	return Config{
		MinConfidence:        0.6,
		ProjectionConfidence: 0.7,
		ExtractFacts:         true,
		ExtractDecisions:     true,
		ExtractEntities:      true,
	}
}

// Item is one extracted fact, decision or entity.
type Item struct {
	Content    string   `json:"content"`
	Confidence float64  `json:"confidence"`
	Importance string   `json:"importance"` // low | medium | high | critical
	SourceURIs []string `json:"source_uris,omitempty"`
}

// Artefact is the result of extracting a session's timeline, per
// spec.md §3's extraction artefact entity.
type Artefact struct {
	ThreadID  string
	Facts     []Item
	Decisions []Item
	Entities  []Item
}

// ToMarkdown renders the artefact the way session blobs are rendered:
// a headed markdown document, stable across re-reads.
func (a Artefact) ToMarkdown() string {
	var b strings.Builder
	b.WriteString("# Extraction\n\n")
	b.WriteString(fmt.Sprintf("**Thread**: `%s`\n\n", a.ThreadID))
	writeItems(&b, "Facts", a.Facts)
	writeItems(&b, "Decisions", a.Decisions)
	writeItems(&b, "Entities", a.Entities)
	return b.String()
}

func writeItems(b *strings.Builder, heading string, items []Item) {
	b.WriteString(fmt.Sprintf("## %s\n\n", heading))
	if len(items) == 0 {
		b.WriteString("_none_\n\n")
		return
	}
	for _, it := range items {
		b.WriteString(fmt.Sprintf("- %s (confidence: %.2f, importance: %s)\n", it.Content, it.Confidence, it.Importance))
	}
	b.WriteString("\n")
}

// Extractor turns a conversation into raw, unfiltered items; the
// manager applies the confidence floor and projection.
type Extractor interface {
	ExtractFacts(ctx context.Context, conversation string) ([]Item, error)
	ExtractDecisions(ctx context.Context, conversation string) ([]Item, error)
	ExtractEntities(ctx context.Context, conversation string) ([]Item, error)
}

type llmExtractor struct {
	client   llmclient.Client
	fallback Extractor
}

func NewLLMExtractor(client llmclient.Client) Extractor {
	return &llmExtractor{client: client, fallback: NewRuleBasedExtractor()}
}

func (e *llmExtractor) ExtractFacts(ctx context.Context, conversation string) ([]Item, error) {
	prompt := fmt.Sprintf(`Analyze the following conversation and extract factual statements.

For each fact, provide: content, confidence (0.0-1.0), importance (low, medium, high, or critical).

Return a JSON array of objects with keys "content", "confidence", "importance". Return JSON only, no additional text.

Conversation:
%s`, conversation)
	return e.complete(ctx, "You extract factual statements from conversations.", prompt, e.fallback.ExtractFacts, conversation)
}

func (e *llmExtractor) ExtractDecisions(ctx context.Context, conversation string) ([]Item, error) {
	prompt := fmt.Sprintf(`Analyze the following conversation and extract decisions that were made.

For each decision, provide: content (the decision plus its rationale), confidence (0.0-1.0), importance (low, medium, high, or critical).

Return a JSON array of objects with keys "content", "confidence", "importance". Return JSON only, no additional text.

Conversation:
%s`, conversation)
	return e.complete(ctx, "You extract decisions made during conversations.", prompt, e.fallback.ExtractDecisions, conversation)
}

func (e *llmExtractor) ExtractEntities(ctx context.Context, conversation string) ([]Item, error) {
	prompt := fmt.Sprintf(`Analyze the following conversation and extract entities (people, organizations, products, etc.).

For each entity, provide: content (the entity name and type), confidence (0.0-1.0), importance (low, medium, high, or critical).

Return a JSON array of objects with keys "content", "confidence", "importance". Return JSON only, no additional text.

Conversation:
%s`, conversation)
	return e.complete(ctx, "You extract named entities from conversations.", prompt, e.fallback.ExtractEntities, conversation)
}

func (e *llmExtractor) complete(ctx context.Context, system, prompt string, fallback func(context.Context, string) ([]Item, error), conversation string) ([]Item, error) {
	resp, err := e.client.Complete(ctx, system, prompt)
	if err != nil {
		return fallback(ctx, conversation)
	}
	items, err := parseItems(resp)
	if err != nil {
		return fallback(ctx, conversation)
	}
	return items, nil
}

func parseItems(response string) ([]Item, error) {
	raw := strings.TrimSpace(response)
	if start := strings.IndexByte(raw, '['); start > 0 {
		raw = raw[start:]
	}
	if end := strings.LastIndexByte(raw, ']'); end >= 0 {
		raw = raw[:end+1]
	}
	var items []Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ruleBasedExtractor is a deterministic keyword-driven fallback, used
// when no LLM client is configured and as the LLM extractor's fallback
// on transport failure or unparsable responses.
type ruleBasedExtractor struct{}

func NewRuleBasedExtractor() Extractor { return ruleBasedExtractor{} }

var factKeywords = []string{"is a", "is the", "are", "was", "were", "fact", "always", "never", "uses", "located", "consists of"}
var decisionKeywords = []string{"decided", "will", "let's", "let us", "plan to", "going to", "should", "we agreed", "choose", "chose", "opted"}

func (ruleBasedExtractor) ExtractFacts(ctx context.Context, conversation string) ([]Item, error) {
	return itemsFromSentences(conversation, factKeywords, 0.5, "medium"), nil
}

func (ruleBasedExtractor) ExtractDecisions(ctx context.Context, conversation string) ([]Item, error) {
	return itemsFromSentences(conversation, decisionKeywords, 0.5, "medium"), nil
}

// ExtractEntities picks out capitalised words as a crude stand-in for
// named-entity recognition; good enough to exercise the pipeline when
// no LLM is configured.
func (ruleBasedExtractor) ExtractEntities(ctx context.Context, conversation string) ([]Item, error) {
	seen := map[string]bool{}
	var items []Item
	for _, word := range strings.Fields(conversation) {
		word = strings.Trim(word, ".,!?:;\"'()[]")
		if len(word) < 2 || !isCapitalized(word) {
			continue
		}
		if seen[word] {
			continue
		}
		seen[word] = true
		items = append(items, Item{Content: word, Confidence: 0.5, Importance: "low"})
	}
	return items, nil
}

func isCapitalized(s string) bool {
	r := []rune(s)
	return len(r) > 0 && r[0] >= 'A' && r[0] <= 'Z'
}

func itemsFromSentences(conversation string, keywords []string, confidence float64, importance string) []Item {
	var items []Item
	for _, line := range strings.Split(conversation, "\n") {
		lower := strings.ToLower(line)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				content := strings.TrimSpace(line)
				if content != "" {
					items = append(items, Item{Content: content, Confidence: confidence, Importance: importance})
				}
				break
			}
		}
	}
	return items
}

// New builds an Extractor per whether an LLM client is configured.
func New(client llmclient.Client, useLLM bool) Extractor {
	if useLLM && client != nil {
		return NewLLMExtractor(client)
	}
	return NewRuleBasedExtractor()
}
