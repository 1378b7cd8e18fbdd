// Package layers implements the layer manager (§4.2): lazy, cached,
// size-bounded generation of L0 (abstract) and L1 (overview) companion
// files for a content directory, with an LLM generator and a
// deterministic rule-based fallback.
package layers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"cortexmem/internal/config"
	"cortexmem/internal/llmclient"
)

// Generator produces L0/L1 text for a directory's concatenated content.
type Generator interface {
	GenerateAbstract(ctx context.Context, content string, cfg config.AbstractLayerConfig) (string, error)
	GenerateOverview(ctx context.Context, content string, cfg config.OverviewLayerConfig) (string, error)
}

// llmGenerator builds a prompt from the source content (truncated to an
// input cap) plus structural instructions, per §4.2 "LLM generator".
type llmGenerator struct {
	client   llmclient.Client
	inputCap int
}

func NewLLMGenerator(client llmclient.Client, inputCap int) Generator {
	if inputCap <= 0 {
		inputCap = 8000
	}
	return &llmGenerator{client: client, inputCap: inputCap}
}

func (g *llmGenerator) truncate(content string) string {
	runes := []rune(content)
	if len(runes) <= g.inputCap {
		return content
	}
	return string(runes[:g.inputCap])
}

func (g *llmGenerator) GenerateAbstract(ctx context.Context, content string, cfg config.AbstractLayerConfig) (string, error) {
	prompt := fmt.Sprintf(
		"Summarise the following content in %d sentence(s), at most %d characters. Return only the summary text.\n\n%s",
		cfg.TargetSentences, cfg.MaxChars, g.truncate(content),
	)
	out, err := g.client.Complete(ctx, "You write terse, factual abstracts of conversational memory content.", prompt)
	if err != nil {
		return "", err
	}
	return capRunes(strings.TrimSpace(out), cfg.MaxChars), nil
}

func (g *llmGenerator) GenerateOverview(ctx context.Context, content string, cfg config.OverviewLayerConfig) (string, error) {
	prompt := fmt.Sprintf(
		"Summarise the following content as markdown with sections: Summary, Key Points, Topics. Stay under %d characters.\n\n%s",
		cfg.MaxChars, g.truncate(content),
	)
	out, err := g.client.Complete(ctx, "You write structured overviews of conversational memory content.", prompt)
	if err != nil {
		return "", err
	}
	return capRunes(strings.TrimSpace(out), cfg.MaxChars), nil
}

// ruleBasedGenerator is the deterministic fallback used when no LLM
// client is configured, or when the LLM call fails.
type ruleBasedGenerator struct{}

func NewRuleBasedGenerator() Generator { return &ruleBasedGenerator{} }

func (ruleBasedGenerator) GenerateAbstract(ctx context.Context, content string, cfg config.AbstractLayerConfig) (string, error) {
	para := firstNonEmptyParagraph(content)
	return truncateAtSentenceBoundary(para, cfg.MaxChars), nil
}

func (ruleBasedGenerator) GenerateOverview(ctx context.Context, content string, cfg config.OverviewLayerConfig) (string, error) {
	paragraphs := nonEmptyParagraphs(content)
	const maxParagraphs = 3
	if len(paragraphs) > maxParagraphs {
		paragraphs = paragraphs[:maxParagraphs]
	}
	keywords := extractKeywords(content, 10)

	var sb strings.Builder
	sb.WriteString("# Overview\n\n")
	for _, p := range paragraphs {
		sb.WriteString(p)
		sb.WriteString("\n\n")
	}
	if len(keywords) > 0 {
		sb.WriteString("## Topics\n\n")
		sb.WriteString(strings.Join(keywords, ", "))
		sb.WriteString("\n")
	}
	return capRunes(sb.String(), cfg.MaxChars), nil
}

func firstNonEmptyParagraph(content string) string {
	for _, p := range strings.Split(content, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		return p
	}
	return strings.TrimSpace(content)
}

func nonEmptyParagraphs(content string) []string {
	var out []string
	for _, p := range strings.Split(content, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		out = append(out, p)
	}
	return out
}

// truncateAtSentenceBoundary cuts para to at most maxChars UTF-8 code
// points, preferring to end on a sentence boundary (. ! ?) if one falls
// within the budget.
func truncateAtSentenceBoundary(para string, maxChars int) string {
	runes := []rune(para)
	if len(runes) <= maxChars {
		return para
	}
	window := runes[:maxChars]
	lastBoundary := -1
	for i, r := range window {
		if r == '.' || r == '!' || r == '?' {
			lastBoundary = i
		}
	}
	if lastBoundary > 0 {
		return string(window[:lastBoundary+1])
	}
	return string(window)
}

func capRunes(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "is": {}, "are": {},
	"was": {}, "were": {}, "to": {}, "of": {}, "in": {}, "on": {}, "for": {}, "with": {},
	"it": {}, "this": {}, "that": {}, "be": {}, "as": {}, "at": {}, "by": {}, "from": {},
	"i": {}, "you": {}, "he": {}, "she": {}, "we": {}, "they": {}, "has": {}, "have": {},
}

// extractKeywords is a stopword-filtered, length-thresholded frequency
// count, matching §4.2's "keyword extraction" description for L1's
// fallback topic list.
func extractKeywords(content string, limit int) []string {
	counts := map[string]int{}
	var order []string
	for _, word := range strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(word) < 4 {
			continue
		}
		if _, skip := stopwords[word]; skip {
			continue
		}
		if counts[word] == 0 {
			order = append(order, word)
		}
		counts[word]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > limit {
		order = order[:limit]
	}
	return order
}
