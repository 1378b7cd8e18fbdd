// Package retrieval implements the layered retrieval engine (§4.4):
// intent analysis, an L0 vector scan for candidate directories, L1
// reranking, L2 precision scoring, score fusion, and a filesystem-only
// fallback path for when no vector adapter is configured.
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"cortexmem/internal/config"
	"cortexmem/internal/cortextypes"
	"cortexmem/internal/cortexuri"
	"cortexmem/internal/storage"
	"cortexmem/internal/vectorstore"
)

var tracer = otel.Tracer("cortexmem/retrieval")

// Embedder is the narrow embedding dependency the engine needs to embed
// the query text.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// StepType names a stage of the retrieval trace.
type StepType string

const (
	StepIntentAnalysis    StepType = "intent_analysis"
	StepL0Scan            StepType = "l0_scan"
	StepL1Exploration     StepType = "l1_exploration"
	StepL2Precision       StepType = "l2_precision"
	StepResultAggregation StepType = "result_aggregation"
)

// TraceStep is one observability record within a Trace.
type TraceStep struct {
	StepType        StepType
	Description     string
	CandidatesCount int
	DurationMs      int64
}

// Trace is the full observability record for one Search call.
type Trace struct {
	Query           string
	Steps           []TraceStep
	TotalDurationMs int64
}

// Options controls a single Search call; zero value means "use the
// engine's configured defaults" (see Engine.optionsWithDefaults).
type Options struct {
	TopK          int
	MinScore      float64
	MaxCandidates int
}

// Result is the full outcome of one Search call.
type Result struct {
	Query   string
	Results []cortextypes.MemoryResult
	Trace   Trace
}

// Engine is the retrieval engine. Store may be nil, in which case Search
// always takes the filesystem-only path.
type Engine struct {
	fs       *storage.Filesystem
	store    vectorstore.Store
	embedder Embedder
	cfg      config.RetrievalConfig
}

func NewEngine(fs *storage.Filesystem, store vectorstore.Store, embedder Embedder, cfg config.RetrievalConfig) *Engine {
	return &Engine{fs: fs, store: store, embedder: embedder, cfg: cfg}
}

func (e *Engine) optionsWithDefaults(opts Options) Options {
	if opts.TopK <= 0 {
		opts.TopK = e.cfg.TopK
	}
	if opts.MinScore <= 0 {
		opts.MinScore = e.cfg.MinScore
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = e.cfg.MaxCandidates
	}
	return opts
}

// Search executes the layered retrieval algorithm against scope.
func (e *Engine) Search(ctx context.Context, query string, scope *cortexuri.URI, opts Options) (*Result, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Search", oteltrace.WithAttributes(
		attribute.String("cortexmem.query", query),
	))
	defer span.End()

	start := time.Now()
	opts = e.optionsWithDefaults(opts)
	trace := Trace{Query: query}

	stepStart := time.Now()
	keywords := tokenize(query)
	trace.Steps = append(trace.Steps, TraceStep{
		StepType:        StepIntentAnalysis,
		Description:     "keywords: " + strings.Join(keywords, ", "),
		CandidatesCount: len(keywords),
		DurationMs:      time.Since(stepStart).Milliseconds(),
	})

	var results []cortextypes.MemoryResult
	var steps []TraceStep
	var err error
	if e.store == nil {
		results, steps, err = e.searchFilesystemOnly(scope, keywords, opts)
	} else {
		results, steps, err = e.searchVector(ctx, query, scope, keywords, opts)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	trace.Steps = append(trace.Steps, steps...)
	trace.TotalDurationMs = time.Since(start).Milliseconds()

	for _, s := range trace.Steps {
		span.AddEvent(string(s.StepType), oteltrace.WithAttributes(
			attribute.Int("cortexmem.candidates", s.CandidatesCount),
			attribute.Int64("cortexmem.duration_ms", s.DurationMs),
		))
	}
	span.SetAttributes(attribute.Int("cortexmem.results", len(results)))

	return &Result{Query: query, Results: results, Trace: trace}, nil
}

// searchVector is the vector-adapter-backed path: L0 scan, L1 rerank, L2
// precision, score fusion.
func (e *Engine) searchVector(ctx context.Context, query string, scope *cortexuri.URI, keywords []string, opts Options) ([]cortextypes.MemoryResult, []TraceStep, error) {
	var steps []TraceStep

	queryVecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, steps, err
	}
	var queryVec []float32
	if len(queryVecs) > 0 {
		queryVec = queryVecs[0]
	}

	l0Matches, err := e.store.Search(ctx, queryVec, opts.MaxCandidates, map[string]string{"layer": string(cortextypes.LayerAbstract)})
	if err != nil {
		return nil, steps, err
	}
	l0Matches = filterByScope(l0Matches, scope)
	steps = append(steps, TraceStep{StepType: StepL0Scan, Description: "scanned candidate directories", CandidatesCount: len(l0Matches)})

	if len(l0Matches) == 0 {
		return e.fallbackFlatScan(ctx, queryVec, scope, keywords, opts, steps)
	}

	type dirCandidate struct {
		dirURI string
		sL0    float64
		sL1    float64
	}
	var candidates []dirCandidate
	for _, m := range l0Matches {
		dirURI := strings.TrimSuffix(m.ID, "#"+string(cortextypes.LayerAbstract))
		sL1 := 0.0
		if rec, ok, err := e.store.Get(ctx, vectorstore.VID(dirURI, cortextypes.LayerOverview)); err == nil && ok {
			sL1 = cosineSimilarity(queryVec, rec.Embedding)
		}
		candidates = append(candidates, dirCandidate{dirURI: dirURI, sL0: m.Score, sL1: sL1})
	}
	steps = append(steps, TraceStep{StepType: StepL1Exploration, Description: "computed L1 overview similarity", CandidatesCount: len(candidates)})

	var results []cortextypes.MemoryResult
	for _, c := range candidates {
		dirURI, err := cortexuri.Parse(c.dirURI)
		if err != nil {
			continue
		}
		children, err := e.listDescendantFiles(dirURI)
		if err != nil || len(children) == 0 {
			results = append(results, e.fuseDirectoryOnlyResult(ctx, dirURI, c.sL0, c.sL1))
			continue
		}
		for _, child := range children {
			sL2 := 0.0
			content := ""
			if rec, ok, err := e.store.Get(ctx, vectorstore.VID(child.String(), cortextypes.LayerDetail)); err == nil && ok {
				sL2 = cosineSimilarity(queryVec, rec.Embedding)
				content = rec.Content
			}
			score := fuseScore(e.cfg, c.sL0, c.sL1, sL2)
			results = append(results, cortextypes.MemoryResult{
				URI:     child.String(),
				Score:   score,
				Snippet: createSnippet(content, keywords),
				Layer:   cortextypes.LayerDetail,
			})
		}
	}
	steps = append(steps, TraceStep{StepType: StepL2Precision, Description: "scored L2 children", CandidatesCount: len(results)})

	results = finalizeResults(results, opts)
	steps = append(steps, TraceStep{StepType: StepResultAggregation, Description: "ranked and truncated", CandidatesCount: len(results)})
	return results, steps, nil
}

// fuseDirectoryOnlyResult is used when a candidate directory has no L2
// children with vectors yet (e.g. layers generated before any content
// synced) — it still surfaces the directory via its best available layer.
func (e *Engine) fuseDirectoryOnlyResult(ctx context.Context, dirURI *cortexuri.URI, sL0, sL1 float64) cortextypes.MemoryResult {
	layer := cortextypes.LayerOverview
	content, err := e.fs.Read(dirURI.WithResource(storage.OverviewFile))
	if err != nil {
		layer = cortextypes.LayerAbstract
		content, _ = e.fs.Read(dirURI.WithResource(storage.AbstractFile))
	}
	return cortextypes.MemoryResult{
		URI:     dirURI.String(),
		Score:   fuseScore(e.cfg, sL0, sL1, 0),
		Snippet: createSnippet(content, nil),
		Layer:   layer,
	}
}

// fallbackFlatScan runs when the L0 scan yields zero candidates: a flat
// k-NN search with no layer filter, returned as L2-shaped results.
func (e *Engine) fallbackFlatScan(ctx context.Context, queryVec []float32, scope *cortexuri.URI, keywords []string, opts Options, steps []TraceStep) ([]cortextypes.MemoryResult, []TraceStep, error) {
	matches, err := e.store.Search(ctx, queryVec, opts.MaxCandidates, nil)
	if err != nil {
		return nil, steps, err
	}
	matches = filterByScope(matches, scope)
	steps = append(steps, TraceStep{StepType: StepL1Exploration, Description: "flat fallback scan (no L0 candidates)", CandidatesCount: len(matches)})

	var results []cortextypes.MemoryResult
	for _, m := range matches {
		uri := m.Metadata.URI
		if uri == "" {
			uri = strings.TrimSuffix(strings.TrimSuffix(strings.TrimSuffix(m.ID, "#L2"), "#L1"), "#L0")
		}
		layerTag, _ := m.Metadata.Custom["layer"].(string)
		layer := cortextypes.Layer(layerTag)
		if layer == "" {
			layer = cortextypes.LayerDetail
		}
		results = append(results, cortextypes.MemoryResult{
			URI:     uri,
			Score:   m.Score,
			Snippet: createSnippet(m.Content, keywords),
			Layer:   layer,
		})
	}
	results = finalizeResults(results, opts)
	steps = append(steps, TraceStep{StepType: StepResultAggregation, Description: "ranked and truncated", CandidatesCount: len(results)})
	return results, steps, nil
}

// listDescendantFiles recursively lists every non-hidden .md file under
// dirURI, matching explore_directory's recursion into timeline day/hour
// subdirectories.
func (e *Engine) listDescendantFiles(dirURI *cortexuri.URI) ([]*cortexuri.URI, error) {
	entries, err := e.fs.List(dirURI)
	if err != nil {
		return nil, err
	}
	var out []*cortexuri.URI
	for _, entry := range entries {
		child := dirURI.Child(entry.Name)
		if entry.IsDir {
			sub, err := e.listDescendantFiles(child)
			if err != nil {
				continue
			}
			out = append(out, sub...)
			continue
		}
		if strings.HasPrefix(entry.Name, ".") || !strings.HasSuffix(entry.Name, ".md") || entry.Name == storage.IndexFile {
			continue
		}
		out = append(out, child)
	}
	return out, nil
}

// searchFilesystemOnly is the degraded path used when no vector adapter
// is configured: keyword-overlap scoring directly against .abstract.md
// and raw content, same trace shape as the vector path.
func (e *Engine) searchFilesystemOnly(scope *cortexuri.URI, keywords []string, opts Options) ([]cortextypes.MemoryResult, []TraceStep, error) {
	var steps []TraceStep

	entries, err := e.fs.List(scope)
	if err != nil {
		return nil, steps, err
	}

	type candidate struct {
		uri   *cortexuri.URI
		score float64
	}
	var candidates []candidate
	for _, entry := range entries {
		if !entry.IsDir {
			continue
		}
		child := scope.Child(entry.Name)
		if abstractText, err := e.fs.Read(child.WithResource(storage.AbstractFile)); err == nil {
			candidates = append(candidates, candidate{uri: child, score: keywordOverlapScore(abstractText, keywords)})
		} else {
			candidates = append(candidates, candidate{uri: child, score: 0.5})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > opts.MaxCandidates {
		candidates = candidates[:opts.MaxCandidates]
	}
	steps = append(steps, TraceStep{StepType: StepL0Scan, Description: "scanned candidate directories via abstracts", CandidatesCount: len(candidates)})

	var results []cortextypes.MemoryResult
	for _, c := range candidates {
		files, err := e.listDescendantFiles(c.uri)
		if err != nil {
			continue
		}
		for _, f := range files {
			content, err := e.fs.Read(f)
			if err != nil {
				continue
			}
			score := keywordOverlapScore(content, keywords)
			if score <= 0.3 {
				continue
			}
			results = append(results, cortextypes.MemoryResult{
				URI:     f.String(),
				Score:   score,
				Snippet: createSnippet(content, keywords),
				Layer:   cortextypes.LayerDetail,
			})
		}
	}
	steps = append(steps, TraceStep{StepType: StepL1Exploration, Description: "scored files by keyword overlap", CandidatesCount: len(results)})

	results = finalizeResults(results, opts)
	steps = append(steps, TraceStep{StepType: StepResultAggregation, Description: "ranked and truncated", CandidatesCount: len(results)})
	return results, steps, nil
}

func finalizeResults(results []cortextypes.MemoryResult, opts Options) []cortextypes.MemoryResult {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	var kept []cortextypes.MemoryResult
	for _, r := range results {
		if r.Score >= opts.MinScore {
			kept = append(kept, r)
		}
	}
	if len(kept) > opts.TopK {
		kept = kept[:opts.TopK]
	}
	return kept
}

func fuseScore(cfg config.RetrievalConfig, sL0, sL1, sL2 float64) float64 {
	return cfg.L0Weight*sL0 + cfg.L1Weight*sL1 + cfg.L2Weight*sL2
}

// filterByScope keeps only matches whose recorded URI falls under scope,
// since the in-process filter map doesn't express arbitrary URI prefixes.
func filterByScope(matches []vectorstore.SearchResult, scope *cortexuri.URI) []vectorstore.SearchResult {
	if scope == nil {
		return matches
	}
	prefix := scope.String()
	var out []vectorstore.SearchResult
	for _, m := range matches {
		uri := m.Metadata.URI
		if uri == "" {
			uri = strings.SplitN(m.ID, "#", 2)[0]
		}
		if strings.HasPrefix(uri, prefix) {
			out = append(out, m)
		}
	}
	return out
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, skip := stopwords[f]; skip {
			continue
		}
		out = append(out, f)
	}
	return out
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "is": {}, "are": {},
	"to": {}, "of": {}, "in": {}, "on": {}, "for": {}, "with": {}, "about": {},
}

func keywordOverlapScore(content string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// createSnippet cuts a UTF-8-safe window around the first keyword hit,
// falling back to a leading prefix when no keyword matches.
func createSnippet(content string, keywords []string) string {
	const halfWidth = 100
	lower := strings.ToLower(content)
	runes := []rune(content)

	for _, kw := range keywords {
		bytePos := strings.Index(lower, strings.ToLower(kw))
		if bytePos < 0 {
			continue
		}
		posChars := len([]rune(content[:bytePos]))
		start := posChars - halfWidth
		if start < 0 {
			start = 0
		}
		end := posChars + len([]rune(kw)) + halfWidth
		if end > len(runes) {
			end = len(runes)
		}
		snippet := string(runes[start:end])
		if start > 0 {
			snippet = "..." + snippet
		}
		if end < len(runes) {
			snippet = snippet + "..."
		}
		return snippet
	}

	if len(runes) > 100 {
		return string(runes[:97]) + "..."
	}
	return content
}
